// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package pe

import (
	"fmt"
	"time"
)

// Kind enumerates the logical error kinds surfaced to PE callers (§6.4).
// These are kinds, not Go types: callers match them with errors.Is against
// an *Error of the wanted Kind, or extract the *Error with errors.As and
// switch on its Kind field.
type Kind int

const (
	KindTimeout Kind = iota
	KindCancelled
	KindNAK
	KindDeviceError
	KindTransportError
	KindValidationFailed
	KindInvalidResponse
	KindEmptyResponse
	KindNearExhaustion
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindNAK:
		return "nak"
	case KindDeviceError:
		return "device_error"
	case KindTransportError:
		return "transport_error"
	case KindValidationFailed:
		return "validation_failed"
	case KindInvalidResponse:
		return "invalid_response"
	case KindEmptyResponse:
		return "empty_response"
	case KindNearExhaustion:
		return "near_exhaustion"
	default:
		return "unknown"
	}
}

// Error is the structured error type returned by every public pe operation.
type Error struct {
	Kind     Kind
	Resource string // the resource in play, when relevant
	Status   int    // HTTP-style status for device_error; the NAK status_data byte for nak
	Message  string // device-supplied or descriptive text
	Cause    error  // wrapped transport/parse cause, when any
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNAK:
		return fmt.Sprintf("pe: nak (status_data=0x%02x): %s", e.Status, e.Message)
	case KindDeviceError:
		return fmt.Sprintf("pe: device error %d for %q: %s", e.Status, e.Resource, e.Message)
	case KindTimeout:
		return fmt.Sprintf("pe: timeout waiting for %q", e.Resource)
	case KindEmptyResponse:
		return fmt.Sprintf("pe: empty response for %q", e.Resource)
	default:
		if e.Message != "" {
			return "pe: " + e.Kind.String() + ": " + e.Message
		}
		return "pe: " + e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target has the same Kind; it lets callers write
// errors.Is(err, &pe.Error{Kind: pe.KindTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// IsRetryable reports whether the caller may reasonably retry the operation
// unchanged (§6.4).
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindTransportError:
		return true
	case KindNAK:
		return e.Status == int(nakBusy)
	case KindDeviceError:
		return e.Status >= 500 && e.Status < 600
	default:
		return false
	}
}

// IsClientError reports whether the caller's own request was malformed.
func (e *Error) IsClientError() bool {
	return e.Kind == KindValidationFailed || (e.Kind == KindDeviceError && e.Status >= 400 && e.Status < 500)
}

// IsDeviceError reports whether the failure originated on the device side.
func (e *Error) IsDeviceError() bool {
	return e.Kind == KindDeviceError || e.Kind == KindNAK
}

// IsTransportError reports whether the failure was at the transport layer.
func (e *Error) IsTransportError() bool { return e.Kind == KindTransportError }

// SuggestedRetryDelay returns a non-zero delay when IsRetryable and zero
// otherwise.
func (e *Error) SuggestedRetryDelay() time.Duration {
	if !e.IsRetryable() {
		return 0
	}
	if e.Kind == KindNAK {
		return 250 * time.Millisecond
	}
	return time.Second
}

const nakBusy = 0x01

func errTimeout(resource string) *Error {
	return &Error{Kind: KindTimeout, Resource: resource}
}

func errCancelled() *Error {
	return &Error{Kind: KindCancelled}
}

func errNAK(statusData byte, message string) *Error {
	return &Error{Kind: KindNAK, Status: int(statusData), Message: message}
}

func errDevice(resource string, status int, message string) *Error {
	return &Error{Kind: KindDeviceError, Resource: resource, Status: status, Message: message}
}

func errTransport(cause error) *Error {
	return &Error{Kind: KindTransportError, Cause: cause}
}

func errValidation(message string) *Error {
	return &Error{Kind: KindValidationFailed, Message: message}
}

func errInvalidResponse(reason string) *Error {
	return &Error{Kind: KindInvalidResponse, Message: reason}
}

func errEmptyResponse(resource string) *Error {
	return &Error{Kind: KindEmptyResponse, Resource: resource}
}

func errNearExhaustion() *Error {
	return &Error{Kind: KindNearExhaustion, Message: "request-ID pool near exhaustion"}
}
