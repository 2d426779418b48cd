// Package transport defines the abstraction the MIDI-CI client consumes to
// reach the underlying MIDI transport. The concrete transport (CoreMIDI,
// ALSA, a virtual network session, ...) is an external collaborator; this
// package only fixes the contract and the error taxonomy around it.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Type classifies the underlying transport. BLE transports imply a
// caller-applied timeout multiplier on PE operations (§6.1).
type Type int

const (
	TypeUnknown Type = iota
	TypeUSB
	TypeBLE
	TypeNetwork
	TypeVirtual
)

func (t Type) String() string {
	switch t {
	case TypeUSB:
		return "usb"
	case TypeBLE:
		return "ble"
	case TypeNetwork:
		return "network"
	case TypeVirtual:
		return "virtual"
	default:
		return "unknown"
	}
}

// SourceInfo identifies an enumerable input endpoint.
type SourceInfo struct {
	ID   string
	Name string
}

// DestInfo identifies an enumerable output endpoint.
type DestInfo struct {
	ID   string
	Name string
}

// Packet is a single inbound delivery from the transport: a whole or
// fragmented SysEx byte run from a given source. Delivery is at-least-once;
// ordering within one source is preserved.
type Packet struct {
	Data     []byte
	SourceID string
}

// Transport is the capability the PE engine (C6) and the discovery manager
// (C7) consume; each feeds received packets through its own SysEx
// reassemblers (C2). Implementations must preserve per-source
// ordering of delivered packets; concurrent Send calls to different
// destinations may run in parallel unless the implementation documents
// otherwise.
type Transport interface {
	// Sources enumerates input endpoints currently visible to the host.
	Sources(ctx context.Context) ([]SourceInfo, error)
	// Destinations enumerates output endpoints currently visible to the host.
	Destinations(ctx context.Context) ([]DestInfo, error)
	// Send writes bytes to a destination endpoint.
	Send(ctx context.Context, data []byte, destinationID string) error
	// Receive returns a channel of inbound packets. The channel is closed
	// when the transport is stopped or the context is cancelled.
	Receive(ctx context.Context) (<-chan Packet, error)
	// Type classifies the transport for timeout-multiplier purposes.
	Type() Type
}

// VirtualEndpoints is an optional capability: a transport may additionally
// support creating ephemeral virtual MIDI ports, primarily useful for
// testing a CI initiator and responder against each other in-process.
type VirtualEndpoints interface {
	CreateVirtualSource(ctx context.Context, name string) (string, error)
	CreateVirtualDestination(ctx context.Context, name string) (string, error)
	RemoveVirtualSource(ctx context.Context, id string) error
	RemoveVirtualDestination(ctx context.Context, id string) error
	SendFromVirtualSource(ctx context.Context, data []byte, sourceID string) error
}

// Sentinel errors surfaced by Transport implementations. Implementations
// should wrap these with fmt.Errorf("...: %w", ErrXxx) to add context.
var (
	ErrEndpointNotFound       = errors.New("transport: endpoint not found")
	ErrNotConnected           = errors.New("transport: not connected")
	ErrVirtualEndpointMissing = errors.New("transport: virtual endpoint not found")
)

// SendFailedError wraps an implementation-specific send failure code.
type SendFailedError struct {
	Code int
	Err  error
}

func (e *SendFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: send failed (code %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("transport: send failed (code %d)", e.Code)
}

func (e *SendFailedError) Unwrap() error { return e.Err }

// VirtualEndpointNotFoundError reports an unknown id passed to a
// Remove*/SendFromVirtualSource call.
type VirtualEndpointNotFoundError struct {
	ID string
}

func (e *VirtualEndpointNotFoundError) Error() string {
	return fmt.Sprintf("transport: virtual endpoint not found: %s", e.ID)
}

func (e *VirtualEndpointNotFoundError) Is(target error) bool {
	return target == ErrVirtualEndpointMissing
}
