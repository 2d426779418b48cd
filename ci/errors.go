// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package ci

import "errors"

// Sentinel parse errors. Parsing is lenient at the edges (§7): a truncated
// or malformed message yields one of these rather than a panic, and
// callers are expected to log-and-discard, never abort a receive loop on
// them.
var (
	// ErrParseFailed is the general "frame did not parse" sentinel: too
	// short, bad envelope bytes, or a declared length that does not fit
	// in the remaining buffer.
	ErrParseFailed = errors.New("ci: parse failed")
	// ErrMUIDByteHighBit is returned by UnpackMUID when an input byte has
	// bit 7 set, which can never happen on the wire.
	ErrMUIDByteHighBit = errors.New("ci: muid byte has high bit set")
	// ErrMcoded7HighBit is returned by DecodeMcoded7 when an encoded data
	// byte has bit 7 set.
	ErrMcoded7HighBit = errors.New("ci: mcoded7 byte has high bit set")
	// ErrUnknownMessageType is returned by Decode for a type byte this
	// package does not recognize. Receive loops drop the frame.
	ErrUnknownMessageType = errors.New("ci: unknown message type")
)
