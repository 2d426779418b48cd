// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package ci implements the MIDI-CI wire codec (C1): bit-exact
// serialization and parsing of MIDI Capability Inquiry SysEx messages,
// 7-bit-packed 28-bit MUIDs, 14-bit length fields, and the Mcoded7 /
// zlib+Mcoded7 binary encodings used inside Property Exchange payloads.
package ci

import "math/rand"

// MUID is a 28-bit MIDI-CI Unique Identifier. See companion standard
// MIDI-CI, subclass 6.
type MUID uint32

const (
	// MUIDReserved is reserved and must never be used as a live identity.
	MUIDReserved MUID = 0x00000000
	// MUIDBroadcast addresses every CI device on the link.
	MUIDBroadcast MUID = 0x0FFFFFFF
	// muidMax is the largest representable 28-bit value.
	muidMax = 0x0FFFFFFF
)

// NewRandomMUID draws a MUID from [1, 0x0FFFFFFE], excluding both reserved
// values.
func NewRandomMUID() MUID {
	// rand.Uint32()%  (muidMax-1) + 1 covers [1, muidMax-1] = [1, 0x0FFFFFFE].
	return MUID(rand.Uint32()%(muidMax-1) + 1)
}

// PackMUID encodes m as four 7-bit bytes, least-significant first. No byte
// ever has bit 7 set.
func PackMUID(m MUID) [4]byte {
	return [4]byte{
		byte(m & 0x7F),
		byte((m >> 7) & 0x7F),
		byte((m >> 14) & 0x7F),
		byte((m >> 21) & 0x7F),
	}
}

// AppendMUID appends the packed wire form of m to b and returns the
// extended slice.
func AppendMUID(b []byte, m MUID) []byte {
	packed := PackMUID(m)
	return append(b, packed[:]...)
}

// UnpackMUID decodes four wire bytes into a MUID. It rejects any input
// byte with bit 7 set (never legal on the wire).
func UnpackMUID(b [4]byte) (MUID, error) {
	for _, v := range b {
		if v&0x80 != 0 {
			return 0, ErrMUIDByteHighBit
		}
	}
	return MUID(b[0]) | MUID(b[1])<<7 | MUID(b[2])<<14 | MUID(b[3])<<21, nil
}

// ParseMUID reads a packed MUID from the front of b, returning the decoded
// value and the remaining bytes. b must have at least 4 bytes.
func ParseMUID(b []byte) (MUID, []byte, error) {
	if len(b) < 4 {
		return 0, b, ErrParseFailed
	}
	var a [4]byte
	copy(a[:], b[:4])
	m, err := UnpackMUID(a)
	if err != nil {
		return 0, b, err
	}
	return m, b[4:], nil
}

// IsBroadcast reports whether m is the broadcast MUID.
func (m MUID) IsBroadcast() bool { return m == MUIDBroadcast }

// IsReserved reports whether m is the reserved MUID.
func (m MUID) IsReserved() bool { return m == MUIDReserved }

// Encode14 encodes a 14-bit length/size field LSB-first as two 7-bit bytes.
func Encode14(n uint16) [2]byte {
	return [2]byte{byte(n & 0x7F), byte((n >> 7) & 0x7F)}
}

// AppendU14 appends the packed wire form of a 14-bit field to b.
func AppendU14(b []byte, n uint16) []byte {
	e := Encode14(n)
	return append(b, e[0], e[1])
}

// Decode14 decodes two 7-bit wire bytes into a 14-bit value.
func Decode14(lo, hi byte) uint16 {
	return uint16(lo&0x7F) | uint16(hi&0x7F)<<7
}

// ParseU14 reads a 14-bit field from the front of b.
func ParseU14(b []byte) (uint16, []byte, error) {
	if len(b) < 2 {
		return 0, b, ErrParseFailed
	}
	return Decode14(b[0], b[1]), b[2:], nil
}
