// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package ci

// Identity identifies the manufacturer/family/model/version of a CI node.
// On the wire it is always 11 bytes: 3-byte manufacturer, 2-byte family,
// 2-byte model, 4-byte version, each field packed per its own width.
type Identity struct {
	ManufacturerID [3]byte
	FamilyID       uint16 // 14-bit
	ModelID        uint16 // 14-bit
	VersionID      uint32 // 28-bit
}

// IdentitySize is the fixed wire size of an Identity.
const IdentitySize = 11

// NewManufacturerID builds the three-byte wire form of a manufacturer
// code. A single-byte code is padded with two zero bytes; a three-byte
// extended code is used as-is.
func NewManufacturerID(code ...byte) [3]byte {
	var m [3]byte
	switch len(code) {
	case 1:
		m[0] = code[0]
	case 3:
		copy(m[:], code)
	}
	return m
}

// AppendIdentity appends the 11-byte wire form of id to b.
func AppendIdentity(b []byte, id Identity) []byte {
	b = append(b, id.ManufacturerID[:]...)
	fam := Encode14(id.FamilyID)
	b = append(b, fam[0], fam[1])
	mod := Encode14(id.ModelID)
	b = append(b, mod[0], mod[1])
	b = append(b,
		byte(id.VersionID&0x7F),
		byte((id.VersionID>>7)&0x7F),
		byte((id.VersionID>>14)&0x7F),
		byte((id.VersionID>>21)&0x7F),
	)
	return b
}

// ParseIdentity reads an 11-byte Identity from the front of b.
func ParseIdentity(b []byte) (Identity, []byte, error) {
	if len(b) < IdentitySize {
		return Identity{}, b, ErrParseFailed
	}
	var id Identity
	copy(id.ManufacturerID[:], b[0:3])
	id.FamilyID = Decode14(b[3], b[4])
	id.ModelID = Decode14(b[5], b[6])
	id.VersionID = uint32(b[7]) | uint32(b[8])<<7 | uint32(b[9])<<14 | uint32(b[10])<<21
	return id, b[IdentitySize:], nil
}

// CategorySupport is the 8-bit Discovery category-support bitmask.
type CategorySupport byte

// Category bits observed during Discovery.
const (
	CategoryProtocolNegotiation CategorySupport = 1 << 0
	CategoryProfileConfig       CategorySupport = 1 << 2
	CategoryPropertyExchange    CategorySupport = 1 << 3
	CategoryProcessInquiry      CategorySupport = 1 << 4
)

// Has reports whether every bit in want is set.
func (c CategorySupport) Has(want CategorySupport) bool {
	return c&want == want
}
