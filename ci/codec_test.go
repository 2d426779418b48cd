// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package ci

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNAKBoundaryTruncatedMessage(t *testing.T) {
	payload := []byte{0x10, 0x01, 0x02, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x05}
	m, err := decodeNAK(Header{}, payload)
	require.NoError(t, err)
	nak, ok := m.(NAK)
	require.True(t, ok)
	assert.Equal(t, byte(0x10), nak.OrigTransaction)
	assert.Equal(t, byte(0x01), nak.StatusCode)
	assert.Equal(t, byte(0x02), nak.StatusData)
	assert.True(t, nak.HasDetails)
	assert.Equal(t, [5]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}, nak.Details)
	assert.False(t, nak.HasMessage)
}

func TestDecodeNAKMandatoryOnly(t *testing.T) {
	m, err := decodeNAK(Header{}, []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	nak := m.(NAK)
	assert.False(t, nak.HasDetails)
	assert.False(t, nak.HasMessage)
}

func TestDecodeNAKTooShortFails(t *testing.T) {
	_, err := decodeNAK(Header{}, []byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrParseFailed)
}

func TestDecodeNAKDeclaredMessageLengthExceedsBuffer(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0, 0, 0, 0, 0, 0xFF, 0x7F}
	m, err := decodeNAK(Header{}, payload)
	require.NoError(t, err)
	nak := m.(NAK)
	assert.True(t, nak.HasDetails)
	assert.False(t, nak.HasMessage)
}

func TestDecodeDiscoveryReplyMinimal(t *testing.T) {
	payload := make([]byte, 0, 16)
	payload = append(payload, 0x42, 0x00, 0x00) // manufacturer
	payload = append(payload, 0x00, 0x00)       // family
	payload = append(payload, 0x00, 0x00)       // model
	payload = append(payload, 0x00, 0x00, 0x00, 0x00) // version
	payload = append(payload, 0x00)             // category support
	payload = append(payload, 0x00, 0x04, 0x00, 0x00) // max-sysex, 7-bit packed
	require.Len(t, payload, 16)

	m, err := decodePayload(TypeDiscoveryReply, Header{}, payload)
	require.NoError(t, err)
	reply, ok := m.(DiscoveryReply)
	require.True(t, ok)
	assert.Equal(t, [3]byte{0x42, 0x00, 0x00}, reply.Identity.ManufacturerID)
	assert.Equal(t, uint32(512), reply.MaxSysExSize)
	assert.False(t, reply.HasOutputPath)
	assert.Equal(t, byte(0), reply.InitiatorOutputPath)
	assert.False(t, reply.HasFunctionBlock)
	assert.Equal(t, byte(0), reply.FunctionBlock)
}

func TestDiscoveryReplyRoundTripWithOptionalTail(t *testing.T) {
	want := DiscoveryReply{
		Header:              Header{Version: 2, Source: MUID(100), Destination: MUIDBroadcast},
		Identity:            Identity{ManufacturerID: NewManufacturerID(0x7D), FamilyID: 3, ModelID: 9, VersionID: 42},
		CategorySupport:     CategoryPropertyExchange,
		MaxSysExSize:        4096,
		InitiatorOutputPath: 5,
		HasOutputPath:       true,
		FunctionBlock:       7,
		HasFunctionBlock:    true,
	}
	frame, err := Encode(want)
	require.NoError(t, err)
	got, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPEGetInquiryHasNoChunkFields(t *testing.T) {
	m := PEGetInquiry{
		Header:    Header{Version: 2, Source: MUID(1), Destination: MUID(2)},
		RequestID: 0x05,
		Header_:   []byte(`{"resource":"DeviceInfo"}`),
	}
	frame, err := Encode(m)
	require.NoError(t, err)

	// Envelope occupies bytes [0, EnvelopeSize); payload starts right after.
	payload := frame[EnvelopeSize : len(frame)-1]
	require.Len(t, payload, 1+2+len(m.Header_))
	assert.Equal(t, m.RequestID, payload[0])
	hdrSize := Decode14(payload[1], payload[2])
	assert.Equal(t, uint16(len(m.Header_)), hdrSize)
	assert.Equal(t, m.Header_, payload[3:])
	assert.Equal(t, len(frame), EnvelopeSize+1+2+len(m.Header_)+1)

	got, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestPEGetReplyChunkTripleOffset(t *testing.T) {
	m := PEGetReply{
		Header: Header{Version: 2, Source: MUID(1), Destination: MUID(2)},
		ChunkedPayload: ChunkedPayload{
			RequestID:     0x05,
			HeaderBytes:   []byte(`{"status":200}`),
			NumChunks:     1,
			ThisChunk:     1,
			PropertyBytes: []byte(`{"ok":true}`),
		},
	}
	frame, err := Encode(m)
	require.NoError(t, err)

	// requestID(1) + headerSize(2) + numChunks(2) + thisChunk(2) + dataSize(2) = 9 bytes
	// before headerBytes starts, i.e. at EnvelopeSize+9 = 23 for EnvelopeSize=14.
	require.Equal(t, 14, EnvelopeSize)
	headerStart := EnvelopeSize + 9
	assert.Equal(t, 23, headerStart)
	assert.Equal(t, m.HeaderBytes, frame[headerStart:headerStart+len(m.HeaderBytes)])

	got, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestDecodeTruncatedFrameFails(t *testing.T) {
	_, err := Decode([]byte{0xF0, 0x7E})
	assert.ErrorIs(t, err, ErrParseFailed)
}

func TestDecodeRejectsWrongUniversalSysExID(t *testing.T) {
	frame := []byte{0xF0, 0x7F, 0x7F, 0x0D, byte(TypeDiscovery), 2, 0, 0, 0, 0, 0, 0, 0, 0, 0xF7}
	_, err := Decode(frame)
	assert.ErrorIs(t, err, ErrParseFailed)
}

func TestDecodeRejectsShortIdentityPayload(t *testing.T) {
	frame := []byte{0xF0, 0x7E, 0x7F, 0x0D, byte(TypeDiscovery), 2, 0, 0, 0, 0, 0, 0, 0, 0, 0xF7}
	_, err := Decode(frame)
	assert.Error(t, err)
}
