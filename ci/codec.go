// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package ci

import "fmt"

// Encode serializes m into a complete CI SysEx frame:
// F0 7E 7F 0D <type> <version> <src:4> <dst:4> <payload> F7.
func Encode(m Message) ([]byte, error) {
	h := m.header()
	b := make([]byte, 0, 32)
	b = append(b, sysexStart, universalNonRealTime, 0x7F, subID1CI, byte(m.Kind()), h.Version)
	b = AppendMUID(b, h.Source)
	b = AppendMUID(b, h.Destination)

	payload, err := encodePayload(m)
	if err != nil {
		return nil, err
	}
	b = append(b, payload...)
	b = append(b, sysexEnd)
	return b, nil
}

func encodePayload(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Discovery:
		b := AppendIdentity(nil, v.Identity)
		b = append(b, byte(v.CategorySupport))
		b = appendU28(b, v.MaxSysExSize)
		if v.HasOutputPath {
			b = append(b, v.InitiatorOutputPath)
		}
		return b, nil
	case DiscoveryReply:
		b := AppendIdentity(nil, v.Identity)
		b = append(b, byte(v.CategorySupport))
		b = appendU28(b, v.MaxSysExSize)
		if v.HasOutputPath || v.HasFunctionBlock {
			b = append(b, v.InitiatorOutputPath)
		}
		if v.HasFunctionBlock {
			b = append(b, v.FunctionBlock)
		}
		return b, nil
	case InvalidateMUID:
		return AppendMUID(nil, v.TargetMUID), nil
	case NAK:
		b := []byte{v.OrigTransaction, v.StatusCode, v.StatusData}
		if v.HasDetails {
			b = append(b, v.Details[:]...)
			if v.HasMessage {
				msg := []byte(v.Message)
				b = AppendU14(b, uint16(len(msg)))
				b = append(b, msg...)
			}
		}
		return b, nil
	case PECapability:
		return []byte{v.NumSimultaneousRequests}, nil
	case PECapabilityReply:
		return []byte{v.NumSimultaneousRequests, v.MajorVersion, v.MinorVersion}, nil
	case PEGetInquiry:
		b := []byte{v.RequestID}
		b = AppendU14(b, uint16(len(v.Header_)))
		b = append(b, v.Header_...)
		return b, nil
	case PEGetReply:
		return encodeChunked(v.ChunkedPayload), nil
	case PESetInquiry:
		return encodeChunked(v.ChunkedPayload), nil
	case PESetReply:
		return encodeChunked(v.ChunkedPayload), nil
	case PESubscribe:
		return encodeChunked(v.ChunkedPayload), nil
	case PESubscribeReply:
		return encodeChunked(v.ChunkedPayload), nil
	case PENotify:
		return encodeChunked(v.ChunkedPayload), nil
	case ProcessInquiryCapabilities:
		return nil, nil
	case ProcessInquiryCapabilitiesReply:
		return []byte{v.SupportedFeatures}, nil
	case RawProcessInquiry:
		return append([]byte(nil), v.Payload...), nil
	default:
		return nil, fmt.Errorf("ci: encode: %w: %T", ErrUnknownMessageType, m)
	}
}

// encodeChunked serializes the shared PE chunk-bearing payload:
// requestID(1) headerSize(2) numChunks(2) thisChunk(2) dataSize(2)
// headerBytes propertyBytes.
func encodeChunked(c ChunkedPayload) []byte {
	b := []byte{c.RequestID}
	b = AppendU14(b, uint16(len(c.HeaderBytes)))
	b = AppendU14(b, c.NumChunks)
	b = AppendU14(b, c.ThisChunk)
	b = AppendU14(b, uint16(len(c.PropertyBytes)))
	b = append(b, c.HeaderBytes...)
	b = append(b, c.PropertyBytes...)
	return b
}

// appendU28 appends a 28-bit value as four 7-bit bytes, least-significant
// first, matching the MUID and Identity.VersionID wire packing.
func appendU28(b []byte, v uint32) []byte {
	return append(b, byte(v&0x7F), byte((v>>7)&0x7F), byte((v>>14)&0x7F), byte((v>>21)&0x7F))
}

func parseU28(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, b, ErrParseFailed
	}
	for _, x := range b[:4] {
		if x&0x80 != 0 {
			return 0, b, ErrParseFailed
		}
	}
	return uint32(b[0]) | uint32(b[1])<<7 | uint32(b[2])<<14 | uint32(b[3])<<21, b[4:], nil
}

// Decode parses a complete CI SysEx frame (without requiring the leading
// F0/trailing F7 to have already been validated by a transport-layer
// reassembler, though it does check for them). Truncated or malformed
// frames return ErrParseFailed rather than panicking (§7).
func Decode(frame []byte) (Message, error) {
	if len(frame) < EnvelopeSize+1 { // +1 for at least the terminator
		return nil, ErrParseFailed
	}
	if frame[0] != sysexStart || frame[len(frame)-1] != sysexEnd {
		return nil, ErrParseFailed
	}
	if frame[1] != universalNonRealTime || frame[2] != 0x7F || frame[3] != subID1CI {
		return nil, ErrParseFailed
	}
	typ := MessageType(frame[4])
	version := frame[5]

	rest := frame[6 : len(frame)-1]
	src, rest, err := ParseMUID(rest)
	if err != nil {
		return nil, err
	}
	dst, rest, err := ParseMUID(rest)
	if err != nil {
		return nil, err
	}
	h := Header{Version: version, Source: src, Destination: dst}

	return decodePayload(typ, h, rest)
}

func decodePayload(typ MessageType, h Header, payload []byte) (Message, error) {
	switch typ {
	case TypeDiscovery:
		id, rest, err := ParseIdentity(payload)
		if err != nil {
			return nil, err
		}
		if len(rest) < 1+4 {
			return nil, ErrParseFailed
		}
		cat := CategorySupport(rest[0])
		sz, rest2, err := parseU28(rest[1:])
		if err != nil {
			return nil, err
		}
		m := Discovery{Header: h, Identity: id, CategorySupport: cat, MaxSysExSize: sz}
		if len(rest2) >= 1 {
			m.InitiatorOutputPath = rest2[0]
			m.HasOutputPath = true
		}
		return m, nil

	case TypeDiscoveryReply:
		id, rest, err := ParseIdentity(payload)
		if err != nil {
			return nil, err
		}
		if len(rest) < 1+4 {
			return nil, ErrParseFailed
		}
		cat := CategorySupport(rest[0])
		sz, rest, err := parseU28(rest[1:])
		if err != nil {
			return nil, err
		}
		m := DiscoveryReply{Header: h, Identity: id, CategorySupport: cat, MaxSysExSize: sz}
		// Optional tail: initiator-output-path then function-block. Open
		// question (§9 #1): absent defaults to 0, matching observed tests.
		if len(rest) >= 1 {
			m.InitiatorOutputPath = rest[0]
			m.HasOutputPath = true
			rest = rest[1:]
		}
		if len(rest) >= 1 {
			m.FunctionBlock = rest[0]
			m.HasFunctionBlock = true
		}
		return m, nil

	case TypeInvalidateMUID:
		target, _, err := ParseMUID(payload)
		if err != nil {
			return nil, err
		}
		return InvalidateMUID{Header: h, TargetMUID: target}, nil

	case TypeNAK:
		return decodeNAK(h, payload)

	case TypePECapability:
		if len(payload) < 1 {
			return nil, ErrParseFailed
		}
		return PECapability{Header: h, NumSimultaneousRequests: payload[0]}, nil

	case TypePECapabilityReply:
		if len(payload) < 3 {
			return nil, ErrParseFailed
		}
		return PECapabilityReply{
			Header:                  h,
			NumSimultaneousRequests: payload[0],
			MajorVersion:            payload[1],
			MinorVersion:            payload[2],
		}, nil

	case TypePEGetInquiry:
		if len(payload) < 3 {
			return nil, ErrParseFailed
		}
		reqID := payload[0]
		hdrSize, rest, err := ParseU14(payload[1:])
		if err != nil {
			return nil, err
		}
		if len(rest) < int(hdrSize) {
			return nil, ErrParseFailed
		}
		return PEGetInquiry{Header: h, RequestID: reqID, Header_: append([]byte(nil), rest[:hdrSize]...)}, nil

	case TypePEGetReply, TypePESetInquiry, TypePESetReply, TypePESubscribe, TypePESubscribeReply, TypePENotify:
		c, err := decodeChunked(payload)
		if err != nil {
			return nil, err
		}
		switch typ {
		case TypePEGetReply:
			return PEGetReply{Header: h, ChunkedPayload: c}, nil
		case TypePESetInquiry:
			return PESetInquiry{Header: h, ChunkedPayload: c}, nil
		case TypePESetReply:
			return PESetReply{Header: h, ChunkedPayload: c}, nil
		case TypePESubscribe:
			return PESubscribe{Header: h, ChunkedPayload: c}, nil
		case TypePESubscribeReply:
			return PESubscribeReply{Header: h, ChunkedPayload: c}, nil
		default:
			return PENotify{Header: h, ChunkedPayload: c}, nil
		}

	case TypeProcessInquiryCapabilities:
		return ProcessInquiryCapabilities{Header: h}, nil

	case TypeProcessInquiryCapabilitiesReply:
		if len(payload) < 1 {
			return nil, ErrParseFailed
		}
		return ProcessInquiryCapabilitiesReply{Header: h, SupportedFeatures: payload[0]}, nil

	case TypeMidiMessageReport, TypeMidiMessageReportReply, TypeMidiMessageReportEnd:
		return RawProcessInquiry{Header: h, Type_: typ, Payload: append([]byte(nil), payload...)}, nil

	default:
		return nil, fmt.Errorf("ci: decode: %w: 0x%02X", ErrUnknownMessageType, byte(typ))
	}
}

// decodeNAK parses the NAK payload. Only the mandatory 3 bytes
// (origTx, statusCode, statusData) are required; each optional tail
// segment is emitted/parsed only if the fields preceding it within its
// block are present, and any truncation past the mandatory bytes yields
// the fields that did fit rather than an error (§7, a historical crash
// pinned by the boundary test in §8).
func decodeNAK(h Header, payload []byte) (Message, error) {
	if len(payload) < 3 {
		return nil, ErrParseFailed
	}
	m := NAK{Header: h, OrigTransaction: payload[0], StatusCode: payload[1], StatusData: payload[2]}
	rest := payload[3:]
	if len(rest) < 5 {
		return m, nil
	}
	copy(m.Details[:], rest[:5])
	m.HasDetails = true
	rest = rest[5:]
	if len(rest) < 2 {
		return m, nil
	}
	msgLen, rest, err := ParseU14(rest)
	if err != nil {
		return m, nil
	}
	if len(rest) < int(msgLen) {
		// Declared length exceeds remaining bytes: degrade gracefully,
		// do not surface a message rather than reading out of bounds.
		return m, nil
	}
	m.Message = string(rest[:msgLen])
	m.HasMessage = true
	return m, nil
}

func decodeChunked(payload []byte) (ChunkedPayload, error) {
	if len(payload) < 1 {
		return ChunkedPayload{}, ErrParseFailed
	}
	reqID := payload[0]
	hdrSize, rest, err := ParseU14(payload[1:])
	if err != nil {
		return ChunkedPayload{}, err
	}
	numChunks, rest, err := ParseU14(rest)
	if err != nil {
		return ChunkedPayload{}, err
	}
	thisChunk, rest, err := ParseU14(rest)
	if err != nil {
		return ChunkedPayload{}, err
	}
	dataSize, rest, err := ParseU14(rest)
	if err != nil {
		return ChunkedPayload{}, err
	}
	if len(rest) < int(hdrSize)+int(dataSize) {
		return ChunkedPayload{}, ErrParseFailed
	}
	return ChunkedPayload{
		RequestID:     reqID,
		HeaderBytes:   append([]byte(nil), rest[:hdrSize]...),
		NumChunks:     numChunks,
		ThisChunk:     thisChunk,
		PropertyBytes: append([]byte(nil), rest[hdrSize:hdrSize+dataSize]...),
	}, nil
}
