// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package ci

// MessageType is the CI SysEx universal-system-exclusive sub-id2, the
// single byte that discriminates the message tagged union.
type MessageType byte

// The CI message types this codec round-trips.
const (
	TypeDiscovery      MessageType = 0x70
	TypeDiscoveryReply MessageType = 0x71
	TypeInvalidateMUID MessageType = 0x7E
	TypeNAK            MessageType = 0x7F

	TypePECapability      MessageType = 0x30
	TypePECapabilityReply MessageType = 0x31
	TypePEGetInquiry      MessageType = 0x34
	TypePEGetReply        MessageType = 0x35
	TypePESetInquiry      MessageType = 0x36
	TypePESetReply        MessageType = 0x37
	TypePESubscribe       MessageType = 0x38
	TypePESubscribeReply  MessageType = 0x39
	TypePENotify          MessageType = 0x3F

	TypeProcessInquiryCapabilities      MessageType = 0x40
	TypeProcessInquiryCapabilitiesReply MessageType = 0x41
	TypeMidiMessageReport               MessageType = 0x42
	TypeMidiMessageReportReply          MessageType = 0x43
	TypeMidiMessageReportEnd            MessageType = 0x44
)

// CI version bytes. Implementations should emit v1.2 and must accept
// either (§6.2).
const (
	Version1_1 byte = 0x01
	Version1_2 byte = 0x02
)

// Envelope framing constants, §6.2: F0 7E 7F 0D <type> <version> <src:4> <dst:4> <payload> F7.
const (
	sysexStart          byte = 0xF0
	sysexEnd            byte = 0xF7
	universalNonRealTime byte = 0x7E
	subID1CI            byte = 0x0D
)

// EnvelopeSize is the byte count of the fixed envelope surrounding the
// payload: F0 7E 7F 0D type version src(4) dst(4) ... F7 = 14 bytes plus
// the terminating F7, i.e. the payload starts at offset 14 and the frame
// ends one byte after the payload.
const EnvelopeSize = 14 // up to and including dstMUID's last byte

// Header carries the fields every CI message shares.
type Header struct {
	Version     byte
	Source      MUID
	Destination MUID
}

// Message is the CI message tagged union. Concrete types embed Header and
// implement Kind. Sum-type closure is enforced by an unexported marker
// method so no type outside this package can satisfy Message.
type Message interface {
	Kind() MessageType
	header() Header
}

func (h Header) header() Header { return h }

// Envelope extracts the shared Header from any Message, for callers
// outside this package that only need to route on version/source/dest
// without a type switch over every concrete variant.
func Envelope(m Message) Header { return m.header() }

// Discovery is a Discovery Inquiry (0x70).
type Discovery struct {
	Header
	Identity            Identity
	CategorySupport     CategorySupport
	MaxSysExSize        uint32
	InitiatorOutputPath byte
	HasOutputPath       bool
}

func (Discovery) Kind() MessageType { return TypeDiscovery }

// DiscoveryReply is a Discovery Reply (0x71).
type DiscoveryReply struct {
	Header
	Identity            Identity
	CategorySupport     CategorySupport
	MaxSysExSize        uint32
	InitiatorOutputPath byte
	FunctionBlock       byte
	HasOutputPath       bool
	HasFunctionBlock    bool
}

func (DiscoveryReply) Kind() MessageType { return TypeDiscoveryReply }

// InvalidateMUID announces that TargetMUID is no longer valid.
type InvalidateMUID struct {
	Header
	TargetMUID MUID
}

func (InvalidateMUID) Kind() MessageType { return TypeInvalidateMUID }

// NAKDetails codepoints for the optional details field (status_data).
type NAKDetails byte

const (
	NAKDetailsBusy     NAKDetails = 0x01
	NAKDetailsNotFound NAKDetails = 0x02
)

// NAK is a negative acknowledgement. The optional tail (Details/Message) is
// only present when the wire frame carried it; parsing never panics on a
// truncated tail (§7).
type NAK struct {
	Header
	OrigTransaction byte
	StatusCode      byte
	StatusData      byte
	Details         [5]byte
	HasDetails      bool
	Message         string
	HasMessage      bool
}

func (NAK) Kind() MessageType { return TypeNAK }

// PECapability is a PE Capability Inquiry (0x30).
type PECapability struct {
	Header
	NumSimultaneousRequests byte
}

func (PECapability) Kind() MessageType { return TypePECapability }

// PECapabilityReply is a PE Capability Reply (0x31).
type PECapabilityReply struct {
	Header
	NumSimultaneousRequests byte
	MajorVersion            byte
	MinorVersion            byte
}

func (PECapabilityReply) Kind() MessageType { return TypePECapabilityReply }

// PEGetInquiry is a PE Get Inquiry (0x34). Per §4.1 this is the one PE
// request type with NO chunk fields.
type PEGetInquiry struct {
	Header
	RequestID byte
	Header_   []byte // the PE JSON header bytes (field named to avoid clashing with embedded Header)
}

func (PEGetInquiry) Kind() MessageType { return TypePEGetInquiry }

// ChunkedPayload is shared by every PE message type that carries the
// chunk triple: requestID(1) headerSize(2) numChunks(2) thisChunk(2)
// dataSize(2) headerBytes propertyBytes.
type ChunkedPayload struct {
	RequestID     byte
	HeaderBytes   []byte
	NumChunks     uint16
	ThisChunk     uint16
	PropertyBytes []byte
}

// PEGetReply is a PE Get Reply (0x35).
type PEGetReply struct {
	Header
	ChunkedPayload
}

func (PEGetReply) Kind() MessageType { return TypePEGetReply }

// PESetInquiry is a PE Set Inquiry (0x36). Chunked symmetrically with
// PEGetReply per §9 open question 3.
type PESetInquiry struct {
	Header
	ChunkedPayload
}

func (PESetInquiry) Kind() MessageType { return TypePESetInquiry }

// PESetReply is a PE Set Reply (0x37).
type PESetReply struct {
	Header
	ChunkedPayload
}

func (PESetReply) Kind() MessageType { return TypePESetReply }

// PESubscribe is a PE Subscribe Inquiry (0x38).
type PESubscribe struct {
	Header
	ChunkedPayload
}

func (PESubscribe) Kind() MessageType { return TypePESubscribe }

// PESubscribeReply is a PE Subscribe Reply (0x39).
type PESubscribeReply struct {
	Header
	ChunkedPayload
}

func (PESubscribeReply) Kind() MessageType { return TypePESubscribeReply }

// PENotify is a PE Notify (0x3F).
type PENotify struct {
	Header
	ChunkedPayload
}

func (PENotify) Kind() MessageType { return TypePENotify }

// RawProcessInquiry carries a Process Inquiry message this package does
// not interpret field-by-field (§4.9 expansion): the type round-trips
// byte-for-byte through Payload.
type RawProcessInquiry struct {
	Header
	Type_   MessageType
	Payload []byte
}

func (m RawProcessInquiry) Kind() MessageType { return m.Type_ }

// ProcessInquiryCapabilities is a Process Inquiry Capabilities Inquiry
// (0x40); it carries no payload beyond the envelope.
type ProcessInquiryCapabilities struct {
	Header
}

func (ProcessInquiryCapabilities) Kind() MessageType { return TypeProcessInquiryCapabilities }

// ProcessInquiryCapabilitiesReply is a Process Inquiry Capabilities Reply
// (0x41); its payload is the single SupportedFeatures byte (§4.9).
type ProcessInquiryCapabilitiesReply struct {
	Header
	SupportedFeatures byte
}

func (ProcessInquiryCapabilitiesReply) Kind() MessageType {
	return TypeProcessInquiryCapabilitiesReply
}
