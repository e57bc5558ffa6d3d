package linkrouter

import "time"

// ChannelID identifies a routed channel.
type ChannelID uint64

// MessageType classifies a Message.
type MessageType int

const (
	TypeSend MessageType = iota
	TypeRequest
	TypeResponse
	TypeError
	TypeEvent
)

// PayloadKind selects which field of Payload is populated.
type PayloadKind int

const (
	PayloadEmpty PayloadKind = iota
	PayloadBinary
	PayloadText
	PayloadSharedMemory
)

// Payload is either inline bytes (bounded by the channel's max message
// size) or a shared-memory reference for zero-copy handoff of larger
// blobs.
type Payload struct {
	Kind       PayloadKind
	Binary     []byte
	Text       string
	SharedAddr uint64
	SharedSize uint64
}

func BinaryPayload(data []byte) Payload { return Payload{Kind: PayloadBinary, Binary: data} }
func TextPayload(s string) Payload      { return Payload{Kind: PayloadText, Text: s} }
func SharedPayload(addr, size uint64) Payload {
	return Payload{Kind: PayloadSharedMemory, SharedAddr: addr, SharedSize: size}
}

// Message is one routed message. CorrelationID is meaningful only for
// Response/Error messages; HasCorrelation distinguishes "no correlation"
// from a correlation id of zero.
type Message struct {
	ID             uint64
	Source         string
	Destination    string
	Type           MessageType
	Payload        Payload
	CorrelationID  uint64
	HasCorrelation bool
	Timestamp      time.Time
}
