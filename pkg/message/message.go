// Package message defines the tagged record exchanged between the local
// and far layers and the node state machines.
package message

import "github.com/davidb137/spsp/pkg/spspaddr"

// Type is the single-byte message type tag carried in the wire packet
// header.
type Type byte

// Reserved and message type codes.
const (
	None Type = iota
	OK
	Fail
)

// Message types exchanged between client and bridge. The values are wire
// constants; the gaps group related types by decade.
const (
	ProbeReq Type = 10
	ProbeRes Type = 11
	Pub      Type = 20
	SubReq   Type = 30
	SubData  Type = 31
	Unsub    Type = 32
	TimeReq  Type = 40
	TimeRes  Type = 41
)

func (t Type) String() string {
	switch t {
	case None:
		return "NONE"
	case OK:
		return "OK"
	case Fail:
		return "FAIL"
	case ProbeReq:
		return "PROBE_REQ"
	case ProbeRes:
		return "PROBE_RES"
	case Pub:
		return "PUB"
	case SubReq:
		return "SUB_REQ"
	case SubData:
		return "SUB_DATA"
	case Unsub:
		return "UNSUB"
	case TimeReq:
		return "TIME_REQ"
	case TimeRes:
		return "TIME_RES"
	default:
		return "UNKNOWN"
	}
}

// MaxTopicLen and MaxPayloadLen are the per-field byte-string size limits;
// each is independently capped at 255, but the packet as a whole is also
// capped (see packet.MaxPacketBytes).
const (
	MaxTopicLen   = 255
	MaxPayloadLen = 255
)

// Message is a product of {type, addr, topic, payload}.
//
// Addr is the peer address: source on receive, destination on send. The
// zero address on send means "use the discovered bridge".
type Message struct {
	Type    Type
	Addr    spspaddr.Addr
	Topic   string
	Payload []byte
}

// New constructs a Message, a small convenience used throughout the node
// and engine code.
func New(typ Type, addr spspaddr.Addr, topic string, payload []byte) Message {
	return Message{Type: typ, Addr: addr, Topic: topic, Payload: payload}
}
