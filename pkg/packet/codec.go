// Package packet implements the SPSP wire packet codec: a packed,
// little-endian frame with a checksum-authenticated, ChaCha20-encrypted
// payload region.
//
// Wire layout (offsets in bytes):
//
//	 0   4   ssid               (u32, network-wide identifier)
//	 4   8   nonce              (random bytes per packet)
//	12   1   version            (must equal 1)
//	13   1   type               (message type)     ┐
//	14   3   reserved (=0)                         │ encrypted
//	17   1   checksum                              │ region
//	18   1   topic_len                             │
//	19   1   payload_len                           │
//	20  ..   topic || payload                      ┘
package packet

import (
	"encoding/binary"
	"fmt"

	spspcipher "github.com/davidb137/spsp/pkg/cipher"
	"github.com/davidb137/spsp/pkg/message"
	"github.com/davidb137/spsp/pkg/random"
	"github.com/davidb137/spsp/pkg/spspaddr"
)

// Version is the only supported wire version.
const Version = 1

const (
	headerSize        = 13 // ssid(4) + nonce(8) + version(1)
	payloadHeaderSize = 7  // type(1) + reserved(3) + checksum(1) + topic_len(1) + payload_len(1)

	offSSID       = 0
	offNonce      = 4
	offVersion    = 12
	offType       = 13
	offReserved   = 14
	offChecksum   = 17
	offTopicLen   = 18
	offPayloadLen = 19
	offData       = 20

	// MinPacketBytes and MaxPacketBytes bound a valid wire packet.
	MinPacketBytes = offData
	MaxPacketBytes = 250
)

// Codec serializes and deserializes SPSP wire packets for a fixed ssid and
// password.
type Codec struct {
	SSID     uint32
	Password [spspcipher.KeySize]byte

	// Rand supplies packet nonces; tests may substitute a deterministic
	// source.
	Rand random.Source
}

// NewCodec constructs a Codec using the default random source. password
// must be exactly 32 bytes.
func NewCodec(ssid uint32, password []byte) (*Codec, error) {
	if len(password) != spspcipher.KeySize {
		return nil, fmt.Errorf("packet: password must be %d bytes, got %d", spspcipher.KeySize, len(password))
	}
	c := &Codec{SSID: ssid, Rand: random.Default}
	copy(c.Password[:], password)
	return c, nil
}

// MaxPacketBytesFor returns the wire size for a message with the given
// topic/payload lengths.
func MaxPacketBytesFor(topicLen, payloadLen int) int {
	return offData + topicLen + payloadLen
}

func checksum(region []byte) byte {
	var sum byte
	for _, b := range region {
		sum += b
	}
	return sum
}

// Serialize encodes msg as a wire packet. It fails if the topic or payload
// exceed their individual 255-byte limits, or if the resulting packet
// would exceed MaxPacketBytes.
func (c *Codec) Serialize(msg message.Message) ([]byte, error) {
	if len(msg.Topic) > message.MaxTopicLen {
		return nil, fmt.Errorf("packet: topic too long (%d bytes)", len(msg.Topic))
	}
	if len(msg.Payload) > message.MaxPayloadLen {
		return nil, fmt.Errorf("packet: payload too long (%d bytes)", len(msg.Payload))
	}

	n := MaxPacketBytesFor(len(msg.Topic), len(msg.Payload))
	if n > MaxPacketBytes {
		return nil, fmt.Errorf("packet: packet too large (%d bytes, max %d)", n, MaxPacketBytes)
	}

	buf := make([]byte, n)
	binary.LittleEndian.PutUint32(buf[offSSID:], c.SSID)

	nb, err := c.Rand.Bytes(spspcipher.NonceSize)
	if err != nil {
		return nil, fmt.Errorf("packet: generate nonce: %w", err)
	}
	var nonce [spspcipher.NonceSize]byte
	copy(nonce[:], nb)
	copy(buf[offNonce:], nonce[:])
	buf[offVersion] = Version

	region := buf[offType:]
	region[0] = byte(msg.Type)
	// reserved bytes already zero
	region[4] = 0 // checksum placeholder
	region[5] = byte(len(msg.Topic))
	region[6] = byte(len(msg.Payload))
	copy(region[payloadHeaderSize:], msg.Topic)
	copy(region[payloadHeaderSize+len(msg.Topic):], msg.Payload)

	region[4] = checksum(region)

	if err := spspcipher.XOR(c.Password, nonce, region); err != nil {
		return nil, err
	}

	return buf, nil
}

// Deserialize decodes a wire packet received from srcAddr. It returns
// (msg, false) on any malformed, mismatched-ssid, wrong-version, or
// checksum-failed packet; it never panics.
func (c *Codec) Deserialize(srcAddr spspaddr.Addr, buf []byte) (message.Message, bool) {
	if len(buf) < MinPacketBytes || len(buf) > MaxPacketBytes {
		return message.Message{}, false
	}
	if binary.LittleEndian.Uint32(buf[offSSID:]) != c.SSID {
		return message.Message{}, false
	}
	if buf[offVersion] != Version {
		return message.Message{}, false
	}

	var nonce [spspcipher.NonceSize]byte
	copy(nonce[:], buf[offNonce:offNonce+spspcipher.NonceSize])

	region := append([]byte(nil), buf[offType:]...)
	if err := spspcipher.XOR(c.Password, nonce, region); err != nil {
		return message.Message{}, false
	}

	gotChecksum := region[4]
	region[4] = 0
	if checksum(region) != gotChecksum {
		return message.Message{}, false
	}

	topicLen := int(region[5])
	payloadLen := int(region[6])
	if payloadHeaderSize+topicLen+payloadLen != len(region) {
		return message.Message{}, false
	}

	topic := string(region[payloadHeaderSize : payloadHeaderSize+topicLen])
	payload := append([]byte(nil), region[payloadHeaderSize+topicLen:payloadHeaderSize+topicLen+payloadLen]...)

	return message.Message{
		Type:    message.Type(region[0]),
		Addr:    srcAddr,
		Topic:   topic,
		Payload: payload,
	}, true
}
