package packet

import (
	"bytes"
	"strings"
	"testing"

	"github.com/davidb137/spsp/pkg/message"
	"github.com/davidb137/spsp/pkg/spspaddr"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	pw := bytes.Repeat([]byte{0x48}, 32)
	c, err := NewCodec(0x01020304, pw)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	c := testCodec(t)
	src := spspaddr.Addr{0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	msg := message.New(message.Pub, spspaddr.Addr{}, "abc", []byte("123"))

	buf, err := c.Serialize(msg)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if got, want := len(buf), 26; got != want {
		t.Fatalf("packet length = %d, want %d", got, want)
	}

	got, ok := c.Deserialize(src, buf)
	if !ok {
		t.Fatal("Deserialize failed")
	}
	if got.Type != msg.Type || got.Topic != msg.Topic || !bytes.Equal(got.Payload, msg.Payload) {
		t.Fatalf("got %+v, want type/topic/payload of %+v", got, msg)
	}
	if got.Addr != src {
		t.Fatalf("Addr = %v, want %v", got.Addr, src)
	}
}

func TestDeserializeRejectsWrongSSID(t *testing.T) {
	c := testCodec(t)
	other, _ := NewCodec(0xaabbccdd, bytes.Repeat([]byte{0x48}, 32))
	buf, err := c.Serialize(message.New(message.Pub, spspaddr.Addr{}, "t", nil))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := other.Deserialize(spspaddr.Addr{}, buf); ok {
		t.Fatal("expected rejection on ssid mismatch")
	}
}

func TestDeserializeRejectsShort(t *testing.T) {
	c := testCodec(t)
	if _, ok := c.Deserialize(spspaddr.Addr{}, make([]byte, 19)); ok {
		t.Fatal("expected rejection below MinPacketBytes")
	}
}

func TestDeserializeRejectsBitFlip(t *testing.T) {
	c := testCodec(t)
	buf, err := c.Serialize(message.New(message.Pub, spspaddr.Addr{}, "abc", []byte("123")))
	if err != nil {
		t.Fatal(err)
	}
	buf[offData] ^= 0x01
	if _, ok := c.Deserialize(spspaddr.Addr{}, buf); ok {
		t.Fatal("expected rejection on bit flip in encrypted region")
	}
}

func TestSerializeRejectsOversized(t *testing.T) {
	c := testCodec(t)
	big := strings.Repeat("0", 250)
	if _, err := c.Serialize(message.New(message.Pub, spspaddr.Addr{}, "t", []byte(big))); err == nil {
		t.Fatal("expected oversized payload to be rejected")
	}
}

func TestEmptyTopicAndPayload(t *testing.T) {
	c := testCodec(t)
	buf, err := c.Serialize(message.New(message.TimeReq, spspaddr.Addr{}, "", nil))
	if err != nil {
		t.Fatal(err)
	}
	got, ok := c.Deserialize(spspaddr.Addr{}, buf)
	if !ok {
		t.Fatal("Deserialize failed")
	}
	if got.Topic != "" || len(got.Payload) != 0 {
		t.Fatalf("got %+v", got)
	}
}
