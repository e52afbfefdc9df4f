package local

import (
	"testing"
	"time"

	"github.com/davidb137/spsp/pkg/driver/loopback"
	"github.com/davidb137/spsp/pkg/message"
	"github.com/davidb137/spsp/pkg/spspaddr"
	"github.com/davidb137/spsp/pkg/wifi"
)

type fakeReceiver struct {
	ch chan message.Message
}

func (f *fakeReceiver) ReceiveLocal(msg message.Message, rssi int) {
	f.ch <- msg
}

func (f *fakeReceiver) ResubscribeAll() {}

func newTestEngine(t *testing.T, bus *loopback.Bus, addr spspaddr.Addr, password []byte) (*Engine, *fakeReceiver) {
	t.Helper()
	ad := loopback.New(bus, addr)
	station := wifi.NewDummy(wifi.ChannelRestrictions{Low: 1, High: 3})
	ad.Station = station
	e, err := New(Config{
		SSID:                    0x01020304,
		Password:                password,
		DiscoveryWaitPerChannel: 20 * time.Millisecond,
	}, station, ad)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	recv := &fakeReceiver{ch: make(chan message.Message, 8)}
	e.Attach(recv, recv)
	return e, recv
}

func testPassword() []byte {
	pw := make([]byte, 32)
	for i := range pw {
		pw[i] = 0x48
	}
	return pw
}

func TestSendDeliversToPeer(t *testing.T) {
	bus := loopback.NewBus()
	pw := testPassword()
	client, _ := newTestEngine(t, bus, spspaddr.Addr{0x01}, pw)
	bridge, bridgeRecv := newTestEngine(t, bus, spspaddr.Addr{0x02, 0x03, 0x04, 0x05, 0x06, 0x07}, pw)
	_ = bridge

	ok := client.Send(message.New(message.Pub, spspaddr.Addr{0x02, 0x03, 0x04, 0x05, 0x06, 0x07}, "abc", []byte("123")))
	if !ok {
		t.Fatal("Send failed")
	}

	select {
	case msg := <-bridgeRecv.ch:
		if msg.Type != message.Pub || msg.Topic != "abc" || string(msg.Payload) != "123" {
			t.Fatalf("got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestSendWithoutBridgeFails(t *testing.T) {
	bus := loopback.NewBus()
	client, _ := newTestEngine(t, bus, spspaddr.Addr{0x01}, testPassword())
	if client.Send(message.New(message.Pub, spspaddr.Addr{}, "t", nil)) {
		t.Fatal("expected Send with no bridge to fail")
	}
}

func TestOversizedPublishRejected(t *testing.T) {
	bus := loopback.NewBus()
	client, _ := newTestEngine(t, bus, spspaddr.Addr{0x01}, testPassword())
	big := make([]byte, 250)
	for i := range big {
		big[i] = '0'
	}
	if client.Send(message.New(message.Pub, spspaddr.Addr{0x02}, "t", big)) {
		t.Fatal("expected oversized send to fail")
	}
}

func TestConnectToBridgeDiscoversStrongestSignal(t *testing.T) {
	bus := loopback.NewBus()
	pw := testPassword()
	client, clientRecv := newTestEngine(t, bus, spspaddr.Addr{0x01}, pw)

	bridgeA := respondingBridge(t, bus, spspaddr.Addr{0xaa}, pw, -70, 2)
	bridgeB := respondingBridge(t, bus, spspaddr.Addr{0xbb}, pw, -60, 3)
	defer bridgeA.Close()
	defer bridgeB.Close()

	ok := client.ConnectToBridge(nil, nil)
	if !ok {
		t.Fatal("ConnectToBridge failed")
	}

	best := client.BestBridge()
	if best.Addr != (spspaddr.Addr{0xbb}) || best.Channel != 3 {
		t.Fatalf("got best %+v, want bridge B on channel 3", best)
	}

	select {
	case <-clientRecv.ch:
		// At least one PROBE_RES was dispatched to the client node.
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected at least one PROBE_RES to be dispatched to the node")
	}
}

// respondingBridge wires an engine that answers every PROBE_REQ it
// receives with a PROBE_RES, reporting rssi via the loopback adapter's
// fixed RSSI field (set to rssi for the purposes of this test) while
// operating on the given channel.
func respondingBridge(t *testing.T, bus *loopback.Bus, addr spspaddr.Addr, pw []byte, rssi, channel int) *Engine {
	t.Helper()
	ad := loopback.New(bus, addr)
	ad.RSSI = rssi
	station := wifi.NewDummy(wifi.ChannelRestrictions{Low: channel, High: channel})
	station.SetChannel(channel)
	ad.Station = station
	e, err := New(Config{SSID: 0x01020304, Password: pw, DiscoveryWaitPerChannel: time.Millisecond}, station, ad)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := &respondWithProbeRes{engine: e}
	e.Attach(r, r)
	return e
}

type respondWithProbeRes struct {
	engine *Engine
}

func (r *respondWithProbeRes) ReceiveLocal(msg message.Message, rssi int) {
	if msg.Type == message.ProbeReq {
		r.engine.Send(message.New(message.ProbeRes, msg.Addr, "", []byte("1")))
	}
}

func (r *respondWithProbeRes) ResubscribeAll() {}
