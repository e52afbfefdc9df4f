package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/davidb137/spsp/pkg/message"
	"github.com/davidb137/spsp/pkg/spspaddr"
)

type fakeLocal struct {
	mu   sync.Mutex
	sent []message.Message
}

func (f *fakeLocal) Send(msg message.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return true
}

func (f *fakeLocal) snapshot() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.Message(nil), f.sent...)
}

type fakeFar struct {
	mu              sync.Mutex
	published       []string
	subscribed      []string
	unsubscribed    []string
	subscribeFail   map[string]bool
	unsubscribeFail map[string]bool
}

func (f *fakeFar) Publish(source, topic string, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, topic)
	return true
}

func (f *fakeFar) Subscribe(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeFail != nil && f.subscribeFail[topic] {
		return false
	}
	f.subscribed = append(f.subscribed, topic)
	return true
}

func (f *fakeFar) Unsubscribe(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unsubscribeFail != nil && f.unsubscribeFail[topic] {
		return false
	}
	f.unsubscribed = append(f.unsubscribed, topic)
	return true
}

func (f *fakeFar) count(topic string, list []string) int {
	n := 0
	for _, t := range list {
		if t == topic {
			n++
		}
	}
	return n
}

func bridgeAddr() spspaddr.Addr {
	return spspaddr.Addr{0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
}

func TestPublishFromClientReachesFarLayer(t *testing.T) {
	local, far := &fakeLocal{}, &fakeFar{}
	b := New(Config{}, bridgeAddr(), local, far)
	defer b.Close()

	client := spspaddr.Addr{0x10}
	b.ReceiveLocal(message.New(message.Pub, client, "abc", []byte("123")), -50)

	far.mu.Lock()
	defer far.mu.Unlock()
	if len(far.published) != 1 || far.published[0] != "abc" {
		t.Fatalf("expected exactly one publish of 'abc', got %v", far.published)
	}
}

func TestSubscribeFromClientCallsFarSubscribeOnce(t *testing.T) {
	local, far := &fakeLocal{}, &fakeFar{}
	b := New(Config{}, bridgeAddr(), local, far)
	defer b.Close()

	client := spspaddr.Addr{0x10}
	b.ReceiveLocal(message.New(message.SubReq, client, "abc/#", nil), -50)
	b.ReceiveLocal(message.New(message.SubReq, spspaddr.Addr{0x20}, "abc/#", nil), -50)

	if n := far.count("abc/#", far.subscribed); n != 1 {
		t.Fatalf("expected far.Subscribe called once for a topic with 2 peers, got %d", n)
	}
}

func TestFanOutThreeRemoteOneLocal(t *testing.T) {
	local, far := &fakeLocal{}, &fakeFar{}
	b := New(Config{}, bridgeAddr(), local, far)
	defer b.Close()

	peerPlus := spspaddr.Addr{0x01}
	peerHash := spspaddr.Addr{0x02}
	peerExact := spspaddr.Addr{0x03}

	b.ReceiveLocal(message.New(message.SubReq, peerPlus, "abc/+", nil), -50)
	b.ReceiveLocal(message.New(message.SubReq, peerHash, "abc/#", nil), -50)
	b.ReceiveLocal(message.New(message.SubReq, peerExact, "abc/def", nil), -50)

	var localCalls int
	var localMu sync.Mutex
	b.Subscribe("abc/#", func(topic string, payload []byte) {
		localMu.Lock()
		localCalls++
		localMu.Unlock()
	})

	b.ReceiveFar("abc/def", []byte("123"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		localMu.Lock()
		n := localCalls
		localMu.Unlock()
		subDataCount := 0
		for _, m := range local.snapshot() {
			if m.Type == message.SubData {
				subDataCount++
			}
		}
		if n == 1 && subDataCount == 3 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected exactly 3 SUB_DATA sends and 1 local callback invocation")
}

func TestUnsubscribeTriggersFarUnsubscribeWhenEmpty(t *testing.T) {
	local, far := &fakeLocal{}, &fakeFar{}
	b := New(Config{}, bridgeAddr(), local, far)
	defer b.Close()

	peer := spspaddr.Addr{0x01}
	b.ReceiveLocal(message.New(message.SubReq, peer, "t", nil), -50)
	b.ReceiveLocal(message.New(message.Unsub, peer, "t", nil), -50)

	if n := far.count("t", far.unsubscribed); n != 1 {
		t.Fatalf("expected far.Unsubscribe called once, got %d", n)
	}
}

func TestUnsubscribeRetriedAfterFarFailure(t *testing.T) {
	local, far := &fakeLocal{}, &fakeFar{unsubscribeFail: map[string]bool{"t": true}}
	b := New(Config{TickInterval: 10 * time.Millisecond}, bridgeAddr(), local, far)
	defer b.Close()

	peer := spspaddr.Addr{0x01}
	b.ReceiveLocal(message.New(message.SubReq, peer, "t", nil), -50)
	b.ReceiveLocal(message.New(message.Unsub, peer, "t", nil), -50)

	far.mu.Lock()
	n := len(far.unsubscribed)
	far.unsubscribeFail["t"] = false
	far.mu.Unlock()
	if n != 0 {
		t.Fatal("failed upstream unsubscribe must not be recorded as done")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		far.mu.Lock()
		n := far.count("t", far.unsubscribed)
		far.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the tick to retry the upstream unsubscribe")
}

func TestSubDBTickExpiresRemoteSubscribers(t *testing.T) {
	local, far := &fakeLocal{}, &fakeFar{}
	b := New(Config{TickInterval: 10 * time.Millisecond}, bridgeAddr(), local, far)
	defer b.Close()

	peer := spspaddr.Addr{0x01}
	// manually install a short-lived entry to avoid waiting out the real
	// 15-minute SubLifetime in a unit test.
	b.mu.Lock()
	b.subDB.Insert("t", subPeers{peer: {lifetime: 15 * time.Millisecond}})
	b.mu.Unlock()

	time.Sleep(100 * time.Millisecond)

	if n := far.count("t", far.unsubscribed); n != 1 {
		t.Fatalf("expected far.Unsubscribe once after expiry, got %d", n)
	}
}

func TestProbeReqGetsProbeRes(t *testing.T) {
	local, far := &fakeLocal{}, &fakeFar{}
	b := New(Config{}, bridgeAddr(), local, far)
	defer b.Close()

	client := spspaddr.Addr{0x10}
	b.ReceiveLocal(message.New(message.ProbeReq, client, "", []byte("fw1")), -55)

	var found bool
	for _, m := range local.snapshot() {
		if m.Type == message.ProbeRes && m.Addr == client {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a PROBE_RES sent to the probing client")
	}
}

func TestTimeReqGetsTimeRes(t *testing.T) {
	local, far := &fakeLocal{}, &fakeFar{}
	b := New(Config{}, bridgeAddr(), local, far)
	defer b.Close()

	client := spspaddr.Addr{0x10}
	b.ReceiveLocal(message.New(message.TimeReq, client, "", nil), -50)

	var found bool
	for _, m := range local.snapshot() {
		if m.Type == message.TimeRes && m.Addr == client {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a TIME_RES sent to the requesting client")
	}
}
