package client

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
	fail bool
}

func (f *fakeLocal) Send(msg message.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return !f.fail
}

func (f *fakeLocal) count(typ message.Type) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func TestPublishRejectsEmptyTopic(t *testing.T) {
	c := New(Config{}, &fakeLocal{})
	defer c.Close()
	if c.Publish("", nil) {
		t.Fatal("expected empty topic to be rejected")
	}
}

func TestSubscribeThenUnsubscribe(t *testing.T) {
	local := &fakeLocal{}
	c := New(Config{}, local)
	defer c.Close()

	var got []string
	if !c.Subscribe("abc/#", func(topic string, payload []byte) {
		got = append(got, topic)
	}) {
		t.Fatal("Subscribe failed")
	}
	if local.count(message.SubReq) != 1 {
		t.Fatalf("expected 1 SUB_REQ, got %d", local.count(message.SubReq))
	}

	c.ReceiveLocal(message.New(message.SubData, spspaddr.Addr{}, "abc/def", []byte("123")), 0)
	if len(got) != 1 || got[0] != "abc/def" {
		t.Fatalf("callback not invoked correctly, got %v", got)
	}

	if !c.Unsubscribe("abc/#") {
		t.Fatal("Unsubscribe failed")
	}
	if local.count(message.Unsub) != 1 {
		t.Fatalf("expected 1 UNSUB, got %d", local.count(message.Unsub))
	}
	if c.Unsubscribe("abc/#") {
		t.Fatal("expected second Unsubscribe to fail")
	}
}

func TestUnsubscribeRemovesFromResubscribeAll(t *testing.T) {
	local := &fakeLocal{}
	c := New(Config{}, local)
	defer c.Close()

	c.Subscribe("t", func(string, []byte) {})
	c.Unsubscribe("t")
	local.mu.Lock()
	local.sent = nil
	local.mu.Unlock()

	c.ResubscribeAll()
	if local.count(message.SubReq) != 0 {
		t.Fatal("unsubscribed topic should not be resent on resubscribe-all")
	}
}

func TestResubscribeAllReplaysSubDB(t *testing.T) {
	local := &fakeLocal{}
	c := New(Config{}, local)
	defer c.Close()

	c.Subscribe("a", func(string, []byte) {})
	c.Subscribe("b", func(string, []byte) {})
	local.mu.Lock()
	local.sent = nil
	local.mu.Unlock()

	c.ResubscribeAll()
	if got := local.count(message.SubReq); got != 2 {
		t.Fatalf("expected 2 SUB_REQ on resubscribe-all, got %d", got)
	}
}

func TestSubscribeRenewalOnTick(t *testing.T) {
	local := &fakeLocal{}
	c := New(Config{
		TickInterval: 10 * time.Millisecond,
		SubLifetime:  30 * time.Millisecond,
	}, local)
	defer c.Close()

	c.Subscribe("t", func(string, []byte) {})
	time.Sleep(120 * time.Millisecond)

	// the initial SUB_REQ plus at least 2 renewals (due at ~30ms and ~60ms)
	if n := local.count(message.SubReq); n < 3 {
		t.Fatalf("expected at least 2 renewal SUB_REQs within 120ms (3 in total), got %d", n)
	}
}

func TestSyncTimeValidatesFloor(t *testing.T) {
	local := &fakeLocal{}
	var setTo time.Time
	c := New(Config{
		TimeSyncTimeout: 50 * time.Millisecond,
		SetClock: func(t time.Time) error {
			setTo = t
			return nil
		},
	}, local)
	defer c.Close()

	done := make(chan bool)
	go func() { done <- c.SyncTime() }()
	time.Sleep(10 * time.Millisecond)
	c.ReceiveLocal(message.New(message.TimeRes, spspaddr.Addr{}, "", []byte("1700000000000")), 0)

	if ok := <-done; !ok {
		t.Fatal("expected SyncTime to succeed")
	}
	if setTo.IsZero() {
		t.Fatal("expected clock to be set")
	}
}

func TestSyncTimeRejectsBelowFloor(t *testing.T) {
	local := &fakeLocal{}
	c := New(Config{
		TimeSyncTimeout: 50 * time.Millisecond,
		SetClock:        func(time.Time) error { return nil },
	}, local)
	defer c.Close()

	done := make(chan bool)
	go func() { done <- c.SyncTime() }()
	time.Sleep(10 * time.Millisecond)
	c.ReceiveLocal(message.New(message.TimeRes, spspaddr.Addr{}, "", []byte("1")), 0)

	if ok := <-done; ok {
		t.Fatal("expected SyncTime to fail for a below-floor timestamp")
	}
}

func TestSyncTimeTimesOut(t *testing.T) {
	local := &fakeLocal{}
	c := New(Config{TimeSyncTimeout: 10 * time.Millisecond}, local)
	defer c.Close()

	if c.SyncTime() {
		t.Fatal("expected SyncTime to fail without a TIME_RES")
	}
}
