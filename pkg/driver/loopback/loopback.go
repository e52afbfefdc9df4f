// Package loopback implements an in-memory driver.Adapter for tests and
// the reference demonstration client: a small registry of adapters keyed
// by address delivers frames directly to peers without any real wireless
// transport.
package loopback

import (
	"fmt"
	"sync"

	"github.com/davidb137/spsp/pkg/driver"
	"github.com/davidb137/spsp/pkg/spspaddr"
	"github.com/davidb137/spsp/pkg/wifi"
)

// Bus is a shared in-memory medium that loopback adapters register with.
// It is the test/demo analog of "the air": any Adapter on a Bus can reach
// any other Adapter on the same Bus by address.
type Bus struct {
	mu    sync.Mutex
	peers map[spspaddr.Addr]*Adapter
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{peers: map[spspaddr.Addr]*Adapter{}}
}

func (b *Bus) register(addr spspaddr.Addr, a *Adapter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[addr] = a
}

func (b *Bus) unregister(addr spspaddr.Addr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, addr)
}

func (b *Bus) snapshot() []*Adapter {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Adapter, 0, len(b.peers))
	for _, a := range b.peers {
		out = append(out, a)
	}
	return out
}

func (b *Bus) lookup(addr spspaddr.Addr) (*Adapter, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.peers[addr]
	return a, ok
}

// Adapter is a driver.Adapter backed by a Bus. RSSI is the fixed,
// configurable signal strength other adapters on the bus hear this
// adapter's frames at (there is no real signal to measure).
type Adapter struct {
	bus  *Bus
	addr spspaddr.Addr
	RSSI int

	// Station, if set, restricts delivery to peers currently tuned to
	// the same channel, simulating WiFi channel separation during
	// discovery. If nil, the adapter hears every peer regardless of
	// channel.
	Station wifi.Station

	mu     sync.Mutex
	recvCB driver.RecvCB
	sendCB driver.SendCB
	closed bool
}

// New creates an Adapter bound to addr on bus. addr must be unique on the
// bus.
func New(bus *Bus, addr spspaddr.Addr) *Adapter {
	a := &Adapter{bus: bus, addr: addr, RSSI: -50}
	bus.register(addr, a)
	return a
}

func (a *Adapter) sameChannel(peer *Adapter) bool {
	if a.Station == nil || peer.Station == nil {
		return true
	}
	ac, err1 := a.Station.GetChannel()
	pc, err2 := peer.Station.GetChannel()
	return err1 == nil && err2 == nil && ac == pc
}

func (a *Adapter) Send(dst spspaddr.Addr, data []byte) error {
	a.mu.Lock()
	closed := a.closed
	sendCB := a.sendCB
	rssi := a.RSSI
	a.mu.Unlock()
	if closed {
		return fmt.Errorf("loopback: adapter closed")
	}

	buf := append([]byte(nil), data...)

	go func() {
		delivered := false
		if dst.IsBroadcast() {
			for _, peer := range a.bus.snapshot() {
				if peer == a || !a.sameChannel(peer) {
					continue
				}
				peer.deliver(a.addr, buf, rssi)
			}
			delivered = true
		} else if peer, ok := a.bus.lookup(dst); ok {
			peer.deliver(a.addr, buf, rssi)
			delivered = true
		}
		if sendCB != nil {
			sendCB(dst, delivered)
		}
	}()
	return nil
}

func (a *Adapter) deliver(src spspaddr.Addr, data []byte, rssi int) {
	a.mu.Lock()
	cb := a.recvCB
	a.mu.Unlock()
	if cb != nil {
		go cb(src, data, rssi)
	}
}

func (a *Adapter) AddPeer(addr spspaddr.Addr) error    { return nil }
func (a *Adapter) RemovePeer(addr spspaddr.Addr) error { return nil }

func (a *Adapter) SetRecvCB(cb driver.RecvCB) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recvCB = cb
}

func (a *Adapter) SetSendCB(cb driver.SendCB) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendCB = cb
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.bus.unregister(a.addr)
	return nil
}
