// Package local implements the ESPNOW-style local-layer protocol engine:
// bucketed per-peer send serialization, bridge discovery across WiFi
// channels, and dispatch of received messages to the attached node.
package local

import (
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidb137/spsp/pkg/driver"
	"github.com/davidb137/spsp/pkg/message"
	"github.com/davidb137/spsp/pkg/node"
	"github.com/davidb137/spsp/pkg/packet"
	"github.com/davidb137/spsp/pkg/spspaddr"
	"github.com/davidb137/spsp/pkg/wifi"
)

// NumBuckets is the fixed number of per-peer send serialization buckets.
const NumBuckets = 15

// DefaultDiscoveryWaitPerChannel is the default per-channel wait during
// bridge discovery.
const DefaultDiscoveryWaitPerChannel = 100 * time.Millisecond

// Config holds the engine's fixed parameters.
type Config struct {
	SSID                    uint32
	Password                []byte // must be 32 bytes
	DiscoveryWaitPerChannel time.Duration
	ProbePayload            []byte

	Logger zerolog.Logger
}

// BestBridge records the strongest probe-responder seen during discovery.
type BestBridge struct {
	Addr    spspaddr.Addr
	RSSI    int
	Channel int
}

// RetainedHint is the persistable {addr, channel} record an application
// may save across restarts and feed back into ConnectToBridge to skip
// discovery.
type RetainedHint struct {
	Addr    spspaddr.Addr
	Channel int
}

type bucketSlot struct {
	txMu sync.Mutex
	ch   atomic.Pointer[chan bool]
}

// Engine is the local-layer protocol engine.
type Engine struct {
	cfg    Config
	wifi   wifi.Station
	codec  *packet.Codec
	driver driver.Adapter

	bestMu sync.Mutex
	best   BestBridge

	sendMu  sync.Mutex
	buckets [NumBuckets]bucketSlot

	nodeMu   sync.RWMutex
	receiver node.LocalReceiver
	resub    node.Resubscriber

	onPacket func(dir string, msg message.Message, rssi int)
}

// New constructs an Engine over the given wifi station and driver adapter.
// Attach must be called before any traffic is expected to be dispatched
// anywhere.
func New(cfg Config, station wifi.Station, adapter driver.Adapter) (*Engine, error) {
	codec, err := packet.NewCodec(cfg.SSID, cfg.Password)
	if err != nil {
		return nil, err
	}
	if cfg.DiscoveryWaitPerChannel <= 0 {
		cfg.DiscoveryWaitPerChannel = DefaultDiscoveryWaitPerChannel
	}
	e := &Engine{
		cfg:    cfg,
		wifi:   station,
		codec:  codec,
		driver: adapter,
		best:   BestBridge{RSSI: math.MinInt32},
	}
	adapter.SetRecvCB(e.receiveRaw)
	adapter.SetSendCB(e.sendCB)
	return e, nil
}

// Attach wires the node that owns this engine: it receives local dispatch
// and resubscribe-all triggers. The engine holds only a non-owning
// reference to the node; the node owns the engine.
func (e *Engine) Attach(receiver node.LocalReceiver, resub node.Resubscriber) {
	e.nodeMu.Lock()
	defer e.nodeMu.Unlock()
	e.receiver = receiver
	e.resub = resub
}

// SetPacketObserver installs an optional hook invoked for every serialized
// send and every successfully deserialized receive, used by the debug
// monitor. dir is "tx" or "rx".
func (e *Engine) SetPacketObserver(fn func(dir string, msg message.Message, rssi int)) {
	e.nodeMu.Lock()
	defer e.nodeMu.Unlock()
	e.onPacket = fn
}

func bucketIndex(addr spspaddr.Addr) int {
	h := fnv.New32a()
	h.Write(addr[:])
	return int(h.Sum32() % NumBuckets)
}

// BestBridge returns the current best-bridge record.
func (e *Engine) BestBridge() BestBridge {
	e.bestMu.Lock()
	defer e.bestMu.Unlock()
	return e.best
}

// Send transmits msg, blocking until the adapter's send callback confirms
// (or denies) delivery. If msg.Addr is the zero address, it is replaced
// with the current best bridge; Send fails if none is known.
func (e *Engine) Send(msg message.Message) bool {
	dst := msg.Addr
	if dst.IsZero() {
		best := e.BestBridge()
		if best.Addr.IsZero() {
			return false
		}
		dst = best.Addr
		msg.Addr = dst
	}

	if packet.MaxPacketBytesFor(len(msg.Topic), len(msg.Payload)) > packet.MaxPacketBytes {
		return false
	}

	idx := bucketIndex(dst)
	b := &e.buckets[idx]

	// Lock order is always bucket then engine; the engine-wide mutex
	// serializes the driver add/send/remove transaction across buckets
	// and is released before the callback wait, so different buckets'
	// sends can be in flight concurrently.
	b.txMu.Lock()
	defer b.txMu.Unlock()
	e.sendMu.Lock()

	buf, err := e.codec.Serialize(msg)
	if err != nil {
		e.sendMu.Unlock()
		return false
	}

	ch := make(chan bool, 1)
	b.ch.Store(&ch)
	defer b.ch.Store(nil)

	if err := e.driver.AddPeer(dst); err != nil {
		e.sendMu.Unlock()
		return false
	}
	sendErr := e.driver.Send(dst, buf)
	e.driver.RemovePeer(dst)
	e.sendMu.Unlock()
	if sendErr != nil {
		return false
	}

	e.notify("tx", msg, 0)

	delivered := <-ch
	return delivered
}

func (e *Engine) sendCB(dst spspaddr.Addr, delivered bool) {
	idx := bucketIndex(dst)
	if p := e.buckets[idx].ch.Load(); p != nil {
		select {
		case *p <- delivered:
		default:
		}
	}
}

func (e *Engine) receiveRaw(src spspaddr.Addr, data []byte, rssi int) {
	msg, ok := e.codec.Deserialize(src, data)
	if !ok {
		e.cfg.Logger.Debug().Stringer("src", src).Int("len", len(data)).Msg("dropping undecodable packet")
		return
	}

	if msg.Type == message.ProbeRes {
		ch, _ := e.wifi.GetChannel()
		e.bestMu.Lock()
		if rssi > e.best.RSSI {
			e.best = BestBridge{Addr: src, RSSI: rssi, Channel: ch}
		}
		e.bestMu.Unlock()
	}

	e.notify("rx", msg, rssi)

	e.nodeMu.RLock()
	recv := e.receiver
	e.nodeMu.RUnlock()
	if recv != nil {
		recv.ReceiveLocal(msg, rssi)
	}
}

func (e *Engine) notify(dir string, msg message.Message, rssi int) {
	e.nodeMu.RLock()
	fn := e.onPacket
	e.nodeMu.RUnlock()
	if fn != nil {
		fn(dir, msg, rssi)
	}
}

// ConnectToBridge performs (or skips) bridge discovery. If retained is
// non-nil, discovery is skipped and the engine adopts it directly. If
// outRetained is non-nil, the resulting hint is copied into it on success.
// On success, the attached node's ResubscribeAll is triggered.
func (e *Engine) ConnectToBridge(retained *RetainedHint, outRetained *RetainedHint) bool {
	if retained != nil {
		e.bestMu.Lock()
		e.best = BestBridge{Addr: retained.Addr, RSSI: 0, Channel: retained.Channel}
		e.bestMu.Unlock()
		e.wifi.SetChannel(retained.Channel)
		if outRetained != nil {
			*outRetained = *retained
		}
		e.triggerResubscribe()
		return true
	}

	e.bestMu.Lock()
	e.best = BestBridge{RSSI: math.MinInt32}
	e.bestMu.Unlock()

	restrictions := e.wifi.ChannelRestrictions()
	probe := message.New(message.ProbeReq, spspaddr.Broadcast, "", e.cfg.ProbePayload)

	for ch := restrictions.Low; ch <= restrictions.High; ch++ {
		e.wifi.SetChannel(ch)
		e.Send(probe)
		time.Sleep(e.cfg.DiscoveryWaitPerChannel)
	}

	best := e.BestBridge()
	if best.Addr.IsZero() {
		return false
	}

	e.wifi.SetChannel(best.Channel)
	if outRetained != nil {
		*outRetained = RetainedHint{Addr: best.Addr, Channel: best.Channel}
	}
	e.triggerResubscribe()
	return true
}

func (e *Engine) triggerResubscribe() {
	e.nodeMu.RLock()
	r := e.resub
	e.nodeMu.RUnlock()
	if r != nil {
		r.ResubscribeAll()
	}
}

// Close releases the underlying driver adapter.
func (e *Engine) Close() error {
	return e.driver.Close()
}
