// Package bridge implements the SPSP bridge node: subscription fan-out
// between the wireless local layer and an upstream far layer, per-
// subscriber lifetimes, and reporting.
package bridge

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidb137/spsp/pkg/message"
	"github.com/davidb137/spsp/pkg/node"
	"github.com/davidb137/spsp/pkg/report"
	"github.com/davidb137/spsp/pkg/spspaddr"
	"github.com/davidb137/spsp/pkg/timer"
	"github.com/davidb137/spsp/pkg/wildcard"
)

// SubLifetime is the fixed remote-subscriber entry lifetime; clients
// renew well within it, so an expiry means the subscriber is gone.
const SubLifetime = 15 * time.Minute

// DefaultTickInterval is the bridge's sub-DB tick period.
const DefaultTickInterval = time.Minute

// DefaultMaxFanOutWorkers bounds concurrent far-to-local dispatch
// goroutines; an unbounded spawn per subscriber per message would have
// no backpressure under a flood of far-layer traffic.
const DefaultMaxFanOutWorkers = 64

// Callback receives data delivered for a matched local (in-process)
// subscription.
type Callback func(topic string, payload []byte)

// Reporting controls which reserved-topic reports the bridge publishes.
type Reporting struct {
	Version      bool
	ProbePayload bool
	RSSIOnProbe  bool
	RSSIOnPub    bool
	RSSIOnSub    bool
	RSSIOnUnsub  bool
}

// Config holds the bridge's tunable parameters.
type Config struct {
	TickInterval     time.Duration
	MaxFanOutWorkers int
	Reporting        Reporting
	Logger           zerolog.Logger
}

func (c *Config) setDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.MaxFanOutWorkers <= 0 {
		c.MaxFanOutWorkers = DefaultMaxFanOutWorkers
	}
}

type subEntry struct {
	lifetime time.Duration
	infinite bool
	cb       Callback
}

type subPeers = map[spspaddr.Addr]*subEntry

// Bridge is the SPSP bridge node. It implements node.LocalReceiver,
// node.Resubscriber and node.FarReceiver so it can be attached directly to
// a local-layer engine and a far layer.
type Bridge struct {
	addr  spspaddr.Addr
	local node.LocalLayer
	far   node.FarLayer
	cfg   Config

	mu    sync.Mutex
	subDB *wildcard.Trie[subPeers]

	sem   chan struct{}
	timer *timer.Timer
}

// New constructs a Bridge identified by addr (its own wireless address,
// used as the "source" string for far-layer publishes of locally received
// data). The caller wires the returned Bridge to a local-layer engine
// (engine.Attach(b, b)) and a far layer.
func New(cfg Config, addr spspaddr.Addr, local node.LocalLayer, far node.FarLayer) *Bridge {
	cfg.setDefaults()
	b := &Bridge{
		addr:  addr,
		local: local,
		far:   far,
		cfg:   cfg,
		subDB: wildcard.New[subPeers](),
		sem:   make(chan struct{}, cfg.MaxFanOutWorkers),
	}
	b.timer = timer.Start(cfg.TickInterval, b.subDBTick)
	if cfg.Reporting.Version {
		b.Publish(report.VersionTopic, []byte(report.Version))
	}
	return b
}

// Close stops the bridge's background tick timer.
func (b *Bridge) Close() {
	b.timer.Stop()
}

// Publish forwards payload to the far layer on topic, using the bridge's
// own address as source (used for the bridge's own reports).
func (b *Bridge) Publish(topic string, payload []byte) bool {
	return b.far.Publish(b.addr.Hex(), topic, payload)
}

// Subscribe registers a local (in-process) subscription with sentinel
// infinite lifetime. Far-layer subscribe is triggered only when topic is
// brand new to the sub-DB.
func (b *Bridge) Subscribe(topic string, cb Callback) bool {
	return b.subscribeInternal(topic, spspaddr.Addr{}, -1, true, cb)
}

// Unsubscribe removes the local (in-process) subscription for topic.
func (b *Bridge) Unsubscribe(topic string) bool {
	return b.unsubscribeInternal(topic, spspaddr.Addr{})
}

// subscribeInternal inserts peer into topic's subscriber set, triggering
// far.Subscribe exactly when topic did not previously exist in the sub-DB.
func (b *Bridge) subscribeInternal(topic string, peer spspaddr.Addr, lifetime time.Duration, infinite bool, cb Callback) bool {
	if topic == "" {
		return false
	}

	b.mu.Lock()
	peers, existed := b.subDB.Get(topic)
	if !existed {
		b.mu.Unlock()
		if !b.far.Subscribe(topic) {
			return false
		}
		b.mu.Lock()
		peers, existed = b.subDB.Get(topic)
		if !existed {
			peers = subPeers{}
		}
	}
	peers[peer] = &subEntry{lifetime: lifetime, infinite: infinite, cb: cb}
	b.subDB.Insert(topic, peers)
	b.mu.Unlock()
	return true
}

func (b *Bridge) unsubscribeInternal(topic string, peer spspaddr.Addr) bool {
	b.mu.Lock()
	peers, ok := b.subDB.Get(topic)
	if !ok {
		b.mu.Unlock()
		return false
	}
	if _, ok := peers[peer]; !ok {
		b.mu.Unlock()
		return false
	}
	delete(peers, peer)
	empty := len(peers) == 0
	b.mu.Unlock()
	if empty {
		b.removeUnusedTopic(topic)
	}
	return true
}

// removeUnusedTopic unsubscribes topic upstream and deletes it from the
// sub-DB. On upstream failure the (empty) topic entry is kept so the next
// tick retries.
func (b *Bridge) removeUnusedTopic(topic string) {
	if !b.far.Unsubscribe(topic) {
		return
	}
	b.mu.Lock()
	if peers, ok := b.subDB.Get(topic); ok && len(peers) == 0 {
		b.subDB.Remove(topic)
	}
	b.mu.Unlock()
}

// ResubscribeAll re-sends far.Subscribe for every topic currently present
// in the sub-DB. It is triggered by the far layer on reconnect.
func (b *Bridge) ResubscribeAll() {
	b.mu.Lock()
	var topics []string
	b.subDB.All(func(key string, _ subPeers) {
		topics = append(topics, key)
	})
	b.mu.Unlock()

	for _, topic := range topics {
		if !b.far.Subscribe(topic) {
			b.cfg.Logger.Debug().Str("topic", topic).Msg("resubscribe failed")
		}
	}
}

// ReceiveFar is invoked by the far layer when data arrives for a
// previously subscribed topic. Matching entries are dispatched
// concurrently (bounded by MaxFanOutWorkers); there is no required order
// between subscribers.
func (b *Bridge) ReceiveFar(topic string, payload []byte) {
	type target struct {
		peer spspaddr.Addr
		cb   Callback
	}

	// Find returns the stored peer maps themselves, which the tick and
	// unsubscribe paths mutate under b.mu; snapshot the targets before
	// unlocking rather than ranging over the live maps.
	b.mu.Lock()
	var targets []target
	for _, peers := range b.subDB.Find(topic) {
		for peer, entry := range peers {
			targets = append(targets, target{peer: peer, cb: entry.cb})
		}
	}
	b.mu.Unlock()

	for _, tg := range targets {
		tg := tg
		b.sem <- struct{}{}
		go func() {
			defer func() { <-b.sem }()
			if tg.peer.IsZero() {
				if tg.cb != nil {
					tg.cb(topic, payload)
				}
				return
			}
			b.local.Send(message.New(message.SubData, tg.peer, topic, payload))
		}()
	}
}

// ReceiveLocal dispatches a message received over the local layer.
func (b *Bridge) ReceiveLocal(msg message.Message, rssi int) {
	switch msg.Type {
	case message.ProbeReq:
		b.local.Send(message.New(message.ProbeRes, msg.Addr, "", []byte(report.Version)))
		if b.cfg.Reporting.RSSIOnProbe {
			b.Publish(report.RSSITopic(msg.Addr), report.RSSIPayload(rssi))
		}
		if b.cfg.Reporting.ProbePayload {
			b.Publish(report.ProbePayloadTopic(msg.Addr), msg.Payload)
		}
	case message.Pub:
		if b.cfg.Reporting.RSSIOnPub {
			b.Publish(report.RSSITopic(msg.Addr), report.RSSIPayload(rssi))
		}
		b.far.Publish(msg.Addr.Hex(), msg.Topic, msg.Payload)
	case message.SubReq:
		if b.cfg.Reporting.RSSIOnSub {
			b.Publish(report.RSSITopic(msg.Addr), report.RSSIPayload(rssi))
		}
		b.subscribeInternal(msg.Topic, msg.Addr, SubLifetime, false, nil)
	case message.Unsub:
		if b.cfg.Reporting.RSSIOnUnsub {
			b.Publish(report.RSSITopic(msg.Addr), report.RSSIPayload(rssi))
		}
		b.unsubscribeInternal(msg.Topic, msg.Addr)
	case message.TimeReq:
		ms := strconv.FormatInt(time.Now().UnixMilli(), 10)
		b.local.Send(message.New(message.TimeRes, msg.Addr, "", []byte(ms)))
	default:
		// PROBE_RES, SUB_DATA, and anything else received locally are ignored.
	}
}

// subDBTick decrements non-infinite lifetimes, removes expired entries,
// then removes any topic whose peer set has become empty (running
// far.Unsubscribe for it; kept for retry next tick on failure).
func (b *Bridge) subDBTick() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var emptyTopics []string
	b.subDB.All(func(topic string, peers subPeers) {
		for peer, entry := range peers {
			if entry.infinite {
				continue
			}
			entry.lifetime -= b.cfg.TickInterval
			if entry.lifetime <= 0 {
				delete(peers, peer)
			}
		}
		if len(peers) == 0 {
			emptyTopics = append(emptyTopics, topic)
		} else {
			b.subDB.Insert(topic, peers)
		}
	})

	for _, topic := range emptyTopics {
		if b.far.Unsubscribe(topic) {
			b.subDB.Remove(topic)
		}
		// on failure, the (now-empty) entry is kept as-is for retry next tick
	}
}
