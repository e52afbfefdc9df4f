// Package client implements the SPSP client node: publish/subscribe API,
// a lifetime-managed subscription database, and time synchronization.
package client

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

// Defaults.
const (
	DefaultTickInterval    = time.Minute
	DefaultSubLifetime     = 10 * time.Minute
	DefaultTimeSyncTimeout = 2 * time.Second

	// timeSyncFloorMillis is the minimum accepted TIME_RES timestamp.
	timeSyncFloorMillis = 1_000_000_000_000
)

// Callback receives data delivered for a matched subscription.
type Callback func(topic string, payload []byte)

// Config holds the client's tunable parameters.
type Config struct {
	TickInterval      time.Duration
	SubLifetime       time.Duration
	TimeSyncTimeout   time.Duration
	ReportRSSIOnProbe bool

	// SetClock sets the platform wall clock, used by SyncTime. If nil,
	// SyncTime always fails after validating the received timestamp (no
	// platform clock is available).
	SetClock func(t time.Time) error

	Logger zerolog.Logger
}

func (c *Config) setDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.SubLifetime <= 0 {
		c.SubLifetime = DefaultSubLifetime
	}
	if c.TimeSyncTimeout <= 0 {
		c.TimeSyncTimeout = DefaultTimeSyncTimeout
	}
}

type subEntry struct {
	lifetime time.Duration
	cb       Callback
}

// Client is the SPSP client node. It implements node.LocalReceiver and
// node.Resubscriber so it can be attached directly to a local-layer
// engine.
type Client struct {
	local node.LocalLayer
	cfg   Config

	mu    sync.Mutex
	subDB *wildcard.Trie[*subEntry]

	timeSyncMu      sync.Mutex
	timeSyncOngoing bool
	timeSyncCh      chan bool

	timer *timer.Timer
}

// New constructs a Client bound to local. The caller is responsible for
// attaching it to the local layer's receive/resubscribe hooks (e.g.
// engine.Attach(c, c) for a *local.Engine).
func New(cfg Config, local node.LocalLayer) *Client {
	cfg.setDefaults()
	c := &Client{
		local: local,
		cfg:   cfg,
		subDB: wildcard.New[*subEntry](),
	}
	c.timer = timer.Start(cfg.TickInterval, c.subDBTick)
	return c
}

// Close stops the client's background tick timer.
func (c *Client) Close() {
	c.timer.Stop()
}

// Publish sends a PUB message to the bridge. Empty topics are rejected.
func (c *Client) Publish(topic string, payload []byte) bool {
	if topic == "" {
		return false
	}
	return c.local.Send(message.New(message.Pub, spspaddr.Addr{}, topic, payload))
}

func (c *Client) sendSubReq(topic string) bool {
	return c.local.Send(message.New(message.SubReq, spspaddr.Addr{}, topic, nil))
}

func (c *Client) sendUnsub(topic string) bool {
	return c.local.Send(message.New(message.Unsub, spspaddr.Addr{}, topic, nil))
}

// Subscribe sends a SUB_REQ and, on success, records topic in the
// subscription database with cb to be invoked on matching SUB_DATA.
// Empty topics are rejected.
func (c *Client) Subscribe(topic string, cb Callback) bool {
	if topic == "" {
		return false
	}
	if !c.sendSubReq(topic) {
		return false
	}
	c.mu.Lock()
	c.subDB.Insert(topic, &subEntry{lifetime: c.cfg.SubLifetime, cb: cb})
	c.mu.Unlock()
	return true
}

// Unsubscribe removes topic from the subscription database and sends
// UNSUB. It reports false if topic was not subscribed. Send failure is
// non-fatal: the bridge will time the entry out on its own.
func (c *Client) Unsubscribe(topic string) bool {
	if topic == "" {
		return false
	}
	c.mu.Lock()
	removed := c.subDB.Remove(topic)
	c.mu.Unlock()
	if !removed {
		return false
	}
	c.sendUnsub(topic)
	return true
}

// ResubscribeAll re-sends SUB_REQ for every topic currently in the
// subscription database. It is triggered by the local layer after
// reconnecting to a bridge. Individual failures are logged and ignored.
func (c *Client) ResubscribeAll() {
	c.mu.Lock()
	topics := make([]string, 0)
	c.subDB.All(func(key string, _ *subEntry) {
		topics = append(topics, key)
	})
	c.mu.Unlock()

	for _, topic := range topics {
		if !c.sendSubReq(topic) {
			c.cfg.Logger.Debug().Str("topic", topic).Msg("resubscribe failed")
		}
	}
}

// SyncTime sends TIME_REQ and waits up to TimeSyncTimeout for a validated
// TIME_RES to set the wall clock.
func (c *Client) SyncTime() bool {
	c.timeSyncMu.Lock()
	if c.timeSyncOngoing {
		c.timeSyncMu.Unlock()
		return false
	}
	ch := make(chan bool, 1)
	c.timeSyncCh = ch
	c.timeSyncOngoing = true
	c.timeSyncMu.Unlock()

	cleanup := func() {
		c.timeSyncMu.Lock()
		c.timeSyncOngoing = false
		c.timeSyncCh = nil
		c.timeSyncMu.Unlock()
	}

	if !c.local.Send(message.New(message.TimeReq, spspaddr.Addr{}, "", nil)) {
		cleanup()
		return false
	}

	select {
	case ok := <-ch:
		cleanup()
		return ok
	case <-time.After(c.cfg.TimeSyncTimeout):
		cleanup()
		return false
	}
}

// ReceiveLocal dispatches a message delivered by the local layer.
func (c *Client) ReceiveLocal(msg message.Message, rssi int) {
	switch msg.Type {
	case message.ProbeRes:
		if c.cfg.ReportRSSIOnProbe {
			c.Publish(report.RSSITopic(msg.Addr), report.RSSIPayload(rssi))
		}
	case message.SubData:
		c.mu.Lock()
		matches := c.subDB.Find(msg.Topic)
		c.mu.Unlock()
		for _, entry := range matches {
			if entry.cb != nil {
				entry.cb(msg.Topic, msg.Payload)
			}
		}
	case message.TimeRes:
		c.handleTimeRes(msg.Payload)
	default:
		// ignored
	}
}

func (c *Client) handleTimeRes(payload []byte) {
	c.timeSyncMu.Lock()
	ch := c.timeSyncCh
	c.timeSyncMu.Unlock()
	if ch == nil {
		return
	}

	ms, err := strconv.ParseInt(string(payload), 10, 64)
	ok := err == nil && ms >= timeSyncFloorMillis
	if ok && c.cfg.SetClock != nil {
		if err := c.cfg.SetClock(time.UnixMilli(ms)); err != nil {
			ok = false
		}
	} else if ok {
		ok = false // no platform clock available
	}

	select {
	case ch <- ok:
	default:
	}
}

// subDBTick decrements every entry's lifetime by the tick interval; any
// entry at or below zero triggers a renewal attempt.
func (c *Client) subDBTick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subDB.All(func(topic string, entry *subEntry) {
		if entry.lifetime > 0 {
			entry.lifetime -= c.cfg.TickInterval
		}
		if entry.lifetime <= 0 {
			if c.sendSubReq(topic) {
				entry.lifetime = c.cfg.SubLifetime
			}
		}
	})
}
