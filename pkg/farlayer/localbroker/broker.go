// Package localbroker implements an in-process far layer: an
// alternative to MQTT for broker-less testing and single-process
// deployments. It reflects published messages to matching subscribers in
// background goroutines.
package localbroker

import (
	"sync"

	"github.com/davidb137/spsp/pkg/node"
	"github.com/davidb137/spsp/pkg/wildcard"
)

// DefaultDeliveryWorkers bounds concurrent upward deliveries.
const DefaultDeliveryWorkers = 16

// Config holds the broker's tunable parameters.
type Config struct {
	// DeliveryWorkers bounds how many upward deliveries may run
	// concurrently; publishers block once the bound is reached.
	DeliveryWorkers int
}

func (c *Config) setDefaults() {
	if c.DeliveryWorkers <= 0 {
		c.DeliveryWorkers = DefaultDeliveryWorkers
	}
}

// Broker is an in-process publish/subscribe backend satisfying
// node.FarLayer.
type Broker struct {
	mu   sync.Mutex
	subs *wildcard.Trie[struct{}]

	sem chan struct{}

	receiverMu sync.Mutex
	receiver   node.FarReceiver
}

// New creates an empty Broker. Attach must be called before Publish can
// deliver anywhere.
func New(cfg Config) *Broker {
	cfg.setDefaults()
	return &Broker{
		subs: wildcard.New[struct{}](),
		sem:  make(chan struct{}, cfg.DeliveryWorkers),
	}
}

// Attach wires the node that receives upward delivery. onConnect is
// invoked immediately, since a local broker is always "connected".
func (b *Broker) Attach(receiver node.FarReceiver, onConnect func()) {
	b.receiverMu.Lock()
	b.receiver = receiver
	b.receiverMu.Unlock()
	if onConnect != nil {
		onConnect()
	}
}

// Publish delivers payload to topic if any subscription matches it. It is
// fire-and-forget and never fails, since there is no broker round trip.
func (b *Broker) Publish(source, topic string, payload []byte) bool {
	b.mu.Lock()
	matches := b.subs.Find(topic)
	b.mu.Unlock()
	if len(matches) == 0 {
		return true
	}

	b.receiverMu.Lock()
	receiver := b.receiver
	b.receiverMu.Unlock()
	if receiver == nil {
		return true
	}

	b.sem <- struct{}{}
	go func() {
		defer func() { <-b.sem }()
		receiver.ReceiveFar(topic, payload)
	}()
	return true
}

// Subscribe registers topic as a live subscription.
func (b *Broker) Subscribe(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs.Insert(topic, struct{}{})
}

// Unsubscribe removes topic from the live subscription set.
func (b *Broker) Unsubscribe(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs.Remove(topic)
	return true
}
