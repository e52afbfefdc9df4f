// Package node defines the small capability interfaces that tie the
// local-layer engine and far-layer implementations to the node state
// machines (client, bridge) without an ownership cycle: a layer holds a
// non-owning reference to the node it delivers into, set once when the
// node is attached; the node owns the layer.
package node

import "github.com/davidb137/spsp/pkg/message"

// LocalLayer is the capability a node uses to send messages over the
// wireless local layer. Bridge discovery is not part of it.
type LocalLayer interface {
	Send(msg message.Message) bool
}

// LocalReceiver is implemented by a node to receive dispatch from the
// local-layer engine.
type LocalReceiver interface {
	ReceiveLocal(msg message.Message, rssi int)
}

// FarLayer is the capability a bridge node uses to reach the upstream
// pub/sub backend.
type FarLayer interface {
	Publish(sourceStr, topic string, payload []byte) bool
	Subscribe(topic string) bool
	Unsubscribe(topic string) bool
}

// FarReceiver is implemented by a bridge node to receive upward delivery
// from a far layer.
type FarReceiver interface {
	ReceiveFar(topic string, payload []byte)
}

// Resubscriber is implemented by nodes that need to replay their
// subscription set after a reconnection event (local-layer rediscovery,
// far-layer reconnect).
type Resubscriber interface {
	ResubscribeAll()
}
