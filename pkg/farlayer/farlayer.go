// Package farlayer defines the interface a bridge node uses to reach the
// upstream pub/sub backend (MQTT or an in-process broker), plus the
// upward-delivery contract implementations must honor.
package farlayer

import "github.com/davidb137/spsp/pkg/node"

// FarLayer is satisfied by node.FarLayer; this alias documents the
// concrete implementations' intended home package.
type FarLayer = node.FarLayer

// Attachable is implemented by FarLayer implementations that deliver
// upward into a node. onConnect is invoked by the implementation on
// every successful (re)connection to the upstream backend, so the
// attached node can call ResubscribeAll.
type Attachable interface {
	Attach(receiver node.FarReceiver, onConnect func())
}
