// Package driver defines the adapter interface the local-layer engine
// delegates wire I/O to. Concrete wireless drivers (802.11 injection,
// vendor ESP-NOW primitives) are collaborators, not part of this package.
package driver

import "github.com/davidb137/spsp/pkg/spspaddr"

// RecvCB is invoked by the adapter when a frame is received. It must be
// invoked from a context (goroutine) that allows the callee to issue new
// Send calls without self-deadlocking the adapter's own receive path.
type RecvCB func(src spspaddr.Addr, data []byte, rssi int)

// SendCB is invoked by the adapter to report the outcome of a previously
// issued Send. Implementations MUST invoke it exactly once per Send call.
type SendCB func(dst spspaddr.Addr, delivered bool)

// Adapter abstracts the concrete wireless driver used by the local-layer
// engine. Implementations are not required to make RemovePeer idempotent.
type Adapter interface {
	// Send transmits one frame. The outcome is reported asynchronously
	// through the installed SendCB, not via a return value; Send itself
	// only reports a local/transport-level failure to attempt the send
	// at all. For dst == spspaddr.Addr{} (broadcast is signaled by the
	// caller using spspaddr.Broadcast explicitly) adapters may transmit
	// without peer registration.
	Send(dst spspaddr.Addr, data []byte) error

	// AddPeer and RemovePeer perform scratch peer registration for
	// platforms that require it before/after a send.
	AddPeer(addr spspaddr.Addr) error
	RemovePeer(addr spspaddr.Addr) error

	// SetRecvCB and SetSendCB install the engine's callbacks. They are
	// called once, before any traffic begins.
	SetRecvCB(cb RecvCB)
	SetSendCB(cb SendCB)

	// Close releases any adapter resources.
	Close() error
}
