// Package spspaddr implements the fixed-size wireless address used to
// identify SPSP peers.
package spspaddr

import "fmt"

// Size is the length in bytes of an Addr.
const Size = 6

// Addr is an opaque 6-byte wireless address. Two values are distinguished:
// the zero value means "unspecified" (a client's shorthand for "my
// bridge"), and Broadcast means "all peers" (used during discovery).
//
// Addr is comparable and usable as a map key directly, unlike a byte
// slice.
type Addr [Size]byte

// Broadcast is the all-ones address used for discovery frames.
var Broadcast = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// IsZero reports whether a is the unspecified address.
func (a Addr) IsZero() bool {
	return a == Addr{}
}

// IsBroadcast reports whether a is the broadcast address.
func (a Addr) IsBroadcast() bool {
	return a == Broadcast
}

// String formats a as colon-separated hex octets, e.g. "02:03:04:05:06:07".
func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// Hex formats a as a contiguous hex string with no separators, used for
// reserved reporting topic suffixes (_report/rssi/<peer_addr_hex>).
func (a Addr) Hex() string {
	return fmt.Sprintf("%02x%02x%02x%02x%02x%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// Parse parses a colon-separated hex address as produced by String.
func Parse(s string) (Addr, error) {
	var a Addr
	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x", &a[0], &a[1], &a[2], &a[3], &a[4], &a[5])
	if err != nil || n != Size {
		return Addr{}, fmt.Errorf("spspaddr: invalid address %q", s)
	}
	return a, nil
}
