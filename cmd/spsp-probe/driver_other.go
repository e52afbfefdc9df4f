//go:build !linux

package main

import (
	"fmt"

	"github.com/davidb137/spsp/pkg/driver"
)

// openRawAdapter is unsupported outside linux, where
// pkg/driver/rawinject's AF_PACKET/SO_ATTACH_FILTER primitives live.
func openRawAdapter(iface string) (driver.Adapter, error) {
	return nil, fmt.Errorf("spsp-probe: raw 802.11 injection is only supported on linux")
}
