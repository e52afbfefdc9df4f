//go:build linux

package main

import (
	"github.com/davidb137/spsp/pkg/driver"
	"github.com/davidb137/spsp/pkg/driver/rawinject"
)

// openRawAdapter opens the raw-802.11 driver adapter bound to iface.
func openRawAdapter(iface string) (driver.Adapter, error) {
	return rawinject.Open(rawinject.Config{Interface: iface})
}
