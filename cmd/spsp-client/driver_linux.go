//go:build linux

package main

import (
	"github.com/davidb137/spsp/pkg/driver"
	"github.com/davidb137/spsp/pkg/driver/rawinject"
	"github.com/davidb137/spsp/pkg/wifi"
)

// buildRawAdapter opens the raw-802.11 driver adapter bound to iface.
func buildRawAdapter(iface string, station wifi.Station) (driver.Adapter, wifi.Station, error) {
	a, err := rawinject.Open(rawinject.Config{Interface: iface})
	if err != nil {
		return nil, nil, err
	}
	return a, station, nil
}
