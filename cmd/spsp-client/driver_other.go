//go:build !linux

package main

import (
	"fmt"

	"github.com/davidb137/spsp/pkg/driver"
	"github.com/davidb137/spsp/pkg/wifi"
)

// buildRawAdapter only supports linux, where pkg/driver/rawinject's
// AF_PACKET/SO_ATTACH_FILTER primitives are available.
func buildRawAdapter(iface string, station wifi.Station) (driver.Adapter, wifi.Station, error) {
	return nil, nil, fmt.Errorf("spsp-client: --interface is only supported on linux")
}
