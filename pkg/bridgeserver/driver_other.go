//go:build !linux

package bridgeserver

import (
	"fmt"

	"github.com/davidb137/spsp/pkg/driver"
	"github.com/davidb137/spsp/pkg/driver/loopback"
	"github.com/davidb137/spsp/pkg/spspaddr"
	"github.com/davidb137/spsp/pkg/wifi"
)

// buildWirelessAdapter only supports the loopback adapter on non-Linux
// platforms; pkg/driver/rawinject is Linux-only (AF_PACKET, SO_ATTACH_FILTER).
func buildWirelessAdapter(cfg WirelessConfig, selfAddr spspaddr.Addr) (driver.Adapter, wifi.Station, error) {
	if cfg.Interface != "" {
		return nil, nil, fmt.Errorf("bridgeserver: [wireless] interface is only supported on linux")
	}
	station := wifi.NewDummy(wifi.ChannelRestrictions{Low: cfg.ChannelLow, High: cfg.ChannelHigh})
	return loopback.New(loopback.NewBus(), selfAddr), station, nil
}
