//go:build linux

package bridgeserver

import (
	"github.com/davidb137/spsp/pkg/driver"
	"github.com/davidb137/spsp/pkg/driver/loopback"
	"github.com/davidb137/spsp/pkg/driver/rawinject"
	"github.com/davidb137/spsp/pkg/spspaddr"
	"github.com/davidb137/spsp/pkg/wifi"
)

// buildWirelessAdapter opens the raw-802.11 driver adapter when an
// interface is configured; otherwise it falls back to a private
// loopback bus, per pkg/driver/loopback's "test/demo" role. selfAddr is
// only used in the loopback fallback, since the raw adapter derives its
// own address from the bound interface's hardware address.
func buildWirelessAdapter(cfg WirelessConfig, selfAddr spspaddr.Addr) (driver.Adapter, wifi.Station, error) {
	station := wifi.NewDummy(wifi.ChannelRestrictions{Low: cfg.ChannelLow, High: cfg.ChannelHigh})

	if cfg.Interface == "" {
		return loopback.New(loopback.NewBus(), selfAddr), station, nil
	}

	a, err := rawinject.Open(rawinject.Config{
		Interface:   cfg.Interface,
		Retransmits: cfg.Retransmits,
		AckTimeout:  cfg.AckTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return a, station, nil
}
