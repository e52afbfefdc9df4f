// Package bridgeserver is the composition root for a standalone SPSP
// bridge process: it loads an INI configuration file plus an optional
// env-file of secret overrides, wires the local-layer engine, a driver
// adapter, a far layer, the bridge node, a retained-bridge store, and
// metrics/monitor HTTP endpoints, and runs the result.
package bridgeserver

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-envparse"
	"gopkg.in/ini.v1"

	"golang.org/x/mod/semver"
)

// WirelessConfig configures the local-layer engine and its driver
// adapter.
type WirelessConfig struct {
	// SSID is the 32-bit network-wide identifier in the packet header
	// (unrelated to a WiFi SSID string).
	SSID uint32 `ini:"ssid"`

	// Interface, if set, selects the Linux raw-802.11 driver adapter
	// bound to this interface name. If empty, the bridge runs with a
	// private loopback bus (useful only for local testing, since
	// nothing else is on that bus unless wired in-process).
	Interface string `ini:"interface"`

	ChannelLow  int `ini:"channel_low"`
	ChannelHigh int `ini:"channel_high"`

	DiscoveryWaitPerChannel time.Duration `ini:"discovery_wait_per_channel"`

	// ProbePayload is reported in PROBE_REQ frames (unused by a bridge,
	// which only answers PROBE_REQ; kept for config-shape symmetry with
	// the client side).
	ProbePayload string `ini:"probe_payload"`

	Retransmits int           `ini:"retransmits"`
	AckTimeout  time.Duration `ini:"ack_timeout"`
}

func (c *WirelessConfig) setDefaults() {
	if c.ChannelLow == 0 && c.ChannelHigh == 0 {
		c.ChannelLow, c.ChannelHigh = 1, 11
	}
}

// BridgeConfig configures the bridge node itself.
type BridgeConfig struct {
	// Address is this bridge's own wireless address (colon-hex, e.g.
	// "02:03:04:05:06:07"), used as the far-layer publish source for
	// locally received data and as the loopback adapter's bus address.
	Address string `ini:"address"`

	TickInterval     time.Duration `ini:"tick_interval"`
	MaxFanOutWorkers int           `ini:"max_fan_out_workers"`

	ReportVersion      bool `ini:"report_version"`
	ReportProbePayload bool `ini:"report_probe_payload"`
	ReportRSSIOnProbe  bool `ini:"report_rssi_on_probe"`
	ReportRSSIOnPub    bool `ini:"report_rssi_on_pub"`
	ReportRSSIOnSub    bool `ini:"report_rssi_on_sub"`
	ReportRSSIOnUnsub  bool `ini:"report_rssi_on_unsub"`

	// MinimumFirmwareVersion, if set, must be a valid semver string. It
	// is not currently enforced against any client, since SPSP carries
	// no firmware-version gate on the wire beyond the PROBE_REQ payload
	// report; the value is validated here so operators catch typos at
	// startup rather than when a gate is eventually added.
	MinimumFirmwareVersion string `ini:"minimum_firmware_version"`
}

// FarLayerConfig selects which far-layer implementation to use.
type FarLayerConfig struct {
	// Kind is "mqtt" or "localbroker".
	Kind string `ini:"kind"`
}

// MQTTConfig configures the MQTT far layer. Password is not read from
// the INI file; it comes from the env-secrets file as MQTT_PASSWORD.
type MQTTConfig struct {
	Broker         string        `ini:"broker"`
	ClientID       string        `ini:"client_id"`
	Username       string        `ini:"username"`
	QoS            int           `ini:"qos"`
	ConnectTimeout time.Duration `ini:"connect_timeout"`

	Password string `ini:"-"`
}

// LocalBrokerConfig configures the in-process local-broker far layer.
type LocalBrokerConfig struct {
	DeliveryWorkers int `ini:"delivery_workers"`
}

// StorageConfig configures the retained-bridge-hint store.
type StorageConfig struct {
	// Path, if set, persists the retained-bridge hint via SQLite. If
	// empty, the bridge runs without persistence (a bridge never
	// actually needs the hint itself — clients do — but a bridge host
	// is also a convenient place to keep a copy for handoff to
	// co-located demo clients).
	Path string `ini:"path"`
}

// MonitorConfig configures the debug packet-monitor HTTP endpoint.
type MonitorConfig struct {
	Enabled bool   `ini:"enabled"`
	Addr    string `ini:"addr"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `ini:"enabled"`
	Addr    string `ini:"addr"`
}

// Config is the full bridge process configuration.
type Config struct {
	Wireless    WirelessConfig
	Bridge      BridgeConfig
	FarLayer    FarLayerConfig
	MQTT        MQTTConfig
	LocalBroker LocalBrokerConfig
	Storage     StorageConfig
	Monitor     MonitorConfig
	Metrics     MetricsConfig

	// Password is the 32-byte local-layer SSID password. It is never
	// read from the INI file; it must come from the env-secrets file
	// (PASSWORD, hex-encoded) so it is never stored in plaintext
	// alongside the rest of the configuration.
	Password []byte
}

// Load reads iniPath as the structural configuration, then overlays
// secret values from the env-file at envPath (if non-empty), keeping
// credentials in a separately-permissioned file rather than in the main
// configuration.
func Load(iniPath, envPath string) (*Config, error) {
	f, err := ini.Load(iniPath)
	if err != nil {
		return nil, fmt.Errorf("bridgeserver: load config %q: %w", iniPath, err)
	}

	var c Config
	for name, dst := range map[string]any{
		"wireless":    &c.Wireless,
		"bridge":      &c.Bridge,
		"farlayer":    &c.FarLayer,
		"mqtt":        &c.MQTT,
		"localbroker": &c.LocalBroker,
		"storage":     &c.Storage,
		"monitor":     &c.Monitor,
		"metrics":     &c.Metrics,
	} {
		if err := f.Section(name).MapTo(dst); err != nil {
			return nil, fmt.Errorf("bridgeserver: parse [%s]: %w", name, err)
		}
	}
	c.Wireless.setDefaults()

	if c.Bridge.MinimumFirmwareVersion != "" {
		if !semver.IsValid("v" + strings.TrimPrefix(c.Bridge.MinimumFirmwareVersion, "v")) {
			return nil, fmt.Errorf("bridgeserver: invalid minimum_firmware_version %q", c.Bridge.MinimumFirmwareVersion)
		}
	}
	switch c.FarLayer.Kind {
	case "mqtt", "localbroker":
	default:
		return nil, fmt.Errorf("bridgeserver: unknown [farlayer] kind %q", c.FarLayer.Kind)
	}

	if envPath != "" {
		secrets, err := readEnvFile(envPath)
		if err != nil {
			return nil, fmt.Errorf("bridgeserver: read secrets file %q: %w", envPath, err)
		}
		if v, ok := secrets["PASSWORD"]; ok {
			pw, err := decodeHexPassword(v)
			if err != nil {
				return nil, fmt.Errorf("bridgeserver: PASSWORD: %w", err)
			}
			c.Password = pw
		}
		if v, ok := secrets["MQTT_PASSWORD"]; ok {
			c.MQTT.Password = v
		}
	}
	if len(c.Password) != 32 {
		return nil, fmt.Errorf("bridgeserver: missing or invalid PASSWORD in secrets file (must decode to exactly 32 bytes)")
	}

	return &c, nil
}

func decodeHexPassword(s string) ([]byte, error) {
	buf, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("must be a hex string: %w", err)
	}
	return buf, nil
}

func readEnvFile(name string) (map[string]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return envparse.Parse(f)
}
