// Command spsp-client is a minimal demonstration SPSP client: it
// connects to a bridge over a loopback or raw-802.11 driver adapter,
// subscribes to a topic, and publishes lines read from stdin to
// another.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"

	"github.com/davidb137/spsp/db/bridgedb"
	"github.com/davidb137/spsp/pkg/client"
	"github.com/davidb137/spsp/pkg/driver"
	"github.com/davidb137/spsp/pkg/driver/loopback"
	"github.com/davidb137/spsp/pkg/local"
	"github.com/davidb137/spsp/pkg/random"
	"github.com/davidb137/spsp/pkg/spspaddr"
	"github.com/davidb137/spsp/pkg/wifi"
)

var opt struct {
	SSID        uint32
	PasswordHex string
	Interface   string
	SubTopic    string
	PubTopic    string
	ChannelLow  int
	ChannelHigh int
	Store       string
	Help        bool
}

func init() {
	pflag.Uint32Var(&opt.SSID, "ssid", 0x01020304, "Network-wide SSID identifier")
	pflag.StringVar(&opt.PasswordHex, "password", "", "64-character hex-encoded 32-byte local-layer password")
	pflag.StringVar(&opt.Interface, "interface", "", "Raw 802.11 monitor-mode interface (linux only; empty uses a private loopback bus)")
	pflag.StringVar(&opt.SubTopic, "sub", "", "Topic to subscribe to and print incoming data for")
	pflag.StringVar(&opt.PubTopic, "pub", "", "Topic to publish stdin lines to")
	pflag.IntVar(&opt.ChannelLow, "channel-low", 1, "Lowest channel to scan during bridge discovery")
	pflag.IntVar(&opt.ChannelHigh, "channel-high", 11, "Highest channel to scan during bridge discovery")
	pflag.StringVar(&opt.Store, "store", "", "Path to a retained-bridge hint database; a saved hint skips discovery on the next run")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if opt.Help {
		fmt.Printf("usage: %s [options]\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		os.Exit(2)
	}

	password, err := hex.DecodeString(opt.PasswordHex)
	if err != nil || len(password) != 32 {
		fmt.Fprintln(os.Stderr, "fatal: --password must be a 64-character hex string decoding to 32 bytes")
		os.Exit(2)
	}

	adapter, station, err := buildAdapter(opt.Interface)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(2)
	}

	engine, err := local.New(local.Config{
		SSID:     opt.SSID,
		Password: password,
	}, station, adapter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(2)
	}
	defer engine.Close()

	c := client.New(client.Config{}, engine)
	defer c.Close()
	engine.Attach(c, c)

	var (
		db       *bridgedb.DB
		retained *local.RetainedHint
	)
	if opt.Store != "" {
		db, err = bridgedb.Open(opt.Store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()
		if hint, found, err := db.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: load retained bridge: %v\n", err)
		} else if found {
			retained = &hint
			fmt.Fprintf(os.Stderr, "using retained bridge %s on channel %d\n", hint.Addr, hint.Channel)
		}
	}

	if retained == nil {
		fmt.Fprintln(os.Stderr, "discovering bridge...")
	}
	var hint local.RetainedHint
	if !engine.ConnectToBridge(retained, &hint) {
		fmt.Fprintln(os.Stderr, "fatal: no bridge found")
		os.Exit(1)
	}
	if db != nil {
		if err := db.Save(hint); err != nil {
			fmt.Fprintf(os.Stderr, "warning: save retained bridge: %v\n", err)
		}
	}
	best := engine.BestBridge()
	fmt.Fprintf(os.Stderr, "connected to bridge %s (channel %d, rssi %d)\n", best.Addr, best.Channel, best.RSSI)

	if opt.SubTopic != "" {
		if !c.Subscribe(opt.SubTopic, func(topic string, payload []byte) {
			fmt.Printf("[%s] %s\n", topic, payload)
		}) {
			fmt.Fprintf(os.Stderr, "fatal: subscribe to %q failed\n", opt.SubTopic)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opt.PubTopic != "" {
		go publishStdin(ctx, c, opt.PubTopic)
	}

	<-ctx.Done()
}

func publishStdin(ctx context.Context, c *client.Client, topic string) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !c.Publish(topic, sc.Bytes()) {
			fmt.Fprintln(os.Stderr, "warning: publish failed")
		}
	}
}

// buildAdapter wires a raw-802.11 adapter when iface is set (linux
// only); otherwise a standalone loopback bus, useful only for local
// smoke-testing since nothing else shares the private bus.
func buildAdapter(iface string) (driver.Adapter, wifi.Station, error) {
	station := wifi.NewDummy(wifi.ChannelRestrictions{Low: opt.ChannelLow, High: opt.ChannelHigh})
	if iface == "" {
		return loopback.New(loopback.NewBus(), randomClientAddr()), station, nil
	}
	return buildRawAdapter(iface, station)
}

// randomClientAddr generates a locally-administered address for the
// standalone loopback demo bus, where no real hardware address exists.
func randomClientAddr() spspaddr.Addr {
	var a spspaddr.Addr
	b, err := random.Default.Bytes(6)
	if err != nil {
		return a
	}
	copy(a[:], b)
	a[0] |= 0x02 // locally administered, per the IEEE 802 convention
	a[0] &^= 0x01
	return a
}
