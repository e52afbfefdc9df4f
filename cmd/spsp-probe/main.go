// Command spsp-probe performs SPSP bridge discovery on one or more raw
// 802.11 monitor-mode interfaces and prints the strongest bridge found
// on each.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/davidb137/spsp/pkg/local"
	"github.com/davidb137/spsp/pkg/wifi"
)

var opt struct {
	SSID        uint32
	PasswordHex string
	ChannelLow  int
	ChannelHigh int
	Wait        time.Duration
	Workers     int
	Silent      bool
	Help        bool
}

func init() {
	pflag.Uint32Var(&opt.SSID, "ssid", 0x01020304, "Network-wide SSID identifier")
	pflag.StringVar(&opt.PasswordHex, "password", "", "64-character hex-encoded 32-byte local-layer password")
	pflag.IntVar(&opt.ChannelLow, "channel-low", 1, "Lowest channel to scan")
	pflag.IntVar(&opt.ChannelHigh, "channel-high", 11, "Highest channel to scan")
	pflag.DurationVarP(&opt.Wait, "wait", "w", local.DefaultDiscoveryWaitPerChannel, "Time to wait for responses on each channel")
	pflag.IntVarP(&opt.Workers, "workers", "c", 4, "Number of interfaces to probe concurrently")
	pflag.BoolVarP(&opt.Silent, "silent", "s", false, "Only print the strongest bridge per interface, no progress")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() < 1 || opt.Help {
		fmt.Printf("usage: %s [options] interface...\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	password, err := hex.DecodeString(opt.PasswordHex)
	if err != nil || len(password) != 32 {
		fmt.Fprintln(os.Stderr, "fatal: --password must be a 64-character hex string decoding to 32 bytes")
		os.Exit(2)
	}

	ifaces := pflag.Args()

	queue := make(chan int)
	go func() {
		defer close(queue)
		for i := range ifaces {
			queue <- i
		}
	}()

	type result struct {
		idx int
		err error
	}
	results := make(chan result)

	workers := opt.Workers
	if workers > len(ifaces) {
		workers = len(ifaces)
	}
	var wg sync.WaitGroup
	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				results <- result{i, probe(ifaces[i], password)}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var fail bool
	for r := range results {
		if r.err != nil {
			fmt.Fprintf(os.Stderr, "%s: error: %v\n", ifaces[r.idx], r.err)
			fail = true
		}
	}
	if fail {
		os.Exit(1)
	}
}

func probe(iface string, password []byte) error {
	station := wifi.NewDummy(wifi.ChannelRestrictions{Low: opt.ChannelLow, High: opt.ChannelHigh})
	adapter, err := openRawAdapter(iface)
	if err != nil {
		return fmt.Errorf("open %s: %w", iface, err)
	}
	defer adapter.Close()

	engine, err := local.New(local.Config{
		SSID:                    opt.SSID,
		Password:                password,
		DiscoveryWaitPerChannel: opt.Wait,
	}, station, adapter)
	if err != nil {
		return fmt.Errorf("%s: %w", iface, err)
	}
	defer engine.Close()

	if !opt.Silent {
		fmt.Fprintf(os.Stderr, "%s: scanning channels %d-%d...\n", iface, opt.ChannelLow, opt.ChannelHigh)
	}

	if !engine.ConnectToBridge(nil, nil) {
		return fmt.Errorf("no bridge found")
	}

	best := engine.BestBridge()
	fmt.Printf("%s: bridge=%s channel=%d rssi=%d\n", iface, best.Addr, best.Channel, best.RSSI)
	return nil
}
