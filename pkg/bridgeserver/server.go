package bridgeserver

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidb137/spsp/db/bridgedb"
	"github.com/davidb137/spsp/pkg/bridge"
	"github.com/davidb137/spsp/pkg/farlayer"
	"github.com/davidb137/spsp/pkg/farlayer/localbroker"
	"github.com/davidb137/spsp/pkg/farlayer/mqttlayer"
	"github.com/davidb137/spsp/pkg/local"
	"github.com/davidb137/spsp/pkg/message"
	"github.com/davidb137/spsp/pkg/monitor"
	"github.com/davidb137/spsp/pkg/node"
	"github.com/davidb137/spsp/pkg/spspaddr"
)

// Server runs a standalone SPSP bridge process: the local-layer engine,
// a far layer, the bridge node, metrics, and an optional debug monitor.
type Server struct {
	Logger zerolog.Logger

	engine  *local.Engine
	bridge  *bridge.Bridge
	far     node.FarLayer
	db      *bridgedb.DB
	metrics *metricsRecorder
	monitor *monitor.Handler

	monitorAddr string
	metricsAddr string

	closed bool
}

// New constructs a Server from c. It connects to the configured far
// layer and opens the retained-bridge store (if configured), but does
// not yet start listening; call Run for that.
func New(c *Config, logger zerolog.Logger) (*Server, error) {
	addr, err := spspaddr.Parse(c.Bridge.Address)
	if err != nil {
		return nil, fmt.Errorf("bridgeserver: [bridge] address: %w", err)
	}

	adapter, station, err := buildWirelessAdapter(c.Wireless, addr)
	if err != nil {
		return nil, fmt.Errorf("bridgeserver: build wireless adapter: %w", err)
	}

	engine, err := local.New(local.Config{
		SSID:                    c.Wireless.SSID,
		Password:                c.Password,
		DiscoveryWaitPerChannel: c.Wireless.DiscoveryWaitPerChannel,
		ProbePayload:            []byte(c.Wireless.ProbePayload),
		Logger:                  logger.With().Str("component", "local").Logger(),
	}, station, adapter)
	if err != nil {
		adapter.Close()
		return nil, fmt.Errorf("bridgeserver: construct engine: %w", err)
	}

	s := &Server{
		Logger: logger,
		engine: engine,
	}
	if c.Monitor.Enabled {
		s.monitorAddr = c.Monitor.Addr
	}
	if c.Metrics.Enabled {
		s.metricsAddr = c.Metrics.Addr
	}

	if c.Storage.Path != "" {
		db, err := bridgedb.Open(c.Storage.Path)
		if err != nil {
			engine.Close()
			return nil, fmt.Errorf("bridgeserver: open retained-bridge store: %w", err)
		}
		s.db = db
	}

	far, err := buildFarLayer(c, logger.With().Str("component", "farlayer").Logger())
	if err != nil {
		s.closeAll()
		return nil, fmt.Errorf("bridgeserver: build far layer: %w", err)
	}
	s.far = far

	b := bridge.New(bridge.Config{
		TickInterval:     c.Bridge.TickInterval,
		MaxFanOutWorkers: c.Bridge.MaxFanOutWorkers,
		Logger:           logger.With().Str("component", "bridge").Logger(),
		Reporting: bridge.Reporting{
			Version:      c.Bridge.ReportVersion,
			ProbePayload: c.Bridge.ReportProbePayload,
			RSSIOnProbe:  c.Bridge.ReportRSSIOnProbe,
			RSSIOnPub:    c.Bridge.ReportRSSIOnPub,
			RSSIOnSub:    c.Bridge.ReportRSSIOnSub,
			RSSIOnUnsub:  c.Bridge.ReportRSSIOnUnsub,
		},
	}, addr, engine, far)
	s.bridge = b

	engine.Attach(b, b)
	if attachable, ok := far.(farlayer.Attachable); ok {
		attachable.Attach(b, b.ResubscribeAll)
	}

	if s.db != nil {
		// Record this bridge's own {addr, channel} hint so co-located
		// clients can skip discovery by reading the same store.
		ch, _ := station.GetChannel()
		if err := s.db.Save(local.RetainedHint{Addr: addr, Channel: ch}); err != nil {
			logger.Warn().Err(err).Msg("failed to save retained-bridge hint")
		}
	}

	s.metrics = newMetricsRecorder()
	if c.Monitor.Enabled {
		s.monitor = monitor.New()
	}
	engine.SetPacketObserver(s.observePacket)

	return s, nil
}

func buildFarLayer(c *Config, logger zerolog.Logger) (node.FarLayer, error) {
	switch c.FarLayer.Kind {
	case "mqtt":
		return mqttlayer.New(mqttlayer.Config{
			Broker:         c.MQTT.Broker,
			ClientID:       c.MQTT.ClientID,
			Username:       c.MQTT.Username,
			Password:       c.MQTT.Password,
			ConnectTimeout: c.MQTT.ConnectTimeout,
			QoS:            byte(c.MQTT.QoS),
			Logger:         logger,
		})
	case "localbroker":
		return localbroker.New(localbroker.Config{
			DeliveryWorkers: c.LocalBroker.DeliveryWorkers,
		}), nil
	default:
		return nil, fmt.Errorf("unknown far layer kind %q", c.FarLayer.Kind)
	}
}

func (s *Server) observePacket(dir string, msg message.Message, rssi int) {
	s.metrics.observe(dir, msg, rssi)
	if s.monitor != nil {
		s.monitor.Observe(dir, msg, rssi)
	}
}

// Run starts the metrics/monitor HTTP listeners (if configured) and
// blocks until ctx is canceled, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("bridgeserver: server already closed")
	}

	var hs []*http.Server
	var wg sync.WaitGroup
	errch := make(chan error, 2)

	if s.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", s.serveMetrics)
		h := &http.Server{Addr: s.metricsAddr, Handler: mux}
		hs = append(hs, h)
		s.Logger.Info().Str("addr", s.metricsAddr).Msg("starting metrics listener")
		go func() { errch <- listenAndServe(h) }()
	}
	if s.monitor != nil && s.monitorAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/monitor", s.monitor)
		mux.HandleFunc("/monitor/dump", s.monitor.ServeDump)
		h := &http.Server{Addr: s.monitorAddr, Handler: mux}
		hs = append(hs, h)
		s.Logger.Info().Str("addr", s.monitorAddr).Msg("starting monitor listener")
		go func() { errch <- listenAndServe(h) }()
	}

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		go sdNotify("READY=1")
	case err := <-errch:
		if err != nil {
			s.Logger.Err(err).Msg("failed to start listener")
			s.closeAll()
			return err
		}
	}

	<-ctx.Done()
	s.closed = true
	s.Logger.Info().Msg("shutting down")
	go sdNotify("STOPPING=1")

	for _, h := range hs {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Shutdown(context.Background())
		}()
	}
	wg.Wait()

	s.closeAll()
	return nil
}

func listenAndServe(h *http.Server) error {
	err := h.ListenAndServe()
	if err != nil && err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) closeAll() {
	if s.bridge != nil {
		s.bridge.Close()
	}
	if s.engine != nil {
		s.engine.Close()
	}
	if c, ok := s.far.(interface{ Close() }); ok {
		c.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Server) serveMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	var b bytes.Buffer
	s.metrics.WritePrometheus(&b)
	w.Write(b.Bytes())
}

// HandleSIGHUP replays the far layer's subscription state. Nothing else
// in the bridge configuration is reloadable without a restart.
func (s *Server) HandleSIGHUP() {
	if s.closed {
		return
	}
	sdNotify("RELOADING=1")
	defer sdNotify("READY=1")
	s.bridge.ResubscribeAll()
}

// sdNotify notifies systemd of a state change, if NOTIFY_SOCKET is set.
func sdNotify(state string) error {
	name := os.Getenv("NOTIFY_SOCKET")
	if name == "" {
		return nil
	}
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: name, Net: "unixgram"})
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte(state))
	return err
}
