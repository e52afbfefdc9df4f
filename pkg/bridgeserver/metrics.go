package bridgeserver

import (
	"fmt"
	"io"
	"sync"

	"github.com/VictoriaMetrics/metrics"

	"github.com/davidb137/spsp/pkg/message"
)

// metricsRecorder counts local-layer packets by direction and type,
// exposed over Prometheus text format.
type metricsRecorder struct {
	set *metrics.Set

	mu       sync.Mutex
	counters map[string]*metrics.Counter
}

func newMetricsRecorder() *metricsRecorder {
	return &metricsRecorder{
		set:      metrics.NewSet(),
		counters: map[string]*metrics.Counter{},
	}
}

func (m *metricsRecorder) counter(name string) *metrics.Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c := m.set.NewCounter(name)
	m.counters[name] = c
	return c
}

// observe implements the local.Engine packet-observer signature.
func (m *metricsRecorder) observe(dir string, msg message.Message, rssi int) {
	m.counter(fmt.Sprintf(`spsp_bridge_packets_total{dir=%q,type=%q}`, dir, msg.Type)).Inc()
}

func (m *metricsRecorder) WritePrometheus(w io.Writer) {
	metrics.WriteProcessMetrics(w)
	m.set.WritePrometheus(w)
}
