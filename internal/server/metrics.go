package server

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/morezero/rpcmesh/pkg/protocol"
	"github.com/morezero/rpcmesh/pkg/stats"
)

// serverMetrics is the Prometheus view of the boundary. Each server owns
// its own set so tests can run several servers in one process.
type serverMetrics struct {
	set      *metrics.Set
	service  string
	duration *metrics.Histogram
}

func newServerMetrics(service string, st *stats.Statistics) *serverMetrics {
	set := metrics.NewSet()
	m := &serverMetrics{
		set:      set,
		service:  service,
		duration: set.NewHistogram(fmt.Sprintf(`rpcmesh_request_duration_seconds{service=%q}`, service)),
	}
	set.NewGauge(fmt.Sprintf(`rpcmesh_requests_inflight{service=%q}`, service), func() float64 {
		return float64(st.CurTask())
	})
	return m
}

// observe counts one finished request by outcome.
func (m *serverMetrics) observe(start time.Time, status int) {
	outcome := "ok"
	if status != protocol.StatusOK {
		outcome = "error"
	}
	m.set.GetOrCreateCounter(fmt.Sprintf(`rpcmesh_requests_total{service=%q,outcome=%q}`, m.service, outcome)).Inc()
	m.duration.UpdateDuration(start)
}

// skip counts one request rejected by the admission gate.
func (m *serverMetrics) skip(d stats.Decision) {
	reason := "queue_full"
	if d == stats.RejectUnavailable {
		reason = "unavailable"
	}
	m.set.GetOrCreateCounter(fmt.Sprintf(`rpcmesh_requests_skipped_total{service=%q,reason=%q}`, m.service, reason)).Inc()
}

func (m *serverMetrics) write(w io.Writer) {
	m.set.WritePrometheus(w)
	metrics.WriteProcessMetrics(w)
}
