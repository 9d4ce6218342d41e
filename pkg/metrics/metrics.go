package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CandidateNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "wnd_nodes_candidates", Help: "Candidate nodes per bucket"},
		[]string{"kind", "network"},
	)
	HealthyNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "wnd_nodes_healthy", Help: "Healthy nodes per bucket"},
		[]string{"kind", "network"},
	)
	ProbeResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wnd_probe_total", Help: "Probe outcomes"},
		[]string{"kind", "result"},
	)
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wnd_cycle_duration_seconds",
			Help:    "Health cycle duration",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
	CyclesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wnd_cycles_skipped_total", Help: "Health cycles that did not publish a snapshot"},
		[]string{"reason"},
	)
	DirectoryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wnd_directory_errors_total", Help: "Failed directory refreshes"},
		[]string{"kind"},
	)
	Selections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wnd_select_total", Help: "Client node selections"},
		[]string{"kind", "outcome"},
	)
	WSConnected = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "wnd_ws_connected_total", Help: "Total snapshot WebSocket connections"},
	)
	WSError = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "wnd_ws_errors_total", Help: "Snapshot WebSocket errors"},
	)
)

var once sync.Once

func Init() {
	once.Do(func() {
		prometheus.MustRegister(CandidateNodes, HealthyNodes, ProbeResults, CycleDuration)
		prometheus.MustRegister(CyclesSkipped, DirectoryErrors, Selections)
		prometheus.MustRegister(WSConnected, WSError)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
