package metrics

import (
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	ItemsSynced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offsync_items_synced_total",
		Help: "Queue items delivered successfully.",
	}, []string{"operation"})
	ItemsRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offsync_items_retried_total",
		Help: "Queue item attempts scheduled for retry.",
	}, []string{"operation"})
	ItemsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offsync_items_failed_total",
		Help: "Queue items that reached a terminal failure.",
	}, []string{"operation", "kind"})
	Conflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offsync_conflicts_total",
		Help: "Version conflicts detected, by resolution strategy.",
	}, []string{"strategy"})

	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offsync_events_dropped_total",
		Help: "Bus events dropped because a subscriber was not keeping up.",
	}, []string{"kind"})

	QueuePending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offsync_queue_pending",
		Help: "Queue items waiting to be synced (pending or processing).",
	})
	Online = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offsync_network_online",
		Help: "1 when the network monitor reports connectivity.",
	})

	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "offsync_sync_run_seconds",
		Help:    "Duration of sync runs.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Calling it more
// than once is harmless.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ItemsSynced, ItemsRetried, ItemsFailed, Conflicts, EventsDropped,
			QueuePending, Online,
			RunDuration,
		)
	})
}

// Handler returns the mux serving /metrics.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve exposes /metrics on addr until the returned server is shut down.
func Serve(addr string, logger *zap.Logger) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{Handler: Handler()}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", ln.Addr().String()))
	return srv, ln.Addr(), nil
}

// SetOnline records the connectivity gauge.
func SetOnline(online bool) {
	if online {
		Online.Set(1)
		return
	}
	Online.Set(0)
}
