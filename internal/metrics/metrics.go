// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// GrantedTotal is the floored global sum of xTDH given out through
	// grants, refreshed on every stats slot activation
	GrantedTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xtdh_granted_total",
		Help: "Floored global sum of xTDH distributed through grants",
	})

	// RecalculationDuration observes full recalculation run times
	RecalculationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xtdh_recalculation_duration_seconds",
		Help:    "Duration of full xTDH recalculation runs",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	})

	// StatsRebuilds counts stats slot rebuilds by outcome
	StatsRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xtdh_stats_rebuilds_total",
		Help: "Stats slot rebuilds by outcome",
	}, []string{"outcome"})
)

// Serve exposes /metrics on the given address. It returns the server so the
// caller can shut it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
