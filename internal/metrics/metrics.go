// Package metrics exposes Prometheus metrics for the bot.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. Each instance owns its registry so tests can
// build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	TurnsTotal          *prometheus.CounterVec
	CompletionDuration  prometheus.Histogram
	HistorySaveFailures prometheus.Counter
	SessionTransitions  *prometheus.CounterVec
	UpdatesTotal        *prometheus.CounterVec
	InFlightTurns       prometheus.Gauge
	ServerUptimeSeconds prometheus.GaugeFunc
	serverStartTime     time.Time
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		Registry:        registry,
		serverStartTime: time.Now(),
	}

	m.TurnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palaver_turns_total",
			Help: "Conversation turns by outcome",
		},
		[]string{"outcome"},
	)

	m.CompletionDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "palaver_completion_duration_seconds",
			Help:    "Duration of completion requests in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		},
	)

	m.HistorySaveFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "palaver_history_save_failures_total",
			Help: "Replies delivered whose history could not be persisted",
		},
	)

	m.SessionTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palaver_session_transitions_total",
			Help: "Session state changes by target state",
		},
		[]string{"to"},
	)

	m.UpdatesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palaver_updates_total",
			Help: "Inbound messenger updates by kind",
		},
		[]string{"kind"},
	)

	m.InFlightTurns = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "palaver_turns_in_flight",
			Help: "Turns currently being processed",
		},
	)

	m.ServerUptimeSeconds = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "palaver_uptime_seconds",
			Help: "Seconds since the process started",
		},
		func() float64 { return time.Since(m.serverStartTime).Seconds() },
	)

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve exposes /metrics on bind until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, bind string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", "address", bind)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
