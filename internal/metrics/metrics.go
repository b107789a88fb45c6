package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "divergencewatch"

// Metrics holds the process collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	cycles           prometheus.Counter
	decodeErrors     *prometheus.CounterVec
	recordsPersisted prometheus.Counter
	baselineMissing  prometheus.Counter
	divergenceEvents *prometheus.CounterVec
	lastNetPct       prometheus.Gauge
	attempts         *prometheus.CounterVec
	trackerState     *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed tracking cycles (both frames received).",
		}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Frames that failed to decode, by asset role.",
		}, []string{"role"}),
		recordsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_persisted_total",
			Help:      "Paired observations written to storage.",
		}),
		baselineMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "baseline_missing_total",
			Help:      "Cycles where detection was skipped for lack of baseline data.",
		}),
		divergenceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "divergence_events_total",
			Help:      "Threshold crossings, by direction.",
		}, []string{"direction"}),
		lastNetPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "net_divergence_pct",
			Help:      "Most recent net divergence in percentage points.",
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Tracking attempts by outcome.",
		}, []string{"outcome"}),
		trackerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracker_state",
			Help:      "1 for the tracker's current state, 0 otherwise.",
		}, []string{"state"}),
	}

	reg.MustRegister(
		m.cycles,
		m.decodeErrors,
		m.recordsPersisted,
		m.baselineMissing,
		m.divergenceEvents,
		m.lastNetPct,
		m.attempts,
		m.trackerState,
	)
	return m
}

// ObserveCycle counts one completed receive of both frames.
func (m *Metrics) ObserveCycle() {
	if m == nil {
		return
	}
	m.cycles.Inc()
}

// ObserveDecodeError counts a failed frame for role.
func (m *Metrics) ObserveDecodeError(role string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(role).Inc()
}

// ObservePersisted counts a written record.
func (m *Metrics) ObservePersisted() {
	if m == nil {
		return
	}
	m.recordsPersisted.Inc()
}

// ObserveBaselineMissing counts a skipped detection.
func (m *Metrics) ObserveBaselineMissing() {
	if m == nil {
		return
	}
	m.baselineMissing.Inc()
}

// ObserveNetDivergence records the latest computed value.
func (m *Metrics) ObserveNetDivergence(pct float64) {
	if m == nil {
		return
	}
	m.lastNetPct.Set(pct)
}

// ObserveDivergence counts a threshold crossing.
func (m *Metrics) ObserveDivergence(direction string) {
	if m == nil {
		return
	}
	m.divergenceEvents.WithLabelValues(direction).Inc()
}

// ObserveAttempt counts a finished tracking attempt.
func (m *Metrics) ObserveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

// SetState marks state as current among all known states.
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		value := 0.0
		if s == state {
			value = 1
		}
		m.trackerState.WithLabelValues(s).Set(value)
	}
}

// Serve exposes gatherer on addr+path until ctx is done.
func Serve(ctx context.Context, addr, path string, gatherer prometheus.Gatherer, logger zerolog.Logger) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	logger.Info().Str("addr", addr).Str("path", path).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
