// Package metrics exposes control loop activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/greenwave-io/greenwave/internal/control"
	"github.com/greenwave-io/greenwave/internal/decision"
	"github.com/greenwave-io/greenwave/internal/logging"
)

const namespace = "greenwave"

// Recorder turns control events into metric updates. Each Recorder owns its
// registry so several runs in one process do not collide.
type Recorder struct {
	registry *prometheus.Registry

	steps            prometheus.Counter
	stepFailures     *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	filledPhases     prometheus.Counter
	phaseApplies     *prometheus.CounterVec
	phase            *prometheus.GaugeVec
	vehicles         prometheus.Gauge
	currentStep      prometheus.Gauge
}

// NewRecorder creates a recorder with all collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Count of simulation steps advanced.",
		}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "Count of survived failures by loop stage.",
		}, []string{"stage"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Count of phase decisions by source.",
		}, []string{"source"}),
		decisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_seconds",
			Help:      "Time spent obtaining a phase decision.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		filledPhases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filled_phases_total",
			Help:      "Count of intersections missing from an oracle answer and filled with phase 0.",
		}),
		phaseApplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_applies_total",
			Help:      "Count of phase commands by result.",
		}, []string{"result"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "intersection_phase",
			Help:      "Last phase applied per intersection.",
		}, []string{"intersection"}),
		vehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vehicles",
			Help:      "Vehicles in the simulation at the last progress report.",
		}),
		currentStep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_step",
			Help:      "Index of the last step processed.",
		}),
	}
	r.registry.MustRegister(
		r.steps,
		r.stepFailures,
		r.decisions,
		r.decisionDuration,
		r.filledPhases,
		r.phaseApplies,
		r.phase,
		r.vehicles,
		r.currentStep,
	)
	return r
}

// Registry returns the registry holding the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe records one control event. It has the control.Observer signature.
func (r *Recorder) Observe(e control.Event) {
	switch e.Kind {
	case control.EventAdvanced:
		r.steps.Inc()
		r.currentStep.Set(float64(e.Step))
	case control.EventAdvanceFailed:
		r.stepFailures.WithLabelValues("advance").Inc()
		r.currentStep.Set(float64(e.Step))
	case control.EventSenseFailed:
		r.stepFailures.WithLabelValues("sense").Inc()
	case control.EventStepFailed:
		r.stepFailures.WithLabelValues("step").Inc()
	case control.EventDecision:
		source := string(decision.SourceOracle)
		if e.Decision != nil {
			source = string(e.Decision.Source)
			r.filledPhases.Add(float64(len(e.Decision.Filled)))
		}
		r.decisions.WithLabelValues(source).Inc()
		r.decisionDuration.Observe(e.Duration.Seconds())
	case control.EventPhaseApplied:
		r.phaseApplies.WithLabelValues("applied").Inc()
		r.phase.WithLabelValues(e.Intersection).Set(float64(e.Phase))
	case control.EventPhaseRetried:
		r.phaseApplies.WithLabelValues("retried").Inc()
	case control.EventPhaseFailed:
		r.phaseApplies.WithLabelValues("failed").Inc()
	case control.EventApplySkipped:
		r.phaseApplies.WithLabelValues("skipped").Inc()
	case control.EventProgress, control.EventShutdown:
		r.vehicles.Set(float64(e.Vehicles))
	}
}

// Handler serves the recorder's metrics in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
