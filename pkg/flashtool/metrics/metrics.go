// Package metrics counts operation outcomes of a run and exports them in
// the Prometheus text format.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
)

// Recorder holds the metrics of one installer process on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	success    prometheus.Gauge
}

// NewRecorder creates a Recorder with every metric registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashtool_operations_total",
				Help: "Operations run, by action type and outcome",
			},
			[]string{"type", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flashtool_operation_duration_seconds",
				Help:    "Duration of operations, by action type",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"type"},
		),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flashtool_sequence_success",
			Help: "1 if the last installation succeeded, 0 otherwise",
		}),
	}
	r.registry.MustRegister(r.operations, r.duration, r.success)
	return r
}

// Registry exposes the registry, e.g. for tests or an HTTP handler.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Subscribe feeds the recorder from bus. The returned function unsubscribes.
func (r *Recorder) Subscribe(bus core.EventBus) func() {
	ids := []core.SubscriptionID{
		bus.Subscribe(core.EventOperationCompleted, core.EventHandlerFunc(func(_ context.Context, e core.Event) error {
			ev, ok := e.(*core.OperationCompletedEvent)
			if !ok {
				return fmt.Errorf("unexpected event %T", e)
			}
			r.observe(ev.Operation.OperationType, core.StatusSuccess, ev.Duration.Seconds())
			return nil
		})),
		bus.Subscribe(core.EventOperationFailed, core.EventHandlerFunc(func(_ context.Context, e core.Event) error {
			ev, ok := e.(*core.OperationFailedEvent)
			if !ok {
				return fmt.Errorf("unexpected event %T", e)
			}
			r.observe(ev.Operation.OperationType, core.StatusFailure, ev.Duration.Seconds())
			return nil
		})),
		bus.Subscribe(core.EventSequenceFinished, core.EventHandlerFunc(func(_ context.Context, e core.Event) error {
			ev, ok := e.(*core.SequenceFinishedEvent)
			if !ok {
				return fmt.Errorf("unexpected event %T", e)
			}
			if ev.Success {
				r.success.Set(1)
			} else {
				r.success.Set(0)
			}
			return nil
		})),
	}
	return func() {
		for _, id := range ids {
			bus.Unsubscribe(id)
		}
	}
}

// Skipped counts an operation that never started.
func (r *Recorder) Skipped(opType string) {
	r.operations.WithLabelValues(opType, string(core.StatusSkipped)).Inc()
}

func (r *Recorder) observe(opType string, status core.OperationStatus, seconds float64) {
	r.operations.WithLabelValues(opType, string(status)).Inc()
	r.duration.WithLabelValues(opType).Observe(seconds)
}

// WriteTextfile writes every metric to filename for node_exporter's
// textfile collector.
func (r *Recorder) WriteTextfile(filename string) error {
	if err := prometheus.WriteToTextfile(filename, r.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", filename, err)
	}
	return nil
}
