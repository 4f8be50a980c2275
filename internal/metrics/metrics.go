package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"checkpilot/internal/checkin"
)

const namespace = "checkpilot"

// Recorder holds the check-in collectors. It implements the scheduler's
// lifecycle listener so every record transition feeds it.
type Recorder struct {
	registry *prometheus.Registry

	Scheduled   prometheus.Counter
	Transitions *prometheus.CounterVec
	Finished    *prometheus.CounterVec
	Fallbacks   *prometheus.CounterVec
	Duration    prometheus.Histogram
}

// New creates a recorder on its own registry, with Go runtime and process
// collectors alongside the check-in metrics.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &Recorder{
		registry: registry,
		Scheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkins_scheduled_total",
			Help:      "The total number of check-in records created",
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkin_transitions_total",
			Help:      "Record status transitions by target status",
		}, []string{"status"}),
		Finished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkins_finished_total",
			Help:      "Records that reached a terminal status",
		}, []string{"status", "source"}),
		Fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_fallbacks_total",
			Help:      "Launches that moved on to the next backend",
		}, []string{"from", "to"}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkin_duration_seconds",
			Help:      "Time from entering checking-in to a terminal status",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// TrackActive exposes the live per-source active counts reported by fn.
func (r *Recorder) TrackActive(fn func() map[checkin.Source]int) {
	factory := promauto.With(r.registry)
	for _, source := range []checkin.Source{checkin.SourceLocal, checkin.SourceRemote} {
		source := source
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "checkins_active",
			Help:        "Records that have not finished, by execution source",
			ConstLabels: prometheus.Labels{"source": string(source)},
		}, func() float64 {
			return float64(fn()[source])
		})
	}
}

// Transition records one status change.
func (r *Recorder) Transition(before, after checkin.Record) {
	if before.ID == "" {
		r.Scheduled.Inc()
	}
	if before.Status == after.Status {
		return
	}
	r.Transitions.WithLabelValues(string(after.Status)).Inc()
	if !after.IsTerminal() {
		return
	}
	r.Finished.WithLabelValues(string(after.Status), string(after.Source)).Inc()
	if after.StartedAt != nil && after.CompletedAt != nil {
		r.Duration.Observe(after.CompletedAt.Sub(*after.StartedAt).Seconds())
	}
}

// Fallback records a launch that moved to the next backend.
func (r *Recorder) Fallback(_ checkin.Record, from, to string, _ error) {
	r.Fallbacks.WithLabelValues(from, to).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
