// Package metrics exports console activity as Prometheus metrics. A nil
// *Collectors is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pcon"

// Action outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

type Collectors struct {
	actions            *prometheus.CounterVec
	polls              *prometheus.CounterVec
	pollDuration       prometheus.Histogram
	reconcileOverwrite *prometheus.CounterVec
	trackedPipelines   prometheus.Gauge
	notifications      *prometheus.CounterVec
	statsSamples       *prometheus.CounterVec
	gatherer           prometheus.Gatherer
}

// New creates the collectors and registers them on reg. A nil reg uses a
// private registry.
func New(reg prometheus.Registerer) (*Collectors, error) {
	var gatherer prometheus.Gatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	} else {
		gatherer = prometheus.DefaultGatherer
	}

	c := &Collectors{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Lifecycle actions by kind and outcome.",
		}, []string{"action", "outcome"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Pipeline list polls by outcome.",
		}, []string{"outcome"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of pipeline list polls.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		reconcileOverwrite: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_overwrites_total",
			Help:      "Status store entries changed by the reconciler, by new status.",
		}, []string{"status"}),
		trackedPipelines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_pipelines",
			Help:      "Pipelines present in the last list snapshot.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "User notifications pushed, by severity.",
		}, []string{"severity"}),
		statsSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_samples_total",
			Help:      "Pipeline stats samples by outcome.",
		}, []string{"outcome"}),
		gatherer: gatherer,
	}

	for _, col := range []prometheus.Collector{
		c.actions, c.polls, c.pollDuration, c.reconcileOverwrite,
		c.trackedPipelines, c.notifications, c.statsSamples,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collectors) ActionTriggered(action, outcome string) {
	if c == nil {
		return
	}
	c.actions.WithLabelValues(action, outcome).Inc()
}

func (c *Collectors) PollCompleted(d time.Duration, err error) {
	if c == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	c.polls.WithLabelValues(outcome).Inc()
	c.pollDuration.Observe(d.Seconds())
}

func (c *Collectors) StatusOverwritten(status string) {
	if c == nil {
		return
	}
	c.reconcileOverwrite.WithLabelValues(status).Inc()
}

func (c *Collectors) SetTrackedPipelines(n int) {
	if c == nil {
		return
	}
	c.trackedPipelines.Set(float64(n))
}

func (c *Collectors) NotificationPushed(severity string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(severity).Inc()
}

func (c *Collectors) StatsSampled(err error) {
	if c == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	c.statsSamples.WithLabelValues(outcome).Inc()
}

// Handler serves the registry the collectors were registered on.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
