package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const DefaultNamespace = "hubsync"

// Recorder receives sync lifecycle observations. Implementations never block.
type Recorder interface {
	RecordAttempt(outcome string)
	RecordPush(result string)
	RecordReconcile(action string)
	RecordEventWait(result string)
	ObserveDuration(operation string, d time.Duration)
}

// Attempt outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
	OutcomeExhausted = "exhausted"
)

// Event wait results
const (
	WaitObserved = "observed"
	WaitTimeout  = "timeout"
	WaitFallback = "fallback"
)

var _ Recorder = (*Collector)(nil)

// Collector is the prometheus Recorder.
type Collector struct {
	attempts  *prometheus.CounterVec
	pushes    *prometheus.CounterVec
	reconcile *prometheus.CounterVec
	waits     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewCollector creates the collectors and registers them with reg when reg is
// not nil.
func NewCollector(namespace string, reg prometheus.Registerer) (*Collector, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	c := &Collector{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Pull, merge and push attempts by outcome.",
		}, []string{"outcome"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_total",
			Help:      "Changeset pushes by result.",
		}, []string{"result"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Changesets applied to the local store by action.",
		}, []string{"action"}),
		waits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_wait_total",
			Help:      "Retry waits for another client's push by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of briefcase operations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"operation"}),
	}

	if reg != nil {
		for _, col := range []prometheus.Collector{c.attempts, c.pushes, c.reconcile, c.waits, c.duration} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func (c *Collector) RecordAttempt(outcome string) {
	c.attempts.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordPush(result string) {
	c.pushes.WithLabelValues(result).Inc()
}

func (c *Collector) RecordReconcile(action string) {
	c.reconcile.WithLabelValues(action).Inc()
}

func (c *Collector) RecordEventWait(result string) {
	c.waits.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveDuration(operation string, d time.Duration) {
	c.duration.WithLabelValues(operation).Observe(d.Seconds())
}

type nop struct{}

// Nop discards every observation.
func Nop() Recorder { return nop{} }

func (nop) RecordAttempt(string)                  {}
func (nop) RecordPush(string)                     {}
func (nop) RecordReconcile(string)                {}
func (nop) RecordEventWait(string)                {}
func (nop) ObserveDuration(string, time.Duration) {}
