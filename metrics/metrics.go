// Package metrics exposes the request lifecycle as Prometheus collectors.
package metrics

import (
	"github.com/go-authgate/storefront-cli/apiclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

// Outcome label values for RequestDuration.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Recorder translates lifecycle events into metric updates.
type Recorder struct {
	InFlight        prometheus.Gauge
	RequestsStarted prometheus.Counter
	RequestsSlow    prometheus.Counter
	RequestsAborted prometheus.Counter
	Flushes         prometheus.Counter
	RequestDuration *prometheus.HistogramVec
	Refreshes       *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	Logouts         prometheus.Counter
	SubscriberDrops prometheus.CounterFunc
}

// New registers the lifecycle collectors on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of tracked requests that have not completed",
		}),
		RequestsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_started_total",
			Help:      "Total number of tracked requests started",
		}),
		RequestsSlow: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_slow_total",
			Help:      "Total number of requests that crossed the slow threshold",
		}),
		RequestsAborted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_aborted_total",
			Help:      "Total number of in-flight requests aborted by a flush",
		}),
		Flushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "flushes_total",
			Help:      "Total number of cancel-all flushes",
		}),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Time from request start to completion",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30, 60},
			},
			[]string{"outcome"},
		),
		Refreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "refreshes_total",
				Help:      "Total number of session refresh cycles by result",
			},
			[]string{"result"},
		),
		RefreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refresh_duration_seconds",
			Help:      "Time spent on a session refresh cycle",
			Buckets:   prometheus.DefBuckets,
		}),
		Logouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "logouts_total",
			Help:      "Total number of sessions ended locally",
		}),
	}
}

// Observe updates the collectors for ev. It has the apiclient.Subscriber signature.
func (r *Recorder) Observe(ev apiclient.Event) {
	switch ev.Kind {
	case apiclient.EventStart:
		r.RequestsStarted.Inc()
		r.InFlight.Inc()
	case apiclient.EventSlow:
		r.RequestsSlow.Inc()
	case apiclient.EventStop:
		r.InFlight.Dec()
		outcome := OutcomeOK
		if !ev.OK {
			outcome = OutcomeError
		}
		r.RequestDuration.WithLabelValues(outcome).Observe(ev.Elapsed().Seconds())
	case apiclient.EventFlush:
		r.Flushes.Inc()
		r.RequestsAborted.Add(float64(ev.Count))
		r.InFlight.Sub(float64(ev.Count))
	case apiclient.EventRefreshed:
		result := "success"
		if !ev.OK {
			result = "failure"
		}
		r.Refreshes.WithLabelValues(result).Inc()
		r.RefreshDuration.Observe(ev.Elapsed().Seconds())
	case apiclient.EventLogout:
		r.Logouts.Inc()
	}
}

// Attach subscribes r to e and exports the emitter's dropped channel events.
// The returned func unsubscribes.
func (r *Recorder) Attach(reg prometheus.Registerer, e *apiclient.Emitter) func() {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r.SubscriberDrops = promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped because a channel subscriber was full",
	}, func() float64 { return float64(e.Dropped()) })
	return e.Subscribe(r.Observe)
}
