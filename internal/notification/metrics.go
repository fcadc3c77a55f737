package notification

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeSent    = "sent"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// Metrics groups the collectors updated by watchers and the dispatcher.
type Metrics struct {
	changesTotal     *prometheus.CounterVec
	changeErrors     *prometheus.CounterVec
	dispatchesTotal  *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	inFlight         prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which is what most tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		changesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anam",
			Subsystem: "watcher",
			Name:      "changes_total",
			Help:      "Changes observed on the feed by collection and kind",
		}, []string{"collection", "kind"}),
		changeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anam",
			Subsystem: "watcher",
			Name:      "change_errors_total",
			Help:      "Added changes that could not be turned into a notification",
		}, []string{"collection"}),
		dispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anam",
			Subsystem: "dispatcher",
			Name:      "notifications_total",
			Help:      "Notification send attempts by outcome",
		}, []string{"outcome"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "anam",
			Subsystem: "dispatcher",
			Name:      "send_duration_seconds",
			Help:      "Time spent in the push transport per send",
			Buckets:   prometheus.DefBuckets,
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "anam",
			Subsystem: "dispatcher",
			Name:      "in_flight",
			Help:      "Sends currently waiting on the push transport",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.changesTotal,
			m.changeErrors,
			m.dispatchesTotal,
			m.dispatchDuration,
			m.inFlight,
		)
	}
	return m
}
