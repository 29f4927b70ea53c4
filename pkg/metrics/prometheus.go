package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	events        *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	triggers      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
}

// New registers the collectors on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the collectors on reg; tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockalert_events_total",
				Help: "Events seen on the bus by kind and delivery path",
			},
			[]string{"kind", "path"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockalert_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		dropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockalert_dropped_total",
				Help: "Items dropped because a bounded queue was full",
			},
			[]string{"component"},
		),
		triggers: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockalert_alert_triggers_total",
				Help: "Alerts triggered by condition",
			},
			[]string{"condition"},
		),
		notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockalert_notifications_total",
				Help: "Notification attempts by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stockalert_last_price",
				Help: "Last observed price for an instrument",
			},
			[]string{"instrument"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockalert_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordEvent(kind, path string) {
	r.events.WithLabelValues(kind, path).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordDropped(component string) {
	r.dropped.WithLabelValues(component).Inc()
}

func (r *Recorder) RecordTrigger(condition string) {
	r.triggers.WithLabelValues(condition).Inc()
}

func (r *Recorder) RecordNotification(channel, outcome string) {
	r.notifications.WithLabelValues(channel, outcome).Inc()
}

// RecordLastPrice records the last price for an instrument.
func (r *Recorder) RecordLastPrice(instrument string, price float64) {
	r.lastPrice.WithLabelValues(instrument).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Noop discards everything.
type Noop struct{}

func (Noop) RecordEvent(string, string)        {}
func (Noop) RecordError(string)                {}
func (Noop) RecordDropped(string)              {}
func (Noop) RecordTrigger(string)              {}
func (Noop) RecordNotification(string, string) {}
func (Noop) RecordLastPrice(string, float64)   {}
func (Noop) RecordLatency(string, float64)     {}
