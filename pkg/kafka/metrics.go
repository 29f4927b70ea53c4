package kafka

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are shared by producers and consumers of one process.
type Metrics struct {
	published    *prometheus.CounterVec
	publishBytes *prometheus.CounterVec
	publishTime  *prometheus.HistogramVec
	consumed     *prometheus.CounterVec
	handleTime   *prometheus.HistogramVec
	deadLettered *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockalert_kafka_producer_messages_total",
			Help: "Messages published to Kafka by topic and result.",
		}, []string{"topic", "result"}),
		publishBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockalert_kafka_producer_bytes_total",
			Help: "Payload bytes published to Kafka.",
		}, []string{"topic"}),
		publishTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockalert_kafka_producer_publish_seconds",
			Help:    "Kafka publish latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
		consumed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockalert_kafka_consumer_messages_total",
			Help: "Messages consumed from Kafka by topic and result.",
		}, []string{"topic", "result"}),
		handleTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockalert_kafka_consumer_handle_seconds",
			Help:    "Handling time per consumed message, retries included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
		deadLettered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockalert_kafka_consumer_dead_lettered_total",
			Help: "Messages parked on the dead-letter topic.",
		}, []string{"topic"}),
	}
}

func (m *Metrics) observePublish(topic string, bytes int, dur time.Duration, err error) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(topic, result(err)).Inc()
	m.publishBytes.WithLabelValues(topic).Add(float64(bytes))
	m.publishTime.WithLabelValues(topic).Observe(dur.Seconds())
}

func (m *Metrics) observeConsume(topic string, dur time.Duration, err error) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(topic, result(err)).Inc()
	m.handleTime.WithLabelValues(topic).Observe(dur.Seconds())
}

func (m *Metrics) observeDeadLetter(topic string) {
	if m == nil {
		return
	}
	m.deadLettered.WithLabelValues(topic).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
