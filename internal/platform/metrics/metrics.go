package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the audit pipeline's Prometheus metrics. All methods are safe
// on a nil receiver so components can run without instrumentation.
type Metrics struct {
	Captured        prometheus.Counter
	CaptureFailures prometheus.Counter
	BufferSize      prometheus.Gauge

	Published       prometheus.Counter
	PublishFailures prometheus.Counter
	BatchSize       prometheus.Histogram
	PublisherState  prometheus.Gauge
	PublisherDials  prometheus.Counter

	Stored         prometheus.Counter
	Skipped        prometheus.Counter
	ConsumerErrors *prometheus.CounterVec

	QueryLatency *prometheus.HistogramVec
}

// New registers every metric with reg. Tests pass a fresh registry to avoid
// duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Captured: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_captured_total",
			Help: "Total number of HTTP exchanges captured into the buffer",
		}),
		CaptureFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_capture_failures_total",
			Help: "Total number of exchanges that could not be captured",
		}),
		BufferSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "audit_buffer_entries",
			Help: "Entries waiting in the in-memory buffer",
		}),
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_relay_published_total",
			Help: "Total number of entries acknowledged by the broker",
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_relay_publish_failures_total",
			Help: "Total number of failed publish attempts",
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_relay_batch_entries",
			Help:    "Number of entries per relay publish",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		PublisherState: f.NewGauge(prometheus.GaugeOpts{
			Name: "audit_publisher_state",
			Help: "Publisher connection state (0=disconnected, 1=connecting, 2=connected, 3=faulted)",
		}),
		PublisherDials: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_publisher_dials_total",
			Help: "Total number of producer connections opened",
		}),
		Stored: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_consumer_stored_total",
			Help: "Total number of entries persisted by the consumer",
		}),
		Skipped: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_consumer_skipped_total",
			Help: "Total number of messages skipped as undecodable or dropped after failed inserts",
		}),
		ConsumerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_consumer_errors_total",
			Help: "Consumer failures by kind",
		}, []string{"kind"}), // kind: "consume", "store"
		QueryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audit_query_duration_seconds",
			Help:    "Duration of audit query operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}), // op: "list", "get", "stats"
	}
}

func (m *Metrics) IncCaptured() {
	if m != nil {
		m.Captured.Inc()
	}
}

func (m *Metrics) IncCaptureFailures() {
	if m != nil {
		m.CaptureFailures.Inc()
	}
}

// SetBufferSize records the number of entries waiting to be relayed.
func (m *Metrics) SetBufferSize(n int) {
	if m != nil {
		m.BufferSize.Set(float64(n))
	}
}

// ObservePublished records a successful publish of n entries.
func (m *Metrics) ObservePublished(n int) {
	if m != nil {
		m.Published.Add(float64(n))
		m.BatchSize.Observe(float64(n))
	}
}

func (m *Metrics) IncPublishFailures() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}

func (m *Metrics) SetPublisherState(state int) {
	if m != nil {
		m.PublisherState.Set(float64(state))
	}
}

func (m *Metrics) IncPublisherDials() {
	if m != nil {
		m.PublisherDials.Inc()
	}
}

func (m *Metrics) IncStored() {
	if m != nil {
		m.Stored.Inc()
	}
}

func (m *Metrics) IncSkipped() {
	if m != nil {
		m.Skipped.Inc()
	}
}

func (m *Metrics) IncConsumerError(kind string) {
	if m != nil {
		m.ConsumerErrors.WithLabelValues(kind).Inc()
	}
}

// ObserveQueryLatency records how long a query operation took.
func (m *Metrics) ObserveQueryLatency(op string, d time.Duration) {
	if m != nil {
		m.QueryLatency.WithLabelValues(op).Observe(d.Seconds())
	}
}

// BufferTotals is implemented by buffer.Buffer.
type BufferTotals interface {
	Added() uint64
	Drained() uint64
}

// RegisterBufferTotals exposes the buffer's lifetime add/drain totals. They
// are read at scrape time, so the buffer needs no reference to Metrics.
func RegisterBufferTotals(reg prometheus.Registerer, b BufferTotals) {
	f := promauto.With(reg)
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "audit_buffer_added_total",
		Help: "Entries ever added to the audit buffer.",
	}, func() float64 { return float64(b.Added()) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "audit_buffer_drained_total",
		Help: "Entries ever drained from the audit buffer by the relay.",
	}, func() float64 { return float64(b.Drained()) })
}
