package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Member store metrics
	MemberOperationsTotal   *prometheus.CounterVec
	MemberOperationDuration *prometheus.HistogramVec

	// Change notification metrics
	ChangeEventsPublished *prometheus.CounterVec
	EventSubscribers      prometheus.Gauge

	// Geocoding metrics
	GeocodeLookupsTotal     *prometheus.CounterVec
	GeocodeProviderDuration prometheus.Histogram
	GeocodeCacheEntries     prometheus.Gauge
}

// New creates all metrics and registers them on the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics and registers them on reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "status"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "endpoint", "status"},
		),

		MemberOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "member_operations_total",
				Help: "Total number of member store operations",
			},
			[]string{"operation", "result"},
		),

		MemberOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "member_operation_duration_seconds",
				Help:    "Member store operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		ChangeEventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "member_change_events_published_total",
				Help: "Total number of change notifications published",
			},
			[]string{"event_type", "result"},
		),

		EventSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "member_event_subscribers",
				Help: "Number of open change notification streams",
			},
		),

		GeocodeLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geocode_lookups_total",
				Help: "Geocode cache lookups by result (hit, miss, unresolvable)",
			},
			[]string{"result"},
		),

		GeocodeProviderDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "geocode_provider_duration_seconds",
				Help:    "Latency of calls to the external geocoding provider",
				Buckets: prometheus.DefBuckets,
			},
		),

		GeocodeCacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "geocode_cache_entries",
				Help: "Number of addresses held in the geocode cache",
			},
		),
	}
}
