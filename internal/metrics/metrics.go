package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus metrics for feed polling and the HTTP API.
type Collector struct {
	reg *prometheus.Registry

	FeedFetches       *prometheus.CounterVec // result label: ok|error
	FeedFetchDuration prometheus.Histogram
	FeedTripUpdates   prometheus.Gauge
	FeedAge           prometheus.Gauge // seconds between header timestamp and fetch

	ArrivalsServed *prometheus.CounterVec // stop label

	PublishedBoards prometheus.Counter
	PublishErrors   prometheus.Counter
	NATSConnected   prometheus.Gauge

	PollInterval prometheus.Gauge // seconds
}

// NewCollector creates a Collector on its own registry.
func NewCollector(pollInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FeedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexttrain_feed_fetches_total",
			Help: "GTFS-realtime feed fetches by result.",
		}, []string{"result"}),
		FeedFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexttrain_feed_fetch_duration_seconds",
			Help:    "Duration of feed download and decode.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		FeedTripUpdates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexttrain_feed_trip_updates",
			Help: "Trip updates in the latest feed snapshot.",
		}),
		FeedAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexttrain_feed_age_seconds",
			Help: "Age of the latest feed snapshot at fetch time.",
		}),
		ArrivalsServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexttrain_arrivals_requests_total",
			Help: "Arrival board requests by stop.",
		}, []string{"stop"}),
		PublishedBoards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexttrain_nats_published_total",
			Help: "Boards published to NATS.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexttrain_nats_publish_errors_total",
			Help: "NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexttrain_nats_connected",
			Help: "1 if the NATS connection is established, 0 otherwise.",
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexttrain_poll_interval_seconds",
			Help: "Feed poll interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.FeedFetches, c.FeedFetchDuration, c.FeedTripUpdates, c.FeedAge,
		c.ArrivalsServed,
		c.PublishedBoards, c.PublishErrors, c.NATSConnected,
		c.PollInterval,
	)
	c.PollInterval.Set(pollInterval.Seconds())

	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// FetchObserved records one feed fetch.
func (c *Collector) FetchObserved(d time.Duration, tripUpdates int, age time.Duration, err error) {
	c.FeedFetchDuration.Observe(d.Seconds())
	if err != nil {
		c.FeedFetches.WithLabelValues("error").Inc()
		return
	}
	c.FeedFetches.WithLabelValues("ok").Inc()
	c.FeedTripUpdates.Set(float64(tripUpdates))
	if age > 0 {
		c.FeedAge.Set(age.Seconds())
	}
}

// OtherStop is the stop label shared by requests for unknown stops.
const OtherStop = "other"

// ArrivalsRequested counts one board request for stopID. Callers fold
// unknown stops into OtherStop.
func (c *Collector) ArrivalsRequested(stopID string) {
	c.ArrivalsServed.WithLabelValues(stopID).Inc()
}

// BoardPublished records a NATS publish result.
func (c *Collector) BoardPublished(err error) {
	if err != nil {
		c.PublishErrors.Inc()
		return
	}
	c.PublishedBoards.Inc()
}

// NATSSetConnected tracks the NATS connection state.
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}
