// Package metrics exports engine, transport and broadcast counters to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/ephemeral/pkg/ephemeral"
)

const namespace = "ephemeral"

// Collector implements ephemeral.Metrics and the api metrics hooks
type Collector struct {
	hubsCreated       prometheus.Counter
	idCollisions      prometheus.Counter
	creationExhausted prometheus.Counter
	filesUploaded     prometheus.Counter
	uploadBytes       prometheus.Counter
	orphansReclaimed  prometheus.Counter
	broadcastDropped  prometheus.Counter
	wsConnections     prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates a Collector and registers it with reg. A nil reg uses a fresh
// registry so tests and multiple services never collide.
func New(reg *prometheus.Registry) (*Collector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		hubsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hubs_created_total",
			Help:      "Hubs successfully created.",
		}),
		idCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_id_collisions_total",
			Help:      "Generated hub IDs that were already taken.",
		}),
		creationExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "creation_exhausted_total",
			Help:      "Hub creations that failed after every ID attempt collided.",
		}),
		filesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_uploaded_total",
			Help:      "Files added to hub manifests.",
		}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Cumulative size of files added to hub manifests.",
		}),
		orphansReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_reclaimed_total",
			Help:      "Expired hubs whose blobs were deleted by the sweeper.",
		}),
		broadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Live events discarded because a viewer's queue was full.",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open live update connections.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: reg,
	}

	collectors := []prometheus.Collector{
		c.hubsCreated, c.idCollisions, c.creationExhausted, c.filesUploaded, c.uploadBytes,
		c.orphansReclaimed, c.broadcastDropped, c.wsConnections, c.httpRequests, c.httpDuration,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) HubCreated()           { c.hubsCreated.Inc() }
func (c *Collector) IDCollision()          { c.idCollisions.Inc() }
func (c *Collector) CreationExhausted()    { c.creationExhausted.Inc() }
func (c *Collector) OrphansReclaimed(n int) { c.orphansReclaimed.Add(float64(n)) }

func (c *Collector) FileUploaded(size int64) {
	c.filesUploaded.Inc()
	c.uploadBytes.Add(float64(size))
}

// BroadcastDropped matches the broadcast drop hook signature
func (c *Collector) BroadcastDropped(string) { c.broadcastDropped.Inc() }

// ConnectionOpened and ConnectionClosed track live update connections
func (c *Collector) ConnectionOpened() { c.wsConnections.Inc() }
func (c *Collector) ConnectionClosed() { c.wsConnections.Dec() }

// RecordRequest records one HTTP request. route is the matched pattern, not
// the raw path, so hub IDs never become label values.
func (c *Collector) RecordRequest(method, route string, statusCode int, duration time.Duration, size int64) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

var _ ephemeral.Metrics = (*Collector)(nil)
