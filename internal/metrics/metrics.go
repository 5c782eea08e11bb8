package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tileproxy/internal/pool"
)

// Outcome labels for tile requests.
const (
	OutcomeServed              = "served"
	OutcomeRouteNotFound       = "route_not_found"
	OutcomeInvalidZoom         = "invalid_zoom"
	OutcomeInvalidCoordinates  = "invalid_coordinates"
	OutcomeUpstreamRejected    = "upstream_rejected"
	OutcomeUpstreamUnreachable = "upstream_unreachable"
	OutcomeInternalError       = "internal_error"
)

// Metrics holds the proxy's Prometheus collectors.
type Metrics struct {
	tileRequests   *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	upstreamStatus *prometheus.CounterVec
}

// New registers the collectors with reg. The slot gauge reads straight from p.
func New(reg prometheus.Registerer, p *pool.Pool) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		tileRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tileproxy_tile_requests_total",
				Help: "Tile requests by outcome",
			},
			[]string{"outcome"},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tileproxy_upstream_fetch_duration_seconds",
				Help:    "Duration of upstream tile fetches",
				Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"result"},
		),
		upstreamStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tileproxy_upstream_status_total",
				Help: "Upstream responses by HTTP status code",
			},
			[]string{"code"},
		),
	}

	if p != nil {
		factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "tileproxy_fetch_slots_in_use",
				Help: "Outbound fetch slots currently held",
			},
			func() float64 { return float64(p.InUse()) },
		)
	}

	return m
}

func (m *Metrics) RecordRequest(outcome string) {
	m.tileRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordFetch(result string, elapsed time.Duration) {
	m.fetchDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordUpstreamStatus(code int) {
	m.upstreamStatus.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
