package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/mutil"
)

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "wsiview_http_response_time_seconds",
		Help: "Duration of HTTP requests by route.",
	}, []string{"route"})
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsiview_http_requests_total",
		Help: "Number of HTTP requests by route and status code.",
	}, []string{"route", "code"})

	tileLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsiview_tile_lookups_total",
		Help: "Number of tile lookups by outcome.",
	}, []string{"outcome"})
	buildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wsiview_pyramid_build_seconds",
		Help:    "Time to build a pyramid index from collected instances.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	})
	openSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wsiview_open_sessions",
		Help: "Number of open viewing sessions.",
	})
)

// tile lookup outcomes
const (
	tileHit      = "hit"
	tileMiss     = "miss"
	tileBadLevel = "bad_level"
	tileNoIndex  = "no_pyramid"
)

// instrument wraps a goji handler to record its duration and status code under the
// route name.
func instrument(route string, h web.HandlerFunc) web.HandlerFunc {
	return func(c web.C, w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := mutil.WrapWriter(w)
		h(c, ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
}
