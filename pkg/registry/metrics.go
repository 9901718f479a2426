// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registry's Prometheus collectors. Each Registry owns its
// own prometheus.Registry so several can coexist in one process.
type Metrics struct {
	reg *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Uploads         prometheus.Counter
	Downloads       prometheus.Counter
	BytesIn         prometheus.Counter
	BytesOut        prometheus.Counter
	RateLimited     prometheus.Counter
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mpkg_registry_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mpkg_registry_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "route"},
		),
		Uploads: f.NewCounter(prometheus.CounterOpts{
			Name: "mpkg_registry_uploads_total",
			Help: "Packages stored",
		}),
		Downloads: f.NewCounter(prometheus.CounterOpts{
			Name: "mpkg_registry_downloads_total",
			Help: "Package downloads served",
		}),
		BytesIn: f.NewCounter(prometheus.CounterOpts{
			Name: "mpkg_registry_upload_bytes_total",
			Help: "Archive bytes received",
		}),
		BytesOut: f.NewCounter(prometheus.CounterOpts{
			Name: "mpkg_registry_download_bytes_total",
			Help: "Archive bytes served",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "mpkg_registry_rate_limited_total",
			Help: "Uploads rejected by the rate limiter",
		}),
	}
}

// Handler returns the exposition handler for these metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.reg }

// instrument records request counts and latency for route.
func (m *Metrics) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(sr, req)
		m.RequestsTotal.WithLabelValues(req.Method, route, strconv.Itoa(sr.status)).Inc()
		m.RequestDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
