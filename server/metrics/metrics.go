// Copyright 2025 Zintix Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics 以 prometheus 匯出資源載入與 HTTP 請求的指標，掛在 GET /metrics。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agenttree"

// Metrics 持有獨立的 Registry，測試之間互不干擾。
type Metrics struct {
	reg *prometheus.Registry

	loads       *prometheus.CounterVec
	loadSeconds *prometheus.HistogramVec
	items       *prometheus.GaugeVec
	requests    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_loads_total",
			Help:      "Upstream resource loads by result (ok, error, stale).",
		}, []string{"resource", "result"}),
		loadSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resource_load_seconds",
			Help:      "Wall time of a full paged resource load.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"resource"}),
		items: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resource_items",
			Help:      "Records in the latest committed snapshot.",
		}, []string{"resource"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}
	m.reg.MustRegister(
		m.loads, m.loadSeconds, m.items, m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveLoad 實作 resource.Observer。
func (m *Metrics) ObserveLoad(resource string, items int, took time.Duration, stale bool, err error) {
	switch {
	case stale:
		m.loads.WithLabelValues(resource, "stale").Inc()
		return
	case err != nil:
		m.loads.WithLabelValues(resource, "error").Inc()
	default:
		m.loads.WithLabelValues(resource, "ok").Inc()
	}
	m.loadSeconds.WithLabelValues(resource).Observe(took.Seconds())
	// 失敗時快照為空，gauge 與 /v1/tree 看到的一致
	m.items.WithLabelValues(resource).Set(float64(items))
}

// Handler 是 GET /metrics。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Middleware 依 method / status code 計數；路徑不做 label，避免 {resource} 造成高基數。
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &codeRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		m.requests.WithLabelValues(r.Method, strconv.Itoa(rw.code)).Inc()
	})
}

type codeRecorder struct {
	http.ResponseWriter
	code int
}

func (c *codeRecorder) WriteHeader(code int) {
	c.code = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *codeRecorder) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}
