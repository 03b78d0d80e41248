// Package telemetry records HTTP and rendering metrics for the notes server
// and serves them in the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Render outcomes.
const (
	OutcomeRendered = "rendered"
	OutcomeCached   = "cached"
	OutcomeError    = "error"
)

// durationBuckets are histogram boundaries in seconds.
var durationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// histogram keeps non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		next := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(&h.sum, old, next) {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulative() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

// series is a set of histograms keyed by their label values.
type series struct {
	mu    sync.RWMutex
	names []string
	items map[string]*histogram
}

func newSeries(labelNames ...string) *series {
	return &series{names: labelNames, items: make(map[string]*histogram)}
}

func (s *series) observe(v float64, labelValues ...string) {
	key := strings.Join(labelValues, "|")
	s.mu.RLock()
	h, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		if h, ok = s.items[key]; !ok {
			h = newHistogram(durationBuckets)
			s.items[key] = h
		}
		s.mu.Unlock()
	}
	h.Observe(v)
}

func (s *series) get(labelValues ...string) *histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[strings.Join(labelValues, "|")]
}

func (s *series) write(b *strings.Builder, name, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	s.mu.RLock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	hs := make([]*histogram, len(keys))
	for i, k := range keys {
		hs[i] = s.items[k]
	}
	s.mu.RUnlock()

	for i, key := range keys {
		values := strings.Split(key, "|")
		pairs := make([]string, len(s.names))
		for j, n := range s.names {
			v := ""
			if j < len(values) {
				v = values[j]
			}
			pairs[j] = fmt.Sprintf("%s=%q", n, v)
		}
		writeHistogram(b, name, strings.Join(pairs, ","), hs[i])
	}
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulative()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

// GaugeFunc reports a value sampled at scrape time.
type GaugeFunc func() int64

type gauge struct {
	name string
	help string
	fn   GaugeFunc
}

// Provider collects the server's metrics. The zero value is not usable;
// create one with NewProvider.
type Provider struct {
	activeRequests int64
	requests       *series
	renders        *series

	mu     sync.RWMutex
	gauges []gauge
}

// NewProvider creates an empty metrics provider.
func NewProvider() *Provider {
	return &Provider{
		requests: newSeries("method", "route", "status_code"),
		renders:  newSeries("content_type", "outcome"),
	}
}

// ObserveRender records one render attempt. It satisfies the notes
// service's observer interface.
func (p *Provider) ObserveRender(contentType, outcome string, d time.Duration) {
	if contentType == "" {
		contentType = "unknown"
	}
	p.renders.observe(d.Seconds(), contentType, outcome)
}

// RenderCount returns how many renders were recorded for the labels.
func (p *Provider) RenderCount(contentType, outcome string) int64 {
	if h := p.renders.get(contentType, outcome); h != nil {
		return h.Count()
	}
	return 0
}

// RequestCount returns how many requests were recorded for the labels.
func (p *Provider) RequestCount(method, route string, status int) int64 {
	if h := p.requests.get(method, route, strconv.Itoa(status)); h != nil {
		return h.Count()
	}
	return 0
}

// ActiveRequests returns the number of requests in flight.
func (p *Provider) ActiveRequests() int64 {
	return atomic.LoadInt64(&p.activeRequests)
}

// RegisterGauge adds a gauge sampled on every scrape.
func (p *Provider) RegisterGauge(name, help string, fn GaugeFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gauges = append(p.gauges, gauge{name: name, help: help, fn: fn})
}

// Middleware records request duration by method, route and status.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&p.activeRequests, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&p.activeRequests, -1)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			p.requests.observe(time.Since(start).Seconds(), c.Request().Method, route, strconv.Itoa(status))
			return err
		}
	}
}

// Handler serves GET /metrics.
func (p *Provider) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		p.requests.write(&b, "http_server_request_duration_seconds", "Duration of HTTP requests in seconds.")

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", p.ActiveRequests())

		p.renders.write(&b, "notes_render_duration_seconds", "Duration of document renders in seconds.")

		p.mu.RLock()
		gauges := append([]gauge(nil), p.gauges...)
		p.mu.RUnlock()
		for _, g := range gauges {
			fmt.Fprintf(&b, "# HELP %s %s\n", g.name, g.help)
			fmt.Fprintf(&b, "# TYPE %s gauge\n", g.name)
			fmt.Fprintf(&b, "%s %d\n\n", g.name, g.fn())
		}

		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}
