package telemetry

import (
	"context"
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

	"github.com/clinic/clinic/internal/platform/notify"
)

// durationBuckets are request duration boundaries in seconds.
var durationBuckets = []float64{
	0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0,
}

// histogram counts observations per bucket. Counts are stored per bucket and
// made cumulative at export.
type histogram struct {
	boundaries []float64
	mu         sync.Mutex
	buckets    []int64
	count      int64
	sum        uint64 // math.Float64bits
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{boundaries: boundaries, buckets: make([]int64, len(boundaries))}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		if atomic.CompareAndSwapUint64(&h.sum, old, math.Float64bits(math.Float64frombits(old)+v)) {
			break
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.buckets[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulative() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int64, len(h.buckets))
	var running int64
	for i, c := range h.buckets {
		running += c
		out[i] = running
	}
	return out
}

// Metrics collects HTTP request metrics and appointment event counts and
// renders them in the Prometheus text format.
type Metrics struct {
	active int64

	mu        sync.RWMutex
	durations map[string]*histogram // method|route|status
	events    map[notify.EventType]*int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		durations: make(map[string]*histogram),
		events:    make(map[notify.EventType]*int64),
	}
}

func labelsKey(method, route, status string) string {
	return method + "|" + route + "|" + status
}

func (m *Metrics) durationHistogram(key string) *histogram {
	m.mu.RLock()
	h, ok := m.durations[key]
	m.mu.RUnlock()
	if ok {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.durations[key]; !ok {
		h = newHistogram(durationBuckets)
		m.durations[key] = h
	}
	return h
}

// Middleware records duration by route pattern, never by raw path, so ids in
// URLs do not explode the label set.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&m.active, -1)
			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			key := labelsKey(c.Request().Method, route, strconv.Itoa(status))
			m.durationHistogram(key).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Notify counts appointment events; it lets Metrics sit in a notify.Multi.
func (m *Metrics) Notify(_ context.Context, ev notify.AppointmentEvent) error {
	m.mu.RLock()
	p, ok := m.events[ev.Type]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if p, ok = m.events[ev.Type]; !ok {
			p = new(int64)
			m.events[ev.Type] = p
		}
		m.mu.Unlock()
	}
	atomic.AddInt64(p, 1)
	return nil
}

// EventCount returns how many events of type t were seen.
func (m *Metrics) EventCount(t notify.EventType) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.events[t]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

// RequestCount returns the number of requests seen for a route.
func (m *Metrics) RequestCount(method, route string, status int) int64 {
	m.mu.RLock()
	h, ok := m.durations[labelsKey(method, route, strconv.Itoa(status))]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return h.Count()
}

// Handler serves the metrics in Prometheus text exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(m.render()))
	}
}

func (m *Metrics) render() string {
	var b strings.Builder

	m.mu.RLock()
	keys := make([]string, 0, len(m.durations))
	for k := range m.durations {
		keys = append(keys, k)
	}
	events := make(map[notify.EventType]int64, len(m.events))
	for t, p := range m.events {
		events[t] = atomic.LoadInt64(p)
	}
	m.mu.RUnlock()
	sort.Strings(keys)

	const name = "http_server_request_duration_seconds"
	fmt.Fprintf(&b, "# HELP %s Duration of HTTP requests in seconds.\n", name)
	fmt.Fprintf(&b, "# TYPE %s histogram\n", name)
	for _, key := range keys {
		parts := strings.SplitN(key, "|", 3)
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		h := m.durationHistogram(key)
		for i, le := range h.cumulative() {
			fmt.Fprintf(&b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, durationBuckets[i], le)
		}
		fmt.Fprintf(&b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.Count())
		fmt.Fprintf(&b, "%s_sum{%s} %g\n", name, labels, h.Sum())
		fmt.Fprintf(&b, "%s_count{%s} %d\n", name, labels, h.Count())
	}
	b.WriteByte('\n')

	b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.active))

	b.WriteString("# HELP clinic_appointment_events_total Appointment events published, by type.\n")
	b.WriteString("# TYPE clinic_appointment_events_total counter\n")
	types := make([]string, 0, len(events))
	for t := range events {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(&b, "clinic_appointment_events_total{type=%q} %d\n", t, events[notify.EventType(t)])
	}
	return b.String()
}
