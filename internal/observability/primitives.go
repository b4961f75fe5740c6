package observability

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// A small in-process registry rendered in the Prometheus text exposition
// format. Every metric is a family of series keyed by its rendered label set.

type collector interface {
	WritePrometheus(w io.Writer) error
}

var defaultBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

type series struct {
	value float64
	// histogram state; le[i] counts observations <= bounds[i]
	le    []uint64
	count uint64
}

type family struct {
	name   string
	help   string
	kind   string
	labels []string
	bounds []float64

	mu     sync.RWMutex
	series map[string]*series
}

func newFamily(kind, name, help string, labels []string) *family {
	return &family{name: name, help: help, kind: kind, labels: labels, series: map[string]*series{}}
}

// update runs fn on the series for values, creating it on first use.
func (f *family) update(values []string, fn func(*series)) {
	key := labelString(f.labels, values)
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[key]
	if !ok {
		s = &series{}
		if f.kind == "histogram" {
			s.le = make([]uint64, len(f.bounds))
		}
		f.series[key] = s
	}
	fn(s)
}

func (f *family) read(values []string) float64 {
	key := labelString(f.labels, values)
	f.mu.RLock()
	defer f.mu.RUnlock()
	if s, ok := f.series[key]; ok {
		return s.value
	}
	return 0
}

func (f *family) WritePrometheus(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind); err != nil {
		return err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var err error
		if f.kind == "histogram" {
			err = f.writeHistogram(w, k, f.series[k])
		} else {
			_, err = fmt.Fprintf(w, "%s%s %f\n", f.name, k, f.series[k].value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *family) writeHistogram(w io.Writer, labels string, s *series) error {
	for i, b := range f.bounds {
		le := strconv.FormatFloat(b, 'g', -1, 64)
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", f.name, withLe(labels, le), s.le[i]); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%s_bucket%s %d\n%s_sum%s %f\n%s_count%s %d\n",
		f.name, withLe(labels, "+Inf"), s.count,
		f.name, labels, s.value,
		f.name, labels, s.count,
	)
	return err
}

// CounterVec is a monotonically increasing value per label set.
type CounterVec struct{ f *family }

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{f: newFamily("counter", name, help, labels)}
}

func (c *CounterVec) Inc(values ...string) { c.Add(1, values...) }

func (c *CounterVec) Add(v float64, values ...string) {
	if c == nil || v < 0 {
		return
	}
	c.f.update(values, func(s *series) { s.value += v })
}

// Value returns the current value for one label set.
func (c *CounterVec) Value(values ...string) float64 {
	if c == nil {
		return 0
	}
	return c.f.read(values)
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	return c.f.WritePrometheus(w)
}

// GaugeVec is a settable value per label set.
type GaugeVec struct{ f *family }

func NewGaugeVec(name, help string, labels []string) *GaugeVec {
	return &GaugeVec{f: newFamily("gauge", name, help, labels)}
}

func (g *GaugeVec) Set(v float64, values ...string) {
	if g == nil {
		return
	}
	g.f.update(values, func(s *series) { s.value = v })
}

func (g *GaugeVec) Add(v float64, values ...string) {
	if g == nil {
		return
	}
	g.f.update(values, func(s *series) { s.value += v })
}

func (g *GaugeVec) Value(values ...string) float64 {
	if g == nil {
		return 0
	}
	return g.f.read(values)
}

func (g *GaugeVec) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	return g.f.WritePrometheus(w)
}

// Gauge is an unlabelled GaugeVec.
type Gauge struct{ v *GaugeVec }

func NewGauge(name, help string) *Gauge {
	g := &Gauge{v: NewGaugeVec(name, help, nil)}
	g.Set(0)
	return g
}

func (g *Gauge) Set(v float64) {
	if g != nil {
		g.v.Set(v)
	}
}

func (g *Gauge) Add(v float64) {
	if g != nil {
		g.v.Add(v)
	}
}

func (g *Gauge) Inc() { g.Add(1) }

func (g *Gauge) Dec() { g.Add(-1) }

func (g *Gauge) Value() float64 {
	if g == nil {
		return 0
	}
	return g.v.Value()
}

func (g *Gauge) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	return g.v.WritePrometheus(w)
}

// HistogramVec counts observations into cumulative buckets per label set.
type HistogramVec struct{ f *family }

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}
	f := newFamily("histogram", name, help, labels)
	f.bounds = append([]float64(nil), buckets...)
	sort.Float64s(f.bounds)
	return &HistogramVec{f: f}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil {
		return
	}
	bounds := h.f.bounds
	first := sort.SearchFloat64s(bounds, v)
	h.f.update(values, func(s *series) {
		s.value += v
		s.count++
		for i := first; i < len(bounds); i++ {
			s.le[i]++
		}
	})
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	return h.f.WritePrometheus(w)
}

// labelString renders {a="x",b="y"}. Missing or empty values become
// "unknown" so every series of a family carries the same label names.
func labelString(names, values []string) string {
	if len(names) == 0 {
		return ""
	}
	pairs := make([]string, len(names))
	for i, name := range names {
		val := "unknown"
		if i < len(values) && values[i] != "" {
			val = values[i]
		}
		pairs[i] = name + `="` + labelEscaper.Replace(val) + `"`
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func withLe(labels, le string) string {
	if labels == "" {
		return `{le="` + le + `"}`
	}
	return strings.TrimSuffix(labels, "}") + `,le="` + le + `"}`
}
