package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollectorRendersSortedSeries(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("b_total", "b help", `label="X"`).Add(3)
	c.Counter("a_total", "a help", "").Inc()
	c.Counter("b_total", "b help", `label="A"`).Inc()
	c.Gauge("g", "gauge", "").Set(7)

	var sb strings.Builder
	if _, err := c.WriteTo(&sb); err != nil {
		t.Fatal(err)
	}
	out := sb.String()

	for _, want := range []string{
		"a_total 1\n",
		`b_total{label="A"} 1` + "\n",
		`b_total{label="X"} 3` + "\n",
		"g 7\n",
		"# TYPE b_total counter\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "# HELP b_total") != 1 {
		t.Errorf("expected one HELP line for b_total:\n%s", out)
	}
	if strings.Index(out, `label="A"`) > strings.Index(out, `label="X"`) {
		t.Error("series not sorted by labels")
	}
}

func TestCounterIsShared(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("x", "", "").Inc()
	c.Counter("x", "", "").Inc()
	if got := c.Counter("x", "", "").Value(); got != 2 {
		t.Errorf("Value = %d, want 2", got)
	}
}

func TestHistogramBuckets(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("lat", "latency", `kind="x"`, []float64{5, 1})
	h.Observe(0.5)
	h.Observe(3)
	h.Observe(100)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	out := rec.Body.String()

	for _, want := range []string{
		`lat_bucket{kind="x",le="1"} 1`,
		`lat_bucket{kind="x",le="5"} 2`,
		`lat_bucket{kind="x",le="+Inf"} 3`,
		`lat_count{kind="x"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if h.Count() != 3 {
		t.Errorf("Count = %d", h.Count())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
}
