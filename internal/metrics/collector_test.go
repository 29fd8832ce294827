package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterAndGauge(t *testing.T) {
	c := New()

	ctr := c.Counter("events_total", "Events seen")
	ctr.Inc()
	ctr.Add(2)
	if ctr.Value() != 3 {
		t.Fatalf("counter = %d, want 3", ctr.Value())
	}
	// Same name returns the same instance.
	if c.Counter("events_total", "") != ctr {
		t.Fatal("counter not reused by name")
	}

	g := c.Gauge("inflight", "In-flight work")
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Value() != 1 {
		t.Fatalf("gauge = %d, want 1", g.Value())
	}
	g.Set(5)
	if g.Value() != 5 {
		t.Fatalf("gauge = %d, want 5", g.Value())
	}
}

func TestRender(t *testing.T) {
	c := New()
	c.Counter("b_total", "second").Inc()
	c.Counter("a_total", "first").Add(4)
	c.Gauge("inflight", "gauge help").Set(2)

	out := c.Render()
	for _, want := range []string{
		"# HELP a_total first",
		"# TYPE a_total counter",
		"a_total 4",
		"b_total 1",
		"# TYPE inflight gauge",
		"inflight 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
	// Counters are sorted.
	if strings.Index(out, "a_total") > strings.Index(out, "b_total") {
		t.Error("metrics not sorted by name")
	}
}

func TestHandler(t *testing.T) {
	c := New()
	c.Counter("hits_total", "hits").Inc()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "hits_total 1") {
		t.Fatalf("body missing metric:\n%s", rec.Body.String())
	}
}
