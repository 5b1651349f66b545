package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
)

func TestCounterSeries(t *testing.T) {
	r := New()
	c := r.Counter("records_total", "Records.", "modality", "text")
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Fatalf("expected 5, got %d", c.Value())
	}
	if r.Counter("records_total", "", "modality", "text") != c {
		t.Fatal("same labels should return the same series")
	}
	if r.Counter("records_total", "", "modality", "image") == c {
		t.Fatal("different labels should return a new series")
	}
}

func TestGaugeFloat(t *testing.T) {
	g := New().Gauge("heap_bytes", "")
	g.Set(1.5)
	g.Inc()
	g.Dec()
	g.Add(0.25)
	if g.Value() != 1.75 {
		t.Fatalf("expected 1.75, got %g", g.Value())
	}
}

func TestHistogramBuckets(t *testing.T) {
	h := New().Histogram("lat", "", []float64{1, 0.1, 0.5})
	for _, v := range []float64{0.05, 0.1, 0.3, 0.8, 2} {
		h.Observe(v)
	}
	if h.Count() != 5 {
		t.Fatalf("count = %d", h.Count())
	}
	want := []uint64{2, 1, 1} // le 0.1 is inclusive
	for i, w := range want {
		if h.counts[i] != w {
			t.Fatalf("bucket %g = %d, want %d", h.buckets[i], h.counts[i], w)
		}
	}
}

func TestKindConflictPanics(t *testing.T) {
	r := New()
	r.Counter("x", "")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on kind conflict")
		}
	}()
	r.Gauge("x", "")
}

func TestRender(t *testing.T) {
	r := New()
	r.Counter("q_total", "Questions.", "outcome", "ok").Add(3)
	r.Counter("q_total", "", "outcome", "degraded").Inc()
	r.Histogram("lat_seconds", "Latency.", []float64{0.5, 1}, "modality", "text").Observe(0.7)
	r.Gauge("up", "").Set(1)

	out := r.Render()
	for _, want := range []string{
		"# HELP q_total Questions.\n# TYPE q_total counter\n",
		`q_total{outcome="degraded"} 1`,
		`q_total{outcome="ok"} 3`,
		`lat_seconds_bucket{modality="text",le="0.5"} 0`,
		`lat_seconds_bucket{modality="text",le="1"} 1`,
		`lat_seconds_bucket{modality="text",le="+Inf"} 1`,
		`lat_seconds_sum{modality="text"} 0.7`,
		`lat_seconds_count{modality="text"} 1`,
		"# TYPE up gauge\nup 1\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q\n%s", want, out)
		}
	}
	if strings.Index(out, "q_total") > strings.Index(out, "lat_seconds") {
		t.Error("families should render in registration order")
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("hits_total", "").Inc()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "hits_total 1") {
		t.Fatalf("body: %s", rec.Body.String())
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New().Serve(ctx, "127.0.0.1:0") }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestInstruments(t *testing.T) {
	r := New()
	in := NewInstruments(r)
	in.IngestRecord(domain.ModalityText, nil)
	in.IngestRecord(domain.ModalityImage, errors.New("decode"))
	in.Search(domain.ModalityImage, 10*time.Millisecond, errors.New("timeout"))
	in.Search(domain.ModalityText, 5*time.Millisecond, nil)
	in.Query(OutcomeGenFailed, time.Second)

	out := r.Render()
	for _, want := range []string{
		`crisis_ingest_records_total{modality="text",outcome="ok"} 1`,
		`crisis_ingest_records_total{modality="image",outcome="error"} 1`,
		`crisis_search_failures_total{modality="image"} 1`,
		`crisis_search_duration_seconds_count{modality="text"} 1`,
		`crisis_queries_total{outcome="generation_failed"} 1`,
		`crisis_generation_failures_total 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q", want)
		}
	}
	if strings.Contains(out, `crisis_search_failures_total{modality="text"}`) {
		t.Error("successful search must not count as failure")
	}
}

func TestCollectRuntime(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	CollectRuntime(ctx, r, time.Hour)
	if r.Gauge(RuntimeGoroutines, "").Value() < 1 {
		t.Fatal("expected at least one goroutine sampled")
	}
	if r.Gauge(RuntimeHeapAllocBytes, "").Value() <= 0 {
		t.Fatal("expected heap sample")
	}
}
