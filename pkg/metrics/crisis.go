package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
)

// Metric names.
const (
	IngestRecordsTotal    = "crisis_ingest_records_total"
	SearchDurationSeconds = "crisis_search_duration_seconds"
	SearchFailuresTotal   = "crisis_search_failures_total"
	QueryDurationSeconds  = "crisis_query_duration_seconds"
	QueriesTotal          = "crisis_queries_total"
	GenerationFailures    = "crisis_generation_failures_total"
	RuntimeGoroutines     = "crisis_runtime_goroutines"
	RuntimeHeapAllocBytes = "crisis_runtime_heap_alloc_bytes"
	RuntimeGCCyclesTotal  = "crisis_runtime_gc_cycles"
)

// Query outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeDegraded    = "degraded"
	OutcomeNoEvidence  = "no_evidence"
	OutcomeGenFailed   = "generation_failed"
	OutcomeInvalid     = "invalid"
	OutcomeDimMismatch = "dimension_mismatch"
)

// Instruments records the engine's domain metrics into a Registry.
type Instruments struct {
	reg *Registry
}

// NewInstruments binds the domain metrics to reg.
func NewInstruments(reg *Registry) *Instruments { return &Instruments{reg: reg} }

// Registry returns the underlying registry.
func (in *Instruments) Registry() *Registry { return in.reg }

// IngestRecord counts one ingested or failed record.
func (in *Instruments) IngestRecord(m domain.Modality, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	in.reg.Counter(IngestRecordsTotal, "Records processed by ingestion.",
		"modality", string(m), "outcome", outcome).Inc()
}

// Search records one modality search.
func (in *Instruments) Search(m domain.Modality, took time.Duration, err error) {
	in.reg.Histogram(SearchDurationSeconds, "Vector search latency.", nil, "modality", string(m)).ObserveDuration(took)
	if err != nil {
		in.reg.Counter(SearchFailuresTotal, "Failed vector searches.", "modality", string(m)).Inc()
	}
}

// Query records one chat question end to end.
func (in *Instruments) Query(outcome string, took time.Duration) {
	in.reg.Histogram(QueryDurationSeconds, "Chat question latency.", nil).ObserveDuration(took)
	in.reg.Counter(QueriesTotal, "Chat questions by outcome.", "outcome", outcome).Inc()
	if outcome == OutcomeGenFailed {
		in.reg.Counter(GenerationFailures, "Failed LLM completions.").Inc()
	}
}

// CollectRuntime samples goroutine count and heap stats every interval until
// ctx is done.
func CollectRuntime(ctx context.Context, reg *Registry, interval time.Duration) {
	sample := func() {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		reg.Gauge(RuntimeGoroutines, "Live goroutines.").Set(float64(runtime.NumGoroutine()))
		reg.Gauge(RuntimeHeapAllocBytes, "Heap bytes allocated.").Set(float64(ms.HeapAlloc))
		reg.Gauge(RuntimeGCCyclesTotal, "Completed GC cycles.").Set(float64(ms.NumGC))
	}
	sample()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sample()
		}
	}
}
