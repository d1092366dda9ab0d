package facts

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Config{Enable: true, BufferLimit: 100})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return e
}

func TestAddFactsAndLookupByPredicate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.Record(ctx, PredTriggerEvent, "a.ts", "accept", int64(14870))
	e.Record(ctx, PredDedupRejected, "a.ts", "accept")
	e.Record(ctx, PredTriggerEvent, "b.ts", "run", int64(19850))

	triggers := e.FactsByPredicate(PredTriggerEvent)
	if len(triggers) != 2 {
		t.Fatalf("expected 2 trigger facts, got %d", len(triggers))
	}
	if triggers[0].Args[0] != "a.ts" || triggers[1].Args[0] != "b.ts" {
		t.Fatalf("unexpected trigger facts: %+v", triggers)
	}
	if got := len(e.FactsByPredicate(PredDedupRejected)); got != 1 {
		t.Fatalf("expected 1 rejection fact, got %d", got)
	}
	if got := e.Len(); got != 3 {
		t.Fatalf("expected 3 buffered facts, got %d", got)
	}
}

func TestDisabledEngineDropsFacts(t *testing.T) {
	e, err := NewEngine(Config{Enable: false})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	e.Record(context.Background(), PredScanEmission, "mutation")
	if got := e.Len(); got != 0 {
		t.Fatalf("expected disabled engine to buffer nothing, got %d", got)
	}
	if _, err := e.Query(context.Background(), "scan_emission(X)."); err == nil {
		t.Fatal("expected query against disabled engine to fail")
	}
}

func TestBufferTrimRebuildsIndex(t *testing.T) {
	e, err := NewEngine(Config{Enable: true, BufferLimit: 10})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		e.Record(ctx, PredScanEmission, fmt.Sprintf("reason-%d", i))
	}

	if got := e.Len(); got != 10 {
		t.Fatalf("expected buffer trimmed to 10, got %d", got)
	}
	kept := e.FactsByPredicate(PredScanEmission)
	if len(kept) != 10 {
		t.Fatalf("expected 10 indexed facts after trim, got %d", len(kept))
	}
	if kept[0].Args[0] != "reason-15" {
		t.Fatalf("expected oldest surviving fact reason-15, got %v", kept[0].Args[0])
	}
}

func TestQueryTemporalWindow(t *testing.T) {
	e := newTestEngine(t)
	base := time.UnixMilli(10_000_000)

	batch := []Fact{
		{Predicate: PredRoiSample, Args: []interface{}{"accept", "manual", int64(15000)}, Timestamp: base},
		{Predicate: PredRoiSample, Args: []interface{}{"accept", "automated", int64(130)}, Timestamp: base.Add(time.Minute)},
		{Predicate: PredRoiSample, Args: []interface{}{"run", "manual", int64(20000)}, Timestamp: base.Add(2 * time.Minute)},
	}
	if err := e.AddFacts(context.Background(), batch); err != nil {
		t.Fatalf("add facts failed: %v", err)
	}

	got := e.QueryTemporal(PredRoiSample, base.Add(30*time.Second), base.Add(90*time.Second))
	if len(got) != 1 {
		t.Fatalf("expected 1 fact in window, got %d", len(got))
	}
	if got[0].Args[1] != "automated" {
		t.Fatalf("unexpected windowed fact: %+v", got[0])
	}

	all := e.QueryTemporal(PredRoiSample, time.Time{}, time.Time{})
	if len(all) != 3 {
		t.Fatalf("expected open window to return all 3, got %d", len(all))
	}
}

func TestQueryBindsVariables(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.Record(ctx, PredAcceptanceRecorded, "a.ts", "accept", int64(5), int64(2))
	e.Record(ctx, PredAcceptanceRecorded, "b.ts", "run", int64(0), int64(0))

	results, err := e.Query(ctx, "acceptance_recorded(Target, Action, Added, Deleted).")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(results))
	}

	targets := map[interface{}]bool{}
	for _, r := range results {
		targets[r["Target"]] = true
	}
	if !targets["a.ts"] || !targets["b.ts"] {
		t.Fatalf("expected both targets bound, got %v", targets)
	}
}
