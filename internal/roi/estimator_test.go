package roi

import (
	"testing"
	"time"

	"autopilot-mcp-server/internal/action"
)

func TestEstimateSavedNoSamplesFallsBackToBaseline(t *testing.T) {
	e := NewEstimator()

	want := action.Lookup(action.Accept).BaseManual - AutomatedBaseline
	if got := e.EstimateSaved(action.Accept); got != want {
		t.Fatalf("expected baseline fallback %v, got %v", want, got)
	}
}

func TestEstimateSavedFullConfidence(t *testing.T) {
	e := NewEstimator()

	// 3 manual + 2 automated samples: confidence = min(5/5, 1) = 1.
	e.RecordManual(action.Accept, 15000*time.Millisecond)
	e.RecordManual(action.Accept, 14000*time.Millisecond)
	e.RecordManual(action.Accept, 16000*time.Millisecond)
	e.RecordAutomated(action.Accept, 120*time.Millisecond)
	e.RecordAutomated(action.Accept, 140*time.Millisecond)

	if got := e.Confidence(action.Accept); got != 1.0 {
		t.Fatalf("expected confidence 1.0, got %v", got)
	}

	// avgManual = 15000, avgAuto = 130 -> saved = 14870ms; unclamped.
	got := e.EstimateSaved(action.Accept)
	want := 14870 * time.Millisecond
	if got != want {
		t.Fatalf("expected %v saved, got %v", want, got)
	}
}

func TestConservativeClampBelowHalfConfidence(t *testing.T) {
	e := NewEstimator()

	// 2 samples: confidence = 0.4 < 0.5, so the estimate is capped at
	// base*0.7 - automatedBaseline even though the raw delta is enormous.
	e.RecordManual(action.Accept, 60000*time.Millisecond)
	e.RecordAutomated(action.Accept, 100*time.Millisecond)

	if got := e.Confidence(action.Accept); got != 0.4 {
		t.Fatalf("expected confidence 0.4, got %v", got)
	}

	base := action.Lookup(action.Accept).BaseManual
	clamp := time.Duration(float64(base)*0.7) - AutomatedBaseline
	if got := e.EstimateSaved(action.Accept); got > clamp {
		t.Fatalf("estimate %v exceeds conservative clamp %v", got, clamp)
	}
}

func TestConfidenceNeverDecreases(t *testing.T) {
	e := NewEstimator()

	prev := e.Confidence(action.Run)
	for i := 0; i < 8; i++ {
		e.RecordAutomated(action.Run, 100*time.Millisecond)
		cur := e.Confidence(action.Run)
		if cur < prev {
			t.Fatalf("confidence decreased from %v to %v after sample %d", prev, cur, i+1)
		}
		prev = cur
	}
	if prev != 1.0 {
		t.Fatalf("expected saturated confidence 1.0, got %v", prev)
	}
}

func TestRecentWindowAveraging(t *testing.T) {
	e := NewEstimator()

	// 15 samples; only the newest 10 feed the average.
	for i := 0; i < 5; i++ {
		e.RecordManual(action.Apply, 1000*time.Millisecond)
	}
	for i := 0; i < 10; i++ {
		e.RecordManual(action.Apply, 2000*time.Millisecond)
	}

	stats := e.AggregateStatistics()
	if got := stats.Types[action.Apply].AverageManualMs; got != 2000 {
		t.Fatalf("expected recent-window average 2000ms, got %dms", got)
	}
}

func TestSampleWindowBounded(t *testing.T) {
	e := NewEstimator()

	for i := 0; i < MaxSamples+25; i++ {
		e.RecordManual(action.Run, time.Second)
	}

	stats := e.AggregateStatistics()
	if got := stats.Types[action.Run].SampleCount; got != MaxSamples {
		t.Fatalf("expected window capped at %d samples, got %d", MaxSamples, got)
	}
}

func TestAggregateStatisticsGlobalEfficiency(t *testing.T) {
	e := NewEstimator()

	e.RecordManual(action.Accept, 10000*time.Millisecond)
	e.RecordAutomated(action.Accept, 100*time.Millisecond)

	stats := e.AggregateStatistics()
	if stats.TotalMeasurements != 2 {
		t.Fatalf("expected 2 measurements, got %d", stats.TotalMeasurements)
	}
	// Single type dominating: efficiency = (10000-100)/10000 = 99%.
	if stats.GlobalEfficiencyPercent != 99 {
		t.Fatalf("expected 99%% global efficiency, got %d%%", stats.GlobalEfficiencyPercent)
	}
	ts := stats.Types[action.Accept]
	if ts.EfficiencyPercent != 99 {
		t.Fatalf("expected 99%% type efficiency, got %d%%", ts.EfficiencyPercent)
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	e := NewEstimator()

	e.RecordManual(action.Accept, time.Second)
	e.RecordAutomated(action.Accept, time.Millisecond)
	e.Reset()

	if got := e.Confidence(action.Accept); got != 0 {
		t.Fatalf("expected zero confidence after reset, got %v", got)
	}
	want := action.Lookup(action.Accept).BaseManual - AutomatedBaseline
	if got := e.EstimateSaved(action.Accept); got != want {
		t.Fatalf("expected baseline estimate after reset, got %v", got)
	}
}

func TestUnknownTypeInitializedOnFirstSample(t *testing.T) {
	e := NewEstimator()

	custom := action.Type("mystery")
	e.RecordAutomated(custom, 90*time.Millisecond)

	stats := e.AggregateStatistics()
	ts, ok := stats.Types[custom]
	if !ok {
		t.Fatal("expected unknown type to be tracked after first sample")
	}
	if ts.SampleCount != 1 {
		t.Fatalf("expected 1 sample, got %d", ts.SampleCount)
	}
}
