package roi

import (
	"math"
	"sync"
	"time"

	"autopilot-mcp-server/internal/action"
)

const (
	// MaxSamples bounds each per-type sample window (FIFO eviction).
	MaxSamples = 50
	// RecentWindow is how many of the newest samples feed the running average.
	// Averaging over a short tail keeps estimates recency-weighted.
	RecentWindow = 10
	// ConfidenceThreshold is the total sample count at which an estimate is
	// considered fully trusted.
	ConfidenceThreshold = 5
	// AutomatedBaseline is the assumed automated execution cost before any
	// real samples exist for a type.
	AutomatedBaseline = 150 * time.Millisecond
)

// measurement holds the rolling sample state for one action type.
type measurement struct {
	manualSamples    []time.Duration
	automatedSamples []time.Duration
	averageManual    time.Duration
	averageAutomated time.Duration
	confidence       float64
	lastUpdated      time.Time
}

// TypeStatistics is the per-type summary exposed by AggregateStatistics.
type TypeStatistics struct {
	AverageManualMs    int64   `json:"average_manual_ms"`
	AverageAutomatedMs int64   `json:"average_automated_ms"`
	EstimatedSavedMs   int64   `json:"estimated_saved_ms"`
	ConfidencePercent  int     `json:"confidence_percent"`
	SampleCount        int     `json:"sample_count"`
	EfficiencyPercent  int     `json:"efficiency_percent"`
}

// Statistics aggregates every tracked type plus a sample-weighted global view.
type Statistics struct {
	Types                   map[action.Type]TypeStatistics `json:"types"`
	TotalMeasurements       int                            `json:"total_measurements"`
	AverageConfidencePct    int                            `json:"average_confidence_percent"`
	GlobalEfficiencyPercent int                            `json:"global_efficiency_percent"`
}

// Estimator maintains an online, confidence-aware estimate of time saved per
// action type. Averages smooth over the most recent samples and confidence
// grows with sample count, so estimates degrade gracefully with little data.
type Estimator struct {
	mu           sync.Mutex
	measurements map[action.Type]*measurement
	now          func() time.Time
}

// NewEstimator seeds every known action type with its compile-time defaults.
func NewEstimator() *Estimator {
	e := &Estimator{
		measurements: make(map[action.Type]*measurement),
		now:          time.Now,
	}
	e.initDefaultsLocked()
	return e
}

// SetClock overrides the time source, used by tests.
func (e *Estimator) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func (e *Estimator) initDefaultsLocked() {
	for _, typ := range action.All() {
		e.measurements[typ] = &measurement{
			averageManual:    action.Lookup(typ).BaseManual,
			averageAutomated: AutomatedBaseline,
		}
	}
}

func (e *Estimator) measurementLocked(typ action.Type) *measurement {
	m, ok := e.measurements[typ]
	if !ok {
		m = &measurement{
			averageManual:    action.Lookup(typ).BaseManual,
			averageAutomated: AutomatedBaseline,
		}
		e.measurements[typ] = m
	}
	return m
}

// RecordManual appends a manual-execution sample for the type.
func (e *Estimator) RecordManual(typ action.Type, cost time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.measurementLocked(typ)
	m.manualSamples = appendBounded(m.manualSamples, cost)
	e.recomputeLocked(m)
}

// RecordAutomated appends an automated-execution sample for the type.
func (e *Estimator) RecordAutomated(typ action.Type, cost time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.measurementLocked(typ)
	m.automatedSamples = appendBounded(m.automatedSamples, cost)
	e.recomputeLocked(m)
}

func appendBounded(samples []time.Duration, v time.Duration) []time.Duration {
	samples = append(samples, v)
	if len(samples) > MaxSamples {
		samples = samples[len(samples)-MaxSamples:]
	}
	return samples
}

func (e *Estimator) recomputeLocked(m *measurement) {
	if len(m.manualSamples) > 0 {
		m.averageManual = recentAverage(m.manualSamples)
	}
	if len(m.automatedSamples) > 0 {
		m.averageAutomated = recentAverage(m.automatedSamples)
	}
	total := len(m.manualSamples) + len(m.automatedSamples)
	m.confidence = math.Min(float64(total)/ConfidenceThreshold, 1.0)
	m.lastUpdated = e.now()
}

func recentAverage(samples []time.Duration) time.Duration {
	window := samples
	if len(window) > RecentWindow {
		window = window[len(window)-RecentWindow:]
	}
	var sum time.Duration
	for _, s := range window {
		sum += s
	}
	return sum / time.Duration(len(window))
}

// EstimateSaved returns the confidence-clamped time-saved estimate for a
// type. With no samples the estimate falls back to the pattern baseline minus
// the automated baseline. Below 0.5 confidence the raw estimate is capped at
// a conservative 70% of the baseline so a handful of atypical early samples
// cannot inflate savings claims.
func (e *Estimator) EstimateSaved(typ action.Type) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.measurements[typ]
	if !ok {
		return maxDuration(0, action.Lookup(typ).BaseManual-AutomatedBaseline)
	}
	return e.estimateSavedLocked(typ, m)
}

// Confidence returns the current confidence for a type in [0, 1].
func (e *Estimator) Confidence(typ action.Type) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.measurements[typ]; ok {
		return m.confidence
	}
	return 0
}

// AggregateStatistics summarizes every tracked type. Global efficiency is
// sample-count-weighted across types so heavily exercised types dominate.
func (e *Estimator) AggregateStatistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Statistics{Types: make(map[action.Type]TypeStatistics, len(e.measurements))}

	var totalConfidence, totalManual, totalAutomated float64
	totalSamples := 0

	for typ, m := range e.measurements {
		count := len(m.manualSamples) + len(m.automatedSamples)
		saved := e.estimateSavedLocked(typ, m)

		efficiency := 0
		if m.averageManual > 0 {
			efficiency = int(math.Round(float64(m.averageManual-m.averageAutomated) / float64(m.averageManual) * 100))
		}

		stats.Types[typ] = TypeStatistics{
			AverageManualMs:    m.averageManual.Milliseconds(),
			AverageAutomatedMs: m.averageAutomated.Milliseconds(),
			EstimatedSavedMs:   saved.Milliseconds(),
			ConfidencePercent:  int(math.Round(m.confidence * 100)),
			SampleCount:        count,
			EfficiencyPercent:  efficiency,
		}

		totalConfidence += m.confidence
		totalManual += float64(m.averageManual) * float64(count)
		totalAutomated += float64(m.averageAutomated) * float64(count)
		totalSamples += count
	}

	stats.TotalMeasurements = totalSamples
	if len(e.measurements) > 0 {
		stats.AverageConfidencePct = int(math.Round(totalConfidence / float64(len(e.measurements)) * 100))
	}
	if totalSamples > 0 && totalManual > 0 {
		stats.GlobalEfficiencyPercent = int(math.Round((totalManual - totalAutomated) / totalManual * 100))
	}
	return stats
}

// estimateSavedLocked mirrors EstimateSaved for callers already holding e.mu.
func (e *Estimator) estimateSavedLocked(typ action.Type, m *measurement) time.Duration {
	pattern := action.Lookup(typ)
	if len(m.manualSamples)+len(m.automatedSamples) == 0 {
		return maxDuration(0, pattern.BaseManual-AutomatedBaseline)
	}
	saved := maxDuration(0, m.averageManual-m.averageAutomated)
	if m.confidence < 0.5 {
		conservative := maxDuration(0, time.Duration(float64(pattern.BaseManual)*0.7)-AutomatedBaseline)
		if conservative < saved {
			return conservative
		}
	}
	return saved
}

// Reset clears all samples and restores the compile-time defaults.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.measurements = make(map[action.Type]*measurement)
	e.initDefaultsLocked()
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
