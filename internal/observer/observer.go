package observer

import (
	"sync"
	"time"
)

const (
	// DefaultDebounce is how long mutations must be quiet before a scan fires.
	DefaultDebounce = 500 * time.Millisecond
	// DefaultCooldown is the minimum spacing between two emitted scans,
	// regardless of mutation pressure.
	DefaultCooldown = time.Second
)

// Observer coalesces bursts of mutation records into scan requests. Relevant
// batches arm (or re-arm) a debounce timer; when it fires, a scan is emitted
// unless one was emitted within the cooldown window. Irrelevant batches are
// dropped without touching the timer.
type Observer struct {
	mu       sync.Mutex
	debounce time.Duration
	cooldown time.Duration
	timer    *time.Timer
	lastScan time.Time
	dropped  int
	emitted  int
	emit     func()
	now      func() time.Time
}

// New builds an observer that calls emit for each coalesced scan request.
// emit runs on the timer goroutine and must not block.
func New(emit func()) *Observer {
	return &Observer{
		debounce: DefaultDebounce,
		cooldown: DefaultCooldown,
		emit:     emit,
		now:      time.Now,
	}
}

// SetClock overrides the time source for the cooldown check, used by tests.
func (o *Observer) SetClock(now func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = now
}

// SetDebounce adjusts the debounce window.
func (o *Observer) SetDebounce(d time.Duration) {
	if d <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.debounce = d
}

// SetCooldown adjusts the scan cooldown window.
func (o *Observer) SetCooldown(d time.Duration) {
	if d < 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cooldown = d
}

// Enqueue feeds a batch of mutation records into the observer. The batch is
// discarded when no record passes the relevance filter.
func (o *Observer) Enqueue(records []Record) {
	if !Relevant(records) {
		o.mu.Lock()
		o.dropped++
		o.mu.Unlock()
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(o.debounce, o.fire)
}

func (o *Observer) fire() {
	o.mu.Lock()
	now := o.now()
	if !o.lastScan.IsZero() && now.Sub(o.lastScan) < o.cooldown {
		o.mu.Unlock()
		return
	}
	o.lastScan = now
	o.emitted++
	emit := o.emit
	o.mu.Unlock()

	if emit != nil {
		emit()
	}
}

// Stop cancels any pending debounce timer. The observer stays usable; a
// later Enqueue re-arms it.
func (o *Observer) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

// Stats summarizes the observer's activity.
type Stats struct {
	ScansEmitted   int           `json:"scans_emitted"`
	BatchesDropped int           `json:"batches_dropped"`
	Debounce       time.Duration `json:"debounce"`
	Cooldown       time.Duration `json:"cooldown"`
}

// Stats returns counters for status reporting.
func (o *Observer) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{
		ScansEmitted:   o.emitted,
		BatchesDropped: o.dropped,
		Debounce:       o.debounce,
		Cooldown:       o.cooldown,
	}
}
