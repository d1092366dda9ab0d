package dedup

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"autopilot-mcp-server/internal/action"
)

const (
	// DefaultCooldown is the minimum spacing between two triggers considered
	// the same by identity or operation key.
	DefaultCooldown = 2 * time.Second
	// MaxTracked caps each trigger map; oldest entries past the cap are evicted.
	MaxTracked = 100
)

// Element carries the identifying properties of a candidate used to derive
// its identity key. Geometry is bucketed coarsely so sub-pixel re-renders of
// the same visual node still collide.
type Element struct {
	Tag     string
	Classes string
	Text    string
	X       float64
	Y       float64
}

// Context describes the logical operation a trigger belongs to.
type Context struct {
	Target string
	Action action.Type
}

// IdentityKey derives the dedup key for an element at a given clock time.
// Pure function of its inputs so guard logic is testable with synthetic
// elements and fixed clocks. The second-granularity time bucket makes keys
// inherently short-lived; they are never persisted.
func IdentityKey(el Element, target string, now time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s:%d,%d:%d",
		el.Tag, el.Classes, strings.TrimSpace(el.Text), target,
		int(el.X+0.5), int(el.Y+0.5), now.Unix())
}

// OperationKey derives the target+action dedup key. Missing fields degrade to
// a constant "unknown" bucket, which deduplicates unrelated untargeted
// actions against each other within the cooldown window. Conservative on
// purpose: the host UI re-renders equivalent nodes for the same logical
// action and we would rather drop a legitimate rapid action than double-fire.
func OperationKey(target string, typ action.Type) string {
	if target == "" {
		target = "unknown"
	}
	name := string(typ)
	if name == "" {
		name = "unknown"
	}
	return target + ":" + name
}

// Guard enforces "at most one trigger per logical occurrence". It tracks
// recent triggers under two independent keys: the element identity key
// catches literal re-triggering of the same visual node across rapid
// re-scans, and the operation key catches equivalent-but-distinct nodes the
// UI re-renders for the same logical action. Both checks are needed; the host
// UI is observed to do both.
type Guard struct {
	mu                sync.Mutex
	cooldown          time.Duration
	maxTracked        int
	elementTriggers   map[string]time.Time
	operationTriggers map[string]time.Time
	now               func() time.Time
}

// NewGuard creates a guard with the default cooldown and map cap.
func NewGuard() *Guard {
	return &Guard{
		cooldown:          DefaultCooldown,
		maxTracked:        MaxTracked,
		elementTriggers:   make(map[string]time.Time),
		operationTriggers: make(map[string]time.Time),
		now:               time.Now,
	}
}

// SetClock overrides the time source, used by tests.
func (g *Guard) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// SetCooldown adjusts the cooldown window at runtime.
func (g *Guard) SetCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldown = d
}

// Cooldown returns the active cooldown window.
func (g *Guard) Cooldown() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldown
}

// CanTrigger reports whether triggering the element is currently permitted.
// It rejects when either the element identity key or the operation key was
// recorded within the cooldown window.
func (g *Guard) CanTrigger(el Element, ctx Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.elementTriggers[IdentityKey(el, ctx.Target, now)]; ok {
		if now.Sub(last) < g.cooldown {
			return false
		}
	}
	if last, ok := g.operationTriggers[OperationKey(ctx.Target, ctx.Action)]; ok {
		if now.Sub(last) < g.cooldown {
			return false
		}
	}
	return true
}

// RecordTrigger marks both keys as triggered at the current time, then prunes
// expired and excess entries.
func (g *Guard) RecordTrigger(el Element, ctx Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.elementTriggers[IdentityKey(el, ctx.Target, now)] = now
	g.operationTriggers[OperationKey(ctx.Target, ctx.Action)] = now
	g.cleanupLocked(now)
}

// cleanupLocked purges entries older than 5x the cooldown and evicts the
// oldest entries beyond the map cap. Caller holds g.mu.
func (g *Guard) cleanupLocked(now time.Time) {
	expiry := g.cooldown * 5
	for _, m := range []map[string]time.Time{g.elementTriggers, g.operationTriggers} {
		for key, ts := range m {
			if now.Sub(ts) > expiry {
				delete(m, key)
			}
		}
		if len(m) > g.maxTracked {
			evictOldest(m, len(m)-g.maxTracked)
		}
	}
}

func evictOldest(m map[string]time.Time, n int) {
	type entry struct {
		key string
		ts  time.Time
	}
	entries := make([]entry, 0, len(m))
	for key, ts := range m {
		entries = append(entries, entry{key, ts})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts.Before(entries[j].ts) })
	for i := 0; i < n && i < len(entries); i++ {
		delete(m, entries[i].key)
	}
}

// Stats summarizes the guard's tracked state.
type Stats struct {
	ElementsTracked   int           `json:"elements_tracked"`
	OperationsTracked int           `json:"operations_tracked"`
	Cooldown          time.Duration `json:"cooldown"`
}

// Stats returns counters for status reporting.
func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		ElementsTracked:   len(g.elementTriggers),
		OperationsTracked: len(g.operationTriggers),
		Cooldown:          g.cooldown,
	}
}

// Reset clears all tracked triggers.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.elementTriggers = make(map[string]time.Time)
	g.operationTriggers = make(map[string]time.Time)
}
