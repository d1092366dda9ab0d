package analytics

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"autopilot-mcp-server/internal/action"
)

const (
	// DefaultOperationWindow is the time-bucket granularity for deduplicating
	// persisted acceptance records.
	DefaultOperationWindow = 5 * time.Second
	// MaxSessionLog caps the append-only session log.
	MaxSessionLog = 500
	// UnknownTarget is the bucket for acceptances with no target metadata.
	UnknownTarget = "unknown-file"
)

// TargetAggregate accumulates per-target counters. Created on the first
// accepted operation for a target and mutated on every subsequent one; only
// an explicit reset removes it.
type TargetAggregate struct {
	AcceptCount      int                 `json:"accept_count"`
	FirstSeen        time.Time           `json:"first_seen"`
	LastSeen         time.Time           `json:"last_seen"`
	CumulativeAdded  int                 `json:"cumulative_added"`
	CumulativeDeleted int                `json:"cumulative_deleted"`
	ActionTypeCounts map[action.Type]int `json:"action_type_counts"`
}

// SessionEntry is one accepted action in the bounded audit log.
type SessionEntry struct {
	Target       string        `json:"target"`
	AddedLines   int           `json:"added_lines"`
	DeletedLines int           `json:"deleted_lines"`
	Timestamp    time.Time     `json:"timestamp"`
	ActionType   action.Type   `json:"action_type"`
	TimeSaved    time.Duration `json:"time_saved"`
	OperationID  string        `json:"operation_id"`
}

// WorkflowSession mirrors a session entry under the ROI rollup; calibration
// rewrites its TimeSaved in place.
type WorkflowSession struct {
	Timestamp   time.Time     `json:"timestamp"`
	ActionType  action.Type   `json:"action_type"`
	TimeSaved   time.Duration `json:"time_saved"`
	Target      string        `json:"target"`
	OperationID string        `json:"operation_id"`
}

// operationRecord tracks one logical occurrence for time-bucket dedup.
type operationRecord struct {
	Target     string
	ActionType action.Type
	Timestamp  time.Time
}

// Persister is the durable key-value slot behind the store. Implementations
// must never let a failed read corrupt in-memory state.
type Persister interface {
	Save(snap Snapshot) error
	Load() (Snapshot, bool, error)
	Clear() error
}

// Store records each accepted action as a deduplicated, time-bucketed
// operation, aggregates per-target and per-action-type counters, and writes
// through to the durable slot after every mutation.
type Store struct {
	mu              sync.Mutex
	operationWindow time.Duration

	files            map[string]*TargetAggregate
	operations       map[string]operationRecord
	sessions         []SessionEntry
	actionTypeCounts map[action.Type]int
	totalAccepted    int
	sessionStart     time.Time

	totalTimeSaved    time.Duration
	workflowSessions  []WorkflowSession
	manualBaseline    time.Duration
	automatedBaseline time.Duration

	persister Persister
	now       func() time.Time
}

// NewStore builds a store and restores prior state from the persister.
// Malformed or missing persisted data falls back to a fresh session with a
// recoverable warning; it never fails construction.
func NewStore(p Persister) *Store {
	s := &Store{
		operationWindow:  DefaultOperationWindow,
		files:            make(map[string]*TargetAggregate),
		operations:       make(map[string]operationRecord),
		actionTypeCounts: make(map[action.Type]int),
		persister:        p,
		now:              time.Now,
	}
	s.sessionStart = s.now()

	if p != nil {
		snap, ok, err := p.Load()
		if err != nil {
			log.Printf("analytics: failed to load persisted state, starting fresh: %v", err)
		} else if ok {
			s.restore(snap)
		}
	}
	return s
}

// SetClock overrides the time source, used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetOperationWindow adjusts the dedup bucket width at runtime.
func (s *Store) SetOperationWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operationWindow = d
}

// OperationWindow returns the active dedup bucket width.
func (s *Store) OperationWindow() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.operationWindow
}

// OperationID derives the dedup key for an acceptance: target, action type,
// and the operation-window bucket the timestamp falls in.
func (s *Store) OperationID(target string, typ action.Type, ts time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.operationIDLocked(target, typ, ts)
}

func (s *Store) operationIDLocked(target string, typ action.Type, ts time.Time) string {
	if target == "" {
		target = UnknownTarget
	}
	bucket := ts.UnixMilli() / s.operationWindow.Milliseconds()
	return fmt.Sprintf("%s:%s:%d", target, typ, bucket)
}

// IsDuplicate reports whether an equivalent acceptance was already recorded
// within the same operation window. This layer is independent of the dedup
// guard upstream; it protects the persisted counters even if a caller
// bypasses the guard.
func (s *Store) IsDuplicate(target string, typ action.Type, ts time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.operations[s.operationIDLocked(target, typ, ts)]
	return exists
}

// Acceptance describes one accepted action to record.
type Acceptance struct {
	Target       string
	ActionType   action.Type
	AddedLines   int
	DeletedLines int
	TimeSaved    time.Duration
	Timestamp    time.Time
}

// RecordAcceptance records an accepted action. Returns false without
// mutating any counter when the operation duplicates one already in its
// window; otherwise it updates every aggregate and persists synchronously.
func (s *Store) RecordAcceptance(a Acceptance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.Timestamp.IsZero() {
		a.Timestamp = s.now()
	}
	if a.Target == "" {
		a.Target = UnknownTarget
	}

	opID := s.operationIDLocked(a.Target, a.ActionType, a.Timestamp)
	if _, exists := s.operations[opID]; exists {
		return false
	}
	s.operations[opID] = operationRecord{
		Target:     a.Target,
		ActionType: a.ActionType,
		Timestamp:  a.Timestamp,
	}

	agg, ok := s.files[a.Target]
	if !ok {
		agg = &TargetAggregate{
			FirstSeen:        a.Timestamp,
			ActionTypeCounts: make(map[action.Type]int),
		}
		s.files[a.Target] = agg
	}
	agg.AcceptCount++
	agg.LastSeen = a.Timestamp
	// A zero-delta update must not reset cumulative totals; only accumulate
	// when the operation actually changed lines.
	if a.AddedLines > 0 || a.DeletedLines > 0 {
		agg.CumulativeAdded += a.AddedLines
		agg.CumulativeDeleted += a.DeletedLines
	}
	agg.ActionTypeCounts[a.ActionType]++

	s.sessions = append(s.sessions, SessionEntry{
		Target:       a.Target,
		AddedLines:   a.AddedLines,
		DeletedLines: a.DeletedLines,
		Timestamp:    a.Timestamp,
		ActionType:   a.ActionType,
		TimeSaved:    a.TimeSaved,
		OperationID:  opID,
	})
	if len(s.sessions) > MaxSessionLog {
		s.sessions = s.sessions[len(s.sessions)-MaxSessionLog:]
	}

	s.actionTypeCounts[a.ActionType]++
	s.totalAccepted++
	s.totalTimeSaved += a.TimeSaved
	s.workflowSessions = append(s.workflowSessions, WorkflowSession{
		Timestamp:   a.Timestamp,
		ActionType:  a.ActionType,
		TimeSaved:   a.TimeSaved,
		Target:      a.Target,
		OperationID: opID,
	})
	if len(s.workflowSessions) > MaxSessionLog {
		s.workflowSessions = s.workflowSessions[len(s.workflowSessions)-MaxSessionLog:]
	}

	s.persistLocked()
	return true
}

// CleanupOperations purges operation records older than 10x the window.
func (s *Store) CleanupOperations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupOperationsLocked()
}

func (s *Store) cleanupOperationsLocked() {
	now := s.now()
	expiry := s.operationWindow * 10
	for id, op := range s.operations {
		if now.Sub(op.Timestamp) > expiry {
			delete(s.operations, id)
		}
	}
}

// CalibrateWorkflow overrides the manual/automated workflow baselines and
// recomputes the saved time of every recorded workflow session against them.
func (s *Store) CalibrateWorkflow(manual, automated time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.manualBaseline = manual
	s.automatedBaseline = automated

	perSession := manual - automated
	s.totalTimeSaved = 0
	for i := range s.workflowSessions {
		s.workflowSessions[i].TimeSaved = perSession
		s.totalTimeSaved += perSession
	}
	s.persistLocked()
}

// TotalAccepted returns the running accepted-action counter.
func (s *Store) TotalAccepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalAccepted
}

// TotalTimeSaved returns the cumulative ROI figure.
func (s *Store) TotalTimeSaved() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalTimeSaved
}

// TargetSummary is one row of the most-active-targets export.
type TargetSummary struct {
	Target string `json:"target"`
	TargetAggregate
}

// TypeCount pairs an action type with its global counter.
type TypeCount struct {
	Type  action.Type `json:"type"`
	Count int         `json:"count"`
}

// Report is the read-only detailed export of the store.
type Report struct {
	TotalAccepted     int             `json:"total_accepted"`
	SessionStart      time.Time       `json:"session_start"`
	SessionDuration   time.Duration   `json:"session_duration"`
	OperationsTracked int             `json:"operations_tracked"`
	TotalFiles        int             `json:"total_files"`
	TotalAdded        int             `json:"total_added"`
	TotalDeleted      int             `json:"total_deleted"`
	MostActiveTargets []TargetSummary `json:"most_active_targets"`
	ActionTypeCounts  []TypeCount     `json:"action_type_counts"`
	TotalTimeSaved    time.Duration   `json:"total_time_saved"`
	AverageSavedPerOp time.Duration   `json:"average_saved_per_op"`
	RecentSessions    []SessionEntry  `json:"recent_sessions"`
}

// Export builds the detailed analytics report. Expired operation records are
// swept first so OperationsTracked reflects live buckets only.
func (s *Store) Export() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupOperationsLocked()

	report := Report{
		TotalAccepted:     s.totalAccepted,
		SessionStart:      s.sessionStart,
		SessionDuration:   s.now().Sub(s.sessionStart),
		OperationsTracked: len(s.operations),
		TotalFiles:        len(s.files),
		TotalTimeSaved:    s.totalTimeSaved,
	}

	summaries := make([]TargetSummary, 0, len(s.files))
	for target, agg := range s.files {
		report.TotalAdded += agg.CumulativeAdded
		report.TotalDeleted += agg.CumulativeDeleted
		summaries = append(summaries, TargetSummary{Target: target, TargetAggregate: *agg})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].AcceptCount != summaries[j].AcceptCount {
			return summaries[i].AcceptCount > summaries[j].AcceptCount
		}
		return summaries[i].Target < summaries[j].Target
	})
	if len(summaries) > 5 {
		summaries = summaries[:5]
	}
	report.MostActiveTargets = summaries

	counts := make([]TypeCount, 0, len(s.actionTypeCounts))
	for typ, count := range s.actionTypeCounts {
		counts = append(counts, TypeCount{Type: typ, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Type < counts[j].Type
	})
	report.ActionTypeCounts = counts

	if s.totalAccepted > 0 {
		report.AverageSavedPerOp = s.totalTimeSaved / time.Duration(s.totalAccepted)
	}

	recent := s.sessions
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}
	report.RecentSessions = append([]SessionEntry(nil), recent...)

	return report
}

// Clear zeroes every counter, clears the durable slot, and starts a fresh
// session.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files = make(map[string]*TargetAggregate)
	s.operations = make(map[string]operationRecord)
	s.sessions = nil
	s.actionTypeCounts = make(map[action.Type]int)
	s.totalAccepted = 0
	s.totalTimeSaved = 0
	s.workflowSessions = nil
	s.sessionStart = s.now()

	if s.persister != nil {
		if err := s.persister.Clear(); err != nil {
			log.Printf("analytics: failed to clear durable store: %v", err)
		}
	}
}

// persistLocked writes the current snapshot through to the durable slot.
// Persistence failures leave in-memory state operating un-persisted until
// the next successful write. Caller holds s.mu.
func (s *Store) persistLocked() {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(s.snapshotLocked()); err != nil {
		log.Printf("analytics: failed to persist state: %v", err)
	}
}

// SaveNow forces a write-through, used on shutdown.
func (s *Store) SaveNow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked()
}
