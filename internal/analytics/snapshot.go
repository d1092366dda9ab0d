package analytics

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"autopilot-mcp-server/internal/action"
)

// SnapshotVersion tags persisted snapshots for forward compatibility.
const SnapshotVersion = "1.0.0"

// Snapshot is the durable representation of the store. Every field is
// optional on load; absent or malformed fields fall back to zero values so a
// partially corrupt snapshot still restores what it can.
type Snapshot struct {
	Version           string                     `json:"version"`
	Files             map[string]TargetAggregate `json:"files"`
	Sessions          []SessionEntry             `json:"sessions"`
	ActionTypeCounts  map[action.Type]int        `json:"action_type_counts"`
	TotalAccepted     int                        `json:"total_accepted"`
	SessionStart      time.Time                  `json:"session_start"`
	TotalTimeSaved    time.Duration              `json:"total_time_saved"`
	WorkflowSessions  []WorkflowSession          `json:"workflow_sessions"`
	ManualBaseline    time.Duration              `json:"manual_baseline"`
	AutomatedBaseline time.Duration              `json:"automated_baseline"`
	SavedAt           time.Time                  `json:"saved_at"`
}

// EncodeSnapshot serializes a snapshot for the durable slot.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analytics snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot restores a snapshot field by field. A field that fails to
// unmarshal is skipped with a warning rather than aborting the whole load,
// so snapshots written by older or newer builds restore their shared fields.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode analytics snapshot: %w", err)
	}

	var snap Snapshot
	decodeField(raw, "version", &snap.Version)
	decodeField(raw, "files", &snap.Files)
	decodeField(raw, "sessions", &snap.Sessions)
	decodeField(raw, "action_type_counts", &snap.ActionTypeCounts)
	decodeField(raw, "total_accepted", &snap.TotalAccepted)
	decodeField(raw, "session_start", &snap.SessionStart)
	decodeField(raw, "total_time_saved", &snap.TotalTimeSaved)
	decodeField(raw, "workflow_sessions", &snap.WorkflowSessions)
	decodeField(raw, "manual_baseline", &snap.ManualBaseline)
	decodeField(raw, "automated_baseline", &snap.AutomatedBaseline)
	decodeField(raw, "saved_at", &snap.SavedAt)
	return snap, nil
}

func decodeField(raw map[string]json.RawMessage, key string, dst any) {
	msg, ok := raw[key]
	if !ok {
		return
	}
	if err := json.Unmarshal(msg, dst); err != nil {
		log.Printf("analytics: skipping malformed snapshot field %q: %v", key, err)
	}
}

// snapshotLocked captures the current state for persistence. Caller holds s.mu.
func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:           SnapshotVersion,
		Files:             make(map[string]TargetAggregate, len(s.files)),
		Sessions:          append([]SessionEntry(nil), s.sessions...),
		ActionTypeCounts:  make(map[action.Type]int, len(s.actionTypeCounts)),
		TotalAccepted:     s.totalAccepted,
		SessionStart:      s.sessionStart,
		TotalTimeSaved:    s.totalTimeSaved,
		WorkflowSessions:  append([]WorkflowSession(nil), s.workflowSessions...),
		ManualBaseline:    s.manualBaseline,
		AutomatedBaseline: s.automatedBaseline,
		SavedAt:           s.now(),
	}
	for target, agg := range s.files {
		copied := *agg
		copied.ActionTypeCounts = make(map[action.Type]int, len(agg.ActionTypeCounts))
		for typ, count := range agg.ActionTypeCounts {
			copied.ActionTypeCounts[typ] = count
		}
		snap.Files[target] = copied
	}
	for typ, count := range s.actionTypeCounts {
		snap.ActionTypeCounts[typ] = count
	}
	return snap
}

// restore merges a loaded snapshot into a freshly constructed store. Operation
// dedup records are deliberately not persisted; their windows are shorter than
// any plausible restart.
func (s *Store) restore(snap Snapshot) {
	if snap.Version != "" && snap.Version != SnapshotVersion {
		log.Printf("analytics: restoring snapshot version %s (current %s)", snap.Version, SnapshotVersion)
	}

	for target, agg := range snap.Files {
		copied := agg
		if copied.ActionTypeCounts == nil {
			copied.ActionTypeCounts = make(map[action.Type]int)
		}
		s.files[target] = &copied
	}
	s.sessions = snap.Sessions
	if len(s.sessions) > MaxSessionLog {
		s.sessions = s.sessions[len(s.sessions)-MaxSessionLog:]
	}
	for typ, count := range snap.ActionTypeCounts {
		s.actionTypeCounts[typ] = count
	}
	s.totalAccepted = snap.TotalAccepted
	if !snap.SessionStart.IsZero() {
		s.sessionStart = snap.SessionStart
	}
	s.totalTimeSaved = snap.TotalTimeSaved
	s.workflowSessions = snap.WorkflowSessions
	if len(s.workflowSessions) > MaxSessionLog {
		s.workflowSessions = s.workflowSessions[len(s.workflowSessions)-MaxSessionLog:]
	}
	s.manualBaseline = snap.ManualBaseline
	s.automatedBaseline = snap.AutomatedBaseline
}
