package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	MaxRotatedFiles = 3
	TraceDir        = "data/traces"
)

// Decision event types written to the trace.
const (
	EventScan          = "scan"
	EventClassified    = "classified"
	EventTriggered     = "triggered"
	EventTriggerFailed = "trigger_failed"
	EventDedupRejected = "dedup_rejected"
	EventTypeDisabled  = "type_disabled"
	EventCalibrated    = "calibrated"
)

// Event is a single decision-trace record: what the pipeline saw, what it
// decided, and why.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data"`
}

// TriggerData is the payload for classified/triggered/rejected events.
type TriggerData struct {
	Target       string `json:"target,omitempty"`
	ActionType   string `json:"action_type"`
	ElementText  string `json:"element_text,omitempty"`
	TimeSavedMs  int64  `json:"time_saved_ms,omitempty"`
	AddedLines   int    `json:"added_lines,omitempty"`
	DeletedLines int    `json:"deleted_lines,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Recorder writes rotating JSONL decision traces for post-hoc debugging of
// why an element did or did not fire.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	basePath string
}

// NewRecorder creates a recorder, ensuring the trace directory exists.
func NewRecorder(basePath string) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{basePath: basePath}, nil
}

// Start begins a new trace for a session, rotating old files so only the
// newest MaxRotatedFiles remain.
func (r *Recorder) Start(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}

	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	filename := fmt.Sprintf("trace_%s_%d.jsonl", sessionID, time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(r.basePath, filename))
	if err != nil {
		return err
	}

	r.file = f
	r.encoder = json.NewEncoder(f)
	return nil
}

// Log writes an event to the current trace. A recorder without an active
// trace drops events silently; tracing is best-effort.
func (r *Recorder) Log(eventType, sessionID string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}

	_ = r.encoder.Encode(Event{
		Timestamp: time.Now(),
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
	})
}

// LogTrigger records a fired action.
func (r *Recorder) LogTrigger(sessionID string, data TriggerData) {
	r.Log(EventTriggered, sessionID, data)
}

// LogRejection records a dedup-suppressed candidate.
func (r *Recorder) LogRejection(sessionID string, data TriggerData) {
	data.Reason = "cooldown"
	r.Log(EventDedupRejected, sessionID, data)
}

// rotate keeps only the newest MaxRotatedFiles traces.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	var traces []struct {
		Name string
		Time time.Time
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, struct {
			Name string
			Time time.Time
		}{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		return traces[i].Time.After(traces[j].Time)
	})

	if len(traces) >= MaxRotatedFiles {
		for i := MaxRotatedFiles - 1; i < len(traces); i++ {
			_ = os.Remove(filepath.Join(r.basePath, traces[i].Name))
		}
	}
	return nil
}

// Close finishes the current trace.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		r.encoder = nil
		return err
	}
	return nil
}
