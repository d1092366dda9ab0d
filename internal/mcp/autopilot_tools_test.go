package mcp

import (
	"testing"

	"autopilot-mcp-server/internal/engine"
	"autopilot-mcp-server/internal/locator"
)

func acceptCandidate() locator.Candidate {
	return locator.Candidate{
		Ref:       "div.anysphere-button",
		Tag:       "div",
		Classes:   "anysphere-button",
		Text:      "Accept",
		X:         100,
		Y:         200,
		BlockText: "src/utils.ts +12 -3",
	}
}

func TestStartStopAutopilot(t *testing.T) {
	server, _, attacher := setupTestServer(t)

	result, err := server.ExecuteTool("start-autopilot", nil)
	if err != nil {
		t.Fatalf("start-autopilot failed: %v", err)
	}
	resultMap := result.(map[string]interface{})
	if running, _ := resultMap["running"].(bool); !running {
		t.Error("expected running=true after start")
	}
	if resultMap["session_id"] != "fake-session" {
		t.Errorf("expected attacher session id, got %v", resultMap["session_id"])
	}
	if !attacher.Connected() {
		t.Error("expected attacher to be connected")
	}
	attacher.mu.Lock()
	streaming := attacher.streaming
	attacher.mu.Unlock()
	if !streaming {
		t.Error("expected mutation stream to be started")
	}

	// Idempotent restart.
	if _, err := server.ExecuteTool("start-autopilot", nil); err != nil {
		t.Fatalf("second start-autopilot failed: %v", err)
	}

	result, err = server.ExecuteTool("stop-autopilot", nil)
	if err != nil {
		t.Fatalf("stop-autopilot failed: %v", err)
	}
	resultMap = result.(map[string]interface{})
	if running, _ := resultMap["running"].(bool); running {
		t.Error("expected running=false after stop")
	}
}

func TestScanNowTriggers(t *testing.T) {
	server, src, _ := setupTestServer(t)
	src.mu.Lock()
	src.candidates = []locator.Candidate{acceptCandidate()}
	src.mu.Unlock()

	result, err := server.ExecuteTool("scan-now", nil)
	if err != nil {
		t.Fatalf("scan-now failed: %v", err)
	}

	src.mu.Lock()
	clicks := len(src.clicked)
	src.mu.Unlock()
	if clicks != 1 {
		t.Fatalf("expected 1 click from forced scan, got %d", clicks)
	}

	st := result.(map[string]interface{})["status"].(engine.Status)
	if st.Triggers != 1 {
		t.Errorf("expected 1 trigger in status, got %d", st.Triggers)
	}
}

func TestConfigureAutopilot(t *testing.T) {
	server, src, _ := setupTestServer(t)
	src.mu.Lock()
	src.candidates = []locator.Candidate{acceptCandidate()}
	src.mu.Unlock()

	t.Run("disable accept", func(t *testing.T) {
		_, err := server.ExecuteTool("configure-autopilot", map[string]interface{}{
			"enabled_action_types": []interface{}{"run", "run_command"},
		})
		if err != nil {
			t.Fatalf("configure failed: %v", err)
		}

		if _, err := server.ExecuteTool("scan-now", nil); err != nil {
			t.Fatalf("scan-now failed: %v", err)
		}
		src.mu.Lock()
		clicks := len(src.clicked)
		src.mu.Unlock()
		if clicks != 0 {
			t.Fatalf("expected accept disabled, got %d clicks", clicks)
		}
	})

	t.Run("tune windows", func(t *testing.T) {
		result, err := server.ExecuteTool("configure-autopilot", map[string]interface{}{
			"cooldown_period_ms": float64(3000),
			"debounce_delay_ms":  float64(250),
		})
		if err != nil {
			t.Fatalf("configure failed: %v", err)
		}
		st := result.(map[string]interface{})["status"].(engine.Status)
		if st.Guard.Cooldown.Milliseconds() != 3000 {
			t.Errorf("expected guard cooldown 3000ms, got %v", st.Guard.Cooldown)
		}
		if st.Observer.Debounce.Milliseconds() != 250 {
			t.Errorf("expected debounce 250ms, got %v", st.Observer.Debounce)
		}
	})
}

func TestCalibrateWorkflowValidation(t *testing.T) {
	server, _, _ := setupTestServer(t)

	tests := []struct {
		name    string
		args    map[string]interface{}
		wantErr bool
	}{
		{
			name:    "missing manual_ms",
			args:    map[string]interface{}{},
			wantErr: true,
		},
		{
			name: "automated above manual",
			args: map[string]interface{}{
				"manual_ms":    float64(1000),
				"automated_ms": float64(5000),
			},
			wantErr: true,
		},
		{
			name: "valid calibration",
			args: map[string]interface{}{
				"manual_ms":    float64(30000),
				"automated_ms": float64(2000),
			},
			wantErr: false,
		},
		{
			name: "default automated",
			args: map[string]interface{}{
				"manual_ms": float64(30000),
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := server.ExecuteTool("calibrate-workflow", tt.args)
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCalibrateRewritesSavings(t *testing.T) {
	server, src, _ := setupTestServer(t)
	src.mu.Lock()
	src.candidates = []locator.Candidate{acceptCandidate()}
	src.mu.Unlock()

	if _, err := server.ExecuteTool("scan-now", nil); err != nil {
		t.Fatalf("scan-now failed: %v", err)
	}

	result, err := server.ExecuteTool("calibrate-workflow", map[string]interface{}{
		"manual_ms":    float64(30000),
		"automated_ms": float64(2000),
	})
	if err != nil {
		t.Fatalf("calibrate-workflow failed: %v", err)
	}
	resultMap := result.(map[string]interface{})
	if got := resultMap["total_time_saved_ms"].(int64); got != 28_000 {
		t.Errorf("expected calibrated savings 28000ms, got %d", got)
	}
}

func TestRecordManualSampleValidation(t *testing.T) {
	server, _, _ := setupTestServer(t)

	t.Run("unknown action type", func(t *testing.T) {
		_, err := server.ExecuteTool("record-manual-sample", map[string]interface{}{
			"action_type": "teleport",
			"cost_ms":     float64(1000),
		})
		if err == nil {
			t.Error("expected error for unknown action type")
		}
	})

	t.Run("missing cost", func(t *testing.T) {
		_, err := server.ExecuteTool("record-manual-sample", map[string]interface{}{
			"action_type": "accept",
		})
		if err == nil {
			t.Error("expected error for missing cost_ms")
		}
	})

	t.Run("valid sample", func(t *testing.T) {
		result, err := server.ExecuteTool("record-manual-sample", map[string]interface{}{
			"action_type": "accept",
			"cost_ms":     float64(12000),
		})
		if err != nil {
			t.Fatalf("record-manual-sample failed: %v", err)
		}
		resultMap := result.(map[string]interface{})
		if resultMap["cost_ms"].(int64) != 12000 {
			t.Errorf("expected cost_ms 12000, got %v", resultMap["cost_ms"])
		}
	})

	t.Run("snake case spelling", func(t *testing.T) {
		result, err := server.ExecuteTool("record-manual-sample", map[string]interface{}{
			"action_type": "accept_all",
			"cost_ms":     float64(45000),
		})
		if err != nil {
			t.Fatalf("record-manual-sample failed for snake_case name: %v", err)
		}
		resultMap := result.(map[string]interface{})
		if resultMap["action_type"] != "acceptAll" {
			t.Errorf("expected canonical acceptAll, got %v", resultMap["action_type"])
		}
	})
}

func TestExportAndClearAnalytics(t *testing.T) {
	server, src, _ := setupTestServer(t)
	src.mu.Lock()
	src.candidates = []locator.Candidate{acceptCandidate()}
	src.mu.Unlock()

	if _, err := server.ExecuteTool("scan-now", nil); err != nil {
		t.Fatalf("scan-now failed: %v", err)
	}

	result, err := server.ExecuteTool("export-analytics", nil)
	if err != nil {
		t.Fatalf("export-analytics failed: %v", err)
	}
	report := result.(engine.Report)
	if report.Analytics.TotalAccepted != 1 {
		t.Fatalf("expected 1 accepted in export, got %d", report.Analytics.TotalAccepted)
	}
	if report.Analytics.TotalAdded != 12 || report.Analytics.TotalDeleted != 3 {
		t.Fatalf("expected diff stats 12/3, got %d/%d",
			report.Analytics.TotalAdded, report.Analytics.TotalDeleted)
	}

	if _, err := server.ExecuteTool("clear-analytics", nil); err != nil {
		t.Fatalf("clear-analytics failed: %v", err)
	}
	result, err = server.ExecuteTool("export-analytics", nil)
	if err != nil {
		t.Fatalf("export-analytics after clear failed: %v", err)
	}
	if report := result.(engine.Report); report.Analytics.TotalAccepted != 0 {
		t.Fatalf("expected empty report after clear, got %d accepted", report.Analytics.TotalAccepted)
	}
}

func TestQueryTelemetry(t *testing.T) {
	server, src, _ := setupTestServer(t)
	src.mu.Lock()
	src.candidates = []locator.Candidate{acceptCandidate()}
	src.mu.Unlock()

	if _, err := server.ExecuteTool("scan-now", nil); err != nil {
		t.Fatalf("scan-now failed: %v", err)
	}

	t.Run("requires query or predicate", func(t *testing.T) {
		_, err := server.ExecuteTool("query-telemetry", map[string]interface{}{})
		if err == nil {
			t.Error("expected error for empty query")
		}
	})

	t.Run("predicate scan", func(t *testing.T) {
		result, err := server.ExecuteTool("query-telemetry", map[string]interface{}{
			"predicate": "trigger_event",
		})
		if err != nil {
			t.Fatalf("query-telemetry failed: %v", err)
		}
		resultMap := result.(map[string]interface{})
		if resultMap["count"].(int) != 1 {
			t.Errorf("expected 1 trigger_event fact, got %v", resultMap["count"])
		}
	})

	t.Run("predicate scan with window", func(t *testing.T) {
		result, err := server.ExecuteTool("query-telemetry", map[string]interface{}{
			"predicate": "trigger_event",
			"window_ms": float64(60_000),
		})
		if err != nil {
			t.Fatalf("query-telemetry failed: %v", err)
		}
		resultMap := result.(map[string]interface{})
		if resultMap["count"].(int) != 1 {
			t.Errorf("expected 1 fact inside window, got %v", resultMap["count"])
		}
	})

	t.Run("datalog query", func(t *testing.T) {
		result, err := server.ExecuteTool("query-telemetry", map[string]interface{}{
			"query": "acceptance_recorded(Target, Action, Added, Deleted).",
		})
		if err != nil {
			t.Fatalf("query-telemetry failed: %v", err)
		}
		resultMap := result.(map[string]interface{})
		if resultMap["count"].(int) == 0 {
			t.Error("expected at least one binding for acceptance_recorded")
		}
	})
}
