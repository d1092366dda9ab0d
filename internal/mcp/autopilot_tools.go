package mcp

import (
	"context"
	"fmt"
	"time"

	"autopilot-mcp-server/internal/action"
	"autopilot-mcp-server/internal/engine"
)

// StartAutopilotTool attaches to the host UI (when a locator is wired) and
// starts the detection pipeline.
type StartAutopilotTool struct {
	controller *engine.Controller
	attacher   Attacher
}

func (t *StartAutopilotTool) Name() string { return "start-autopilot" }
func (t *StartAutopilotTool) Description() string {
	return `Start the autopilot engine: attach to the host UI and begin watching for actionable controls.

WHAT IT DOES:
- Connects to the host's Chromium instance (debugger_url or launch command from config)
- Installs the in-page mutation hook and starts draining it
- Starts the scan pipeline (classify -> dedup -> trigger -> record)

Idempotent: calling it while running re-verifies the connection and returns the current status.

Returns: {running, session_id, status}`
}
func (t *StartAutopilotTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *StartAutopilotTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.attacher != nil {
		if err := t.attacher.Connect(ctx); err != nil {
			return nil, fmt.Errorf("attach to host: %w", err)
		}
		// The mutation pump must outlive this tool call; it is torn down by
		// stop-autopilot / server shutdown, not by the request context.
		if err := t.attacher.StartMutationStream(context.Background(), t.controller.EnqueueMutations); err != nil {
			return nil, fmt.Errorf("start mutation stream: %w", err)
		}
	}

	if err := t.controller.Start(context.Background()); err != nil {
		return nil, err
	}

	st := t.controller.Status()
	result := map[string]interface{}{
		"running": st.Running,
		"status":  st,
	}
	if t.attacher != nil {
		result["session_id"] = t.attacher.SessionID()
	}
	return result, nil
}

// StopAutopilotTool halts the pipeline and flushes analytics.
type StopAutopilotTool struct {
	controller *engine.Controller
}

func (t *StopAutopilotTool) Name() string { return "stop-autopilot" }
func (t *StopAutopilotTool) Description() string {
	return `Stop the autopilot engine.

Halts scanning, cancels the pending debounce, and flushes the analytics
snapshot to durable storage. The host UI connection is kept so a later
start-autopilot resumes quickly. Idempotent.

Returns: {running, status}`
}
func (t *StopAutopilotTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *StopAutopilotTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	t.controller.Stop()
	st := t.controller.Status()
	return map[string]interface{}{
		"running": st.Running,
		"status":  st,
	}, nil
}

// GetStatusTool reports the controller's state snapshot.
type GetStatusTool struct {
	controller *engine.Controller
}

func (t *GetStatusTool) Name() string { return "get-status" }
func (t *GetStatusTool) Description() string {
	return `Get the current autopilot engine status.

Returns: {running, session_id, scans_completed, triggers, dedup_rejections,
disabled_skips, enabled_types, guard, observer, total_accepted,
total_time_saved_ms}`
}
func (t *GetStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *GetStatusTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return t.controller.Status(), nil
}

// ConfigureAutopilotTool applies runtime tuning to the pipeline.
type ConfigureAutopilotTool struct {
	controller *engine.Controller
}

func (t *ConfigureAutopilotTool) Name() string { return "configure-autopilot" }
func (t *ConfigureAutopilotTool) Description() string {
	return `Tune the running engine without restarting it.

All windows are in milliseconds; omitted or zero values leave the current
setting untouched. enabled_action_types replaces the enabled set: an empty
array re-enables every known type, unknown names are ignored.

Known action types: acceptAll, accept, runCommand, run, apply, execute,
resume (snake_case spellings like accept_all are accepted too).

Returns: {configured: true, status}`
}
func (t *ConfigureAutopilotTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"cooldown_period_ms": map[string]interface{}{
				"type":        "number",
				"description": "Minimum spacing between equivalent triggers (default 2000)",
			},
			"debounce_delay_ms": map[string]interface{}{
				"type":        "number",
				"description": "Quiet period after a relevant mutation before scanning (default 500)",
			},
			"scan_cooldown_ms": map[string]interface{}{
				"type":        "number",
				"description": "Minimum spacing between scans (default 1000)",
			},
			"operation_window_ms": map[string]interface{}{
				"type":        "number",
				"description": "Time-bucket width for analytics operation dedup (default 5000)",
			},
			"enabled_action_types": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Action types the engine may trigger; empty array enables all",
			},
		},
	}
}
func (t *ConfigureAutopilotTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	cooldown := getDurationMsArg(args, "cooldown_period_ms")
	debounce := getDurationMsArg(args, "debounce_delay_ms")
	scanCooldown := getDurationMsArg(args, "scan_cooldown_ms")
	opWindow := getDurationMsArg(args, "operation_window_ms")
	enabled := getStringSliceArg(args, "enabled_action_types")

	t.controller.Configure(cooldown, debounce, scanCooldown, opWindow, enabled)

	return map[string]interface{}{
		"configured": true,
		"status":     t.controller.Status(),
	}, nil
}

// ScanNowTool forces a single scan pass outside the mutation-driven flow.
type ScanNowTool struct {
	controller *engine.Controller
}

func (t *ScanNowTool) Name() string { return "scan-now" }
func (t *ScanNowTool) Description() string {
	return `Force one immediate scan of the host UI, bypassing debounce and scan cooldown.

Useful when the mutation stream missed a render (e.g. the page was replaced
wholesale) or when verifying a configuration change.

Returns: {status} after the scan completes.`
}
func (t *ScanNowTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ScanNowTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	t.controller.Scan(ctx)
	return map[string]interface{}{"status": t.controller.Status()}, nil
}

// ExportAnalyticsTool returns the combined analytics and ROI report.
type ExportAnalyticsTool struct {
	controller *engine.Controller
}

func (t *ExportAnalyticsTool) Name() string { return "export-analytics" }
func (t *ExportAnalyticsTool) Description() string {
	return `Export the full session analytics and ROI report.

Returns: {analytics: {total_accepted, session_start, session_duration_ms,
operations_tracked, total_files, total_added, total_deleted,
most_active_targets (top 5), action_type_counts, total_time_saved_ms,
average_saved_per_op_ms, recent_sessions (last 20)},
roi: {types, total_measurements, average_confidence_pct,
global_efficiency_percent}}`
}
func (t *ExportAnalyticsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ExportAnalyticsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return t.controller.ExportReport(), nil
}

// ClearAnalyticsTool wipes accumulated analytics, ROI samples, and dedup state.
type ClearAnalyticsTool struct {
	controller *engine.Controller
}

func (t *ClearAnalyticsTool) Name() string { return "clear-analytics" }
func (t *ClearAnalyticsTool) Description() string {
	return `Clear all accumulated analytics, ROI samples, and dedup history.

The durable snapshot is overwritten with the empty state. The engine keeps
running; the next trigger starts a fresh session log.

Returns: {cleared: true, status}`
}
func (t *ClearAnalyticsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ClearAnalyticsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	t.controller.ClearAnalytics()
	return map[string]interface{}{
		"cleared": true,
		"status":  t.controller.Status(),
	}, nil
}

// CalibrateWorkflowTool overrides the manual/automated workflow baselines.
type CalibrateWorkflowTool struct {
	controller *engine.Controller
}

func (t *CalibrateWorkflowTool) Name() string { return "calibrate-workflow" }
func (t *CalibrateWorkflowTool) Description() string {
	return `Calibrate the time-saved model with measured workflow timings.

Provide how long the workflow takes by hand (manual_ms) and how long the
automated path takes (automated_ms). Recorded workflow sessions are rewritten
to the calibrated per-operation saving, and the ROI estimator receives the
manual timing as a fresh sample for every action type.

Returns: {calibrated: true, manual_ms, automated_ms, total_time_saved_ms}`
}
func (t *CalibrateWorkflowTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"manual_ms": map[string]interface{}{
				"type":        "number",
				"description": "Measured manual workflow duration in milliseconds",
			},
			"automated_ms": map[string]interface{}{
				"type":        "number",
				"description": "Measured automated workflow duration in milliseconds (default 2000)",
			},
		},
		"required": []string{"manual_ms"},
	}
}
func (t *CalibrateWorkflowTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	manual := getDurationMsArg(args, "manual_ms")
	if manual <= 0 {
		return nil, fmt.Errorf("manual_ms must be a positive duration in milliseconds")
	}
	automated := getDurationMsArg(args, "automated_ms")
	if automated <= 0 {
		automated = 2 * time.Second
	}
	if automated >= manual {
		return nil, fmt.Errorf("automated_ms (%v) must be below manual_ms (%v)", automated, manual)
	}

	t.controller.Calibrate(manual, automated)

	st := t.controller.Status()
	return map[string]interface{}{
		"calibrated":          true,
		"manual_ms":           manual.Milliseconds(),
		"automated_ms":        automated.Milliseconds(),
		"total_time_saved_ms": st.TotalTimeSavedMs,
	}, nil
}

// RecordManualSampleTool feeds an observed manual-execution cost to the
// estimator.
type RecordManualSampleTool struct {
	controller *engine.Controller
}

func (t *RecordManualSampleTool) Name() string { return "record-manual-sample" }
func (t *RecordManualSampleTool) Description() string {
	return `Record how long one action of a given type took to perform by hand.

Feeding real manual timings raises the estimator's confidence for that type,
which lifts the conservative clamp on its time-saved estimates.

Returns: {recorded: true, action_type, cost_ms}`
}
func (t *RecordManualSampleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action_type": map[string]interface{}{
				"type":        "string",
				"description": "One of: acceptAll, accept, runCommand, run, apply, execute, resume (snake_case accepted)",
			},
			"cost_ms": map[string]interface{}{
				"type":        "number",
				"description": "Observed manual duration in milliseconds",
			},
		},
		"required": []string{"action_type", "cost_ms"},
	}
}
func (t *RecordManualSampleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	typ, ok := action.Parse(getStringArg(args, "action_type"))
	if !ok {
		return nil, fmt.Errorf("unknown action_type: %q", getStringArg(args, "action_type"))
	}
	cost := getDurationMsArg(args, "cost_ms")
	if cost <= 0 {
		return nil, fmt.Errorf("cost_ms must be a positive duration in milliseconds")
	}

	t.controller.RecordManualSample(typ, cost)

	return map[string]interface{}{
		"recorded":    true,
		"action_type": string(typ),
		"cost_ms":     cost.Milliseconds(),
	}, nil
}
