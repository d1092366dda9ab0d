package mcp

import (
	"context"
	"fmt"
	"time"

	"autopilot-mcp-server/internal/facts"
)

// QueryTelemetryTool evaluates queries against the telemetry fact engine.
type QueryTelemetryTool struct {
	facts *facts.Engine
}

func (t *QueryTelemetryTool) Name() string { return "query-telemetry" }
func (t *QueryTelemetryTool) Description() string {
	return `Query the engine's telemetry fact buffer.

TWO MODES:
1. Datalog query (query): e.g. 'trigger_event(Target, Action, SavedMs).'
   Returns variable bindings for every matching fact, including facts derived
   by the loaded rules schema.
2. Predicate scan (predicate + optional window_ms): returns raw buffered
   facts for one predicate, newest window first.

EMITTED PREDICATES:
- mutation_event(kind, detail)
- scan_emission(reason)
- trigger_event(target, action, saved_ms)
- dedup_rejected(target, action)
- roi_sample(action, mode, cost_ms)
- acceptance_recorded(target, action, added, deleted)

Returns: {results} for queries, {facts, count} for predicate scans.`
}
func (t *QueryTelemetryTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Datalog query atom, e.g. 'dedup_rejected(Target, Action).'",
			},
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate name for a raw buffer scan (alternative to query)",
			},
			"window_ms": map[string]interface{}{
				"type":        "number",
				"description": "With predicate: only facts from the last window_ms milliseconds",
			},
		},
	}
}
func (t *QueryTelemetryTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.facts == nil || !t.facts.Enabled() {
		return nil, fmt.Errorf("telemetry fact engine is disabled")
	}

	if query := getStringArg(args, "query"); query != "" {
		results, err := t.facts.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"results": results,
			"count":   len(results),
		}, nil
	}

	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("either query or predicate is required")
	}

	var matched []facts.Fact
	if window := getDurationMsArg(args, "window_ms"); window > 0 {
		matched = t.facts.QueryTemporal(predicate, time.Now().Add(-window), time.Time{})
	} else {
		matched = t.facts.FactsByPredicate(predicate)
	}

	return map[string]interface{}{
		"facts": matched,
		"count": len(matched),
	}, nil
}
