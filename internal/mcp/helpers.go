package mcp

import (
	"fmt"
	"time"
)

func getStringArg(args map[string]interface{}, key string) string {
	val, ok := args[key]
	if !ok {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// getDurationMsArg reads a millisecond count (JSON numbers arrive as float64)
// and returns it as a duration. Missing or non-numeric values yield zero,
// which every consumer treats as "leave unchanged".
func getDurationMsArg(args map[string]interface{}, key string) time.Duration {
	return time.Duration(getIntArg(args, key, 0)) * time.Millisecond
}

// getStringSliceArg reads a string array argument. Returns nil when the key
// is absent or not an array, so callers can distinguish "not provided" from
// an explicitly empty list.
func getStringSliceArg(args map[string]interface{}, key string) []string {
	val, ok := args[key]
	if !ok {
		return nil
	}
	raw, ok := val.([]interface{})
	if !ok {
		if typed, ok := val.([]string); ok {
			return typed
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		out = append(out, fmt.Sprintf("%v", item))
	}
	return out
}
