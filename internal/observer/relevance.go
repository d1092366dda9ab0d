package observer

import (
	"strings"

	"autopilot-mcp-server/internal/action"
)

// Kind discriminates the two mutation record shapes we care about.
type Kind string

const (
	KindChildList  Kind = "childList"
	KindAttributes Kind = "attributes"
)

// Record is one observed mutation, already flattened to the fields the
// relevance filter needs. Attribute records carry the mutated node's class
// list and text so the filter can tell a control flipping state from page
// chrome churn. Malformed records (unknown kind, attribute records without an
// attribute name) are skipped rather than treated as relevant.
type Record struct {
	Kind          Kind
	AddedText     []string
	AddedClasses  []string
	AttributeName string
	TargetClasses string
	TargetText    string
}

// structuralHints are class-name fragments that mark containers the host UI
// renders actionable controls into. A node added under one of these is worth
// a scan even when its text has not settled yet.
var structuralHints = []string{
	"composer",
	"code-block",
	"diff",
	"button",
	"tool-former",
}

// relevantAttributes are the attribute mutations that can flip a control
// between actionable and not.
var relevantAttributes = map[string]bool{
	"class":    true,
	"disabled": true,
}

// Relevant reports whether any record in the batch justifies a scan.
func Relevant(records []Record) bool {
	for _, r := range records {
		if relevantRecord(r) {
			return true
		}
	}
	return false
}

func relevantRecord(r Record) bool {
	switch r.Kind {
	case KindChildList:
		for _, text := range r.AddedText {
			if containsActionKeyword(text) {
				return true
			}
		}
		for _, class := range r.AddedClasses {
			if containsStructuralHint(class) {
				return true
			}
		}
		return false
	case KindAttributes:
		if !relevantAttributes[strings.ToLower(r.AttributeName)] {
			return false
		}
		// A class or disabled flip only matters on a node the host renders
		// actionable controls into; a hint-less node is page chrome churn.
		if containsStructuralHint(r.TargetClasses) {
			return true
		}
		return strings.EqualFold(r.AttributeName, "disabled") && containsActionKeyword(r.TargetText)
	default:
		return false
	}
}

func containsActionKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range action.Keywords() {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func containsStructuralHint(class string) bool {
	lower := strings.ToLower(class)
	for _, hint := range structuralHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
