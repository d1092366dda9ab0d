package action

import (
	"sort"
	"strings"
	"time"
)

// Type identifies one of the recognized automatable UI actions.
type Type string

const (
	AcceptAll  Type = "acceptAll"
	Accept     Type = "accept"
	RunCommand Type = "runCommand"
	Run        Type = "run"
	Apply      Type = "apply"
	Execute    Type = "execute"
	Resume     Type = "resume"
)

// Pattern describes how a Type is recognized and costed.
// Priority orders matching: lower values are tested first, so broad keywords
// like "accept" must carry a higher priority value than "accept all" or the
// broad rule swallows the specific one.
type Pattern struct {
	Type       Type
	Keywords   []string
	Priority   int
	BaseManual time.Duration // time a human needs for the equivalent action
	Complexity float64
}

// Patterns is the fixed rule table, defined at process start and never
// mutated. Costs reflect observed manual interaction times.
var Patterns = []Pattern{
	{Type: AcceptAll, Keywords: []string{"accept all", "accept-all", "acceptall"}, Priority: 1, BaseManual: 45 * time.Second, Complexity: 2.5},
	{Type: Accept, Keywords: []string{"accept"}, Priority: 2, BaseManual: 15 * time.Second, Complexity: 1.0},
	{Type: RunCommand, Keywords: []string{"run command", "run-command"}, Priority: 3, BaseManual: 25 * time.Second, Complexity: 1.8},
	{Type: Run, Keywords: []string{"run"}, Priority: 4, BaseManual: 20 * time.Second, Complexity: 1.5},
	{Type: Apply, Keywords: []string{"apply"}, Priority: 5, BaseManual: 12 * time.Second, Complexity: 1.0},
	{Type: Execute, Keywords: []string{"execute"}, Priority: 6, BaseManual: 18 * time.Second, Complexity: 1.3},
	{Type: Resume, Keywords: []string{"resume", "continue"}, Priority: 7, BaseManual: 8 * time.Second, Complexity: 0.8},
}

var byType = func() map[Type]Pattern {
	m := make(map[Type]Pattern, len(Patterns))
	for _, p := range Patterns {
		m[p.Type] = p
	}
	return m
}()

var byPriority = func() []Pattern {
	ordered := make([]Pattern, len(Patterns))
	copy(ordered, Patterns)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })
	return ordered
}()

// Lookup returns the pattern for a type. Unknown types fall back to the
// Accept pattern so cost estimation always has a baseline.
func Lookup(t Type) Pattern {
	if p, ok := byType[t]; ok {
		return p
	}
	return byType[Accept]
}

// Known reports whether t is a member of the fixed enumeration.
func Known(t Type) bool {
	_, ok := byType[t]
	return ok
}

// Parse maps an external spelling of a type name to the enumeration. Matching
// ignores case, underscores, and hyphens, so "acceptAll", "accept_all", and
// "Accept-All" all parse to AcceptAll. Returns ("", false) for unknown names.
func Parse(name string) (Type, bool) {
	norm := normalizeName(name)
	if norm == "" {
		return "", false
	}
	for _, p := range Patterns {
		if normalizeName(string(p.Type)) == norm {
			return p.Type, true
		}
	}
	return "", false
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "")
	return strings.ReplaceAll(s, "-", "")
}

// All returns every defined type in priority order.
func All() []Type {
	types := make([]Type, 0, len(byPriority))
	for _, p := range byPriority {
		types = append(types, p.Type)
	}
	return types
}

// Keywords returns every keyword across all patterns, used by the change
// observer's relevance filter.
func Keywords() []string {
	var out []string
	for _, p := range Patterns {
		out = append(out, p.Keywords...)
	}
	return out
}

// Classify maps a candidate's visible text, accessible label, and title to an
// action type. The three sources are concatenated into one lowercase search
// string and tested against each pattern in ascending priority order; the
// first keyword hit wins. Returns ("", false) when nothing matches.
func Classify(text, ariaLabel, title string) (Type, bool) {
	search := strings.ToLower(strings.TrimSpace(text) + " " + ariaLabel + " " + title)
	if strings.TrimSpace(search) == "" {
		return "", false
	}

	for _, p := range byPriority {
		for _, kw := range p.Keywords {
			if strings.Contains(search, kw) {
				return p.Type, true
			}
		}
	}
	return "", false
}
