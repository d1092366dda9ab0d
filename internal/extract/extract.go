package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Info is the metadata pulled from the text surrounding an actionable control:
// the file the operation targets and the diff stats the host UI renders next
// to it.
type Info struct {
	Target       string
	AddedLines   int
	DeletedLines int
}

var (
	// Filenames as the host UI renders them: basename plus a known source or
	// config extension. Bare words and version-like tokens must not match.
	filenamePattern = regexp.MustCompile(`(?i)\b([\w.\-]+\.(?:ts|tsx|js|jsx|mjs|cjs|py|go|rs|rb|java|kt|swift|c|cc|cpp|h|hpp|cs|php|sh|bash|sql|json|yaml|yml|toml|xml|html|css|scss|less|vue|svelte|md|txt))\b`)

	// Diff stats appear as "+12" / "-3" chips. The minus variant also matches
	// the unicode minus some renderers emit.
	addedPattern   = regexp.MustCompile(`\+(\d+)`)
	deletedPattern = regexp.MustCompile(`[-\x{2212}](\d+)`)
)

// FromBlock extracts target and diff-stat metadata from a UI text block.
// Missing pieces stay zero-valued; callers treat an empty Target as unknown.
func FromBlock(text string) Info {
	var info Info
	if strings.TrimSpace(text) == "" {
		return info
	}

	if match := filenamePattern.FindStringSubmatch(text); len(match) >= 2 {
		info.Target = normalizeTarget(match[1])
	}
	if match := addedPattern.FindStringSubmatch(text); len(match) >= 2 {
		if n, err := strconv.Atoi(match[1]); err == nil {
			info.AddedLines = n
		}
	}
	if match := deletedPattern.FindStringSubmatch(text); len(match) >= 2 {
		if n, err := strconv.Atoi(match[1]); err == nil {
			info.DeletedLines = n
		}
	}
	return info
}

// Target extracts just the target filename, or "" when none is present.
func Target(text string) string {
	return FromBlock(text).Target
}

func normalizeTarget(name string) string {
	normalized := strings.TrimSpace(name)
	normalized = strings.Trim(normalized, "\"'`")
	normalized = strings.TrimRight(normalized, ".,;:)]}")
	return normalized
}
