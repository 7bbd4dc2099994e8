// Package strings holds list helpers for comma-separated configuration values.
package strings

import (
	"strings"
)

// DedupeAndTrim trims each value and drops blanks and repeats, keeping the
// first occurrence's position.
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// NormalizeKeywords is DedupeAndTrim with case folded, so "Urgent" and
// "urgent " collapse into one match term.
func NormalizeKeywords(values []string) []string {
	return dedupe(values, func(v string) string {
		return strings.ToLower(strings.TrimSpace(v))
	})
}

// SplitList splits a comma-separated value and cleans it with DedupeAndTrim.
// An empty input yields nil.
func SplitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(v, ","))
}

func dedupe(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = normalize(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
