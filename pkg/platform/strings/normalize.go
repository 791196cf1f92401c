// Package strings normalizes the free-text lists this service compares:
// ritual step names and beneficiary names.
package strings

import (
	"strings"
)

// StepKey canonicalizes a ritual step name for comparison against policy
// step lists: trimmed, lowercased, inner whitespace and hyphens folded to '_'.
//
//	StepKey("  Tawaf Al-Ifadah ") // "tawaf_al_ifadah"
func StepKey(step string) string {
	fields := strings.FieldsFunc(strings.ToLower(step), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '-' || r == '_'
	})
	return strings.Join(fields, "_")
}

// StepKeys applies StepKey, drops empties and duplicates, and keeps order.
func StepKeys(steps []string) []string {
	if len(steps) == 0 {
		return steps
	}
	seen := make(map[string]struct{}, len(steps))
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		k := StepKey(s)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// CleanNames trims each name, collapses inner whitespace and removes empty
// and case-insensitive duplicate entries. Original casing of the first
// occurrence is kept.
func CleanNames(names []string) []string {
	if len(names) == 0 {
		return names
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		cleaned := strings.Join(strings.Fields(n), " ")
		if cleaned == "" {
			continue
		}
		key := strings.ToLower(cleaned)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, cleaned)
	}
	return out
}

// ContainsFold reports whether needle appears in haystack ignoring case.
func ContainsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
