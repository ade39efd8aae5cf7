// Package strings holds list parsing shared by configuration loaders.
package strings

import "strings"

// SplitList splits a comma separated value, trimming each element and
// dropping empties and repeats. Order is preserved; an empty input is nil.
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return Dedupe(strings.Split(raw, ","))
}

// Dedupe trims values and drops empties and repeats, keeping first-seen order.
func Dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
