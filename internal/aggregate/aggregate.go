// Package aggregate merges node lists into one deduplicated subscription body.
package aggregate

import (
	"strings"

	"github.com/samber/lo"
)

// Combine returns manual entries first, then every source in the given order.
// Lines are trimmed, empty lines dropped, and exact duplicates removed keeping
// the first occurrence. The result is newline-joined.
func Combine(manual []string, perSource [][]string) string {
	return strings.Join(Lines(manual, perSource), "\n")
}

// Lines is Combine without the final join.
func Lines(manual []string, perSource [][]string) []string {
	all := append(append([]string(nil), manual...), lo.Flatten(perSource)...)

	all = lo.FilterMap(all, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})
	return lo.Uniq(all)
}
