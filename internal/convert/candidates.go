package convert

import (
	"strings"

	"github.com/samber/lo"
)

// Candidates ranks converter endpoints: the configured host first (its
// explicit scheme, or https then http for a bare host), then each mirror
// expanded the same way. Duplicates keep their first position.
func Candidates(host string, mirrors []string) []string {
	var out []string
	for _, h := range append([]string{host}, mirrors...) {
		out = append(out, expand(h)...)
	}
	return lo.Uniq(out)
}

func expand(h string) []string {
	h = strings.TrimRight(strings.TrimSpace(h), "/")
	if h == "" {
		return nil
	}
	lower := strings.ToLower(h)
	if strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://") {
		return []string{h}
	}
	if strings.Contains(h, "://") {
		return nil
	}
	return []string{"https://" + h, "http://" + h}
}
