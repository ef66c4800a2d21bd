package orchestrator

import (
	"strings"

	"github.com/gobwas/glob"
)

// Selector matches device IDs against exact IDs and glob patterns.
type Selector struct {
	exact    map[string]bool
	patterns []glob.Glob
}

// NewSelector compiles sels. A selector that is not a valid glob is treated
// as an exact device ID.
func NewSelector(sels []string) *Selector {
	s := &Selector{exact: make(map[string]bool)}
	for _, raw := range sels {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.ContainsAny(raw, "*?[{") {
			s.exact[raw] = true
			continue
		}
		g, err := glob.Compile(raw)
		if err != nil {
			s.exact[raw] = true
			continue
		}
		s.patterns = append(s.patterns, g)
	}
	return s
}

// Match reports whether deviceID is selected.
func (s *Selector) Match(deviceID string) bool {
	if s.exact[deviceID] {
		return true
	}
	for _, g := range s.patterns {
		if g.Match(deviceID) {
			return true
		}
	}
	return false
}

// Empty reports whether the selector can match nothing.
func (s *Selector) Empty() bool {
	return len(s.exact) == 0 && len(s.patterns) == 0
}

// normalizeIDs trims, drops blanks and removes duplicates, keeping the
// first occurrence order.
func normalizeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
