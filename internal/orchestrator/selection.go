// File: internal/orchestrator/selection.go
package orchestrator

import (
	"fmt"
	"regexp"
)

// Select keeps the cases carrying at least one of markers (all when markers is
// empty) whose id or title matches pattern (all when pattern is empty). Order
// is preserved.
func Select(cases []Case, markers []string, pattern string) ([]Case, error) {
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("invalid test selection pattern %q: %w", pattern, err)
		}
	}

	wanted := make(map[string]struct{}, len(markers))
	for _, m := range markers {
		wanted[m] = struct{}{}
	}

	var out []Case
	for _, c := range cases {
		if len(wanted) > 0 && !hasMarker(c, wanted) {
			continue
		}
		if re != nil && !re.MatchString(c.ID()) && !re.MatchString(c.Title()) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func hasMarker(c Case, wanted map[string]struct{}) bool {
	for _, m := range c.Markers() {
		if _, ok := wanted[m]; ok {
			return true
		}
	}
	return false
}
