package domain

import (
	"regexp"
	"strconv"
)

var phaseNumberPattern = regexp.MustCompile(`\d+`)

// PhaseNumber extracts the phase number for a task. The first integer in
// the phase label wins ("Phase 3: Storage" is 3); otherwise the ID prefix
// is used ("3.2" is 3). Tasks with neither belong to phase 0.
func PhaseNumber(label string, id TaskID) int {
	if m := phaseNumberPattern.FindString(label); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return n
		}
	}
	if n, ok := id.PhasePrefix(); ok {
		return n
	}
	return 0
}
