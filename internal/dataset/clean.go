// Package dataset loads and cleans the study-level input table.
package dataset

import (
	"fmt"
	"math"

	"github.com/verte-zerg/metacog/internal/model"
)

// Clean drops rows whose study label exactly matches an excluded study and
// derives the log-duration covariate for the remaining rows. The input
// slice is not modified.
func Clean(studies []model.Study, excluded []string) ([]model.Study, error) {
	excludedSet := make(map[string]struct{}, len(excluded))
	for _, label := range excluded {
		excludedSet[label] = struct{}{}
	}

	out := make([]model.Study, 0, len(studies))
	for _, s := range studies {
		if _, ok := excludedSet[s.Label]; ok {
			continue
		}
		if s.Duration < 0 {
			return nil, fmt.Errorf("study %q: negative duration %g", s.Label, s.Duration)
		}
		// The +1 offset keeps zero-duration exposures out of the log's domain error.
		s.LogDuration = math.Log(s.Duration + 1)
		out = append(out, s)
	}
	return out, nil
}
