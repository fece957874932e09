package domain

import (
	"fmt"
	"strings"

	"github.com/verte-zerg/metacog/internal/model"
)

// Subset returns the rows of the cleaned table whose measure label belongs
// to the taxonomy's allow-list. Matching ignores case and surrounding
// whitespace. An empty subset is a valid result, not an error.
func Subset(studies []model.Study, t Taxonomy) []model.Study {
	allowed := make(map[string]struct{}, len(t.Measures))
	for _, m := range t.Measures {
		allowed[normalizeLabel(m)] = struct{}{}
	}
	out := make([]model.Study, 0, len(studies))
	for _, s := range studies {
		if _, ok := allowed[normalizeLabel(s.Measure)]; ok {
			out = append(out, s)
		}
	}
	return out
}

func unknownDomainError(name string, taxa []Taxonomy) error {
	known := make([]string, len(taxa))
	for i, t := range taxa {
		known[i] = t.Name
	}
	return fmt.Errorf("unknown domain %q (available: %s)", name, strings.Join(known, ", "))
}
