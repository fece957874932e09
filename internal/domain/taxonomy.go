// Package domain defines the cognitive domain taxonomies and subsetting.
package domain

import "strings"

// Taxonomy describes one cognitive domain: the measure labels that belong
// to it and whether its moderator model carries a measure indicator.
type Taxonomy struct {
	Name         string
	Measures     []string
	MultiMeasure bool
}

// Default taxonomies in report order. A study may contribute one row to
// each of several domains if it reported multiple measures.
var defaults = []Taxonomy{
	{
		Name: "overall ability",
		Measures: []string{
			"general cognitive ability",
			"full-scale iq",
			"global cognition",
			"cognitive screening",
			"composite score",
		},
		MultiMeasure: true,
	},
	{
		Name: "memory",
		Measures: []string{
			"working memory",
			"learning and memory",
			"short-term memory",
			"associative memory",
			"long-term memory",
			"involuntary memory",
			"visual memory",
			"verbal memory",
			"episodic memory",
		},
		MultiMeasure: true,
	},
	{
		Name: "attention",
		Measures: []string{
			"sustained attention",
			"selective attention",
			"divided attention",
			"attention span",
			"vigilance",
		},
		MultiMeasure: true,
	},
	{
		Name: "executive function",
		Measures: []string{
			"executive function",
			"cognitive flexibility",
			"set shifting",
			"inhibition",
			"planning",
			"verbal fluency",
		},
		MultiMeasure: true,
	},
	{
		Name: "processing speed",
		Measures: []string{
			"processing speed",
			"perceptual speed",
			"information processing speed",
		},
		MultiMeasure: false,
	},
	{
		Name: "psychomotor speed",
		Measures: []string{
			"psychomotor speed",
			"reaction time",
			"motor speed",
			"finger tapping",
		},
		MultiMeasure: false,
	},
}

// Defaults returns the built-in taxonomies in report order.
func Defaults() []Taxonomy {
	out := make([]Taxonomy, len(defaults))
	copy(out, defaults)
	return out
}

// Resolve returns the taxonomies to report: the defaults with any
// allow-list overrides applied, restricted to the requested names when
// names is non-empty. Unknown names are reported as an error by Lookup.
func Resolve(overrides map[string][]string, names []string) ([]Taxonomy, error) {
	taxa := Defaults()
	for i := range taxa {
		if measures, ok := overrides[taxa[i].Name]; ok && len(measures) > 0 {
			taxa[i].Measures = measures
			taxa[i].MultiMeasure = len(measures) > 1
		}
	}
	if len(names) == 0 {
		return taxa, nil
	}
	out := make([]Taxonomy, 0, len(names))
	for _, name := range names {
		t, ok := lookup(taxa, name)
		if !ok {
			return nil, unknownDomainError(name, taxa)
		}
		out = append(out, t)
	}
	return out, nil
}

func lookup(taxa []Taxonomy, name string) (Taxonomy, bool) {
	needle := normalizeLabel(name)
	for _, t := range taxa {
		if normalizeLabel(t.Name) == needle {
			return t, true
		}
	}
	return Taxonomy{}, false
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
