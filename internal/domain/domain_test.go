package domain

import (
	"strings"
	"testing"

	"github.com/verte-zerg/metacog/internal/model"
)

func memoryTaxonomy(t *testing.T) Taxonomy {
	t.Helper()
	for _, tax := range Defaults() {
		if tax.Name == "memory" {
			return tax
		}
	}
	t.Fatalf("memory taxonomy missing from defaults")
	return Taxonomy{}
}

func TestSubsetMatchesCaseInsensitive(t *testing.T) {
	studies := []model.Study{
		{Label: "a", Measure: "Working Memory"},
		{Label: "b", Measure: "  episodic memory "},
		{Label: "c", Measure: "reaction time"},
	}
	out := Subset(studies, memoryTaxonomy(t))
	if len(out) != 2 {
		t.Fatalf("expected 2 memory studies, got %d", len(out))
	}
	if out[0].Label != "a" || out[1].Label != "b" {
		t.Fatalf("unexpected subset order: %q, %q", out[0].Label, out[1].Label)
	}
}

func TestSubsetEmptyIsValid(t *testing.T) {
	studies := []model.Study{{Label: "a", Measure: "grip strength"}}
	out := Subset(studies, memoryTaxonomy(t))
	if len(out) != 0 {
		t.Fatalf("expected an empty subset, got %d studies", len(out))
	}
}

func TestDefaultsOrder(t *testing.T) {
	want := []string{
		"overall ability",
		"memory",
		"attention",
		"executive function",
		"processing speed",
		"psychomotor speed",
	}
	taxa := Defaults()
	if len(taxa) != len(want) {
		t.Fatalf("expected %d domains, got %d", len(want), len(taxa))
	}
	for i, name := range want {
		if taxa[i].Name != name {
			t.Fatalf("domain %d = %q, want %q", i, taxa[i].Name, name)
		}
	}
	for _, tax := range taxa {
		single := tax.Name == "processing speed" || tax.Name == "psychomotor speed"
		if tax.MultiMeasure == single {
			t.Fatalf("domain %q has MultiMeasure=%v", tax.Name, tax.MultiMeasure)
		}
	}
}

func TestResolveAppliesOverrides(t *testing.T) {
	overrides := map[string][]string{"memory": {"digit span"}}
	taxa, err := Resolve(overrides, []string{"Memory"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(taxa) != 1 {
		t.Fatalf("expected 1 taxonomy, got %d", len(taxa))
	}
	if len(taxa[0].Measures) != 1 || taxa[0].Measures[0] != "digit span" {
		t.Fatalf("override not applied: %v", taxa[0].Measures)
	}
	if taxa[0].MultiMeasure {
		t.Fatalf("a single-measure override must clear MultiMeasure")
	}
}

func TestResolveUnknownDomain(t *testing.T) {
	_, err := Resolve(nil, []string{"telepathy"})
	if err == nil || !strings.Contains(err.Error(), "unknown domain") {
		t.Fatalf("error = %v, want an unknown-domain message", err)
	}
}

func TestResolveWithoutNamesKeepsAll(t *testing.T) {
	taxa, err := Resolve(nil, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(taxa) != len(Defaults()) {
		t.Fatalf("expected every default domain, got %d", len(taxa))
	}
}
