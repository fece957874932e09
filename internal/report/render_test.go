package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/verte-zerg/metacog/internal/model"
)

func TestCoefTablePValueFloor(t *testing.T) {
	coefs := []model.CoefRow{{
		Name: "intercept", Estimate: 0.5, SE: 0.05, ZVal: 10,
		PVal: 0.00004, CILower: 0.4, CIUpper: 0.6,
	}}
	lines := CoefTable(coefs, 3)
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d lines", len(lines))
	}
	if !strings.Contains(lines[1], "<0.001") {
		t.Fatalf("tiny p-values must render as a floor: %q", lines[1])
	}
	if !strings.Contains(lines[0], "ci.lb") || !strings.Contains(lines[0], "ci.ub") {
		t.Fatalf("unexpected header: %q", lines[0])
	}
}

func TestRenderSectionFixedEffect(t *testing.T) {
	section := Section{
		Domain:  "memory",
		K:       1,
		Effects: []model.EffectSize{{Study: "only", Estimate: 0.25, Variance: 0.04}},
		Main: &model.ModelResult{
			Kind:        model.KindMain,
			Coefs:       []model.CoefRow{{Name: "intercept", Estimate: 0.25, SE: 0.2, PVal: 0.21, CILower: -0.14, CIUpper: 0.64}},
			K:           1,
			FixedEffect: true,
		},
		Notices: []string{"fewer than 2 studies: between-study variance not estimable, fixed-effect estimate reported"},
	}
	var buf bytes.Buffer
	if err := RenderSection(&buf, section, Options{}); err != nil {
		t.Fatalf("RenderSection failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "== Memory (k=1) ==") {
		t.Fatalf("expected a section header, got:\n%s", out)
	}
	if !strings.Contains(out, "Fixed-Effect Model") {
		t.Fatalf("expected the fixed-effect title, got:\n%s", out)
	}
	if strings.Contains(out, "tau^2") {
		t.Fatalf("tau^2 must not render for a fixed-effect fit:\n%s", out)
	}
	if !strings.Contains(out, "Notice: fewer than 2 studies") {
		t.Fatalf("expected the notice line, got:\n%s", out)
	}
}

func TestRenderSectionEmptyDomain(t *testing.T) {
	section := Section{
		Domain:  "attention",
		Notices: []string{"insufficient data: no studies report a matching measure"},
	}
	var buf bytes.Buffer
	if err := RenderSection(&buf, section, Options{}); err != nil {
		t.Fatalf("RenderSection failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "== Attention (k=0) ==") {
		t.Fatalf("expected a header even for an empty domain, got:\n%s", out)
	}
	if !strings.Contains(out, "Notice: insufficient data") {
		t.Fatalf("expected the insufficient-data notice, got:\n%s", out)
	}
	if strings.Contains(out, "Model") {
		t.Fatalf("empty domains must not render model tables:\n%s", out)
	}
}

func TestRenderModelShowsTau2(t *testing.T) {
	section := Section{
		Domain:  "memory",
		K:       3,
		Effects: []model.EffectSize{{Study: "a", Estimate: 0.2, Variance: 0.04}},
		Main: &model.ModelResult{
			Kind:  model.KindMain,
			Coefs: []model.CoefRow{{Name: "intercept", Estimate: 0.2, SE: 0.1, PVal: 0.05}},
			Tau2:  0.0421,
			K:     3,
		},
	}
	var buf bytes.Buffer
	if err := RenderSection(&buf, section, Options{Decimals: 4}); err != nil {
		t.Fatalf("RenderSection failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Random-Effects Model (REML)") {
		t.Fatalf("expected the random-effects title, got:\n%s", out)
	}
	if !strings.Contains(out, "tau^2 = 0.0421") {
		t.Fatalf("expected tau^2 rendered at 4 decimals, got:\n%s", out)
	}
}
