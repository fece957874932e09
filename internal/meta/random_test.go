package meta

import (
	"math"
	"testing"

	"github.com/verte-zerg/metacog/internal/model"
)

func TestFitRandomPooledWithinObservedRange(t *testing.T) {
	effects := []model.EffectSize{
		{Study: "a", Estimate: 0.2, Variance: 0.04},
		{Study: "b", Estimate: 0.5, Variance: 0.02},
		{Study: "c", Estimate: 0.35, Variance: 0.03},
	}
	res, err := FitRandom(effects)
	if err != nil {
		t.Fatalf("FitRandom failed: %v", err)
	}
	pooled, ok := res.Pooled()
	if !ok {
		t.Fatalf("expected a pooled coefficient")
	}
	if pooled.Estimate < 0.2 || pooled.Estimate > 0.5 {
		t.Fatalf("pooled estimate %g outside the observed range", pooled.Estimate)
	}
	if res.Tau2 < 0 {
		t.Fatalf("tau^2 = %g, want non-negative", res.Tau2)
	}
	if res.K != 3 || res.FixedEffect {
		t.Fatalf("unexpected result shape: k=%d fixed=%v", res.K, res.FixedEffect)
	}
	if pooled.SE <= 0 {
		t.Fatalf("pooled SE = %g, want positive", pooled.SE)
	}
	if pooled.PVal <= 0 || pooled.PVal > 1 {
		t.Fatalf("p-value %g out of range", pooled.PVal)
	}
	if pooled.CILower >= pooled.Estimate || pooled.CIUpper <= pooled.Estimate {
		t.Fatalf("confidence interval [%g, %g] does not bracket %g",
			pooled.CILower, pooled.CIUpper, pooled.Estimate)
	}
}

func TestFitRandomOrderInvariance(t *testing.T) {
	effects := []model.EffectSize{
		{Study: "a", Estimate: 0.12, Variance: 0.05},
		{Study: "b", Estimate: 0.61, Variance: 0.02},
		{Study: "c", Estimate: -0.08, Variance: 0.09},
		{Study: "d", Estimate: 0.33, Variance: 0.04},
	}
	reversed := make([]model.EffectSize, len(effects))
	for i, e := range effects {
		reversed[len(effects)-1-i] = e
	}

	forward, err := FitRandom(effects)
	if err != nil {
		t.Fatalf("FitRandom failed: %v", err)
	}
	backward, err := FitRandom(reversed)
	if err != nil {
		t.Fatalf("FitRandom failed on reversed input: %v", err)
	}
	fw, _ := forward.Pooled()
	bw, _ := backward.Pooled()
	if math.Abs(fw.Estimate-bw.Estimate) > 1e-8 {
		t.Fatalf("pooled estimate depends on input order: %g vs %g", fw.Estimate, bw.Estimate)
	}
	if math.Abs(forward.Tau2-backward.Tau2) > 1e-8 {
		t.Fatalf("tau^2 depends on input order: %g vs %g", forward.Tau2, backward.Tau2)
	}
}

func TestFitRandomHomogeneousEffects(t *testing.T) {
	effects := []model.EffectSize{
		{Study: "a", Estimate: 0.4, Variance: 0.01},
		{Study: "b", Estimate: 0.4, Variance: 0.01},
		{Study: "c", Estimate: 0.4, Variance: 0.01},
		{Study: "d", Estimate: 0.4, Variance: 0.01},
	}
	res, err := FitRandom(effects)
	if err != nil {
		t.Fatalf("FitRandom failed: %v", err)
	}
	if res.Tau2 != 0 {
		t.Fatalf("tau^2 = %g for identical effects, want 0", res.Tau2)
	}
	pooled, _ := res.Pooled()
	if math.Abs(pooled.Estimate-0.4) > 1e-12 {
		t.Fatalf("pooled estimate = %g, want 0.4", pooled.Estimate)
	}
}

func TestFitRandomHeterogeneousEffects(t *testing.T) {
	effects := []model.EffectSize{
		{Study: "a", Estimate: -0.2, Variance: 0.005},
		{Study: "b", Estimate: 0.2, Variance: 0.005},
		{Study: "c", Estimate: 0.6, Variance: 0.005},
		{Study: "d", Estimate: 1.0, Variance: 0.005},
	}
	res, err := FitRandom(effects)
	if err != nil {
		t.Fatalf("FitRandom failed: %v", err)
	}
	// Equal sampling variances give a closed-form REML solution:
	// the sample variance of the effects minus the sampling variance.
	want := 0.8/3 - 0.005
	if math.Abs(res.Tau2-want) > 1e-8 {
		t.Fatalf("tau^2 = %g, want %g", res.Tau2, want)
	}
	pooled, _ := res.Pooled()
	if math.Abs(pooled.Estimate-0.4) > 1e-8 {
		t.Fatalf("pooled estimate = %g, want 0.4", pooled.Estimate)
	}
}

func TestFitRandomThreeStudyScenario(t *testing.T) {
	studies := []model.Study{
		{Label: "a", Mean1: 10, SD1: 2, N1: 20, Mean2: 12, SD2: 2, N2: 20},
		{Label: "b", Mean1: 8, SD1: 3, N1: 15, Mean2: 11, SD2: 3, N2: 15},
		{Label: "c", Mean1: 9, SD1: 2.5, N1: 25, Mean2: 13, SD2: 2.5, N2: 25},
	}
	effects, err := EffectSizes(studies)
	if err != nil {
		t.Fatalf("EffectSizes failed: %v", err)
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, e := range effects {
		if e.Estimate <= 0 {
			t.Fatalf("study %s has effect %g, want positive", e.Study, e.Estimate)
		}
		lo = math.Min(lo, e.Estimate)
		hi = math.Max(hi, e.Estimate)
	}
	res, err := FitRandom(effects)
	if err != nil {
		t.Fatalf("FitRandom failed: %v", err)
	}
	pooled, _ := res.Pooled()
	if pooled.Estimate < lo || pooled.Estimate > hi {
		t.Fatalf("pooled estimate %g outside [%g, %g]", pooled.Estimate, lo, hi)
	}
}

func TestFitRandomSingleStudy(t *testing.T) {
	effects := []model.EffectSize{{Study: "only", Estimate: 0.25, Variance: 0.04}}
	res, err := FitRandom(effects)
	if err != nil {
		t.Fatalf("FitRandom failed: %v", err)
	}
	if !res.FixedEffect {
		t.Fatalf("expected a fixed-effect fallback for a single study")
	}
	if res.Tau2 != 0 {
		t.Fatalf("tau^2 = %g for a single study, want 0", res.Tau2)
	}
	pooled, _ := res.Pooled()
	if math.Abs(pooled.Estimate-0.25) > 1e-12 {
		t.Fatalf("pooled estimate = %g, want the study's own effect", pooled.Estimate)
	}
	if math.Abs(pooled.SE-0.2) > 1e-12 {
		t.Fatalf("pooled SE = %g, want 0.2", pooled.SE)
	}
}

func TestFitRandomNoStudies(t *testing.T) {
	if _, err := FitRandom(nil); err == nil {
		t.Fatalf("expected an error for an empty input")
	}
}
