package meta

import (
	"math"

	"github.com/verte-zerg/metacog/internal/model"
)

// EffectSize computes the standardized mean difference for one study row.
// Condition 2 is the treatment group: the numerator is Mean2 - Mean1 and
// the standardizer is the bias-corrected SD of condition 2 (SMDH
// convention). The sampling variance allows unequal group variances.
func EffectSize(s model.Study) (model.EffectSize, error) {
	if s.N1 < 2 || s.N2 < 2 {
		return model.EffectSize{}, &DataQualityError{Study: s.Label, Reason: "fewer than 2 participants in a condition"}
	}
	if s.SD2 <= 0 {
		reason := "zero variance in the standardizing condition"
		if s.SD1 <= 0 {
			reason = "zero variance in both conditions"
		}
		return model.EffectSize{}, &DataQualityError{Study: s.Label, Reason: reason}
	}

	j := correction(s.N2 - 1)
	d := j * (s.Mean2 - s.Mean1) / s.SD2
	v := (s.SD1*s.SD1/float64(s.N1)+s.SD2*s.SD2/float64(s.N2))/(s.SD2*s.SD2) +
		d*d/(2*float64(s.N2-1))
	if !isFinitePositive(v) || math.IsNaN(d) || math.IsInf(d, 0) {
		return model.EffectSize{}, &DataQualityError{Study: s.Label, Reason: "degenerate summary statistics"}
	}
	return model.EffectSize{Study: s.Label, Estimate: d, Variance: v}, nil
}

// EffectSizes computes effect sizes for every row of a domain subset. The
// first degenerate row aborts the domain with a DataQualityError.
func EffectSizes(studies []model.Study) ([]model.EffectSize, error) {
	out := make([]model.EffectSize, 0, len(studies))
	for _, s := range studies {
		es, err := EffectSize(s)
		if err != nil {
			return nil, err
		}
		out = append(out, es)
	}
	return out, nil
}

// correction is the Hedges small-sample bias correction J(m) for a
// standardizer on m degrees of freedom.
func correction(df int) float64 {
	if df <= 1 {
		return 1
	}
	return 1 - 3/(4*float64(df)-1)
}

func isFinitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
