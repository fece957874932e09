package meta

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/verte-zerg/metacog/internal/model"
)

const (
	remlMaxIter = 200
	remlTol     = 1e-10

	// Two-sided 95% normal quantile.
	ciZ = 1.959963984540054
)

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// FitRandom fits an intercept-only random-effects model to the effect
// sizes, estimating the between-study variance tau² by REML. With fewer
// than 2 studies tau² cannot be estimated; the result degrades to a
// fixed-effect pooled estimate with FixedEffect set.
func FitRandom(effects []model.EffectSize) (model.ModelResult, error) {
	k := len(effects)
	if k == 0 {
		return model.ModelResult{}, fmt.Errorf("no studies to pool")
	}
	if k < 2 {
		pooled := pool(effects, 0)
		return model.ModelResult{
			Kind:        model.KindMain,
			Coefs:       []model.CoefRow{pooled},
			Tau2:        0,
			K:           k,
			FixedEffect: true,
		}, nil
	}

	tau2, err := remlTau2(effects)
	if err != nil {
		return model.ModelResult{}, err
	}
	pooled := pool(effects, tau2)
	return model.ModelResult{
		Kind:  model.KindMain,
		Coefs: []model.CoefRow{pooled},
		Tau2:  tau2,
		K:     k,
	}, nil
}

// remlTau2 runs the REML fixed-point iteration for the between-study
// variance, clamped at the zero boundary.
func remlTau2(effects []model.EffectSize) (float64, error) {
	tau2 := startTau2(effects)
	for iter := 0; iter < remlMaxIter; iter++ {
		var sumW, sumW2, sumWY float64
		for _, e := range effects {
			w := 1 / (e.Variance + tau2)
			sumW += w
			sumW2 += w * w
			sumWY += w * e.Estimate
		}
		mu := sumWY / sumW

		var num float64
		for _, e := range effects {
			w := 1 / (e.Variance + tau2)
			r := e.Estimate - mu
			num += w * w * (r*r - e.Variance)
		}
		next := num/sumW2 + 1/sumW
		if next < 0 {
			next = 0
		}
		if math.Abs(next-tau2) < remlTol*(1+tau2) {
			return next, nil
		}
		tau2 = next
	}
	return 0, &ConvergenceError{What: "REML tau^2 estimation", Iterations: remlMaxIter}
}

// startTau2 seeds the iteration with the spread of the effects beyond
// their average sampling variance.
func startTau2(effects []model.EffectSize) float64 {
	var mean, meanV float64
	for _, e := range effects {
		mean += e.Estimate
		meanV += e.Variance
	}
	n := float64(len(effects))
	mean /= n
	meanV /= n
	var s2 float64
	for _, e := range effects {
		r := e.Estimate - mean
		s2 += r * r
	}
	s2 /= n - 1
	tau2 := s2 - meanV
	if tau2 < 0 {
		return 0
	}
	return tau2
}

// pool computes the inverse-variance weighted estimate under the given
// between-study variance.
func pool(effects []model.EffectSize, tau2 float64) model.CoefRow {
	var sumW, sumWY float64
	for _, e := range effects {
		w := 1 / (e.Variance + tau2)
		sumW += w
		sumWY += w * e.Estimate
	}
	est := sumWY / sumW
	se := math.Sqrt(1 / sumW)
	return coefRow("intercept", est, se)
}

func coefRow(name string, est, se float64) model.CoefRow {
	z := 0.0
	p := 1.0
	if se > 0 {
		z = est / se
		p = 2 * stdNormal.Survival(math.Abs(z))
	}
	return model.CoefRow{
		Name:     name,
		Estimate: est,
		SE:       se,
		ZVal:     z,
		PVal:     p,
		CILower:  est - ciZ*se,
		CIUpper:  est + ciZ*se,
	}
}
