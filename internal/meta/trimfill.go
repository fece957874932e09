package meta

import (
	"fmt"
	"math"
	"sort"

	"github.com/verte-zerg/metacog/internal/model"
)

// Funnel sides for trim-and-fill. SideAuto picks the side whose small
// studies pull the pooled estimate, i.e. the side opposite the presumed
// suppression.
const (
	SideAuto  = "auto"
	SideLeft  = "left"
	SideRight = "right"
)

const trimFillMaxIter = 50

// TrimFill applies the iterative Duval & Tweedie trim-and-fill adjustment
// (L0 estimator) to the effect sizes and refits the random-effects model
// on the augmented set. Ties in the centered effects rank by stable input
// order, so the procedure is deterministic for a given input ordering.
func TrimFill(effects []model.EffectSize, side string) (model.ModelResult, error) {
	if len(effects) == 0 {
		return model.ModelResult{}, fmt.Errorf("no studies to adjust")
	}
	switch side {
	case SideLeft, SideRight:
	case SideAuto, "":
		side = detectSide(effects)
	default:
		return model.ModelResult{}, fmt.Errorf("unknown funnel side %q (use left, right, or auto)", side)
	}

	// Work on a right-suppression problem: when studies are presumed
	// missing on the left, the observed extremes to trim sit on the right.
	work := make([]model.EffectSize, len(effects))
	copy(work, effects)
	flipped := side == SideRight
	if flipped {
		for i := range work {
			work[i].Estimate = -work[i].Estimate
		}
	}

	k0, center, err := estimateMissing(work)
	if err != nil {
		return model.ModelResult{}, err
	}

	augmented := make([]model.EffectSize, len(work), len(work)+k0)
	copy(augmented, work)
	if k0 > 0 {
		for _, idx := range extremeIndices(work, center, k0) {
			e := work[idx]
			augmented = append(augmented, model.EffectSize{
				Study:    e.Study + " (filled)",
				Estimate: 2*center - e.Estimate,
				Variance: e.Variance,
			})
		}
	}
	if flipped {
		for i := range augmented {
			augmented[i].Estimate = -augmented[i].Estimate
		}
	}

	result, err := FitRandom(augmented)
	if err != nil {
		return model.ModelResult{}, err
	}
	result.Kind = model.KindTrimFill
	result.Imputed = k0
	return result, nil
}

// estimateMissing iterates the L0 estimator until the estimated number of
// suppressed studies stabilizes, trimming the current extremes from the
// centering estimate each round.
func estimateMissing(effects []model.EffectSize) (k0 int, center float64, err error) {
	n := len(effects)
	k0 = 0
	for iter := 0; iter < trimFillMaxIter; iter++ {
		center = fixedEffectCenter(trimExtremes(effects, k0))

		// Rank sum of the right-side deviations; tied absolute
		// deviations share their average rank so a symmetric funnel
		// estimates zero regardless of input order.
		ranks := midRanks(effects, center)
		tn := 0.0
		for idx, rank := range ranks {
			if effects[idx].Estimate-center > 0 {
				tn += rank
			}
		}
		l0 := (4*tn - float64(n*(n+1))) / (2*float64(n) - 1)
		next := int(math.Round(l0))
		if next < 0 {
			next = 0
		}
		if next >= n {
			next = n - 1
		}
		if next == k0 {
			return k0, center, nil
		}
		k0 = next
	}
	return 0, 0, &ConvergenceError{What: "trim-and-fill", Iterations: trimFillMaxIter}
}

// trimExtremes drops the k0 largest effects, breaking ties by input order.
func trimExtremes(effects []model.EffectSize, k0 int) []model.EffectSize {
	if k0 <= 0 {
		return effects
	}
	order := make([]int, len(effects))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return effects[order[a]].Estimate < effects[order[b]].Estimate
	})
	keep := order[:len(order)-k0]
	sort.Ints(keep)
	out := make([]model.EffectSize, 0, len(keep))
	for _, idx := range keep {
		out = append(out, effects[idx])
	}
	return out
}

// midRanks assigns each row the 1-based rank of |estimate - center|,
// with tied values sharing the average of the ranks they span.
func midRanks(effects []model.EffectSize, center float64) []float64 {
	order := make([]int, len(effects))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return math.Abs(effects[order[a]].Estimate-center) < math.Abs(effects[order[b]].Estimate-center)
	})
	ranks := make([]float64, len(effects))
	for lo := 0; lo < len(order); {
		hi := lo
		for hi+1 < len(order) &&
			math.Abs(effects[order[hi+1]].Estimate-center) == math.Abs(effects[order[lo]].Estimate-center) {
			hi++
		}
		avg := float64(lo+hi)/2 + 1
		for i := lo; i <= hi; i++ {
			ranks[order[i]] = avg
		}
		lo = hi + 1
	}
	return ranks
}

// extremeIndices returns the k0 rows farthest to the right, ties by input
// order, in input order.
func extremeIndices(effects []model.EffectSize, center float64, k0 int) []int {
	order := make([]int, len(effects))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return effects[order[a]].Estimate > effects[order[b]].Estimate
	})
	out := append([]int(nil), order[:k0]...)
	sort.Ints(out)
	return out
}

func fixedEffectCenter(effects []model.EffectSize) float64 {
	var sumW, sumWY float64
	for _, e := range effects {
		w := 1 / e.Variance
		sumW += w
		sumWY += w * e.Estimate
	}
	if sumW == 0 {
		return 0
	}
	return sumWY / sumW
}

// detectSide infers the suppressed side from the association between
// centered effects and their variances: small studies dragging the
// estimate upward suggest suppression on the left, and vice versa.
func detectSide(effects []model.EffectSize) string {
	center := fixedEffectCenter(effects)
	var meanV float64
	for _, e := range effects {
		meanV += e.Variance
	}
	meanV /= float64(len(effects))
	var cov float64
	for _, e := range effects {
		cov += (e.Estimate - center) * (e.Variance - meanV)
	}
	if cov >= 0 {
		return SideLeft
	}
	return SideRight
}
