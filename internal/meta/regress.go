package meta

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/verte-zerg/metacog/internal/model"
)

// Moderator covariate names as rendered in coefficient tables.
const (
	covSeverity = "severity"
	covDuration = "log duration"
	covExposure = "exposure type"
	covAge      = "age"
	covMeasure  = "measure"
)

const (
	profilePoints  = 40
	goldenIters    = 60
	rankTolFactor  = 1e-10
	singleLevelMsg = "single observed level"
)

// FitModerators fits a mixed-effects meta-regression: fixed effects for
// severity, log duration, exposure type, age (and the measure label for
// multi-measure domains), plus a random intercept shared by rows of the
// same study. The between-study variance is estimated by a bounded REML
// search; fixed effects follow by GLS.
//
// Categorical covariates expand to one column per non-reference level.
// The reference level is the lexicographically smallest observed level; a
// requested categorical with a single observed level is rank-deficient.
func FitModerators(studies []model.Study, effects []model.EffectSize, includeMeasure bool) (model.ModelResult, error) {
	if len(studies) != len(effects) {
		return model.ModelResult{}, fmt.Errorf("moderator design: %d studies but %d effect sizes", len(studies), len(effects))
	}
	design, err := buildDesign(studies, includeMeasure)
	if err != nil {
		return model.ModelResult{}, err
	}
	k, p := len(studies), len(design.names)
	if k <= p {
		return model.ModelResult{}, &RankDeficiencyError{
			Covariates: []string{fmt.Sprintf("%d coefficients for %d rows", p, k)},
		}
	}

	x := mat.NewDense(k, p, nil)
	for i, row := range design.rows {
		x.SetRow(i, row)
	}
	if deficient := deficientColumns(x, design.names); len(deficient) > 0 {
		return model.ModelResult{}, &RankDeficiencyError{Covariates: deficient}
	}

	y := make([]float64, k)
	v := make([]float64, k)
	for i, e := range effects {
		y[i] = e.Estimate
		v[i] = e.Variance
	}
	groups := studyGroups(studies)

	tau2, err := profileTau2(y, x, v, groups)
	if err != nil {
		return model.ModelResult{}, err
	}
	coefs, err := gls(y, x, v, groups, tau2, design.names)
	if err != nil {
		return model.ModelResult{}, err
	}
	return model.ModelResult{
		Kind:  model.KindModerator,
		Coefs: coefs,
		Tau2:  tau2,
		K:     k,
	}, nil
}

type design struct {
	names []string
	rows  [][]float64
}

func buildDesign(studies []model.Study, includeMeasure bool) (design, error) {
	names := []string{"intercept", covSeverity, covDuration}

	exposureLevels, err := categoricalLevels(studies, covExposure, func(s model.Study) string { return s.ExposureType })
	if err != nil {
		return design{}, err
	}
	for _, level := range exposureLevels[1:] {
		names = append(names, covExposure+": "+level)
	}
	names = append(names, covAge)

	var measureLevels []string
	if includeMeasure {
		measureLevels, err = categoricalLevels(studies, covMeasure, func(s model.Study) string { return s.Measure })
		if err != nil {
			return design{}, err
		}
		for _, level := range measureLevels[1:] {
			names = append(names, covMeasure+": "+level)
		}
	}

	rows := make([][]float64, len(studies))
	for i, s := range studies {
		row := []float64{1, s.Severity, s.LogDuration}
		row = append(row, indicators(s.ExposureType, exposureLevels)...)
		row = append(row, s.Age)
		if includeMeasure {
			row = append(row, indicators(s.Measure, measureLevels)...)
		}
		rows[i] = row
	}
	return design{names: names, rows: rows}, nil
}

// categoricalLevels returns the sorted observed levels of a categorical
// covariate. The first element is the reference level.
func categoricalLevels(studies []model.Study, name string, get func(model.Study) string) ([]string, error) {
	seen := map[string]struct{}{}
	for _, s := range studies {
		seen[get(s)] = struct{}{}
	}
	if len(seen) < 2 {
		return nil, &RankDeficiencyError{Covariates: []string{name + ": " + singleLevelMsg}}
	}
	levels := make([]string, 0, len(seen))
	for level := range seen {
		levels = append(levels, level)
	}
	sort.Strings(levels)
	return levels, nil
}

func indicators(value string, levels []string) []float64 {
	out := make([]float64, len(levels)-1)
	for i, level := range levels[1:] {
		if value == level {
			out[i] = 1
		}
	}
	return out
}

// deficientColumns reports constant non-intercept columns and, failing
// that, an overall rank drop from collinearity.
func deficientColumns(x *mat.Dense, names []string) []string {
	k, p := x.Dims()
	var out []string
	for j := 1; j < p; j++ {
		first := x.At(0, j)
		constant := true
		for i := 1; i < k; i++ {
			if x.At(i, j) != first {
				constant = false
				break
			}
		}
		if constant {
			out = append(out, names[j]+": no variation")
		}
	}
	if len(out) > 0 {
		return out
	}

	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDNone) {
		return []string{"design matrix could not be factorized"}
	}
	values := svd.Values(nil)
	tol := float64(maxInt(k, p)) * values[0] * rankTolFactor
	rank := 0
	for _, s := range values {
		if s > tol {
			rank++
		}
	}
	if rank < p {
		return []string{fmt.Sprintf("collinear covariates (rank %d of %d)", rank, p)}
	}
	return nil
}

// studyGroups maps each row to the index of its study, preserving first
// appearance order.
func studyGroups(studies []model.Study) []int {
	index := map[string]int{}
	groups := make([]int, len(studies))
	for i, s := range studies {
		g, ok := index[s.Label]
		if !ok {
			g = len(index)
			index[s.Label] = g
		}
		groups[i] = g
	}
	return groups
}

// profileTau2 maximizes the restricted log-likelihood over tau² with a
// coarse grid followed by a golden-section refinement. The search is
// bounded, deterministic, and tolerant of a boundary optimum at zero.
func profileTau2(y []float64, x *mat.Dense, v []float64, groups []int) (float64, error) {
	upper := tau2Upper(y, v)
	best := 0.0
	bestLL := math.Inf(-1)
	for i := 0; i <= profilePoints; i++ {
		tau2 := upper * float64(i) / profilePoints
		ll, err := restrictedLogLik(y, x, v, groups, tau2)
		if err != nil {
			continue
		}
		if ll > bestLL {
			bestLL = ll
			best = tau2
		}
	}
	if math.IsInf(bestLL, -1) {
		return 0, &ConvergenceError{What: "REML profile for the moderator model", Iterations: profilePoints}
	}

	step := upper / profilePoints
	lo := math.Max(0, best-step)
	hi := math.Min(upper, best+step)
	const phi = 0.6180339887498949
	a, b := lo, hi
	c := b - phi*(b-a)
	d := a + phi*(b-a)
	llC, _ := restrictedLogLik(y, x, v, groups, c)
	llD, _ := restrictedLogLik(y, x, v, groups, d)
	for i := 0; i < goldenIters; i++ {
		if llC > llD {
			b, d, llD = d, c, llC
			c = b - phi*(b-a)
			llC, _ = restrictedLogLik(y, x, v, groups, c)
		} else {
			a, c, llC = c, d, llD
			d = a + phi*(b-a)
			llD, _ = restrictedLogLik(y, x, v, groups, d)
		}
	}
	return (a + b) / 2, nil
}

func tau2Upper(y, v []float64) float64 {
	var mean float64
	for _, yi := range y {
		mean += yi
	}
	mean /= float64(len(y))
	var s2, maxV float64
	for i, yi := range y {
		r := yi - mean
		s2 += r * r
		if v[i] > maxV {
			maxV = v[i]
		}
	}
	s2 /= float64(len(y) - 1)
	upper := 4 * (s2 + maxV)
	if upper <= 0 {
		upper = 1
	}
	return upper
}

// restrictedLogLik evaluates the REML log-likelihood at tau² under the
// marginal covariance diag(v) + tau²·ZZᵀ (compound-symmetric study blocks).
func restrictedLogLik(y []float64, x *mat.Dense, v []float64, groups []int, tau2 float64) (float64, error) {
	k, p := x.Dims()
	m := marginalCov(v, groups, tau2)

	var chol mat.Cholesky
	if !chol.Factorize(m) {
		return 0, fmt.Errorf("marginal covariance is not positive definite at tau^2=%g", tau2)
	}

	miX := mat.NewDense(k, p, nil)
	if err := chol.SolveTo(miX, x); err != nil {
		return 0, fmt.Errorf("failed to solve M^-1 X: %w", err)
	}
	yVec := mat.NewVecDense(k, y)
	miY := mat.NewVecDense(k, nil)
	if err := chol.SolveVecTo(miY, yVec); err != nil {
		return 0, fmt.Errorf("failed to solve M^-1 y: %w", err)
	}

	xtMiX := mat.NewDense(p, p, nil)
	xtMiX.Mul(x.T(), miX)
	xtMiY := mat.NewVecDense(p, nil)
	xtMiY.MulVec(x.T(), miY)

	xtSym := denseToSym(xtMiX)
	var cholX mat.Cholesky
	if !cholX.Factorize(xtSym) {
		return 0, fmt.Errorf("X'M^-1X is singular at tau^2=%g", tau2)
	}
	b := mat.NewVecDense(p, nil)
	if err := cholX.SolveVecTo(b, xtMiY); err != nil {
		return 0, fmt.Errorf("failed to solve GLS coefficients: %w", err)
	}

	// r' M^-1 r with r = y - Xb, reusing M^-1 y and M^-1 X.
	xb := mat.NewVecDense(k, nil)
	xb.MulVec(x, b)
	miR := mat.NewVecDense(k, nil)
	miXb := mat.NewVecDense(k, nil)
	miXb.MulVec(miX, b)
	miR.SubVec(miY, miXb)
	r := mat.NewVecDense(k, nil)
	r.SubVec(yVec, xb)
	quad := mat.Dot(r, miR)

	return -0.5 * (chol.LogDet() + cholX.LogDet() + quad), nil
}

// gls computes the fixed-effect coefficients and their covariance at the
// estimated tau².
func gls(y []float64, x *mat.Dense, v []float64, groups []int, tau2 float64, names []string) ([]model.CoefRow, error) {
	k, p := x.Dims()
	m := marginalCov(v, groups, tau2)

	var chol mat.Cholesky
	if !chol.Factorize(m) {
		return nil, fmt.Errorf("marginal covariance is not positive definite")
	}
	miX := mat.NewDense(k, p, nil)
	if err := chol.SolveTo(miX, x); err != nil {
		return nil, fmt.Errorf("failed to solve M^-1 X: %w", err)
	}
	yVec := mat.NewVecDense(k, y)
	miY := mat.NewVecDense(k, nil)
	if err := chol.SolveVecTo(miY, yVec); err != nil {
		return nil, fmt.Errorf("failed to solve M^-1 y: %w", err)
	}

	xtMiX := mat.NewDense(p, p, nil)
	xtMiX.Mul(x.T(), miX)
	xtMiY := mat.NewVecDense(p, nil)
	xtMiY.MulVec(x.T(), miY)

	xtSym := denseToSym(xtMiX)
	var cholX mat.Cholesky
	if !cholX.Factorize(xtSym) {
		return nil, &RankDeficiencyError{Covariates: []string{"collinear covariates"}}
	}
	b := mat.NewVecDense(p, nil)
	if err := cholX.SolveVecTo(b, xtMiY); err != nil {
		return nil, fmt.Errorf("failed to solve GLS coefficients: %w", err)
	}
	var cov mat.SymDense
	if err := cholX.InverseTo(&cov); err != nil {
		return nil, fmt.Errorf("failed to invert X'M^-1X: %w", err)
	}

	coefs := make([]model.CoefRow, p)
	for j := 0; j < p; j++ {
		coefs[j] = coefRow(names[j], b.AtVec(j), math.Sqrt(cov.At(j, j)))
	}
	return coefs, nil
}

func marginalCov(v []float64, groups []int, tau2 float64) *mat.SymDense {
	k := len(v)
	m := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			val := 0.0
			if groups[i] == groups[j] {
				val = tau2
			}
			if i == j {
				val += v[i]
			}
			m.SetSym(i, j, val)
		}
	}
	return m
}

func denseToSym(d *mat.Dense) *mat.SymDense {
	n, _ := d.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (d.At(i, j)+d.At(j, i))/2)
		}
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
