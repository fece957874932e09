// Package meta implements the meta-analytic models: effect sizes, the
// REML random-effects model, mixed-effects meta-regression, and the
// trim-and-fill bias correction.
package meta

import (
	"fmt"
	"strings"
)

// DataQualityError flags a study row whose summary statistics cannot yield
// a finite effect size.
type DataQualityError struct {
	Study  string
	Reason string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("study %q: %s", e.Study, e.Reason)
}

// RankDeficiencyError flags moderator covariates without enough variation
// to estimate their coefficients.
type RankDeficiencyError struct {
	Covariates []string
}

func (e *RankDeficiencyError) Error() string {
	return fmt.Sprintf("rank-deficient moderator design: %s", strings.Join(e.Covariates, ", "))
}

// ConvergenceError flags an estimation routine that exhausted its
// iteration limit.
type ConvergenceError struct {
	What       string
	Iterations int
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%s did not converge within %d iterations", e.What, e.Iterations)
}
