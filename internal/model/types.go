// Package model defines shared data structures.
package model

import (
	"math"
	"time"
)

// Study holds one study comparison row: summary statistics for two
// conditions plus moderator covariates.
type Study struct {
	Label        string
	Mean1        float64
	SD1          float64
	N1           int
	Mean2        float64
	SD2          float64
	N2           int
	Severity     float64
	Duration     float64
	LogDuration  float64
	ExposureType string
	Age          float64
	Measure      string
	Domain       string
}

// EffectSize is a standardized mean difference and its sampling variance,
// derived one-to-one from a Study row.
type EffectSize struct {
	Study    string
	Estimate float64
	Variance float64
}

// SE returns the standard error of the effect size.
func (e EffectSize) SE() float64 {
	if e.Variance <= 0 {
		return 0
	}
	return math.Sqrt(e.Variance)
}

// CoefRow is one row of a model coefficient table.
type CoefRow struct {
	Name     string
	Estimate float64
	SE       float64
	ZVal     float64
	PVal     float64
	CILower  float64
	CIUpper  float64
}

// ModelKind identifies which model produced a result.
type ModelKind string

// Model kinds reported per domain.
const (
	KindMain      ModelKind = "main"
	KindModerator ModelKind = "moderator"
	KindTrimFill  ModelKind = "trimfill"
)

// ModelResult holds the fitted coefficients of one model for one domain.
type ModelResult struct {
	Kind        ModelKind
	Coefs       []CoefRow
	Tau2        float64
	K           int
	FixedEffect bool
	Imputed     int
}

// Pooled returns the intercept row of the result, if present.
func (r ModelResult) Pooled() (CoefRow, bool) {
	if len(r.Coefs) == 0 {
		return CoefRow{}, false
	}
	return r.Coefs[0], true
}

// ReportConfig defines report generation settings.
type ReportConfig struct {
	InputPath  string
	Excluded   []string
	Domains    []string
	Decimals   int
	PlotHeight int
	Side       string
	Archive    bool
}

// RunSummary is an archived report run.
type RunSummary struct {
	RunID     int64
	StartedAt time.Time
	InputPath string
	Studies   int
}

// RunModel is one archived (domain, model-kind) result.
type RunModel struct {
	RunID    int64
	Domain   string
	Kind     ModelKind
	Estimate float64
	SE       float64
	CILower  float64
	CIUpper  float64
	Tau2     float64
	K        int
	Imputed  int
}
