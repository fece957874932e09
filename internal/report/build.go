// Package report renders coefficient tables and funnel plots.
package report

import (
	"errors"
	"fmt"

	"github.com/verte-zerg/metacog/internal/domain"
	"github.com/verte-zerg/metacog/internal/meta"
	"github.com/verte-zerg/metacog/internal/model"
)

// Section holds one domain's computed results for rendering. A nil model
// pointer means the corresponding fit was skipped; Notices explains why.
type Section struct {
	Domain    string
	K         int
	Effects   []model.EffectSize
	Main      *model.ModelResult
	Moderator *model.ModelResult
	TrimFill  *model.ModelResult
	Notices   []string
}

// Build runs the per-domain pipeline over the cleaned table: subset,
// effect sizes, main random-effects model, moderator model, trim-and-fill.
// Per-domain failures become section notices; only the caller's load step
// is fatal.
func Build(studies []model.Study, taxa []domain.Taxonomy, side string) []Section {
	sections := make([]Section, 0, len(taxa))
	for _, t := range taxa {
		sections = append(sections, buildSection(studies, t, side))
	}
	return sections
}

func buildSection(studies []model.Study, t domain.Taxonomy, side string) Section {
	section := Section{Domain: t.Name}

	subset := domain.Subset(studies, t)
	section.K = len(subset)
	if len(subset) == 0 {
		section.Notices = append(section.Notices, "insufficient data: no studies report a matching measure")
		return section
	}

	effects, err := meta.EffectSizes(subset)
	if err != nil {
		section.Notices = append(section.Notices, classify(err))
		return section
	}
	section.Effects = effects

	if main, err := meta.FitRandom(effects); err != nil {
		section.Notices = append(section.Notices, classify(err))
	} else {
		section.Main = &main
		if main.FixedEffect {
			section.Notices = append(section.Notices,
				"fewer than 2 studies: between-study variance not estimable, fixed-effect estimate reported")
		}
	}

	if mod, err := meta.FitModerators(subset, effects, t.MultiMeasure); err != nil {
		section.Notices = append(section.Notices, classify(err))
	} else {
		section.Moderator = &mod
	}

	if section.Main != nil {
		if tf, err := meta.TrimFill(effects, side); err != nil {
			section.Notices = append(section.Notices, classify(err))
		} else {
			section.TrimFill = &tf
		}
	}
	return section
}

// classify prefixes a per-domain error with its kind so the notice reads
// like a diagnosis, not a stack trace.
func classify(err error) string {
	var dq *meta.DataQualityError
	if errors.As(err, &dq) {
		return fmt.Sprintf("data quality: %v", err)
	}
	var rd *meta.RankDeficiencyError
	if errors.As(err, &rd) {
		return fmt.Sprintf("moderator model skipped: %v", err)
	}
	var nc *meta.ConvergenceError
	if errors.As(err, &nc) {
		return fmt.Sprintf("non-convergence: %v", err)
	}
	return err.Error()
}
