package report

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/verte-zerg/metacog/internal/domain"
	"github.com/verte-zerg/metacog/internal/meta"
	"github.com/verte-zerg/metacog/internal/model"
)

func speedStudies(k int) []model.Study {
	durations := []float64{0, 1, 2, 4, 8, 12, 26, 52, 3, 5, 7, 10}
	measures := []string{"processing speed", "perceptual speed"}
	studies := make([]model.Study, k)
	for i := 0; i < k; i++ {
		exposure := "oral"
		if i%2 == 0 {
			exposure = "inhalation"
		}
		dur := durations[i%len(durations)]
		studies[i] = model.Study{
			Label:        fmt.Sprintf("Study %d", i+1),
			Mean1:        50, SD1: 8, N1: 30,
			Mean2:        50 - float64(i%5) - 0.5, SD2: 9, N2: 28,
			Severity:     1 + float64(i)*0.4,
			Duration:     dur,
			LogDuration:  math.Log(dur + 1),
			ExposureType: exposure,
			Age:          30 + float64((i*7)%23),
			Measure:      measures[i%len(measures)],
			Domain:       "processing speed",
		}
	}
	return studies
}

func resolveDomain(t *testing.T, name string) []domain.Taxonomy {
	t.Helper()
	taxa, err := domain.Resolve(nil, []string{name})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return taxa
}

func TestBuildFullPipeline(t *testing.T) {
	taxa := resolveDomain(t, "processing speed")
	sections := Build(speedStudies(12), taxa, meta.SideAuto)
	if len(sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(sections))
	}
	sec := sections[0]
	if sec.K != 12 {
		t.Fatalf("k = %d, want 12", sec.K)
	}
	if len(sec.Notices) != 0 {
		t.Fatalf("unexpected notices: %v", sec.Notices)
	}
	if sec.Main == nil || sec.Moderator == nil || sec.TrimFill == nil {
		t.Fatalf("expected all three models, got main=%v moderator=%v trimfill=%v",
			sec.Main != nil, sec.Moderator != nil, sec.TrimFill != nil)
	}
	// Intercept, severity, log duration, one exposure indicator, age.
	if len(sec.Moderator.Coefs) != 5 {
		t.Fatalf("moderator model has %d coefficients, want 5", len(sec.Moderator.Coefs))
	}
	if sec.TrimFill.Kind != model.KindTrimFill {
		t.Fatalf("trim-and-fill kind = %q", sec.TrimFill.Kind)
	}
}

func TestBuildModeratorSkippedForSmallDomains(t *testing.T) {
	taxa := resolveDomain(t, "processing speed")
	sections := Build(speedStudies(3), taxa, meta.SideAuto)
	sec := sections[0]
	if sec.Main == nil {
		t.Fatalf("the main model must still fit with 3 studies")
	}
	if sec.Moderator != nil {
		t.Fatalf("moderator model should not fit with 3 studies")
	}
	var found bool
	for _, n := range sec.Notices {
		if strings.Contains(n, "moderator model skipped") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a moderator-skipped notice, got %v", sec.Notices)
	}
}

func TestBuildEmptyDomain(t *testing.T) {
	taxa := resolveDomain(t, "memory")
	sections := Build(speedStudies(5), taxa, meta.SideAuto)
	sec := sections[0]
	if sec.K != 0 {
		t.Fatalf("k = %d, want 0", sec.K)
	}
	if len(sec.Notices) != 1 || !strings.Contains(sec.Notices[0], "insufficient data") {
		t.Fatalf("expected an insufficient-data notice, got %v", sec.Notices)
	}
	if sec.Main != nil || sec.Moderator != nil || sec.TrimFill != nil {
		t.Fatalf("no models should fit for an empty domain")
	}
}

func TestBuildDataQualityNotice(t *testing.T) {
	studies := speedStudies(3)
	studies[1].SD1 = 0
	studies[1].SD2 = 0
	taxa := resolveDomain(t, "processing speed")
	sections := Build(studies, taxa, meta.SideAuto)
	sec := sections[0]
	if sec.Main != nil {
		t.Fatalf("a degenerate row must abort the domain's models")
	}
	var found bool
	for _, n := range sec.Notices {
		if strings.Contains(n, "data quality") && strings.Contains(n, studies[1].Label) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a data-quality notice naming the study, got %v", sec.Notices)
	}
}

func TestBuildSingleStudyFixedEffect(t *testing.T) {
	taxa := resolveDomain(t, "processing speed")
	sections := Build(speedStudies(1), taxa, meta.SideAuto)
	sec := sections[0]
	if sec.Main == nil || !sec.Main.FixedEffect {
		t.Fatalf("expected a fixed-effect fallback for a single study")
	}
	var found bool
	for _, n := range sec.Notices {
		if strings.Contains(n, "fewer than 2 studies") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a fixed-effect notice, got %v", sec.Notices)
	}
}
