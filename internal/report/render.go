// Package report renders coefficient tables and funnel plots.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/verte-zerg/metacog/internal/model"
)

// Options controls report formatting.
type Options struct {
	Decimals   int
	PlotHeight int
	TotalWidth int
	UseColor   bool
}

func (o Options) decimals() int {
	if o.Decimals <= 0 {
		return 3
	}
	return o.Decimals
}

// Render writes the full report, one section per domain in taxonomy order.
func Render(w io.Writer, sections []Section, opts Options) error {
	for i, section := range sections {
		if i > 0 {
			if _, err := fmt.Fprintln(w, ""); err != nil {
				return err
			}
		}
		if err := RenderSection(w, section, opts); err != nil {
			return err
		}
	}
	return nil
}

// RenderSection writes one domain's tables, notices, and funnel plot.
func RenderSection(w io.Writer, section Section, opts Options) error {
	header := fmt.Sprintf("== %s (k=%d) ==", titleCase(section.Domain), section.K)
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	for _, notice := range section.Notices {
		if _, err := fmt.Fprintf(w, "Notice: %s\n", notice); err != nil {
			return err
		}
	}
	if section.K == 0 {
		_, err := fmt.Fprintln(w, "")
		return err
	}
	if _, err := fmt.Fprintln(w, ""); err != nil {
		return err
	}

	if section.Main != nil {
		title := "Random-Effects Model (REML)"
		if section.Main.FixedEffect {
			title = "Fixed-Effect Model"
		}
		if err := renderModel(w, title, *section.Main, opts); err != nil {
			return err
		}
	}
	if section.Moderator != nil {
		if err := renderModel(w, "Mixed-Effects Moderator Model", *section.Moderator, opts); err != nil {
			return err
		}
	}
	if section.TrimFill != nil {
		title := fmt.Sprintf("Trim-and-Fill Adjusted Model (%d studies imputed)", section.TrimFill.Imputed)
		if err := renderModel(w, title, *section.TrimFill, opts); err != nil {
			return err
		}
	}
	if section.Main != nil {
		pooled, ok := section.Main.Pooled()
		if ok {
			width := 0
			if opts.TotalWidth > 0 {
				width = FunnelWidthFor(opts.TotalWidth)
			}
			title := fmt.Sprintf("Funnel Plot: %s", titleCase(section.Domain))
			if err := PlotFunnelWithColor(w, title, section.Effects, pooled.Estimate, width, opts.PlotHeight, opts.UseColor); err != nil {
				return err
			}
		}
	}
	return nil
}

func renderModel(w io.Writer, title string, result model.ModelResult, opts Options) error {
	if _, err := fmt.Fprintln(w, title); err != nil {
		return err
	}
	for _, line := range CoefTable(result.Coefs, opts.decimals()) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	if !result.FixedEffect {
		if _, err := fmt.Fprintf(w, "tau^2 = %.*f\n", opts.decimals(), result.Tau2); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}

// CoefTable formats a coefficient table with the given rounding.
func CoefTable(coefs []model.CoefRow, decimals int) []string {
	headers := []string{"term", "estimate", "se", "zval", "pval", "ci.lb", "ci.ub"}
	rows := make([][]string, 0, len(coefs))
	for _, c := range coefs {
		rows = append(rows, []string{
			c.Name,
			num(c.Estimate, decimals),
			num(c.SE, decimals),
			num(c.ZVal, decimals),
			pval(c.PVal, decimals),
			num(c.CILower, decimals),
			num(c.CIUpper, decimals),
		})
	}
	rightAlign := map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true, 6: true}
	return formatTable(headers, rows, rightAlign)
}

func num(v float64, decimals int) string {
	return fmt.Sprintf("%.*f", decimals, v)
}

func pval(p float64, decimals int) string {
	floor := 1.0
	for i := 0; i < decimals; i++ {
		floor /= 10
	}
	if p < floor {
		return fmt.Sprintf("<%.*f", decimals, floor)
	}
	return fmt.Sprintf("%.*f", decimals, p)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
