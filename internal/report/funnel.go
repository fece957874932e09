// Package report renders coefficient tables and funnel plots.
package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/verte-zerg/metacog/internal/model"
)

const (
	defaultFunnelHeight = 10
	minFunnelWidth      = 20
	axisSeparator       = " │ "
	colorReset          = "\x1b[0m"
	terminalWidthBackup = 80

	// Two-sided 95% normal quantile for the pseudo-confidence contours.
	contourZ = 1.959963984540054
)

type ansiColor struct {
	name string
	code string
}

var funnelPalette = []ansiColor{
	{name: "cyan", code: "\x1b[36m"},
	{name: "yellow", code: "\x1b[33m"},
	{name: "magenta", code: "\x1b[35m"},
}

// Funnel plot layers, drawn back to front.
const (
	layerPoints = iota
	layerContours
	layerCenter
	layerCount
)

// PlotFunnel renders a braille funnel plot: per-study effect sizes against
// their standard errors (SE = 0 at the top), pseudo-confidence contours at
// pooled ± 1.96·SE, and a vertical line at the pooled estimate.
func PlotFunnel(w io.Writer, title string, effects []model.EffectSize, pooled float64, width, height int) error {
	return plotFunnel(w, title, effects, pooled, width, height, false)
}

// PlotFunnelWithColor renders a funnel plot with optional forced color output.
func PlotFunnelWithColor(w io.Writer, title string, effects []model.EffectSize, pooled float64, width, height int, forceColor bool) error {
	return plotFunnel(w, title, effects, pooled, width, height, forceColor)
}

func plotFunnel(w io.Writer, title string, effects []model.EffectSize, pooled float64, width, height int, forceColor bool) error {
	if len(effects) == 0 {
		return nil
	}
	if height <= 0 {
		height = defaultFunnelHeight
	}
	if width <= 0 {
		width = autoFunnelWidth()
	}
	if width < minFunnelWidth {
		width = minFunnelWidth
	}

	maxSE := 0.0
	for _, e := range effects {
		if se := e.SE(); se > maxSE {
			maxSE = se
		}
	}
	if maxSE <= 0 {
		maxSE = 1
	}
	seTop, seBottom := 0.0, maxSE*1.05

	xMin, xMax := pooled-contourZ*seBottom, pooled+contourZ*seBottom
	for _, e := range effects {
		xMin = math.Min(xMin, e.Estimate)
		xMax = math.Max(xMax, e.Estimate)
	}
	if xMax-xMin < 1e-9 {
		xMin--
		xMax++
	}

	subW, subH := width*2, height*4
	toPx := func(x float64) int {
		return clampInt(int(math.Round((x-xMin)/(xMax-xMin)*float64(subW-1))), 0, subW-1)
	}
	toPy := func(se float64) int {
		return clampInt(int(math.Round((se-seTop)/(seBottom-seTop)*float64(subH-1))), 0, subH-1)
	}

	layers := make([][][]uint8, layerCount)
	for i := range layers {
		layers[i] = makeCells(height, width)
	}

	// Contours and center line.
	drawLine(toPx(pooled), toPy(seTop), toPx(pooled-contourZ*seBottom), toPy(seBottom), func(x, y int) {
		setBrailleDot(layers[layerContours], x, y)
	})
	drawLine(toPx(pooled), toPy(seTop), toPx(pooled+contourZ*seBottom), toPy(seBottom), func(x, y int) {
		setBrailleDot(layers[layerContours], x, y)
	})
	drawLine(toPx(pooled), toPy(seTop), toPx(pooled), toPy(seBottom), func(x, y int) {
		if y%4 < 2 {
			setBrailleDot(layers[layerCenter], x, y)
		}
	})

	// Study points on top.
	for _, e := range effects {
		px, py := toPx(e.Estimate), toPy(e.SE())
		setBrailleDot(layers[layerPoints], px, py)
		setBrailleDot(layers[layerPoints], px+1, py)
	}

	useColor := shouldUseColor(w, forceColor)
	axisLabels := funnelAxisLabels(height, seTop, seBottom)
	leftAxisWidth := 0
	for _, label := range axisLabels {
		if len(label) > leftAxisWidth {
			leftAxisWidth = len(label)
		}
	}

	if title != "" {
		if _, err := fmt.Fprintln(w, title); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "Effect size: %.3f to %.3f  Pooled: %.3f\n", xMin, xMax, pooled); err != nil {
		return err
	}
	for y := 0; y < height; y++ {
		prefix := fmt.Sprintf("%*s%s", leftAxisWidth, axisLabels[y], axisSeparator)
		var row strings.Builder
		row.WriteString(prefix)
		for x := 0; x < width; x++ {
			mask, layer := composeCell(layers, x, y)
			ch := brailleFromMask(mask)
			if useColor && layer >= 0 {
				color := funnelPalette[layer%len(funnelPalette)].code
				row.WriteString(color)
				row.WriteRune(ch)
				row.WriteString(colorReset)
			} else {
				row.WriteRune(ch)
			}
		}
		if _, err := fmt.Fprintln(w, row.String()); err != nil {
			return err
		}
	}
	legend := funnelLegend(useColor)
	if _, err := fmt.Fprintln(w, legend); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, ""); err != nil {
		return err
	}
	return nil
}

func funnelLegend(useColor bool) string {
	marker := brailleFromMask(0x01)
	labels := []string{"studies", "95% contour", "pooled"}
	parts := make([]string, 0, len(labels))
	for i, label := range labels {
		entry := fmt.Sprintf("%c %s", marker, label)
		if useColor {
			entry = funnelPalette[i%len(funnelPalette)].code + entry + colorReset
		}
		parts = append(parts, entry)
	}
	return "Legend: " + strings.Join(parts, "  ")
}

func funnelAxisLabels(height int, seTop, seBottom float64) []string {
	labels := make([]string, height)
	if height <= 0 {
		return labels
	}
	labels[0] = fmt.Sprintf("SE %.2f", seTop)
	if height > 2 {
		labels[height/2] = fmt.Sprintf("%.2f", (seTop+seBottom)/2)
	}
	if height > 1 {
		labels[height-1] = fmt.Sprintf("%.2f", seBottom)
	}
	return labels
}

func autoFunnelWidth() int {
	return FunnelWidthFor(terminalWidth())
}

// FunnelWidthFor computes a plot width that fits within the total available width.
func FunnelWidthFor(totalWidth int) int {
	if totalWidth <= 0 {
		return minFunnelWidth
	}
	axisWidth := len("SE 0.00") + len([]rune(axisSeparator))
	plotWidth := totalWidth - axisWidth
	if plotWidth < minFunnelWidth {
		plotWidth = minFunnelWidth
	}
	return plotWidth
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return terminalWidthBackup
	}
	return width
}

func shouldUseColor(w io.Writer, force bool) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if force {
		return true
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

func makeCells(height, width int) [][]uint8 {
	cells := make([][]uint8, height)
	for y := 0; y < height; y++ {
		cells[y] = make([]uint8, width)
	}
	return cells
}

func composeCell(layers [][][]uint8, x, y int) (uint8, int) {
	var mask uint8
	layerIdx := -1
	for i, cells := range layers {
		if y < 0 || y >= len(cells) {
			continue
		}
		if x < 0 || x >= len(cells[y]) {
			continue
		}
		cellMask := cells[y][x]
		if cellMask == 0 {
			continue
		}
		if layerIdx == -1 {
			layerIdx = i
		}
		mask |= cellMask
	}
	return mask, layerIdx
}

func drawLine(x0, y0, x1, y1 int, plot func(x, y int)) {
	dx := int(math.Abs(float64(x1 - x0)))
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	dy := -int(math.Abs(float64(y1 - y0)))
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		plot(x0, y0)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			if x0 == x1 {
				break
			}
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			if y0 == y1 {
				break
			}
			err += dx
			y0 += sy
		}
	}
}

func setBrailleDot(cells [][]uint8, x, y int) {
	if y < 0 || x < 0 {
		return
	}
	cellY := y / 4
	cellX := x / 2
	if cellY < 0 || cellY >= len(cells) {
		return
	}
	if cellX < 0 || cellX >= len(cells[cellY]) {
		return
	}
	dotMask := brailleDotMask(x%2, y%4)
	cells[cellY][cellX] |= dotMask
}

func brailleDotMask(x, y int) uint8 {
	switch {
	case x == 0 && y == 0:
		return 0x01
	case x == 0 && y == 1:
		return 0x02
	case x == 0 && y == 2:
		return 0x04
	case x == 0 && y == 3:
		return 0x40
	case x == 1 && y == 0:
		return 0x08
	case x == 1 && y == 1:
		return 0x10
	case x == 1 && y == 2:
		return 0x20
	case x == 1 && y == 3:
		return 0x80
	default:
		return 0
	}
}

func brailleFromMask(mask uint8) rune {
	return rune(0x2800 + int(mask))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
