package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/verte-zerg/tuispeak/internal/model"
)

// Series is a named sequence of scores on the 0-100 scale.
type Series struct {
	Name   string
	Values []float64
}

const (
	defaultPlotHeight = 8
	minPlotWidth      = 10
	fallbackWidth     = 80
	axisSeparator     = " ┤"
	colorReset        = "\x1b[0m"
)

var seriesColors = []string{"\x1b[36m", "\x1b[35m", "\x1b[33m", "\x1b[32m"}

// braille dot bits indexed by [row within cell][column within cell].
var brailleBits = [4][2]uint8{
	{0x01, 0x08},
	{0x02, 0x10},
	{0x04, 0x20},
	{0x40, 0x80},
}

// PlotWidthFor returns the plot area width that fits totalWidth columns.
func PlotWidthFor(totalWidth int) int {
	if totalWidth <= 0 {
		return minPlotWidth
	}
	return max(minPlotWidth, totalWidth-len("100")-runewidth.StringWidth(axisSeparator))
}

// RenderCurves plots per-session average scores smoothed over window sessions.
func RenderCurves(w io.Writer, sessions []model.SessionAggregate, window, totalWidth, height int, forceColor bool) error {
	if len(sessions) == 0 {
		return nil
	}
	acc := make([]float64, len(sessions))
	pron := make([]float64, len(sessions))
	for i, s := range sessions {
		acc[i] = s.Accuracy
		pron[i] = s.Pronunciation
	}
	width := PlotWidthFor(totalWidth)
	if totalWidth <= 0 {
		width = PlotWidthFor(terminalWidth())
	}
	return PlotScores(w, "Score Curves", []Series{
		{Name: "Pronunciation", Values: MovingAverage(pron, window)},
		{Name: "Accuracy", Values: MovingAverage(acc, window)},
	}, width, height, forceColor)
}

// PlotScores draws the series as braille lines on a fixed 0-100 axis.
func PlotScores(w io.Writer, title string, series []Series, width, height int, forceColor bool) error {
	if height <= 0 {
		height = defaultPlotHeight
	}
	width = max(width, minPlotWidth)
	dotsY := height * 4

	grids := make([][][]uint8, 0, len(series))
	names := make([]string, 0, len(series))
	for _, s := range series {
		if len(s.Values) == 0 {
			continue
		}
		grid := make([][]uint8, height)
		for y := range grid {
			grid[y] = make([]uint8, width)
		}
		prev := -1
		for x, v := range resample(s.Values, width*2) {
			dy := scoreToDot(v, dotsY)
			lo, hi := dy, dy
			if prev >= 0 {
				lo, hi = min(dy, prev), max(dy, prev)
			}
			for y := lo; y <= hi; y++ {
				grid[y/4][x/2] |= brailleBits[y%4][x%2]
			}
			prev = dy
		}
		grids = append(grids, grid)
		names = append(names, s.Name)
	}
	if len(grids) == 0 {
		return nil
	}

	useColor := colorEnabled(w, forceColor)
	lines := []string{title}
	for y := 0; y < height; y++ {
		label := ""
		switch y {
		case 0:
			label = "100"
		case height / 2:
			label = "50"
		case height - 1:
			label = "0"
		}
		var row strings.Builder
		row.WriteString(fmt.Sprintf("%3s%s", label, axisSeparator))
		for x := 0; x < width; x++ {
			var mask uint8
			owner := -1
			for i, grid := range grids {
				if grid[y][x] != 0 {
					mask |= grid[y][x]
					if owner < 0 {
						owner = i
					}
				}
			}
			ch := string(rune(0x2800 + int(mask)))
			if useColor && owner >= 0 {
				ch = seriesColors[owner%len(seriesColors)] + ch + colorReset
			}
			row.WriteString(ch)
		}
		lines = append(lines, row.String())
	}
	legend := make([]string, len(names))
	for i, name := range names {
		legend[i] = name
		if useColor {
			legend[i] = seriesColors[i%len(seriesColors)] + name + colorReset
		}
	}
	lines = append(lines, "Legend: "+strings.Join(legend, "  "), "")
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// scoreToDot maps a 0-100 score to a dot row, top row first.
func scoreToDot(v float64, dots int) int {
	v = math.Max(0, math.Min(100, v))
	return int(math.Round((1 - v/100) * float64(dots-1)))
}

// resample stretches or averages values to exactly n points.
func resample(values []float64, n int) []float64 {
	out := make([]float64, n)
	if len(values) == 1 {
		for i := range out {
			out[i] = values[0]
		}
		return out
	}
	for i := range out {
		pos := float64(i) * float64(len(values)-1) / float64(max(n-1, 1))
		idx := int(pos)
		if idx >= len(values)-1 {
			out[i] = values[len(values)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = values[idx]*(1-frac) + values[idx+1]*frac
	}
	return out
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return fallbackWidth
	}
	return width
}

func colorEnabled(w io.Writer, force bool) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if force {
		return true
	}
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
