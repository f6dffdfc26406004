// Package tui provides the Bubble Tea assessment interface.
package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/verte-zerg/tuispeak/internal/assess"
	"github.com/verte-zerg/tuispeak/internal/model"
)

type styledRune struct {
	s       string
	width   int
	isSpace bool
}

// buildReferenceRunes styles each reference word by its worst reported error.
func buildReferenceRunes(reference string, scores *model.Scores) []styledRune {
	marks := map[string]model.ErrorType{}
	if scores != nil {
		for _, e := range scores.Errors {
			words := assess.Words(e.Word)
			if len(words) == 0 {
				continue
			}
			if prev, ok := marks[words[0]]; ok && prev == model.ErrorOmission {
				continue
			}
			marks[words[0]] = e.ErrorType
		}
	}

	fields := strings.Fields(reference)
	out := make([]styledRune, 0, len(reference))
	for i, field := range fields {
		if i > 0 {
			out = append(out, styledRune{s: " ", width: 1, isSpace: true})
		}
		style := referenceStyle
		if words := assess.Words(field); len(words) > 0 {
			if errType, ok := marks[words[0]]; ok {
				style = errorStyle(errType)
			}
		}
		out = append(out, styleRunes(field, style)...)
	}
	return out
}

// buildTranscriptRunes renders the finalized transcript followed by the
// pending interim fragment.
func buildTranscriptRunes(state model.TrialState) []styledRune {
	out := styleRunes(state.Transcript, transcriptStyle)
	if state.PendingFragment == "" {
		return out
	}
	if len(out) > 0 {
		out = append(out, styledRune{s: " ", width: 1, isSpace: true})
	}
	return append(out, styleRunes(state.PendingFragment, pendingStyle)...)
}

func styleRunes(text string, style lipgloss.Style) []styledRune {
	out := make([]styledRune, 0, len(text))
	for _, r := range text {
		isSpace := r == ' '
		s := " "
		if !isSpace {
			s = style.Render(string(r))
		}
		out = append(out, styledRune{s: s, width: runewidth.RuneWidth(r), isSpace: isSpace})
	}
	return out
}

func errorStyle(errType model.ErrorType) lipgloss.Style {
	switch errType {
	case model.ErrorOmission:
		return omissionStyle
	case model.ErrorMispronunciation:
		return mispronouncedStyle
	default:
		return otherErrorStyle
	}
}

func renderStyledRunes(runes []styledRune) string {
	var b strings.Builder
	for _, item := range runes {
		b.WriteString(item.s)
	}
	return b.String()
}

func wrapStyledRunes(runes []styledRune, width int) string {
	if width <= 0 {
		return renderStyledRunes(runes)
	}
	var lines []string
	line := make([]styledRune, 0, len(runes))
	lineWidth := 0
	lastSpace := -1

	for i := 0; i < len(runes); {
		item := runes[i]
		if lineWidth+item.width > width && len(line) > 0 {
			if lastSpace >= 0 {
				lines = append(lines, renderStyledRunes(line[:lastSpace]))
				line = append([]styledRune{}, line[lastSpace+1:]...)
			} else {
				lines = append(lines, renderStyledRunes(line))
				line = line[:0]
			}
			lineWidth, lastSpace = measure(line)
			continue
		}
		line = append(line, item)
		lineWidth += item.width
		if item.isSpace {
			lastSpace = len(line) - 1
		}
		i++
	}
	lines = append(lines, renderStyledRunes(line))
	return strings.Join(lines, "\n")
}

// measure returns the width of line and the index of its last space.
func measure(line []styledRune) (int, int) {
	width, lastSpace := 0, -1
	for i, item := range line {
		width += item.width
		if item.isSpace {
			lastSpace = i
		}
	}
	return width, lastSpace
}
