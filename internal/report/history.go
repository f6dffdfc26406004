package report

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/verte-zerg/tuispeak/internal/model"
	"github.com/verte-zerg/tuispeak/internal/store"
)

const sparkChars = " .:-=+*#%@"

// History contains precomputed data for history rendering.
type History struct {
	Sessions         []model.SessionAggregate
	WindowSessionIDs []int64
	WordsAll         []model.WordAggregate
	WordsWindow      []model.WordAggregate
}

// BuildHistory loads and prepares data for history rendering.
func BuildHistory(ctx context.Context, st *store.Store, cfg model.HistoryConfig) (History, error) {
	sessions, err := st.ListSessions(ctx, cfg)
	if err != nil {
		return History{}, fmt.Errorf("failed to list sessions: %w", err)
	}
	windowIDs := lastSessionIDs(sessions, cfg.CurveWindow)
	wordsAll, err := st.ListWordAggregatesForSessions(ctx, sessionIDs(sessions))
	if err != nil {
		return History{}, fmt.Errorf("failed to aggregate words: %w", err)
	}
	wordsWindow, err := st.ListWordAggregatesForSessions(ctx, windowIDs)
	if err != nil {
		return History{}, fmt.Errorf("failed to aggregate words: %w", err)
	}
	return History{
		Sessions:         sessions,
		WindowSessionIDs: windowIDs,
		WordsAll:         wordsAll,
		WordsWindow:      wordsWindow,
	}, nil
}

func sessionIDs(sessions []model.SessionAggregate) []int64 {
	ids := make([]int64, len(sessions))
	for i, s := range sessions {
		ids[i] = s.SessionID
	}
	return ids
}

func lastSessionIDs(sessions []model.SessionAggregate, window int) []int64 {
	if window <= 0 || len(sessions) <= window {
		return sessionIDs(sessions)
	}
	return sessionIDs(sessions[len(sessions)-window:])
}

// MovingAverage computes a rolling mean over the provided window size.
func MovingAverage(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	if window <= 1 {
		copy(out, values)
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		out[i] = sum / float64(min(i+1, window))
	}
	return out
}

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	last := len(sparkChars) - 1
	for _, v := range values {
		idx := int(math.Round((v - lo) / (hi - lo) * float64(last)))
		b.WriteByte(sparkChars[max(0, min(idx, last))])
	}
	return b.String()
}

// RenderSummary prints averages over the sessions and a pronunciation sparkline.
func RenderSummary(w io.Writer, sessions []model.SessionAggregate, window int) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions found.")
		return err
	}
	var acc, flu, comp, pron float64
	trials, completed, scored := 0, 0, 0
	best := 0.0
	pronSeries := make([]float64, 0, len(sessions))
	for _, s := range sessions {
		trials += s.Trials
		if s.Status == model.StatusCompleted {
			completed++
		}
		if s.Trials == 0 {
			continue
		}
		scored++
		acc += s.Accuracy
		flu += s.Fluency
		comp += s.Completeness
		pron += s.Pronunciation
		best = math.Max(best, s.Pronunciation)
		pronSeries = append(pronSeries, s.Pronunciation)
	}
	lines := []string{
		"Summary",
		fmt.Sprintf("Sessions: %d (%d completed, %d aborted)", len(sessions), completed, len(sessions)-completed),
		fmt.Sprintf("Trials: %d", trials),
	}
	if scored > 0 {
		n := float64(scored)
		lines = append(lines,
			fmt.Sprintf("Avg Accuracy: %.2f", acc/n),
			fmt.Sprintf("Avg Fluency: %.2f", flu/n),
			fmt.Sprintf("Avg Completeness: %.2f", comp/n),
			fmt.Sprintf("Avg Pronunciation: %.2f", pron/n),
			fmt.Sprintf("Best Pronunciation: %.2f", best),
			fmt.Sprintf("Trend: [%s]", Sparkline(MovingAverage(pronSeries, window))),
		)
	}
	lines = append(lines, "")
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// RenderSessionTable prints one row per session.
func RenderSessionTable(w io.Writer, sessions []model.SessionAggregate) error {
	if len(sessions) == 0 {
		return nil
	}
	headers := []string{"Ended", "Status", "Trials", "Accuracy", "Fluency", "Completeness", "Pronunciation"}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		row := []string{s.EndedAt.Local().Format("2006-01-02 15:04"), s.Status, fmt.Sprintf("%d", s.Trials)}
		row = append(row, ScoreCells(model.Scores{
			Accuracy:      s.Accuracy,
			Fluency:       s.Fluency,
			Completeness:  s.Completeness,
			Pronunciation: s.Pronunciation,
		})...)
		rows = append(rows, row)
	}
	rightAlign := map[int]bool{2: true, 3: true, 4: true, 5: true, 6: true}
	if _, err := fmt.Fprintln(w, "Sessions"); err != nil {
		return err
	}
	for _, line := range formatTable(headers, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}

// RenderWordTable prints the most frequent problem words.
func RenderWordTable(w io.Writer, aggs []model.WordAggregate, limit int) error {
	if len(aggs) == 0 {
		_, err := fmt.Fprintln(w, "No word errors recorded.")
		return err
	}
	sorted := sortWords(aggs)
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	if _, err := fmt.Fprintln(w, "Problem Words (Windowed)"); err != nil {
		return err
	}
	headers := []string{"Word", "Errors", "Mispronounced", "Omitted"}
	rows := make([][]string, 0, len(sorted))
	for _, agg := range sorted {
		rows = append(rows, []string{
			agg.Word,
			fmt.Sprintf("%d", agg.Total()),
			fmt.Sprintf("%d", agg.Mispronounced),
			fmt.Sprintf("%d", agg.Omitted),
		})
	}
	rightAlign := map[int]bool{1: true, 2: true, 3: true}
	for _, line := range formatTable(headers, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}

// sortWords orders by total errors, then alphabetically.
func sortWords(aggs []model.WordAggregate) []model.WordAggregate {
	out := make([]model.WordAggregate, len(aggs))
	copy(out, aggs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total() == out[j].Total() {
			return out[i].Word < out[j].Word
		}
		return out[i].Total() > out[j].Total()
	})
	return out
}
