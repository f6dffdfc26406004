package report

import (
	"fmt"
	"io"

	"github.com/verte-zerg/tuispeak/internal/model"
)

// ErrorLine describes one error the way the results table prints it.
// Accuracy is omitted for omissions.
func ErrorLine(e model.ErrorRecord) string {
	if e.ErrorType == model.ErrorOmission {
		return fmt.Sprintf("Word: %q - Type: %s", e.Word, e.ErrorType)
	}
	return fmt.Sprintf("Word: %q - Type: %s (Accuracy: %.2f)", e.Word, e.ErrorType, e.Accuracy)
}

// ScoreCells formats the four trial scores with two decimals.
func ScoreCells(s model.Scores) []string {
	return []string{
		fmt.Sprintf("%.2f", s.Accuracy),
		fmt.Sprintf("%.2f", s.Fluency),
		fmt.Sprintf("%.2f", s.Completeness),
		fmt.Sprintf("%.2f", s.Pronunciation),
	}
}

// RenderResults prints the score table of a session followed by the errors of
// every trial.
func RenderResults(w io.Writer, results []model.TrialResult) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "No results recorded.")
		return err
	}
	if _, err := fmt.Fprintln(w, "Assessment Results"); err != nil {
		return err
	}
	headers := []string{"#", "Accuracy", "Fluency", "Completeness", "Pronunciation", "Errors"}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		row := append([]string{fmt.Sprintf("%d", r.Index+1)}, ScoreCells(r.Scores)...)
		row = append(row, fmt.Sprintf("%d", len(r.Scores.Errors)))
		rows = append(rows, row)
	}
	rightAlign := map[int]bool{0: true, 1: true, 2: true, 3: true, 4: true, 5: true}
	for _, line := range formatTable(headers, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	for _, r := range results {
		if _, err := fmt.Fprintf(w, "\nTrial %d\n", r.Index+1); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "Reference:   %s\n", r.ReferenceText); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "Transcribed: %s\n", r.TranscribedText); err != nil {
			return err
		}
		if len(r.Scores.Errors) == 0 {
			if _, err := fmt.Fprintln(w, "No pronunciation errors detected"); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintln(w, "Pronunciation Errors Found:"); err != nil {
			return err
		}
		for _, e := range r.Scores.Errors {
			if _, err := fmt.Fprintf(w, "  %s\n", ErrorLine(e)); err != nil {
				return err
			}
		}
	}
	return nil
}
