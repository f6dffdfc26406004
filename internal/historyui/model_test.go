package historyui

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/tuispeak/internal/model"
	"github.com/verte-zerg/tuispeak/internal/store"
)

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, status := range []string{model.StatusCompleted, model.StatusAborted} {
		rec := model.SessionRecord{
			UUID:        []string{"first", "second"}[i],
			StartedAt:   base.Add(time.Duration(i) * time.Hour),
			EndedAt:     base.Add(time.Duration(i)*time.Hour + time.Minute),
			Lang:        "en-US",
			Engine:      "mock",
			Status:      status,
			TotalTrials: 1,
		}
		results := []model.TrialResult{{
			Index:           0,
			ReferenceText:   "The quick brown fox.",
			TranscribedText: "the quick fox",
			Scores: model.Scores{
				Accuracy: 80 + float64(i), Fluency: 70, Completeness: 75, Pronunciation: 72 + float64(i),
				Errors: []model.ErrorRecord{{Word: "brown", ErrorType: model.ErrorOmission}},
			},
		}}
		if _, err := st.InsertSession(context.Background(), rec, results); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return st
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestHistoryModelTabs(t *testing.T) {
	m := NewModel(seededStore(t), model.HistoryConfig{CurveWindow: 5})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})

	view := m.View()
	if !strings.Contains(view, "Overview") || !strings.Contains(view, "Sessions") {
		t.Fatalf("missing tabs: %s", view)
	}
	if !strings.Contains(view, "Avg Pronunciation") {
		t.Fatalf("missing summary cards: %s", view)
	}

	m.Update(key("right"))
	if m.activeTab != tabSessions {
		t.Fatalf("expected sessions tab, got %d", m.activeTab)
	}
	if !strings.Contains(m.View(), "aborted") {
		t.Fatalf("expected session rows in view")
	}

	m.Update(key("enter"))
	if !m.detailMode {
		t.Fatalf("expected detail view")
	}
	detail := m.View()
	if !strings.Contains(detail, "second") || !strings.Contains(detail, `Word: "brown" - Type: Omission`) {
		t.Fatalf("detail should show the newest session: %s", detail)
	}
	m.Update(key("esc"))
	if m.detailMode {
		t.Fatalf("expected esc to close details")
	}

	m.Update(key("right"))
	if m.activeTab != tabWords || !strings.Contains(m.View(), "brown") {
		t.Fatalf("expected problem words tab with brown")
	}
	m.Update(key("w"))
	if !m.allWords || !strings.Contains(m.View(), "across all sessions") {
		t.Fatalf("expected all-sessions scope")
	}
}

func TestHistoryModelFilter(t *testing.T) {
	m := NewModel(seededStore(t), model.HistoryConfig{CurveWindow: 5})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m.Update(key("/"))
	if !m.filterMode {
		t.Fatalf("expected filter mode")
	}
	m.filterInputs[0].SetValue("de-DE")
	m.Update(key("enter"))
	if m.filterMode || m.cfg.Lang != "de-DE" {
		t.Fatalf("expected filter to apply, got %+v", m.cfg)
	}
	if len(m.history.Sessions) != 0 {
		t.Fatalf("expected no sessions for de-DE")
	}

	m.Update(key("/"))
	m.filterInputs[3].SetValue("0")
	m.Update(key("enter"))
	if !m.filterMode || m.filterError == "" {
		t.Fatalf("expected invalid window to be rejected")
	}
}

func TestCurveWindowSteps(t *testing.T) {
	cases := []struct{ in, next, prev int }{
		{1, 5, 1},
		{5, 10, 1},
		{7, 10, 5},
		{20, 25, 15},
	}
	for _, tc := range cases {
		if got := nextCurveWindow(tc.in); got != tc.next {
			t.Fatalf("next(%d) = %d, want %d", tc.in, got, tc.next)
		}
		if got := prevCurveWindow(tc.in); got != tc.prev {
			t.Fatalf("prev(%d) = %d, want %d", tc.in, got, tc.prev)
		}
	}
}

func TestTruncateLine(t *testing.T) {
	if got := truncateLine("abcdefgh", 6); got != "abc..." {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := truncateLine("abc", 6); got != "abc" {
		t.Fatalf("unexpected truncation %q", got)
	}
}
