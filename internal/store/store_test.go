package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/verte-zerg/tuispeak/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "nested", "tuispeak.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return st
}

func record(uuid string, ended time.Time, lang string) model.SessionRecord {
	return model.SessionRecord{
		UUID:        uuid,
		StartedAt:   ended.Add(-time.Minute),
		EndedAt:     ended,
		Lang:        lang,
		Engine:      "mock",
		Status:      model.StatusCompleted,
		TotalTrials: 2,
	}
}

func TestInsertAndListTrials(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	prosody := 81.5
	results := []model.TrialResult{
		{
			Index:           0,
			ReferenceText:   "The quick brown fox.",
			TranscribedText: "the quick fox",
			Scores: model.Scores{
				Accuracy: 90, Fluency: 80, Completeness: 75, Pronunciation: 82, Prosody: &prosody,
				Errors: []model.ErrorRecord{
					{Word: "quick", ErrorType: model.ErrorMispronunciation, Accuracy: 55},
					{Word: "brown", ErrorType: model.ErrorOmission},
				},
			},
		},
		{Index: 1, ReferenceText: "Hello there.", TranscribedText: "hello there", Scores: model.Scores{Accuracy: 100}},
	}
	id, err := st.InsertSession(ctx, record("a", time.Now(), "en-US"), results)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := st.ListTrials(ctx, id)
	if err != nil {
		t.Fatalf("list trials: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 trials, got %d", len(got))
	}
	first := got[0]
	if first.TranscribedText != "the quick fox" || first.Scores.Prosody == nil || *first.Scores.Prosody != 81.5 {
		t.Fatalf("unexpected first trial %+v", first)
	}
	if len(first.Scores.Errors) != 2 || first.Scores.Errors[0].Word != "quick" || first.Scores.Errors[1].ErrorType != model.ErrorOmission {
		t.Fatalf("unexpected errors %+v", first.Scores.Errors)
	}
	if got[1].Scores.Prosody != nil || len(got[1].Scores.Errors) != 0 {
		t.Fatalf("unexpected second trial %+v", got[1])
	}
}

func TestListSessionsFiltersAndAverages(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, lang := range []string{"en-US", "en-US", "de-DE", "en-US"} {
		results := []model.TrialResult{
			{Index: 0, Scores: model.Scores{Accuracy: 80, Pronunciation: float64(70 + i)}},
			{Index: 1, Scores: model.Scores{Accuracy: 100, Pronunciation: float64(80 + i)}},
		}
		if _, err := st.InsertSession(ctx, record(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour), lang), results); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if _, err := st.InsertSession(ctx, record("empty", base.Add(10*time.Hour), "fr-FR"), nil); err != nil {
		t.Fatalf("insert empty: %v", err)
	}

	sessions, err := st.ListSessions(ctx, model.HistoryConfig{Lang: "en-US"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	if sessions[0].UUID != "a" || sessions[2].UUID != "d" {
		t.Fatalf("expected oldest first, got %+v", sessions)
	}
	if sessions[0].Trials != 2 || sessions[0].Accuracy != 90 || sessions[0].Pronunciation != 75 {
		t.Fatalf("unexpected aggregate %+v", sessions[0])
	}

	last, err := st.ListSessions(ctx, model.HistoryConfig{Last: 2})
	if err != nil {
		t.Fatalf("list last: %v", err)
	}
	if len(last) != 2 || last[0].UUID != "d" || last[1].UUID != "empty" {
		t.Fatalf("unexpected last sessions %+v", last)
	}
	if last[1].Trials != 0 || last[1].Accuracy != 0 {
		t.Fatalf("session without trials should aggregate to zero: %+v", last[1])
	}

	since := base.Add(90 * time.Minute)
	recent, err := st.ListSessions(ctx, model.HistoryConfig{Since: &since})
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent sessions, got %d", len(recent))
	}
}

func TestWordAggregates(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	withErrors := func(errs ...model.ErrorRecord) []model.TrialResult {
		return []model.TrialResult{{Index: 0, Scores: model.Scores{Errors: errs}}}
	}
	ids := make([]int64, 0, 3)
	inputs := [][]model.TrialResult{
		withErrors(model.ErrorRecord{Word: "Stella", ErrorType: model.ErrorOmission}),
		withErrors(
			model.ErrorRecord{Word: "stella", ErrorType: model.ErrorMispronunciation, Accuracy: 30},
			model.ErrorRecord{Word: "store.", ErrorType: model.ErrorOmission},
		),
		withErrors(model.ErrorRecord{Word: "things", ErrorType: model.ErrorNone, Accuracy: 60}),
	}
	for i, res := range inputs {
		id, err := st.InsertSession(ctx, record(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour), "en-US"), res)
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	aggs, err := st.ListWordAggregatesForSessions(ctx, ids[:2])
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	byWord := map[string]model.WordAggregate{}
	for _, agg := range aggs {
		byWord[agg.Word] = agg
	}
	if got := byWord["stella"]; got.Mispronounced != 1 || got.Omitted != 1 || got.Total() != 2 {
		t.Fatalf("unexpected stella aggregate %+v", got)
	}
	if got := byWord["store"]; got.Omitted != 1 {
		t.Fatalf("unexpected store aggregate %+v", got)
	}
	if _, ok := byWord["things"]; ok {
		t.Fatalf("session outside the id set was aggregated")
	}

	weak, err := st.GetWeakWords(ctx, 1, "en-US")
	if err != nil {
		t.Fatalf("weak words: %v", err)
	}
	if len(weak) != 1 || weak[0].Word != "things" || weak[0].Mispronounced != 1 {
		t.Fatalf("unexpected weak words %+v", weak)
	}
	none, err := st.GetWeakWords(ctx, 0, "")
	if err != nil || none != nil {
		t.Fatalf("expected no weak words for empty window, got %+v %v", none, err)
	}
}
