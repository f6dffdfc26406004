package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/tuispeak/internal/engine"
	"github.com/verte-zerg/tuispeak/internal/engine/enginetest"
	"github.com/verte-zerg/tuispeak/internal/session"
	"github.com/verte-zerg/tuispeak/internal/trial"
)

func newTestModel(t *testing.T, texts ...string) (*Model, *session.Sequencer, *enginetest.Engine) {
	t.Helper()
	eng := enginetest.New()
	ctrl := trial.New(eng, nil, trial.Options{})
	seq, err := session.New(ctrl, texts, session.Options{Lang: "en-US"})
	if err != nil {
		t.Fatalf("new sequencer: %v", err)
	}
	t.Cleanup(func() {
		_ = seq.Dispose(context.Background())
	})
	return NewModel(context.Background(), seq, nil), seq, eng
}

// exec runs cmd synchronously and feeds its message back into the model.
func exec(t *testing.T, m *Model, cmd tea.Cmd) tea.Cmd {
	t.Helper()
	if cmd == nil {
		t.Fatalf("expected a command")
	}
	_, next := m.Update(cmd())
	return next
}

func press(m *Model, key string) tea.Cmd {
	msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	if key == " " {
		msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	_, cmd := m.Update(msg)
	return cmd
}

func speak(eng *enginetest.Engine, spoken string, words ...engine.WordAssessment) {
	eng.Last(engine.ModeTranscription).Emit(engine.Final(spoken, engine.ReasonRecognizedSpeech, nil))
	eng.Last(engine.ModeAssessment).Emit(engine.Final(spoken, engine.ReasonRecognizedSpeech, &engine.Assessment{
		AccuracyScore:      90,
		FluencyScore:       85,
		CompletenessScore:  80,
		PronunciationScore: 86,
		Words:              words,
	}))
}

func TestModelRunsSessionToResults(t *testing.T) {
	m, seq, eng := newTestModel(t, "Hello there.", "The quick fox.")
	exec(t, m, m.Init())
	if seq.State() != session.StateInTrial {
		t.Fatalf("expected first trial after init, got %v", seq.State())
	}
	if view := m.View(); !strings.Contains(view, "Reference Text (1 of 2)") {
		t.Fatalf("missing header in view: %s", view)
	}

	for i, spoken := range []string{"hello there", "the fox"} {
		exec(t, m, press(m, " "))
		if !m.trial.Listening {
			t.Fatalf("trial %d: expected listening after start", i+1)
		}
		speak(eng, spoken)
		m.Update(TrialChangedMsg{})
		if !strings.Contains(m.View(), "Accuracy 90.00") {
			t.Fatalf("trial %d: expected scores in view", i+1)
		}
		exec(t, m, press(m, " "))
	}

	if !m.finished || seq.State() != session.StateCompleted {
		t.Fatalf("expected completed results view, state %v", seq.State())
	}
	if len(m.Results()) != 2 {
		t.Fatalf("expected 2 results, got %d", len(m.Results()))
	}
	view := m.View()
	if !strings.Contains(view, "Assessment Complete") || !strings.Contains(view, "Reference:") {
		t.Fatalf("unexpected results view: %s", view)
	}
	if cmd := press(m, "q"); cmd == nil {
		t.Fatalf("expected quit command")
	}
}

func TestModelAbortShowsResults(t *testing.T) {
	m, seq, eng := newTestModel(t, "Hello there.", "Second text.")
	exec(t, m, m.Init())
	exec(t, m, press(m, " "))
	speak(eng, "hello there")
	exec(t, m, press(m, "a"))
	if seq.State() != session.StateAborted || !m.finished {
		t.Fatalf("expected aborted results view, state %v", seq.State())
	}
	if len(m.Results()) != 1 {
		t.Fatalf("expected the spoken trial to be kept, got %d results", len(m.Results()))
	}
	if !strings.Contains(m.View(), "Assessment Aborted") {
		t.Fatalf("expected aborted title")
	}
}

func TestModelQuitAbortsSession(t *testing.T) {
	m, seq, _ := newTestModel(t, "Hello there.")
	exec(t, m, m.Init())
	cmd := press(m, "q")
	next := exec(t, m, cmd)
	if seq.State() != session.StateAborted {
		t.Fatalf("expected quit to abort, got %v", seq.State())
	}
	if next == nil {
		t.Fatalf("expected tea.Quit after abort")
	}
	if _, ok := next().(tea.QuitMsg); !ok {
		t.Fatalf("expected quit message")
	}
}

func TestModelIgnoresKeysWhileBusy(t *testing.T) {
	m, _, _ := newTestModel(t, "Hello there.")
	_ = m.Init()
	if cmd := press(m, " "); cmd != nil {
		t.Fatalf("expected start to wait for the open command")
	}
}

func TestModelShowsWarnings(t *testing.T) {
	m, _, _ := newTestModel(t, "Hello there.")
	exec(t, m, m.Init())
	m.Update(WarningMsg{Err: errors.New("recognition canceled: network")})
	if !strings.Contains(m.View(), "recognition canceled: network") {
		t.Fatalf("expected warning in view")
	}
}

func TestModelAcceptsTrialAfterCancel(t *testing.T) {
	m, seq, eng := newTestModel(t, "one two", "three four")
	exec(t, m, m.Init())
	exec(t, m, press(m, " "))
	if cmd := press(m, "n"); cmd != nil {
		t.Fatalf("accept must wait until recognition stopped")
	}
	speak(eng, "one two")
	eng.Last(engine.ModeAssessment).Emit(engine.Canceled("error", 1006, "connection lost"))

	deadline := time.Now().Add(2 * time.Second)
	for seq.Trial().Listening {
		if time.Now().After(deadline) {
			t.Fatalf("canceled trial kept listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
	m.Update(TrialChangedMsg{})
	if view := m.View(); !strings.Contains(view, "n accept") {
		t.Fatalf("expected accept hint in view: %s", view)
	}

	exec(t, m, press(m, "n"))
	if got := len(seq.Results()); got != 1 {
		t.Fatalf("expected accepted trial, got %d results", got)
	}
	if seq.Index() != 1 || seq.State() != session.StateInTrial {
		t.Fatalf("expected second trial, got %v/%d", seq.State(), seq.Index())
	}
	if m.trial.Transcript != "" {
		t.Fatalf("expected fresh trial after accept, got %+v", m.trial)
	}
}
