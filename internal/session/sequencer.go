// Package session drives an ordered sequence of trials and collects their results.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/tuispeak/internal/assess"
	"github.com/verte-zerg/tuispeak/internal/model"
	"github.com/verte-zerg/tuispeak/internal/trial"
)

var (
	// ErrNoTexts is returned by New for an empty reference sequence.
	ErrNoTexts = errors.New("session needs at least one reference text")
	// ErrStillListening is returned by Advance while recognition is running.
	ErrStillListening = errors.New("stop listening before advancing")
	// ErrNotInTrial is returned for trial commands outside a trial.
	ErrNotInTrial = errors.New("no trial is active")
	// ErrFinished is returned for every command once the session has ended.
	ErrFinished = errors.New("session has finished")
)

// State is the sequencer state.
type State int

const (
	StateIdle State = iota
	StateInTrial
	StateScoringTransition
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInTrial:
		return "in trial"
	case StateScoringTransition:
		return "scoring"
	case StateCompleted:
		return model.StatusCompleted
	case StateAborted:
		return model.StatusAborted
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further commands are accepted.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// Controller is the part of trial.Controller the sequencer drives.
type Controller interface {
	CreateBindings(ctx context.Context, referenceText string) error
	Rebind(ctx context.Context, referenceText string) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Dispose(ctx context.Context) error
	Clear()
	Snapshot() model.TrialState
	Bound() bool
}

var _ Controller = (*trial.Controller)(nil)

// Options configures a Sequencer.
type Options struct {
	Lang   string
	Engine string
	Logger *slog.Logger
	Now    func() time.Time
}

// Sequencer walks the reference texts in order. Abort takes effect immediately
// even while another command is waiting on the engine.
type Sequencer struct {
	ctrl   Controller
	texts  []string
	lang   string
	engine string
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	id        string
	state     State
	index     int
	results   []model.TrialResult
	startedAt time.Time
	endedAt   time.Time
}

// New returns an idle sequencer over texts.
func New(ctrl Controller, texts []string, opts Options) (*Sequencer, error) {
	if len(texts) == 0 {
		return nil, ErrNoTexts
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Sequencer{
		ctrl:   ctrl,
		texts:  append([]string(nil), texts...),
		lang:   opts.Lang,
		engine: opts.Engine,
		logger: logger,
		now:    now,
		id:     uuid.NewString(),
	}, nil
}

// Open binds the first reference text and enters the first trial. On failure
// the sequencer stays idle.
func (s *Sequencer) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrFinished
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	if s.startedAt.IsZero() {
		s.startedAt = s.now()
	}
	s.mu.Unlock()

	if err := s.ctrl.CreateBindings(ctx, s.texts[0]); err != nil {
		return fmt.Errorf("failed to bind trial 1: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		s.state = StateInTrial
		s.index = 0
	}
	s.logger.Info("session opened", "session", s.id, "trials", len(s.texts))
	return nil
}

// Start clears the trial and starts recognition. A trial whose bindings could
// not be created is bound again first.
func (s *Sequencer) Start(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch {
	case state.Terminal():
		return ErrFinished
	case state == StateIdle:
		if err := s.Open(ctx); err != nil {
			return err
		}
	case state != StateInTrial:
		return ErrNotInTrial
	}

	if !s.ctrl.Bound() {
		s.mu.Lock()
		i := s.index
		s.mu.Unlock()
		if err := s.ctrl.Rebind(ctx, s.texts[i]); err != nil {
			return fmt.Errorf("failed to bind trial %d: %w", i+1, err)
		}
	}
	s.ctrl.Clear()
	return s.ctrl.Start(ctx)
}

// Stop stops recognition of the current trial.
func (s *Sequencer) Stop(ctx context.Context) error {
	if err := s.requireTrial(); err != nil {
		return err
	}
	return s.ctrl.Stop(ctx)
}

// Clear drops what was recognized so far in the current trial.
func (s *Sequencer) Clear() error {
	if err := s.requireTrial(); err != nil {
		return err
	}
	s.ctrl.Clear()
	return nil
}

// Advance records the current trial and moves to the next reference text, or
// completes the session after the last one. A trial without both a transcript
// and an assessment produces no result.
func (s *Sequencer) Advance(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrFinished
	}
	if s.state != StateInTrial {
		s.mu.Unlock()
		return ErrNotInTrial
	}
	snap := s.ctrl.Snapshot()
	if snap.Listening {
		s.mu.Unlock()
		return ErrStillListening
	}
	s.appendLocked(snap)

	if s.index == len(s.texts)-1 {
		s.state = StateCompleted
		s.endedAt = s.now()
		s.mu.Unlock()
		s.logger.Info("session completed", "session", s.id, "results", s.resultCount())
		if err := s.ctrl.Dispose(ctx); err != nil {
			s.logger.Warn("failed to release bindings", "error", err)
		}
		return nil
	}

	s.state = StateScoringTransition
	next := s.index + 1
	s.mu.Unlock()

	err := s.ctrl.Rebind(ctx, s.texts[next])

	s.mu.Lock()
	if s.state == StateScoringTransition {
		s.state = StateInTrial
		s.index = next
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to bind trial %d: %w", next+1, err)
	}
	return nil
}

// Abort ends the session. The current trial is recorded when it holds both a
// transcript and an assessment. Recognition is stopped best-effort after the
// state has changed.
func (s *Sequencer) Abort(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrFinished
	}
	if s.state == StateInTrial {
		s.appendLocked(s.ctrl.Snapshot())
	}
	s.state = StateAborted
	s.endedAt = s.now()
	if s.startedAt.IsZero() {
		s.startedAt = s.endedAt
	}
	s.mu.Unlock()
	s.logger.Info("session aborted", "session", s.id, "results", s.resultCount())

	if err := s.ctrl.Stop(ctx); err != nil {
		s.logger.Warn("failed to stop recognition after abort", "error", err)
	}
	return nil
}

// Dispose releases the bindings. It is safe to call more than once.
func (s *Sequencer) Dispose(ctx context.Context) error {
	return s.ctrl.Dispose(ctx)
}

// Results returns a copy of the results collected so far.
func (s *Sequencer) Results() []model.TrialResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TrialResult, len(s.results))
	for i, r := range s.results {
		r.Scores = r.Scores.Clone()
		out[i] = r
	}
	return out
}

// State returns the current state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Index returns the zero-based index of the current trial.
func (s *Sequencer) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Total returns the number of reference texts.
func (s *Sequencer) Total() int {
	return len(s.texts)
}

// ReferenceText returns the reference text of the current trial.
func (s *Sequencer) ReferenceText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.texts[s.index]
}

// Trial returns a copy of the live trial state.
func (s *Sequencer) Trial() model.TrialState {
	return s.ctrl.Snapshot()
}

// Record describes the session for persistence.
func (s *Sequencer) Record() model.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := model.StatusAborted
	if s.state == StateCompleted {
		status = model.StatusCompleted
	}
	ended := s.endedAt
	if ended.IsZero() {
		ended = s.now()
	}
	return model.SessionRecord{
		UUID:        s.id,
		StartedAt:   s.startedAt,
		EndedAt:     ended,
		Lang:        s.lang,
		Engine:      s.engine,
		Status:      status,
		TotalTrials: len(s.texts),
	}
}

func (s *Sequencer) requireTrial() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state.Terminal():
		return ErrFinished
	case s.state != StateInTrial:
		return ErrNotInTrial
	}
	return nil
}

func (s *Sequencer) appendLocked(snap model.TrialState) {
	if !snap.Complete() {
		s.logger.Debug("trial has no result", "trial", s.index+1)
		return
	}
	res := model.NewTrialResult(s.index, snap)
	res.Scores = assess.FilterForReference(res.Scores, snap.ReferenceText)
	s.results = append(s.results, res)
}

func (s *Sequencer) resultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}
