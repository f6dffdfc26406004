// Package model defines shared data structures.
package model

import (
	"strings"
	"time"
)

// Config defines assessment session settings.
type Config struct {
	Lang       string
	Engine     string
	Count      int
	Shuffle    bool
	FocusWeak  bool
	WeakTop    int
	WeakFactor float64
	WeakWindow int
	Save       bool
}

// HistoryConfig defines filters and options for history output.
type HistoryConfig struct {
	Lang        string
	Since       *time.Time
	Last        int
	CurveWindow int
}

// ErrorType classifies a word-level error. Engine subtypes pass through verbatim.
type ErrorType string

const (
	ErrorNone             ErrorType = "None"
	ErrorOmission         ErrorType = "Omission"
	ErrorMispronunciation ErrorType = "Mispronunciation"
	ErrorInsertion        ErrorType = "Insertion"
	ErrorUnexpectedBreak  ErrorType = "UnexpectedBreak"
	ErrorMissingBreak     ErrorType = "MissingBreak"
	ErrorMonotone         ErrorType = "Monotone"
)

// ErrorRecord is one word-level error. Accuracy is 0 for omissions.
type ErrorRecord struct {
	Word      string
	ErrorType ErrorType
	Accuracy  float64
}

// Scores is the assessment of one finalized utterance.
type Scores struct {
	Accuracy      float64
	Fluency       float64
	Completeness  float64
	Pronunciation float64
	Prosody       *float64
	Errors        []ErrorRecord
}

// Clone returns a deep copy.
func (s Scores) Clone() Scores {
	out := s
	if s.Prosody != nil {
		p := *s.Prosody
		out.Prosody = &p
	}
	out.Errors = append([]ErrorRecord(nil), s.Errors...)
	return out
}

// TrialState is the live state of the active trial.
type TrialState struct {
	Generation      uint64
	ReferenceText   string
	Transcript      string
	PendingFragment string
	Assessment      *Scores
	Listening       bool
}

// Clone returns a copy that shares no memory with s.
func (s TrialState) Clone() TrialState {
	out := s
	if s.Assessment != nil {
		scores := s.Assessment.Clone()
		out.Assessment = &scores
	}
	return out
}

// DisplayText joins the finalized transcript with the pending fragment.
func (s TrialState) DisplayText() string {
	switch {
	case s.Transcript == "":
		return s.PendingFragment
	case s.PendingFragment == "":
		return s.Transcript
	default:
		return s.Transcript + " " + s.PendingFragment
	}
}

// Complete reports whether the trial holds both a transcript and an assessment.
func (s TrialState) Complete() bool {
	return s.Transcript != "" && s.Assessment != nil
}

// TrialResult is the finalized outcome of one trial.
type TrialResult struct {
	Index           int
	ReferenceText   string
	TranscribedText string
	Scores          Scores
}

// NewTrialResult builds a result from a trial state. The caller filters errors.
func NewTrialResult(index int, state TrialState) TrialResult {
	res := TrialResult{
		Index:           index,
		ReferenceText:   state.ReferenceText,
		TranscribedText: strings.TrimSpace(state.Transcript),
	}
	if state.Assessment != nil {
		res.Scores = state.Assessment.Clone()
	}
	return res
}

// Session status values.
const (
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// SessionRecord captures a finished assessment session.
type SessionRecord struct {
	UUID        string
	StartedAt   time.Time
	EndedAt     time.Time
	Lang        string
	Engine      string
	Status      string
	TotalTrials int
}

// SessionAggregate summarizes a stored session for reporting.
type SessionAggregate struct {
	SessionID     int64
	UUID          string
	EndedAt       time.Time
	Status        string
	Trials        int
	Accuracy      float64
	Fluency       float64
	Completeness  float64
	Pronunciation float64
}

// WordAggregate aggregates error counts for one word across sessions.
type WordAggregate struct {
	Word          string
	Mispronounced int
	Omitted       int
}

// Total returns the number of errors recorded for the word.
func (w WordAggregate) Total() int {
	return w.Mispronounced + w.Omitted
}
