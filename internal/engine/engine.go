// Package engine defines the boundary to speech recognition and pronunciation
// assessment engines.
package engine

import (
	"context"
	"fmt"

	"github.com/verte-zerg/tuispeak/internal/audio"
)

// Mode selects what a binding does with the audio.
type Mode int

const (
	ModeTranscription Mode = iota
	ModeAssessment
)

func (m Mode) String() string {
	switch m {
	case ModeTranscription:
		return "transcription"
	case ModeAssessment:
		return "assessment"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// EventKind identifies a recognition event.
type EventKind int

const (
	EventInterim EventKind = iota
	EventFinal
	EventCanceled
)

// Reason is the engine status attached to a final event.
type Reason int

const (
	ReasonRecognizedSpeech Reason = iota
	ReasonNoMatch
)

// WordAssessment is the engine's verdict for one spoken word.
type WordAssessment struct {
	Word          string
	ErrorType     string
	AccuracyScore float64
}

// Assessment is the pronunciation assessment attached to an assessment-mode final event.
type Assessment struct {
	AccuracyScore      float64
	FluencyScore       float64
	CompletenessScore  float64
	PronunciationScore float64
	ProsodyScore       *float64
	Words              []WordAssessment
}

// Cancellation describes why an engine stopped recognizing.
type Cancellation struct {
	Reason  string
	Code    int
	Details string
}

// Event is delivered to a binding's Handler.
type Event struct {
	Kind       EventKind
	Text       string
	Reason     Reason
	Assessment *Assessment
	Cancel     *Cancellation
}

// Handler receives events. Implementations may call it from any goroutine but
// never concurrently for the same binding, and never after Close returns.
type Handler func(Event)

// Config configures a binding.
type Config struct {
	Mode Mode
	// ReferenceText is required for assessment mode. Transcription bindings may use
	// it as a hint or ignore it.
	ReferenceText string
	Lang          string
}

// Binding is one recognition session bound to an audio stream.
type Binding interface {
	// Start begins continuous recognition.
	Start(ctx context.Context) error
	// Stop ends continuous recognition. Events already in flight are delivered
	// before it returns.
	Stop(ctx context.Context) error
	// Close releases the binding. No events are delivered once it returns.
	Close(ctx context.Context) error
}

// Engine creates bindings.
type Engine interface {
	Name() string
	// Bind configures a new binding on stream. A rejected configuration is an *InitError.
	Bind(ctx context.Context, stream *audio.Stream, cfg Config, handler Handler) (Binding, error)
}

// Interim builds an interim event.
func Interim(text string) Event {
	return Event{Kind: EventInterim, Text: text}
}

// Final builds a final event.
func Final(text string, reason Reason, assessment *Assessment) Event {
	return Event{Kind: EventFinal, Text: text, Reason: reason, Assessment: assessment}
}

// Canceled builds a cancellation event.
func Canceled(reason string, code int, details string) Event {
	return Event{Kind: EventCanceled, Cancel: &Cancellation{Reason: reason, Code: code, Details: details}}
}
