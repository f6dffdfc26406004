package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/verte-zerg/tuispeak/internal/audio"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func twoWordsOfAudio() []byte {
	return bytes.Repeat([]byte{0}, 2*5*audio.ChunkBytes)
}

func TestMockTranscriptionRevealsWords(t *testing.T) {
	stream := audio.NewStream("test", io.NopCloser(bytes.NewReader(twoWordsOfAudio())), false, nil)
	rec := &recorder{}
	b, err := NewMock().Bind(context.Background(), stream, Config{Mode: ModeTranscription, ReferenceText: "one two three"}, rec.handle)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := stream.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	events := rec.snapshot()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Kind != EventInterim || events[0].Text != "one" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Kind != EventInterim || events[1].Text != "one two" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if events[2].Kind != EventFinal || events[2].Text != "one two" || events[2].Reason != ReasonRecognizedSpeech {
		t.Fatalf("unexpected final event: %+v", events[2])
	}
}

func TestMockAssessmentFinal(t *testing.T) {
	stream := audio.NewStream("test", io.NopCloser(bytes.NewReader(twoWordsOfAudio())), false, nil)
	rec := &recorder{}
	b, err := NewMock().Bind(context.Background(), stream, Config{Mode: ModeAssessment, ReferenceText: "One, two three"}, rec.handle)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := stream.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected only a final event, got %+v", events)
	}
	a := events[0].Assessment
	if a == nil || len(a.Words) != 2 {
		t.Fatalf("expected assessment for 2 words, got %+v", a)
	}
	if a.Words[0].Word != "One" {
		t.Fatalf("expected punctuation trimmed, got %q", a.Words[0].Word)
	}
}

func (r *recorder) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		events := r.snapshot()
		if len(events) >= n {
			return events
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d events, got %+v", n, events)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMockRestartBeginsAtFirstWord(t *testing.T) {
	ctx := context.Background()
	pr, pw := io.Pipe()
	stream := audio.NewStream("test", pr, false, nil)
	go func() {
		_ = stream.Run(ctx)
	}()
	defer pw.Close()

	rec := &recorder{}
	b, err := NewMock().Bind(ctx, stream, Config{Mode: ModeTranscription, ReferenceText: "one two three"}, rec.handle)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	oneWord := bytes.Repeat([]byte{0}, 5*audio.ChunkBytes)

	if err := b.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := pw.Write(oneWord); err != nil {
		t.Fatalf("write: %v", err)
	}
	rec.waitFor(t, 1)
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if err := b.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if _, err := pw.Write(oneWord); err != nil {
		t.Fatalf("write: %v", err)
	}
	events := rec.waitFor(t, 3)
	if events[1].Kind != EventFinal || events[1].Text != "one" {
		t.Fatalf("unexpected final before restart: %+v", events[1])
	}
	if events[2].Kind != EventInterim || events[2].Text != "one" {
		t.Fatalf("restart resumed mid-sentence: %+v", events[2])
	}
	if err := b.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMockRejectsAssessmentWithoutReference(t *testing.T) {
	stream := audio.NewStream("test", io.NopCloser(bytes.NewReader(nil)), false, nil)
	_, err := NewMock().Bind(context.Background(), stream, Config{Mode: ModeAssessment}, func(Event) {})
	var initErr *InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected InitError, got %v", err)
	}
	if !errors.Is(err, ErrMissingReference) {
		t.Fatalf("expected ErrMissingReference, got %v", err)
	}
}
