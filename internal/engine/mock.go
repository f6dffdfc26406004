package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/verte-zerg/tuispeak/internal/audio"
)

const defaultWordInterval = 500 * time.Millisecond

// Mock is an offline engine that "hears" one reference word per WordInterval of
// audio. It lets the whole pipeline run without a recognition service.
type Mock struct {
	WordInterval time.Duration
}

// NewMock returns a Mock with the default pacing.
func NewMock() *Mock {
	return &Mock{WordInterval: defaultWordInterval}
}

// Name implements Engine.
func (m *Mock) Name() string {
	return "mock"
}

// Bind implements Engine.
func (m *Mock) Bind(_ context.Context, stream *audio.Stream, cfg Config, handler Handler) (Binding, error) {
	if stream == nil {
		return nil, &InitError{Engine: m.Name(), Mode: cfg.Mode, Err: errors.New("audio stream is nil")}
	}
	if cfg.Mode == ModeAssessment && strings.TrimSpace(cfg.ReferenceText) == "" {
		return nil, &InitError{Engine: m.Name(), Mode: cfg.Mode, Err: ErrMissingReference}
	}
	interval := m.WordInterval
	if interval <= 0 {
		interval = defaultWordInterval
	}
	bytesPerWord := int(interval / audio.ChunkDuration * audio.ChunkBytes)
	if bytesPerWord < 1 {
		bytesPerWord = 1
	}
	return &mockBinding{
		stream:       stream,
		cfg:          cfg,
		handler:      handler,
		words:        strings.Fields(cfg.ReferenceText),
		bytesPerWord: bytesPerWord,
	}, nil
}

type mockBinding struct {
	stream       *audio.Stream
	cfg          Config
	handler      Handler
	words        []string
	bytesPerWord int

	mu     sync.Mutex
	sub    *audio.Subscription
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

func (b *mockBinding) Start(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("mock binding is closed")
	}
	if b.sub != nil {
		return nil
	}
	b.sub = b.stream.Subscribe(64)
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.run(b.sub, b.stop, b.done)
	return nil
}

func (b *mockBinding) Stop(ctx context.Context) error {
	b.mu.Lock()
	sub, stop, done := b.sub, b.stop, b.done
	b.sub = nil
	b.mu.Unlock()
	if sub == nil {
		return nil
	}
	close(stop)
	sub.Close()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *mockBinding) Close(ctx context.Context) error {
	err := b.Stop(ctx)
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return err
}

// run reads the reference from its first word on every start.
func (b *mockBinding) run(sub *audio.Subscription, stop, done chan struct{}) {
	defer close(done)
	var heard []string
	pending, next := 0, 0
	consume := func(chunk []byte) {
		pending += len(chunk)
		for pending >= b.bytesPerWord && next < len(b.words) {
			pending -= b.bytesPerWord
			heard = append(heard, b.words[next])
			next++
			if b.cfg.Mode == ModeTranscription {
				b.handler(Interim(strings.Join(heard, " ")))
			}
		}
	}
	for {
		select {
		case <-stop:
			// Audio already buffered counts as spoken.
			for drained := false; !drained; {
				select {
				case chunk, ok := <-sub.Chunks():
					if !ok {
						drained = true
						continue
					}
					consume(chunk)
				default:
					drained = true
				}
			}
			b.flush(heard)
			return
		case chunk, ok := <-sub.Chunks():
			if !ok {
				b.flush(heard)
				return
			}
			consume(chunk)
		}
	}
}

func (b *mockBinding) flush(heard []string) {
	if len(heard) == 0 {
		b.handler(Final("", ReasonNoMatch, nil))
		return
	}
	text := strings.Join(heard, " ")
	if b.cfg.Mode == ModeTranscription {
		b.handler(Final(text, ReasonRecognizedSpeech, nil))
		return
	}
	b.handler(Final(text, ReasonRecognizedSpeech, mockAssessment(heard, len(b.words))))
}

func mockAssessment(heard []string, total int) *Assessment {
	words := make([]WordAssessment, 0, len(heard))
	for _, w := range heard {
		words = append(words, WordAssessment{
			Word:          strings.TrimFunc(w, unicode.IsPunct),
			ErrorType:     "None",
			AccuracyScore: 100,
		})
	}
	completeness := 0.0
	if total > 0 {
		completeness = float64(len(heard)) / float64(total) * 100
	}
	return &Assessment{
		AccuracyScore:      100,
		FluencyScore:       100,
		CompletenessScore:  completeness,
		PronunciationScore: (200 + completeness) / 3,
		Words:              words,
	}
}
