// Package audio provides the shared capture stream recognition bindings listen on.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PCM format accepted by the recognition engines.
const (
	SampleRate    = 16000
	BitsPerSample = 16
	Channels      = 1

	ChunkDuration = 100 * time.Millisecond
	ChunkBytes    = SampleRate * (BitsPerSample / 8) * Channels / 10
)

// AccessError reports an audio source that could not be opened or has the wrong format.
type AccessError struct {
	Source string
	Err    error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("audio source %s unavailable: %v", e.Source, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// Stream fans a single PCM source out to any number of subscribers.
// Chunks are shared between subscribers and must not be modified.
type Stream struct {
	name    string
	src     io.ReadCloser
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	done    bool
	dropped int64

	closeOnce sync.Once
	closeErr  error
}

// Subscription receives chunks from a Stream until it is closed or the stream ends.
type Subscription struct {
	stream *Stream
	ch     chan []byte
	closed bool
}

// NewStream wraps src. When realtime is set, chunks are paced to the audio clock,
// which is what file sources need to behave like a microphone.
func NewStream(name string, src io.ReadCloser, realtime bool, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stream{
		name:   name,
		src:    src,
		logger: logger,
		subs:   map[*Subscription]struct{}{},
	}
	if realtime {
		s.limiter = rate.NewLimiter(rate.Every(ChunkDuration), 1)
	}
	return s
}

// Name returns the source description.
func (s *Stream) Name() string {
	return s.name
}

// Dropped returns the number of chunks dropped for slow subscribers.
func (s *Stream) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Subscribe registers a new subscriber with the given channel buffer.
// Subscribing to a finished stream yields an already closed channel.
func (s *Stream) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription{stream: s, ch: make(chan []byte, buffer)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

// Chunks returns the chunk channel. It is closed when the subscription ends.
func (sub *Subscription) Chunks() <-chan []byte {
	return sub.ch
}

// Close detaches the subscription. Safe to call more than once.
func (sub *Subscription) Close() {
	s := sub.stream
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(s.subs, sub)
	close(sub.ch)
}

// Run pumps the source until it is exhausted or ctx is canceled.
// All subscriptions are closed when Run returns.
func (s *Stream) Run(ctx context.Context) error {
	defer s.finish()
	buf := make([]byte, ChunkBytes)
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
		} else if ctx.Err() != nil {
			return nil
		}
		n, err := io.ReadFull(s.src, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.broadcast(chunk)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Debug("audio source exhausted", "source", s.name)
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return &AccessError{Source: s.name, Err: err}
		}
	}
}

// Close releases the underlying source.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.src.Close()
	})
	return s.closeErr
}

func (s *Stream) broadcast(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.ch <- chunk:
		default:
			s.dropped++
		}
	}
}

func (s *Stream) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	for sub := range s.subs {
		sub.closed = true
		close(sub.ch)
		delete(s.subs, sub)
	}
	if s.dropped > 0 {
		s.logger.Warn("audio chunks dropped for slow subscribers", "source", s.name, "dropped", s.dropped)
	}
}
