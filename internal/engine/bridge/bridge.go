// Package bridge implements an engine that talks to a recognition bridge over a
// websocket: JSON control messages and events, binary PCM audio frames.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/verte-zerg/tuispeak/internal/audio"
	"github.com/verte-zerg/tuispeak/internal/engine"
)

const (
	defaultReadyTimeout = 10 * time.Second
	defaultStopTimeout  = 5 * time.Second
	audioBuffer         = 64
)

// Engine dials one websocket per binding.
type Engine struct {
	URL          string
	APIKey       string
	Dialer       *websocket.Dialer
	ReadyTimeout time.Duration
	StopTimeout  time.Duration
	Logger       *slog.Logger
}

// New returns a bridge engine for the given endpoint.
func New(endpoint, apiKey string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		URL:          endpoint,
		APIKey:       apiKey,
		Dialer:       websocket.DefaultDialer,
		ReadyTimeout: defaultReadyTimeout,
		StopTimeout:  defaultStopTimeout,
		Logger:       logger,
	}
}

// Name implements engine.Engine.
func (e *Engine) Name() string {
	return "bridge"
}

// Bind dials the bridge, sends the configuration and waits for it to be accepted.
func (e *Engine) Bind(ctx context.Context, stream *audio.Stream, cfg engine.Config, handler engine.Handler) (engine.Binding, error) {
	fail := func(err error) error {
		return &engine.InitError{Engine: e.Name(), Mode: cfg.Mode, Err: err}
	}
	if e.URL == "" {
		return nil, fail(errors.New("bridge URL is empty"))
	}
	if stream == nil {
		return nil, fail(errors.New("audio stream is nil"))
	}
	if cfg.Mode == engine.ModeAssessment && strings.TrimSpace(cfg.ReferenceText) == "" {
		return nil, fail(engine.ErrMissingReference)
	}
	u, err := url.Parse(e.URL)
	if err != nil {
		return nil, fail(fmt.Errorf("invalid bridge URL: %w", err))
	}
	sessionID := uuid.NewString()
	q := u.Query()
	q.Set("session_id", sessionID)
	q.Set("mode", cfg.Mode.String())
	u.RawQuery = q.Encode()

	hdr := http.Header{}
	if e.APIKey != "" {
		hdr.Set("Authorization", "Bearer "+e.APIKey)
	}
	dialer := e.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), hdr)
	if err != nil {
		return nil, fail(fmt.Errorf("connect bridge: %w", err))
	}

	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &binding{
		conn:        conn,
		stream:      stream,
		mode:        cfg.Mode,
		handler:     handler,
		stopTimeout: e.StopTimeout,
		logger:      logger.With("binding", sessionID, "mode", cfg.Mode.String()),
		ready:       make(chan error, 1),
		stopped:     make(chan struct{}, 1),
		readDone:    make(chan struct{}),
	}
	go b.readLoop()

	if err := b.writeJSON(controlMessage{
		Event:         "configure",
		Mode:          cfg.Mode.String(),
		ReferenceText: cfg.ReferenceText,
		Language:      cfg.Lang,
		SampleRate:    audio.SampleRate,
		Granularity:   "word",
		Grading:       "hundred_mark",
	}); err != nil {
		b.abandon()
		return nil, fail(fmt.Errorf("send configuration: %w", err))
	}

	timeout := e.ReadyTimeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-b.ready:
		if err != nil {
			b.abandon()
			return nil, fail(err)
		}
	case <-timer.C:
		b.abandon()
		return nil, fail(errors.New("bridge did not acknowledge configuration"))
	case <-ctx.Done():
		b.abandon()
		return nil, fail(ctx.Err())
	}
	b.logger.Debug("bridge binding ready")
	return b, nil
}

type binding struct {
	conn        *websocket.Conn
	stream      *audio.Stream
	mode        engine.Mode
	handler     engine.Handler
	stopTimeout time.Duration
	logger      *slog.Logger

	ready    chan error
	stopped  chan struct{}
	readDone chan struct{}
	closing  atomic.Bool

	writeMu sync.Mutex

	mu         sync.Mutex
	pump       *errgroup.Group
	cancelPump context.CancelFunc
	sub        *audio.Subscription
	closed     bool
	closeOnce  sync.Once
	closeErr   error
}

func (b *binding) Start(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("binding is closed")
	}
	if b.pump != nil {
		return nil
	}
	if err := b.writeJSON(controlMessage{Event: "start"}); err != nil {
		return fmt.Errorf("failed to start %s recognition: %w", b.mode, err)
	}
	sub := b.stream.Subscribe(audioBuffer)
	pumpCtx, cancel := context.WithCancel(context.Background())
	g := &errgroup.Group{}
	g.Go(func() error {
		return b.pumpAudio(pumpCtx, sub)
	})
	b.pump, b.cancelPump, b.sub = g, cancel, sub
	return nil
}

func (b *binding) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.pump == nil {
		b.mu.Unlock()
		return nil
	}
	pumpErr := b.stopPumpLocked()
	select {
	case <-b.stopped:
	default:
	}
	err := b.writeJSON(controlMessage{Event: "stop"})
	b.mu.Unlock()
	if err != nil {
		return errors.Join(pumpErr, fmt.Errorf("failed to stop %s recognition: %w", b.mode, err))
	}

	timeout := b.stopTimeout
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-b.stopped:
	case <-b.readDone:
	case <-timer.C:
		b.logger.Warn("bridge did not acknowledge stop", "timeout", timeout)
	case <-ctx.Done():
		return errors.Join(pumpErr, ctx.Err())
	}
	return pumpErr
}

func (b *binding) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		var pumpErr error
		if b.pump != nil {
			pumpErr = b.stopPumpLocked()
		}
		b.mu.Unlock()

		b.closing.Store(true)
		b.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = b.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		b.writeMu.Unlock()
		b.closeErr = errors.Join(pumpErr, b.conn.Close())
	})
	select {
	case <-b.readDone:
		return b.closeErr
	case <-ctx.Done():
		return errors.Join(b.closeErr, ctx.Err())
	}
}

// abandon tears down a binding that never became ready.
func (b *binding) abandon() {
	if err := b.Close(context.Background()); err != nil {
		b.logger.Debug("failed to close rejected binding", "error", err)
	}
}

func (b *binding) stopPumpLocked() error {
	b.cancelPump()
	b.sub.Close()
	err := b.pump.Wait()
	b.pump, b.cancelPump, b.sub = nil, nil, nil
	return err
}

func (b *binding) pumpAudio(ctx context.Context, sub *audio.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-sub.Chunks():
			if !ok {
				return nil
			}
			if err := b.writeMessage(websocket.BinaryMessage, chunk); err != nil {
				return fmt.Errorf("failed to send audio: %w", err)
			}
		}
	}
}

func (b *binding) readLoop() {
	defer close(b.readDone)
	acknowledged := false
	for {
		msgType, payload, err := b.conn.ReadMessage()
		if err != nil {
			if !acknowledged {
				b.signalReady(fmt.Errorf("bridge closed before acknowledging: %w", err))
				return
			}
			if !b.closing.Load() {
				b.handler(engine.Canceled("connection lost", 0, err.Error()))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var msg eventMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			b.logger.Warn("failed to decode bridge message", "error", err)
			continue
		}
		switch msg.Type {
		case "ready":
			acknowledged = true
			b.signalReady(nil)
		case "stopped":
			select {
			case b.stopped <- struct{}{}:
			default:
			}
		case "interim":
			b.handler(engine.Interim(msg.Text))
		case "final":
			b.handler(engine.Final(msg.Text, msg.reason(), msg.Assessment.toEngine()))
		case "canceled":
			if !acknowledged {
				b.signalReady(fmt.Errorf("bridge rejected configuration: %s (code %d): %s", msg.Reason, msg.Code, msg.Details))
				continue
			}
			b.handler(engine.Canceled(msg.Reason, msg.Code, msg.Details))
		default:
			b.logger.Debug("ignoring bridge message", "type", msg.Type)
		}
	}
}

func (b *binding) signalReady(err error) {
	select {
	case b.ready <- err:
	default:
	}
}

func (b *binding) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.writeMessage(websocket.TextMessage, data)
}

func (b *binding) writeMessage(msgType int, data []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.conn.WriteMessage(msgType, data)
}
