// Package trial owns the recognition bindings of the active trial and folds
// their events into a single TrialState.
package trial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/verte-zerg/tuispeak/internal/assess"
	"github.com/verte-zerg/tuispeak/internal/audio"
	"github.com/verte-zerg/tuispeak/internal/engine"
	"github.com/verte-zerg/tuispeak/internal/model"
	"github.com/verte-zerg/tuispeak/internal/transcript"
)

// ErrDisposed is returned by CreateBindings and Rebind after Dispose.
var ErrDisposed = errors.New("trial controller is disposed")

// Options configures a Controller. All fields are optional.
type Options struct {
	Lang   string
	Logger *slog.Logger
	// OnChange receives a copy of the trial state after every mutation.
	OnChange func(model.TrialState)
	// OnWarning receives runtime cancellations and malformed assessments.
	OnWarning func(error)
}

type pair struct {
	transcriber engine.Binding
	assessor    engine.Binding
}

// Controller owns exactly one transcription and one assessment binding for the
// current reference text. Lifecycle calls are serialized; events from bindings
// of an older generation are dropped.
type Controller struct {
	eng       engine.Engine
	stream    *audio.Stream
	lang      string
	logger    *slog.Logger
	onChange  func(model.TrialState)
	onWarning func(error)

	opMu sync.Mutex

	mu       sync.Mutex
	gen      uint64
	state    model.TrialState
	bindings *pair
	disposed bool
}

// New returns a controller without bindings.
func New(eng engine.Engine, stream *audio.Stream, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		eng:       eng,
		stream:    stream,
		lang:      opts.Lang,
		logger:    logger,
		onChange:  opts.OnChange,
		onWarning: opts.OnWarning,
	}
}

// CreateBindings closes any existing bindings and binds a new pair to
// referenceText. The trial state is reset before the old pair is closed, so
// events still in flight from it are discarded.
func (c *Controller) CreateBindings(ctx context.Context, referenceText string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	c.gen++
	gen := c.gen
	old := c.bindings
	c.bindings = nil
	c.state = model.TrialState{Generation: gen, ReferenceText: referenceText}
	snap := c.state.Clone()
	c.mu.Unlock()
	c.notify(snap)

	if err := c.closePair(ctx, old); err != nil {
		c.logger.Warn("failed to close previous bindings", "error", err)
	}

	transcriber, err := c.eng.Bind(ctx, c.stream, engine.Config{
		Mode:          engine.ModeTranscription,
		ReferenceText: referenceText,
		Lang:          c.lang,
	}, c.handler(gen, engine.ModeTranscription))
	if err != nil {
		return err
	}
	assessor, err := c.eng.Bind(ctx, c.stream, engine.Config{
		Mode:          engine.ModeAssessment,
		ReferenceText: referenceText,
		Lang:          c.lang,
	}, c.handler(gen, engine.ModeAssessment))
	if err != nil {
		if cerr := transcriber.Close(ctx); cerr != nil {
			c.logger.Warn("failed to close transcription binding", "error", cerr)
		}
		return err
	}

	c.mu.Lock()
	c.bindings = &pair{transcriber: transcriber, assessor: assessor}
	c.mu.Unlock()
	c.logger.Debug("bindings created", "generation", gen, "engine", c.eng.Name())
	return nil
}

// Rebind replaces both bindings with a pair bound to referenceText. The old
// pair is fully closed before the new one is constructed.
func (c *Controller) Rebind(ctx context.Context, referenceText string) error {
	return c.CreateBindings(ctx, referenceText)
}

// Start starts both bindings. Listening becomes true only when both started.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	p, gen := c.bindings, c.gen
	c.mu.Unlock()
	if p == nil {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := p.transcriber.Start(gctx); err != nil {
			return fmt.Errorf("failed to start transcription: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := p.assessor.Start(gctx); err != nil {
			return fmt.Errorf("failed to start assessment: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if serr := stopPair(ctx, p); serr != nil {
			c.logger.Debug("failed to stop bindings after start failure", "error", serr)
		}
		return err
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil
	}
	c.state.Listening = true
	snap := c.state.Clone()
	c.mu.Unlock()
	c.notify(snap)
	return nil
}

// Stop stops both bindings. Listening is cleared before the engine is asked to
// stop; events delivered while stopping still update the trial.
func (c *Controller) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stop(ctx)
}

func (c *Controller) stop(ctx context.Context) error {
	c.mu.Lock()
	p := c.bindings
	changed := c.state.Listening
	c.state.Listening = false
	snap := c.state.Clone()
	c.mu.Unlock()
	if changed {
		c.notify(snap)
	}
	if p == nil {
		return nil
	}
	return stopPair(ctx, p)
}

// stopGeneration stops the bindings if they still belong to gen.
func (c *Controller) stopGeneration(ctx context.Context, gen uint64) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	current := c.gen == gen && !c.disposed
	c.mu.Unlock()
	if !current {
		return
	}
	if err := c.stop(ctx); err != nil {
		c.logger.Warn("failed to stop canceled trial", "generation", gen, "error", err)
	}
}

// Dispose closes the bindings. Calling it again is a no-op.
func (c *Controller) Dispose(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	c.gen++
	p := c.bindings
	c.bindings = nil
	c.state.Listening = false
	c.mu.Unlock()
	return c.closePair(ctx, p)
}

// Clear drops the transcript, pending fragment and assessment of the trial.
func (c *Controller) Clear() {
	c.mu.Lock()
	c.state.Transcript = ""
	c.state.PendingFragment = ""
	c.state.Assessment = nil
	snap := c.state.Clone()
	c.mu.Unlock()
	c.notify(snap)
}

// Snapshot returns a copy of the current trial state.
func (c *Controller) Snapshot() model.TrialState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Bound reports whether a binding pair exists.
func (c *Controller) Bound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bindings != nil
}

func (c *Controller) handler(gen uint64, mode engine.Mode) engine.Handler {
	return func(ev engine.Event) {
		c.mu.Lock()
		if c.gen != gen || c.disposed {
			c.mu.Unlock()
			c.logger.Debug("dropping stale event", "generation", gen, "mode", mode.String())
			return
		}
		var warning error
		changed := true
		switch {
		case ev.Kind == engine.EventCanceled:
			cancel := engine.Cancellation{}
			if ev.Cancel != nil {
				cancel = *ev.Cancel
			}
			warning = &engine.RuntimeError{Mode: mode, Cancel: cancel}
			changed = false
		case mode == engine.ModeTranscription && ev.Kind == engine.EventInterim:
			c.state.PendingFragment = transcript.MergeInterim(c.state.PendingFragment, ev.Text)
		case mode == engine.ModeTranscription && ev.Kind == engine.EventFinal:
			c.state.PendingFragment = ""
			if ev.Reason == engine.ReasonRecognizedSpeech {
				c.state.Transcript = transcript.MergeFinal(c.state.Transcript, ev.Text)
			}
		case mode == engine.ModeAssessment && ev.Kind == engine.EventFinal:
			if ev.Reason != engine.ReasonRecognizedSpeech {
				changed = false
				break
			}
			spoken := ev.Text
			if strings.TrimSpace(spoken) == "" {
				spoken = c.state.Transcript
			}
			scores, err := assess.Score(c.state.ReferenceText, spoken, ev.Assessment)
			c.state.Assessment = &scores
			if err != nil {
				warning = fmt.Errorf("assessment degraded to omission detection: %w", err)
			}
		default:
			changed = false
		}
		snap := c.state.Clone()
		c.mu.Unlock()

		if changed {
			c.notify(snap)
		}
		if warning != nil {
			c.logger.Warn("recognition warning", "generation", gen, "mode", mode.String(), "error", warning)
			c.warn(warning)
		}
		if ev.Kind == engine.EventCanceled {
			go c.stopGeneration(context.Background(), gen)
		}
	}
}

func (c *Controller) notify(snap model.TrialState) {
	if c.onChange != nil {
		c.onChange(snap)
	}
}

func (c *Controller) warn(err error) {
	if c.onWarning != nil {
		c.onWarning(err)
	}
}

func (c *Controller) closePair(ctx context.Context, p *pair) error {
	if p == nil {
		return nil
	}
	var errs []error
	if err := p.transcriber.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to close transcription binding: %w", err))
	}
	if err := p.assessor.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to close assessment binding: %w", err))
	}
	return errors.Join(errs...)
}

func stopPair(ctx context.Context, p *pair) error {
	var errs []error
	if err := p.transcriber.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop transcription: %w", err))
	}
	if err := p.assessor.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop assessment: %w", err))
	}
	return errors.Join(errs...)
}
