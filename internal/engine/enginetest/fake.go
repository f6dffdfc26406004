// Package enginetest provides a scriptable engine for tests.
package enginetest

import (
	"context"
	"sync"

	"github.com/verte-zerg/tuispeak/internal/audio"
	"github.com/verte-zerg/tuispeak/internal/engine"
)

// Engine records every binding it creates. Events are injected with Binding.Emit.
type Engine struct {
	mu        sync.Mutex
	bindings  []*Binding
	bindErr   map[engine.Mode]error
	startErr  map[engine.Mode]error
	closeErr  error
	bindCount int
	holds     map[engine.Mode]*hold
}

type hold struct {
	entered chan struct{}
	release chan struct{}
}

// New returns an empty fake engine.
func New() *Engine {
	return &Engine{
		bindErr:  map[engine.Mode]error{},
		startErr: map[engine.Mode]error{},
		holds:    map[engine.Mode]*hold{},
	}
}

// HoldBind makes the next Bind for mode block until release is called.
// entered is closed once that Bind is waiting.
func (e *Engine) HoldBind(mode engine.Mode) (entered <-chan struct{}, release func()) {
	h := &hold{entered: make(chan struct{}), release: make(chan struct{})}
	e.mu.Lock()
	e.holds[mode] = h
	e.mu.Unlock()
	var once sync.Once
	return h.entered, func() {
		once.Do(func() { close(h.release) })
	}
}

// FailBind makes the next binds for mode fail with err. A nil err clears it.
func (e *Engine) FailBind(mode engine.Mode, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bindErr[mode] = err
}

// FailStart makes bindings created afterwards for mode fail to start.
func (e *Engine) FailStart(mode engine.Mode, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startErr[mode] = err
}

// FailClose makes bindings created afterwards return err from Close.
func (e *Engine) FailClose(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeErr = err
}

// Name implements engine.Engine.
func (e *Engine) Name() string {
	return "fake"
}

// Bind implements engine.Engine.
func (e *Engine) Bind(_ context.Context, _ *audio.Stream, cfg engine.Config, handler engine.Handler) (engine.Binding, error) {
	e.mu.Lock()
	h := e.holds[cfg.Mode]
	delete(e.holds, cfg.Mode)
	e.mu.Unlock()
	if h != nil {
		close(h.entered)
		<-h.release
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.bindCount++
	if err := e.bindErr[cfg.Mode]; err != nil {
		return nil, &engine.InitError{Engine: e.Name(), Mode: cfg.Mode, Err: err}
	}
	b := &Binding{
		Config:   cfg,
		handler:  handler,
		startErr: e.startErr[cfg.Mode],
		closeErr: e.closeErr,
	}
	e.bindings = append(e.bindings, b)
	return b, nil
}

// BindCalls returns the number of Bind calls, including failed ones.
func (e *Engine) BindCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bindCount
}

// Bindings returns every binding created so far.
func (e *Engine) Bindings() []*Binding {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Binding(nil), e.bindings...)
}

// Last returns the most recent binding for mode, or nil.
func (e *Engine) Last(mode engine.Mode) *Binding {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.bindings) - 1; i >= 0; i-- {
		if e.bindings[i].Config.Mode == mode {
			return e.bindings[i]
		}
	}
	return nil
}

// Binding is a fake binding that counts lifecycle calls.
type Binding struct {
	Config engine.Config

	handler  engine.Handler
	startErr error
	closeErr error

	mu      sync.Mutex
	starts  int
	stops   int
	closes  int
	running bool
}

// Emit delivers ev to the registered handler, even after Close, so tests can
// simulate late events from a binding being torn down.
func (b *Binding) Emit(ev engine.Event) {
	b.handler(ev)
}

func (b *Binding) Start(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	if b.startErr != nil {
		return b.startErr
	}
	b.running = true
	return nil
}

func (b *Binding) Stop(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops++
	b.running = false
	return nil
}

func (b *Binding) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	b.running = false
	return b.closeErr
}

// Counts returns the number of Start, Stop and Close calls.
func (b *Binding) Counts() (starts, stops, closes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts, b.stops, b.closes
}

// Running reports whether the binding was started and not stopped since.
func (b *Binding) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
