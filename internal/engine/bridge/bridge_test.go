package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/verte-zerg/tuispeak/internal/audio"
	"github.com/verte-zerg/tuispeak/internal/engine"
)

type fakeBridge struct {
	reject bool

	mu      sync.Mutex
	configs []controlMessage
	auth    string
}

func (f *fakeBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.auth = r.Header.Get("Authorization")
	f.mu.Unlock()
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		switch msg.Event {
		case "configure":
			f.mu.Lock()
			f.configs = append(f.configs, msg)
			f.mu.Unlock()
			if f.reject {
				_ = conn.WriteJSON(eventMessage{Type: "canceled", Reason: "error", Code: 401, Details: "bad key"})
				return
			}
			_ = conn.WriteJSON(eventMessage{Type: "ready"})
		case "start":
			_ = conn.WriteJSON(eventMessage{Type: "interim", Text: "the quick"})
		case "stop":
			_ = conn.WriteJSON(eventMessage{
				Type:   "final",
				Text:   "the quick fox",
				Status: "recognized_speech",
				Assessment: &wireAssessment{
					AccuracyScore: 90,
					Words: []wireWord{
						{Word: "the", ErrorType: "None", AccuracyScore: 99},
						{Word: "quick", ErrorType: "Mispronunciation", AccuracyScore: 40},
					},
				},
			})
			_ = conn.WriteJSON(eventMessage{Type: "stopped"})
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func idleStream() *audio.Stream {
	return audio.NewStream("test", io.NopCloser(bytes.NewReader(nil)), false, nil)
}

func TestBridgeDeliversEvents(t *testing.T) {
	fake := &fakeBridge{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	var mu sync.Mutex
	var events []engine.Event
	handler := func(ev engine.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	eng := New(wsURL(srv), "secret", nil)
	b, err := eng.Bind(ctx, idleStream(), engine.Config{Mode: engine.ModeAssessment, ReferenceText: "the quick brown fox", Lang: "en-US"}, handler)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := b.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
	if events[0].Kind != engine.EventInterim || events[0].Text != "the quick" {
		t.Fatalf("unexpected interim: %+v", events[0])
	}
	final := events[1]
	if final.Kind != engine.EventFinal || final.Reason != engine.ReasonRecognizedSpeech {
		t.Fatalf("unexpected final: %+v", final)
	}
	if final.Assessment == nil || len(final.Assessment.Words) != 2 || final.Assessment.Words[1].ErrorType != "Mispronunciation" {
		t.Fatalf("unexpected assessment: %+v", final.Assessment)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.auth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", fake.auth)
	}
	if len(fake.configs) != 1 || fake.configs[0].ReferenceText != "the quick brown fox" || fake.configs[0].Mode != "assessment" {
		t.Fatalf("unexpected configure message: %+v", fake.configs)
	}
}

func TestBridgeRejectedConfigurationIsInitError(t *testing.T) {
	srv := httptest.NewServer(&fakeBridge{reject: true})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := New(wsURL(srv), "", nil).Bind(ctx, idleStream(), engine.Config{Mode: engine.ModeTranscription}, func(engine.Event) {})
	var initErr *engine.InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected InitError, got %v", err)
	}
	if initErr.Mode != engine.ModeTranscription {
		t.Fatalf("unexpected mode %v", initErr.Mode)
	}
}

func TestBridgeRequiresURL(t *testing.T) {
	_, err := New("", "", nil).Bind(context.Background(), idleStream(), engine.Config{}, func(engine.Event) {})
	var initErr *engine.InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected InitError, got %v", err)
	}
}
