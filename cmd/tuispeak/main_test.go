package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/verte-zerg/tuispeak/internal/config"
	"github.com/verte-zerg/tuispeak/internal/generator"
	"github.com/verte-zerg/tuispeak/internal/model"
	"github.com/verte-zerg/tuispeak/internal/store"
)

func validConfig() model.Config {
	return model.Config{Lang: "en-US", Engine: "mock", Count: 3, WeakTop: 8, WeakFactor: 2, WeakWindow: 20}
}

func TestValidateConfig(t *testing.T) {
	if err := validateConfig(validConfig()); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}
	cases := map[string]func(*model.Config){
		"--count":       func(c *model.Config) { c.Count = 0 },
		"--lang":        func(c *model.Config) { c.Lang = " " },
		"--weak-factor": func(c *model.Config) { c.WeakFactor = -1 },
		"unknown":       func(c *model.Config) { c.Engine = "cloud" },
	}
	for want, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		err := validateConfig(cfg)
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error mentioning %q, got %v", want, err)
		}
	}
}

func TestDefaultConfigTemplateDecodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("template does not decode: %v", err)
	}
	if cfg.Session.Lang != nil || cfg.Engine.Name != nil {
		t.Fatalf("expected every value commented out, got %+v", cfg)
	}
}

func TestParseSince(t *testing.T) {
	if got, err := parseSince(""); err != nil || got != nil {
		t.Fatalf("expected no filter, got %v %v", got, err)
	}
	got, err := parseSince("2024-03-01")
	if err != nil || got == nil || got.Day() != 1 || got.Month() != 3 {
		t.Fatalf("unexpected since %v %v", got, err)
	}
	if _, err := parseSince("03/01/2024"); err == nil {
		t.Fatalf("expected invalid date error")
	}
}

func TestResolveTextsExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "texts.txt")
	if err := os.WriteFile(path, []byte("# comment\nShe sells sea shells.\n\nRed lorry, yellow lorry.\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	pool, err := resolveTexts(path)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(pool) != 2 || pool[0] != "She sells sea shells." {
		t.Fatalf("unexpected pool %v", pool)
	}
	if _, err := resolveTexts(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestPickTextsWithoutHistoryFallsBack(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "tuispeak.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	pool := []string{"one", "two", "three", "four"}
	cfg := validConfig()
	cfg.FocusWeak = true
	got := pickTexts(context.Background(), st, generator.NewSeeded(1), pool, cfg, slog.Default())
	if len(got) != 3 || got[0] != "one" || got[2] != "three" {
		t.Fatalf("expected ordered fallback selection, got %v", got)
	}
}

func TestNewEngine(t *testing.T) {
	eng, err := newEngine("mock", "", "", nil)
	if err != nil || eng.Name() != "mock" {
		t.Fatalf("unexpected mock engine %v %v", eng, err)
	}
	if _, err := newEngine("bridge", "", "", nil); err == nil {
		t.Fatalf("expected missing bridge url error")
	}
	eng, err = newEngine("bridge", "ws://127.0.0.1:1/recognize", "", nil)
	if err != nil || eng.Name() != "bridge" {
		t.Fatalf("unexpected bridge engine %v %v", eng, err)
	}
}

type failingCloser struct{}

func (failingCloser) Close() error {
	return errors.New("signal: killed")
}

func TestCloseAudioLogsFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	closeAudio(failingCloser{}, logger)
	out := buf.String()
	if !strings.Contains(out, "level=DEBUG") || !strings.Contains(out, "signal: killed") {
		t.Fatalf("expected debug log of close error, got %q", out)
	}
}
