// Package main provides the CLI entrypoint for tuispeak.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/verte-zerg/tuispeak/internal/audio"
	"github.com/verte-zerg/tuispeak/internal/config"
	"github.com/verte-zerg/tuispeak/internal/engine"
	"github.com/verte-zerg/tuispeak/internal/engine/bridge"
	"github.com/verte-zerg/tuispeak/internal/generator"
	"github.com/verte-zerg/tuispeak/internal/historyui"
	"github.com/verte-zerg/tuispeak/internal/model"
	"github.com/verte-zerg/tuispeak/internal/report"
	"github.com/verte-zerg/tuispeak/internal/session"
	"github.com/verte-zerg/tuispeak/internal/store"
	"github.com/verte-zerg/tuispeak/internal/texts"
	"github.com/verte-zerg/tuispeak/internal/trial"
	"github.com/verte-zerg/tuispeak/internal/tui"
)

const (
	defaultLang        = "en-US"
	defaultEngine      = "mock"
	defaultCount       = 3
	defaultWeakTop     = 8
	defaultWeakFactor  = 2.0
	defaultWeakWindow  = 20
	defaultCurveWindow = 20
	historyWordLimit   = 15
)

var (
	sessionLang       string
	sessionEngine     string
	sessionBridgeURL  string
	sessionKeyEnv     string
	sessionAudio      string
	sessionCaptureCmd string
	sessionTextsFile  string
	sessionCount      int
	sessionShuffle    bool
	sessionFocusWeak  bool
	sessionWeakTop    int
	sessionWeakFactor float64
	sessionWeakWindow int
	sessionNoSave     bool

	historyLang        string
	historySince       string
	historyLast        int
	historyCurveWindow int
	historyPlain       bool

	logVerbose bool
	logQuiet   bool
	logFile    string
	configPath string

	logCloser io.Closer
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:                "tuispeak",
		Short:              "TUI pronunciation trainer",
		SilenceUsage:       true,
		SilenceErrors:      false,
		PersistentPreRunE:  setupLogging,
		PersistentPostRunE: closeLogging,
		RunE:               runSessionCmd,
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&logVerbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&logQuiet, "quiet", "q", false, "only log errors")
	pf.StringVar(&logFile, "log-file", config.DefaultLogPath(), "log file used while the TUI is running")
	pf.StringVar(&configPath, "config", config.DefaultConfigPath(), "config file path")

	f := rootCmd.Flags()
	f.StringVar(&sessionLang, "lang", defaultLang, "recognition locale")
	f.StringVar(&sessionEngine, "engine", defaultEngine, "recognition engine (mock, bridge)")
	f.StringVar(&sessionBridgeURL, "bridge-url", "", "websocket URL of the recognition bridge")
	f.StringVar(&sessionKeyEnv, "key-env", config.DefaultKeyEnv, "environment variable holding the bridge key")
	f.StringVar(&sessionAudio, "audio", "", "audio source: WAV/PCM file, '-' for stdin, or any file ffmpeg decodes")
	f.StringVar(&sessionCaptureCmd, "capture-cmd", "", "command writing 16 kHz mono s16le PCM to stdout")
	f.StringVar(&sessionTextsFile, "texts-file", "", "reference text list, one text per line")
	f.IntVar(&sessionCount, "count", defaultCount, "number of trials")
	f.BoolVar(&sessionShuffle, "shuffle", false, "shuffle reference texts")
	f.BoolVar(&sessionFocusWeak, "focus-weak", false, "prefer texts containing weak words")
	f.IntVar(&sessionWeakTop, "weak-top", defaultWeakTop, "number of weak words to focus on")
	f.Float64Var(&sessionWeakFactor, "weak-factor", defaultWeakFactor, "weight per weak word in a text")
	f.IntVar(&sessionWeakWindow, "weak-window", defaultWeakWindow, "number of recent sessions to compute weak words")
	f.BoolVar(&sessionNoSave, "no-save", false, "do not store the session")

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newTextsCmd())

	return rootCmd
}

// setupLogging routes slog to the log file for the interactive session and to
// stderr for every other command.
func setupLogging(cmd *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	switch {
	case logVerbose:
		level = slog.LevelDebug
	case logQuiet:
		level = slog.LevelError
	}
	var out io.Writer = os.Stderr
	if cmd.Root() == cmd && logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		out = file
		logCloser = file
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
	return nil
}

func closeLogging(_ *cobra.Command, _ []string) error {
	if logCloser == nil {
		return nil
	}
	if cerr := logCloser.Close(); cerr != nil {
		// Best-effort close of the log file.
		_ = cerr
	}
	logCloser = nil
	return nil
}

func runSessionCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "lang", &sessionLang, fileCfg.Session.Lang)
	applyIntConfig(cmd, "count", &sessionCount, fileCfg.Session.Count)
	applyBoolConfig(cmd, "shuffle", &sessionShuffle, fileCfg.Session.Shuffle)
	applyStringConfig(cmd, "texts-file", &sessionTextsFile, fileCfg.Session.TextsFile)
	applyBoolConfig(cmd, "focus-weak", &sessionFocusWeak, fileCfg.Session.FocusWeak)
	applyIntConfig(cmd, "weak-top", &sessionWeakTop, fileCfg.Session.WeakTop)
	applyFloatConfig(cmd, "weak-factor", &sessionWeakFactor, fileCfg.Session.WeakFactor)
	applyIntConfig(cmd, "weak-window", &sessionWeakWindow, fileCfg.Session.WeakWindow)
	applyStringConfig(cmd, "engine", &sessionEngine, fileCfg.Engine.Name)
	applyStringConfig(cmd, "bridge-url", &sessionBridgeURL, fileCfg.Engine.URL)
	applyStringConfig(cmd, "key-env", &sessionKeyEnv, fileCfg.Engine.KeyEnv)
	applyStringConfig(cmd, "audio", &sessionAudio, fileCfg.Audio.Source)
	applyStringConfig(cmd, "capture-cmd", &sessionCaptureCmd, fileCfg.Audio.CaptureCmd)
	save := !sessionNoSave
	if fileCfg.Session.Save != nil && !cmd.Flags().Changed("no-save") {
		save = *fileCfg.Session.Save
	}

	cfg := model.Config{
		Lang:       sessionLang,
		Engine:     sessionEngine,
		Count:      sessionCount,
		Shuffle:    sessionShuffle,
		FocusWeak:  sessionFocusWeak,
		WeakTop:    sessionWeakTop,
		WeakFactor: sessionWeakFactor,
		WeakWindow: sessionWeakWindow,
		Save:       save,
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("an interactive terminal is required; use 'tuispeak history' for plain output")
	}
	if err := config.LoadEnv(config.DefaultEnvPath(), ".env"); err != nil {
		return err
	}
	logger := slog.Default()

	pool, err := resolveTexts(sessionTextsFile)
	if err != nil {
		return err
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Warn("failed to close db", "error", cerr)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	picked := pickTexts(ctx, st, generator.New(), pool, cfg, logger)

	eng, err := newEngine(cfg.Engine, sessionBridgeURL, sessionKeyEnv, logger)
	if err != nil {
		return err
	}
	stream, err := openAudio(ctx, sessionAudio, sessionCaptureCmd, logger)
	if err != nil {
		return fmt.Errorf("failed to open audio: %w", err)
	}
	streamDone := make(chan error, 1)
	go func() {
		streamDone <- stream.Run(ctx)
	}()
	defer closeAudio(stream, logger)

	var program *tea.Program
	ctrl := trial.New(eng, stream, trial.Options{
		Lang:   cfg.Lang,
		Logger: logger,
		OnChange: func(model.TrialState) {
			program.Send(tui.TrialChangedMsg{})
		},
		OnWarning: func(err error) {
			program.Send(tui.WarningMsg{Err: err})
		},
	})
	seq, err := session.New(ctrl, picked, session.Options{Lang: cfg.Lang, Engine: eng.Name(), Logger: logger})
	if err != nil {
		return err
	}

	program = tea.NewProgram(tui.NewModel(ctx, seq, logger), tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := program.Run()
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		runErr = fmt.Errorf("failed to run TUI: %w", runErr)
	} else {
		runErr = nil
	}

	cleanup := context.Background()
	if !seq.State().Terminal() {
		if err := seq.Abort(cleanup); err != nil {
			logger.Warn("failed to abort session", "error", err)
		}
	}
	if err := seq.Dispose(cleanup); err != nil {
		logger.Warn("failed to release bindings", "error", err)
	}
	select {
	case err := <-streamDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logErrf("audio source stopped: %v\n", err)
		}
	default:
	}

	results := seq.Results()
	if cfg.Save && len(results) > 0 {
		if _, err := st.InsertSession(cleanup, seq.Record(), results); err != nil {
			logErrf("failed to save session: %v\n", err)
		}
	}
	if err := report.RenderResults(cmd.OutOrStdout(), results); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return runErr
}

func newEngine(name, url, keyEnv string, logger *slog.Logger) (engine.Engine, error) {
	switch name {
	case "mock":
		return engine.NewMock(), nil
	case "bridge":
		if url == "" {
			return nil, fmt.Errorf("--bridge-url is required for the bridge engine")
		}
		return bridge.New(url, config.EngineKey(keyEnv), logger), nil
	default:
		return nil, fmt.Errorf("unknown engine %q (use mock or bridge)", name)
	}
}

func openAudio(ctx context.Context, source, captureCmd string, logger *slog.Logger) (*audio.Stream, error) {
	if captureCmd != "" {
		return audio.OpenCommand(ctx, captureCmd, logger)
	}
	return audio.Open(ctx, source, logger)
}

// resolveTexts loads an explicit list, then the default list when it exists,
// then the built-in texts.
func resolveTexts(path string) ([]string, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultTextsPath()); err == nil {
			path = config.DefaultTextsPath()
		}
	}
	pool, err := texts.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference texts: %w", err)
	}
	return pool, nil
}

func pickTexts(ctx context.Context, st *store.Store, gen *generator.Generator, pool []string, cfg model.Config, logger *slog.Logger) []string {
	if !cfg.FocusWeak {
		return gen.Pick(pool, cfg.Count, cfg.Shuffle)
	}
	aggs, err := st.GetWeakWords(ctx, cfg.WeakWindow, cfg.Lang)
	if err != nil {
		logger.Warn("failed to load weak words", "error", err)
		return gen.Pick(pool, cfg.Count, cfg.Shuffle)
	}
	weak := report.SelectWeakWords(aggs, cfg.WeakTop)
	if len(weak) == 0 {
		logErrln("no history available for weak-word focus yet; using normal selection")
		return gen.Pick(pool, cfg.Count, cfg.Shuffle)
	}
	logger.Debug("focusing weak words", "words", len(weak))
	return gen.PickWeighted(pool, cfg.Count, weak, cfg.WeakFactor)
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := configPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past sessions",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCmd,
	}
	cmd.Flags().StringVar(&historyLang, "lang", "", "language filter")
	cmd.Flags().StringVar(&historySince, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&historyLast, "last", 0, "limit to last N sessions")
	cmd.Flags().IntVar(&historyCurveWindow, "curve-window", defaultCurveWindow, "moving average window")
	cmd.Flags().BoolVar(&historyPlain, "plain", false, "print a plain report instead of the TUI")
	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	since, err := parseSince(historySince)
	if err != nil {
		return err
	}
	if historyCurveWindow < 1 {
		return fmt.Errorf("--curve-window must be >= 1")
	}
	cfg := model.HistoryConfig{
		Lang:        historyLang,
		Since:       since,
		Last:        historyLast,
		CurveWindow: historyCurveWindow,
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			slog.Warn("failed to close db", "error", cerr)
		}
	}()

	if historyPlain || !term.IsTerminal(int(os.Stdout.Fd())) {
		return writePlainHistory(cmd.Context(), cmd.OutOrStdout(), st, cfg)
	}
	program := tea.NewProgram(historyui.NewModel(st, cfg), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run history TUI: %w", err)
	}
	return nil
}

func writePlainHistory(ctx context.Context, w io.Writer, st *store.Store, cfg model.HistoryConfig) error {
	history, err := report.BuildHistory(ctx, st, cfg)
	if err != nil {
		return err
	}
	if err := report.RenderSummary(w, history.Sessions, cfg.CurveWindow); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if len(history.Sessions) == 0 {
		return nil
	}
	if err := report.RenderSessionTable(w, history.Sessions); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := report.RenderWordTable(w, history.WordsWindow, historyWordLimit); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := report.RenderCurves(w, history.Sessions, cfg.CurveWindow, 0, 0, false); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func parseSince(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.ParseInLocation("2006-01-02", value, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid --since value: %w", err)
	}
	return &parsed, nil
}

func newTextsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "texts",
		Short: "List reference texts",
		Args:  cobra.NoArgs,
		RunE:  runTextsCmd,
	}
	cmd.Flags().StringVar(&sessionTextsFile, "texts-file", "", "reference text list, one text per line")
	return cmd
}

func runTextsCmd(cmd *cobra.Command, _ []string) error {
	if !cmd.Flags().Changed("texts-file") {
		fileCfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		applyStringConfig(cmd, "texts-file", &sessionTextsFile, fileCfg.Session.TextsFile)
	}
	pool, err := resolveTexts(sessionTextsFile)
	if err != nil {
		return err
	}
	for i, text := range pool {
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", i+1, text); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# tuispeak configuration
# Uncomment a value to enable it. CLI flags override config values.

[session]
# lang = %q          # Recognition locale
# count = %d                 # Trials per session
# shuffle = false
# texts-file = ""            # One reference text per line (default %s when present)
# focus-weak = false         # Prefer texts containing weak words
# weak-top = %d              # Number of weak words to focus on
# weak-factor = %.1f         # Weight per weak word in a text
# weak-window = %d           # Number of recent sessions to compute weak words
# save = true                # Store sessions for history

[engine]
# name = %q             # mock or bridge
# url = "ws://localhost:8765/recognize"
# key-env = %q  # Variable holding the bridge key (also read from %s)

[audio]
# source = ""                # WAV/PCM file, "-" for stdin, or any file ffmpeg decodes
# capture-cmd = "arecord -q -f S16_LE -r 16000 -c 1 -t raw"
`,
		defaultLang,
		defaultCount,
		config.DefaultTextsPath(),
		defaultWeakTop,
		defaultWeakFactor,
		defaultWeakWindow,
		defaultEngine,
		config.DefaultKeyEnv,
		config.DefaultEnvPath(),
	)
}

func validateConfig(cfg model.Config) error {
	if strings.TrimSpace(cfg.Lang) == "" {
		return fmt.Errorf("--lang must not be empty")
	}
	if cfg.Count <= 0 {
		return fmt.Errorf("--count must be > 0")
	}
	if cfg.WeakTop < 0 {
		return fmt.Errorf("--weak-top must be >= 0")
	}
	if cfg.WeakFactor < 0 {
		return fmt.Errorf("--weak-factor must be >= 0")
	}
	if cfg.WeakWindow < 0 {
		return fmt.Errorf("--weak-window must be >= 0")
	}
	switch cfg.Engine {
	case "mock", "bridge":
	default:
		return fmt.Errorf("unknown engine %q (use mock or bridge)", cfg.Engine)
	}
	return nil
}

// closeAudio releases the audio source. A capture command killed on exit
// reports an error, so it is only logged at debug level.
func closeAudio(src io.Closer, logger *slog.Logger) {
	if err := src.Close(); err != nil {
		logger.Debug("failed to close audio source", "error", err)
	}
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
