package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/tuispeak/internal/model"
	"github.com/verte-zerg/tuispeak/internal/report"
	"github.com/verte-zerg/tuispeak/internal/session"
)

// Session is the part of session.Sequencer the interface drives.
type Session interface {
	Open(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Clear() error
	Advance(ctx context.Context) error
	Abort(ctx context.Context) error
	State() session.State
	Index() int
	Total() int
	ReferenceText() string
	Trial() model.TrialState
	Results() []model.TrialResult
}

var _ Session = (*session.Sequencer)(nil)

// TrialChangedMsg tells the model to re-read the live trial state.
type TrialChangedMsg struct{}

// WarningMsg carries a non-fatal engine or assessment problem.
type WarningMsg struct {
	Err error
}

type commandDoneMsg struct {
	action string
	err    error
}

// Model is the Bubble Tea model for an assessment session.
type Model struct {
	ctx    context.Context
	seq    Session
	logger *slog.Logger

	width  int
	height int

	trial    model.TrialState
	busy     string
	warning  string
	quitting bool

	finished bool
	results  []model.TrialResult
	table    table.Model
}

var (
	referenceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0"))
	transcriptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#D8D8D8"))
	pendingStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	omissionStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F")).Underline(true)
	mispronouncedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	otherErrorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#B08AE0"))
	headerStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	titleStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	listeningStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A")).Bold(true)
	warningStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	footerStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
)

// NewModel returns a model driving seq. Commands run with ctx.
func NewModel(ctx context.Context, seq Session, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{ctx: ctx, seq: seq, logger: logger}
}

// Results returns the results shown after the session ended.
func (m *Model) Results() []model.TrialResult {
	return m.results
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	m.busy = "Preparing recognizer..."
	return m.run("open", m.seq.Open)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.finished {
			m.resizeTable()
		}
		return m, nil
	case TrialChangedMsg:
		m.trial = m.seq.Trial()
		return m, nil
	case WarningMsg:
		if msg.Err != nil {
			m.warning = msg.Err.Error()
			m.logger.Warn("trial warning", "error", msg.Err)
		}
		return m, nil
	case commandDoneMsg:
		return m.handleDone(msg)
	case tea.KeyMsg:
		if m.finished {
			return m.updateResults(msg)
		}
		return m.handleKey(msg)
	default:
		return m, nil
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		m.quitting = true
		return m, m.run("quit", m.abort)
	case "a":
		// Abort preempts whatever command is in flight.
		m.busy = "Aborting..."
		return m, m.run("abort", m.abort)
	}
	if m.busy != "" {
		return m, nil
	}
	switch msg.String() {
	case " ", "enter":
		if m.trial.Listening {
			m.busy = "Scoring..."
			return m, m.run("next", m.stopAndAdvance)
		}
		m.busy = "Starting..."
		m.warning = ""
		return m, m.run("start", m.seq.Start)
	case "n":
		// Accepts a trial whose recognition already stopped, e.g. after a cancel.
		if m.trial.Listening || !m.trial.Complete() {
			return m, nil
		}
		m.busy = "Scoring..."
		return m, m.run("next", m.seq.Advance)
	case "c":
		if err := m.seq.Clear(); err != nil {
			m.warning = err.Error()
		}
		m.trial = m.seq.Trial()
		return m, nil
	}
	return m, nil
}

func (m *Model) handleDone(msg commandDoneMsg) (tea.Model, tea.Cmd) {
	m.busy = ""
	m.trial = m.seq.Trial()
	if msg.err != nil && !errors.Is(msg.err, session.ErrFinished) {
		m.warning = msg.err.Error()
		m.logger.Error("command failed", "action", msg.action, "error", msg.err)
	}
	if msg.action == "quit" {
		m.results = m.seq.Results()
		return m, tea.Quit
	}
	if m.seq.State().Terminal() && !m.finished {
		m.finish()
	}
	return m, nil
}

func (m *Model) updateResults(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc", "enter":
		m.quitting = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) run(action string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return commandDoneMsg{action: action, err: fn(ctx)}
	}
}

func (m *Model) stopAndAdvance(ctx context.Context) error {
	if err := m.seq.Stop(ctx); err != nil {
		return err
	}
	return m.seq.Advance(ctx)
}

func (m *Model) abort(ctx context.Context) error {
	if err := m.seq.Abort(ctx); err != nil && !errors.Is(err, session.ErrFinished) {
		return err
	}
	return nil
}

func (m *Model) finish() {
	m.finished = true
	m.results = m.seq.Results()
	m.table = buildResultsTable(m.results)
	m.resizeTable()
}

func (m *Model) resizeTable() {
	width := m.contentWidth()
	m.table.SetWidth(width)
	rows := len(m.results) + 1
	if m.height > 0 {
		rows = max(1, min(rows, m.height/3))
	}
	m.table.SetHeight(rows)
}

func (m *Model) contentWidth() int {
	if m.width == 0 {
		return 0
	}
	return max(1, int(float64(m.width)*0.70))
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	var content, footer string
	if m.finished {
		content = m.renderResults()
		footer = renderFooter([]string{"↑/↓ select trial", "q quit"})
	} else {
		content = m.renderTrial()
		footer = renderFooter(m.trialHints())
	}
	if m.width == 0 || m.height == 0 {
		return content + "\n" + footer
	}
	content = lipgloss.NewStyle().Width(m.contentWidth()).Render(content)
	if m.height < 3 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
	}
	body := lipgloss.Place(m.width, m.height-1, lipgloss.Center, lipgloss.Center, content)
	footerLine := lipgloss.Place(m.width, 1, lipgloss.Center, lipgloss.Center, footer)
	return body + "\n" + footerLine
}

func (m *Model) renderTrial() string {
	width := m.contentWidth()
	sections := []string{
		headerStyle.Render(fmt.Sprintf("Reference Text (%d of %d)", m.seq.Index()+1, m.seq.Total())),
		wrapStyledRunes(buildReferenceRunes(m.seq.ReferenceText(), m.trial.Assessment), width),
	}

	transcript := pendingStyle.Render("Nothing recognized yet.")
	if m.trial.DisplayText() != "" {
		transcript = wrapStyledRunes(buildTranscriptRunes(m.trial), width)
	}
	sections = append(sections, headerStyle.Render("Transcript"), transcript)

	if s := m.trial.Assessment; s != nil {
		sections = append(sections, renderScores(*s))
	}
	sections = append(sections, m.renderStatus())
	return strings.Join(sections, "\n\n")
}

func (m *Model) renderStatus() string {
	var status string
	switch {
	case m.busy != "":
		status = pendingStyle.Render(m.busy)
	case m.trial.Listening:
		status = listeningStyle.Render("● Listening")
	case m.trial.Complete():
		status = pendingStyle.Render("Press n to accept or space to try again")
	default:
		status = pendingStyle.Render("Press space to start speaking")
	}
	if m.warning != "" {
		status += "\n" + warningStyle.Render(m.warning)
	}
	return status
}

func (m *Model) trialHints() []string {
	hints := []string{"space start/next"}
	if !m.trial.Listening && m.trial.Complete() {
		hints = append(hints, "n accept")
	}
	return append(hints, "c clear", "a abort", "q quit")
}

func renderScores(s model.Scores) string {
	cells := report.ScoreCells(s)
	segments := []string{
		"Accuracy " + cells[0],
		"Fluency " + cells[1],
		"Completeness " + cells[2],
		"Pronunciation " + cells[3],
	}
	if s.Prosody != nil {
		segments = append(segments, fmt.Sprintf("Prosody %.2f", *s.Prosody))
	}
	return titleStyle.Render(strings.Join(segments, "  "))
}

func (m *Model) renderResults() string {
	title := "Assessment Complete"
	if m.seq.State() == session.StateAborted {
		title = "Assessment Aborted"
	}
	if len(m.results) == 0 {
		return titleStyle.Render(title) + "\n\n" + pendingStyle.Render("No results recorded.")
	}
	parts := []string{titleStyle.Render(title), m.table.View()}
	cursor := m.table.Cursor()
	if cursor >= 0 && cursor < len(m.results) {
		parts = append(parts, renderTrialDetail(m.results[cursor]))
	}
	return strings.Join(parts, "\n\n")
}

func renderTrialDetail(r model.TrialResult) string {
	lines := []string{
		headerStyle.Render("Reference:   ") + r.ReferenceText,
		headerStyle.Render("Transcribed: ") + r.TranscribedText,
	}
	if len(r.Scores.Errors) == 0 {
		lines = append(lines, pendingStyle.Render("No pronunciation errors detected"))
		return strings.Join(lines, "\n")
	}
	for _, e := range r.Scores.Errors {
		lines = append(lines, errorStyle(e.ErrorType).Render(report.ErrorLine(e)))
	}
	return strings.Join(lines, "\n")
}

func buildResultsTable(results []model.TrialResult) table.Model {
	columns := []table.Column{
		{Title: "#", Width: 3},
		{Title: "Accuracy", Width: 9},
		{Title: "Fluency", Width: 8},
		{Title: "Completeness", Width: 12},
		{Title: "Pronunciation", Width: 13},
		{Title: "Errors", Width: 6},
	}
	rows := make([]table.Row, 0, len(results))
	for _, r := range results {
		row := table.Row{fmt.Sprintf("%d", r.Index+1)}
		row = append(row, report.ScoreCells(r.Scores)...)
		row = append(row, fmt.Sprintf("%d", len(r.Scores.Errors)))
		rows = append(rows, row)
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(len(rows)+1),
	)
	t.SetStyles(resultsTableStyles())
	return t
}

func resultsTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#F0F0F0")).
		Background(lipgloss.Color("#4A4A4A")).
		Bold(true)
	return styles
}

func renderFooter(hints []string) string {
	return footerStyle.Render(strings.Join(hints, "  "))
}
