// Package historyui provides the Bubble Tea history browser.
package historyui

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/tuispeak/internal/model"
	"github.com/verte-zerg/tuispeak/internal/report"
	"github.com/verte-zerg/tuispeak/internal/store"
)

const (
	tabOverview = iota
	tabSessions
	tabWords
)

const (
	plotHeight = 10
	wordLimit  = 50
)

var (
	activeNavStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	inactiveNavStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#B0B0B0")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#4A4A4A"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	cardStyle   = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	tableMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
)

// Model implements the Bubble Tea history UI.
type Model struct {
	store *store.Store
	cfg   model.HistoryConfig

	history report.History
	errMsg  string

	tabs      []string
	activeTab int
	overview  viewport.Model
	sessions  table.Model
	words     table.Model
	allWords  bool

	detailMode bool
	detail     viewport.Model

	width  int
	height int

	filterMode   bool
	filterInputs []textinput.Model
	filterIndex  int
	filterError  string
}

// NewModel constructs a history UI model.
func NewModel(st *store.Store, cfg model.HistoryConfig) *Model {
	m := &Model{
		store:    st,
		cfg:      cfg,
		tabs:     []string{"Overview", "Sessions", "Problem Words"},
		overview: viewport.New(0, 0),
		detail:   viewport.New(0, 0),
		sessions: newTable(),
		words:    newTable(),
	}
	m.initInputs()
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.renderOverview()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.filterMode {
			return m.updateFilter(msg)
		}
		if m.detailMode {
			return m.updateDetail(msg)
		}
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "left", "h":
			m.moveTab(-1)
			return m, tea.ClearScreen
		case "right", "l":
			m.moveTab(1)
			return m, tea.ClearScreen
		case "=":
			m.cfg.CurveWindow = nextCurveWindow(m.cfg.CurveWindow)
			m.refresh()
			return m, nil
		case "-":
			m.cfg.CurveWindow = prevCurveWindow(m.cfg.CurveWindow)
			m.refresh()
			return m, nil
		case "/":
			return m.startFilter()
		case "w":
			if m.activeTab == tabWords {
				m.allWords = !m.allWords
				m.applyWords()
			}
			return m, nil
		case "enter":
			if m.activeTab == tabSessions {
				m.openDetail()
			}
			return m, nil
		}
		var cmd tea.Cmd
		switch m.activeTab {
		case tabSessions:
			m.sessions, cmd = m.sessions.Update(msg)
		case tabWords:
			m.words, cmd = m.words.Update(msg)
		default:
			m.overview, cmd = m.overview.Update(msg)
		}
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	headerHeight, bodyHeight, footerHeight := m.layoutHeights()
	header := fitLines(m.renderHeader(), m.width, headerHeight)
	body := fitLines(m.renderBody(), m.width, bodyHeight)
	footer := fitLines(m.renderFooter(), m.width, footerHeight)
	return strings.Join([]string{header, body, footer}, "\n")
}

func newTable() table.Model {
	t := table.New(table.WithHeight(1))
	t.SetStyles(tableStyles())
	return t
}

func tableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	return styles
}

func (m *Model) initInputs() {
	m.filterInputs = []textinput.Model{
		newFilterInput("Lang: "),
		newFilterInput("Since (YYYY-MM-DD): "),
		newFilterInput("Last: "),
		newFilterInput("Curve window: "),
	}
	m.setInputsFromConfig()
}

func newFilterInput(prompt string) textinput.Model {
	input := textinput.New()
	input.Prompt = prompt
	input.CharLimit = 0
	input.Cursor.SetMode(cursor.CursorBlink)
	return input
}

func (m *Model) setInputsFromConfig() {
	m.filterInputs[0].SetValue(strings.TrimSpace(m.cfg.Lang))
	if m.cfg.Since != nil {
		m.filterInputs[1].SetValue(m.cfg.Since.Format("2006-01-02"))
	} else {
		m.filterInputs[1].SetValue("")
	}
	if m.cfg.Last > 0 {
		m.filterInputs[2].SetValue(strconv.Itoa(m.cfg.Last))
	} else {
		m.filterInputs[2].SetValue("")
	}
	m.filterInputs[3].SetValue(strconv.Itoa(m.cfg.CurveWindow))
}

func (m *Model) layoutHeights() (headerHeight, bodyHeight, footerHeight int) {
	tabsHeight := max(1, lipgloss.Height(activeNavStyle.Render("X")))
	headerHeight = tabsHeight + 1
	footerHeight = 1
	if !m.filterMode && m.errMsg != "" {
		footerHeight++
	}
	bodyHeight = max(1, m.height-headerHeight-footerHeight)
	return headerHeight, bodyHeight, footerHeight
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	_, bodyHeight, _ := m.layoutHeights()
	m.overview.Width = m.width
	m.overview.Height = bodyHeight
	m.detail.Width = m.width
	m.detail.Height = bodyHeight
	for _, t := range []*table.Model{&m.sessions, &m.words} {
		t.SetWidth(m.width)
		t.SetHeight(max(1, bodyHeight-1))
	}
	for i := range m.filterInputs {
		promptWidth := lipgloss.Width(m.filterInputs[i].Prompt)
		m.filterInputs[i].Width = max(10, m.width-promptWidth-2)
	}
}

func (m *Model) moveTab(delta int) {
	count := len(m.tabs)
	next := (m.activeTab + delta + count) % count
	m.activeTab = next
	m.sessions.Blur()
	m.words.Blur()
	switch m.activeTab {
	case tabSessions:
		m.sessions.Focus()
	case tabWords:
		m.words.Focus()
	}
}

func (m *Model) refresh() {
	history, err := report.BuildHistory(context.Background(), m.store, m.cfg)
	if err != nil {
		m.errMsg = err.Error()
		m.overview.SetContent("Failed to load history.")
		return
	}
	m.errMsg = ""
	m.history = history
	m.applySessions()
	m.applyWords()
	m.renderOverview()
}

func (m *Model) renderOverview() {
	if m.errMsg != "" {
		return
	}
	width := m.width
	if width <= 0 {
		width = 80
	}
	m.overview.SetContent(renderOverview(m.history.Sessions, m.cfg.CurveWindow, width))
}

func (m *Model) applySessions() {
	m.sessions.SetRows(nil)
	m.sessions.SetColumns([]table.Column{
		{Title: "Ended", Width: 16},
		{Title: "Status", Width: 9},
		{Title: "Trials", Width: 6},
		{Title: "Accuracy", Width: 9},
		{Title: "Fluency", Width: 8},
		{Title: "Completeness", Width: 12},
		{Title: "Pronunciation", Width: 13},
	})
	rows := make([]table.Row, 0, len(m.history.Sessions))
	// Newest first.
	for i := len(m.history.Sessions) - 1; i >= 0; i-- {
		s := m.history.Sessions[i]
		row := table.Row{s.EndedAt.Local().Format("2006-01-02 15:04"), s.Status, strconv.Itoa(s.Trials)}
		row = append(row, report.ScoreCells(model.Scores{
			Accuracy:      s.Accuracy,
			Fluency:       s.Fluency,
			Completeness:  s.Completeness,
			Pronunciation: s.Pronunciation,
		})...)
		rows = append(rows, row)
	}
	m.sessions.SetRows(rows)
	if len(rows) > 0 {
		m.sessions.SetCursor(0)
	}
}

func (m *Model) applyWords() {
	aggs := m.history.WordsWindow
	if m.allWords {
		aggs = m.history.WordsAll
	}
	m.words.SetRows(nil)
	m.words.SetColumns([]table.Column{
		{Title: "Word", Width: 20},
		{Title: "Errors", Width: 6},
		{Title: "Mispronounced", Width: 13},
		{Title: "Omitted", Width: 7},
	})
	byWord := make(map[string]model.WordAggregate, len(aggs))
	for _, agg := range aggs {
		byWord[agg.Word] = agg
	}
	rows := make([]table.Row, 0, len(aggs))
	for _, word := range report.TopProblemWords(aggs, wordLimit) {
		agg := byWord[word]
		rows = append(rows, table.Row{
			agg.Word,
			strconv.Itoa(agg.Total()),
			strconv.Itoa(agg.Mispronounced),
			strconv.Itoa(agg.Omitted),
		})
	}
	m.words.SetRows(rows)
	if len(rows) > 0 {
		m.words.SetCursor(0)
	}
}

// selectedSession maps the table cursor back to the oldest-first session list.
func (m *Model) selectedSession() (model.SessionAggregate, bool) {
	n := len(m.history.Sessions)
	cursor := m.sessions.Cursor()
	if cursor < 0 || cursor >= n {
		return model.SessionAggregate{}, false
	}
	return m.history.Sessions[n-1-cursor], true
}

func (m *Model) openDetail() {
	s, ok := m.selectedSession()
	if !ok {
		return
	}
	trials, err := m.store.ListTrials(context.Background(), s.SessionID)
	if err != nil {
		m.errMsg = err.Error()
		return
	}
	var buf bytes.Buffer
	title := fmt.Sprintf("Session %s (%s, %s)\n\n", s.EndedAt.Local().Format("2006-01-02 15:04"), s.Status, s.UUID)
	buf.WriteString(title)
	if err := report.RenderResults(&buf, trials); err != nil {
		m.errMsg = err.Error()
		return
	}
	m.detail.SetContent(strings.TrimRight(buf.String(), "\n"))
	m.detail.GotoTop()
	m.detailMode = true
}

func (m *Model) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "enter", "backspace":
		m.detailMode = false
		return m, nil
	case "q":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.detail, cmd = m.detail.Update(msg)
	return m, cmd
}

func (m *Model) renderTabs() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		if i == m.activeTab {
			parts = append(parts, activeNavStyle.Render(tab))
		} else {
			parts = append(parts, inactiveNavStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) renderHeader() string {
	return m.renderTabs() + "\n" + m.renderFilterSummary()
}

func (m *Model) renderFilterSummary() string {
	lang := m.cfg.Lang
	if lang == "" {
		lang = "any"
	}
	since := "any"
	if m.cfg.Since != nil {
		since = m.cfg.Since.Format("2006-01-02")
	}
	last := "all"
	if m.cfg.Last > 0 {
		last = strconv.Itoa(m.cfg.Last)
	}
	summary := fmt.Sprintf("Settings: lang=%s  since=%s  last=%s  window=%d", lang, since, last, m.cfg.CurveWindow)
	return headerStyle.Render(truncateLine(summary, m.width))
}

func (m *Model) renderHelp() string {
	switch {
	case m.filterMode:
		return "tab/shift+tab: next field  enter: apply  esc: cancel"
	case m.detailMode:
		return "Scroll: up/down/pgup/pgdn  Back: esc  Quit: q"
	case m.activeTab == tabSessions:
		return "Nav: left/right  Select: up/down  Details: enter  Window: -/=  Settings: /  Quit: q"
	case m.activeTab == tabWords:
		scope := "all"
		if m.allWords {
			scope = "window"
		}
		return fmt.Sprintf("Nav: left/right  Scroll: up/down  Show %s: w  Window: -/=  Settings: /  Quit: q", scope)
	default:
		return "Nav: left/right  Scroll: up/down/pgup/pgdn  Window: -/=  Settings: /  Quit: q"
	}
}

func (m *Model) renderFooter() string {
	help := headerStyle.Render(m.renderHelp())
	if !m.filterMode && m.errMsg != "" {
		return help + "\n" + errorStyle.Render(m.errMsg)
	}
	return help
}

func (m *Model) renderBody() string {
	if m.filterMode {
		lines := []string{"Settings (enter to apply, esc to cancel)"}
		for _, input := range m.filterInputs {
			lines = append(lines, input.View())
		}
		if m.filterError != "" {
			lines = append(lines, errorStyle.Render(m.filterError))
		}
		return strings.Join(lines, "\n")
	}
	if m.detailMode {
		return m.detail.View()
	}
	switch m.activeTab {
	case tabSessions:
		if len(m.history.Sessions) == 0 {
			return "No sessions found."
		}
		return tableMutedStyle.Render(m.sessions.View())
	case tabWords:
		title := "Problem words in the last window"
		if m.allWords {
			title = "Problem words across all sessions"
		}
		if len(m.words.Rows()) == 0 {
			return headerStyle.Render(title) + "\nNo word errors recorded."
		}
		return headerStyle.Render(title) + "\n" + tableMutedStyle.Render(m.words.View())
	default:
		return m.overview.View()
	}
}

func renderOverview(sessions []model.SessionAggregate, window, width int) string {
	if len(sessions) == 0 {
		return "No sessions found."
	}
	cards := renderSummaryCards(sessions, width)
	var buf bytes.Buffer
	if err := report.RenderCurves(&buf, sessions, window, width, plotHeight, true); err != nil {
		return cards + "\n\n" + fmt.Sprintf("Failed to render curves: %v", err)
	}
	return strings.TrimRight(cards+"\n\n"+buf.String(), "\n")
}

func renderSummaryCards(sessions []model.SessionAggregate, width int) string {
	var acc, pron, best float64
	completed, trials, scored := 0, 0, 0
	for _, s := range sessions {
		trials += s.Trials
		if s.Status == model.StatusCompleted {
			completed++
		}
		if s.Trials == 0 {
			continue
		}
		scored++
		acc += s.Accuracy
		pron += s.Pronunciation
		best = max(best, s.Pronunciation)
	}
	avg := func(total float64) string {
		if scored == 0 {
			return "-"
		}
		return fmt.Sprintf("%.1f", total/float64(scored))
	}
	cards := []string{
		metricCard("Sessions", fmt.Sprintf("%d (%d completed)", len(sessions), completed)),
		metricCard("Trials", strconv.Itoa(trials)),
		metricCard("Avg Accuracy", avg(acc)),
		metricCard("Avg Pronunciation", avg(pron)),
		metricCard("Best Pronunciation", fmt.Sprintf("%.1f", best)),
	}
	if width < 80 {
		return strings.Join(cards, "\n")
	}
	row1 := lipgloss.JoinHorizontal(lipgloss.Top, cards[0], cards[1])
	row2 := lipgloss.JoinHorizontal(lipgloss.Top, cards[2], cards[3], cards[4])
	return lipgloss.JoinVertical(lipgloss.Left, row1, row2)
}

func metricCard(label, value string) string {
	content := fmt.Sprintf("%s\n%s", cardTitleStyle.Render(label), cardValueStyle.Render(value))
	return cardStyle.Render(content)
}

func (m *Model) startFilter() (tea.Model, tea.Cmd) {
	m.filterMode = true
	m.filterError = ""
	m.setInputsFromConfig()
	return m, m.setFilterIndex(0)
}

func (m *Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filterMode = false
		m.filterError = ""
		return m, nil
	case tea.KeyEnter:
		cfg, err := parseFilter(m.filterInputs)
		if err != nil {
			m.filterError = err.Error()
			return m, nil
		}
		m.cfg = cfg
		m.filterMode = false
		m.filterError = ""
		m.refresh()
		m.updateLayout()
		return m, nil
	case tea.KeyTab:
		return m, m.setFilterIndex(m.filterIndex + 1)
	case tea.KeyShiftTab:
		return m, m.setFilterIndex(m.filterIndex - 1)
	}
	var cmd tea.Cmd
	m.filterInputs[m.filterIndex], cmd = m.filterInputs[m.filterIndex].Update(msg)
	return m, cmd
}

func (m *Model) setFilterIndex(idx int) tea.Cmd {
	count := len(m.filterInputs)
	m.filterIndex = (idx + count) % count
	var cmd tea.Cmd
	for i := range m.filterInputs {
		if i == m.filterIndex {
			cmd = m.filterInputs[i].Focus()
		} else {
			m.filterInputs[i].Blur()
		}
	}
	return cmd
}

func parseFilter(inputs []textinput.Model) (model.HistoryConfig, error) {
	cfg := model.HistoryConfig{Lang: strings.TrimSpace(inputs[0].Value())}

	if sinceInput := strings.TrimSpace(inputs[1].Value()); sinceInput != "" {
		parsed, err := time.ParseInLocation("2006-01-02", sinceInput, time.Local)
		if err != nil {
			return cfg, fmt.Errorf("invalid since date (expected YYYY-MM-DD)")
		}
		cfg.Since = &parsed
	}

	if lastInput := strings.TrimSpace(inputs[2].Value()); lastInput != "" {
		parsed, err := strconv.Atoi(lastInput)
		if err != nil || parsed < 0 {
			return cfg, fmt.Errorf("invalid last value (use 0 or positive integer)")
		}
		cfg.Last = parsed
	}

	cfg.CurveWindow = 1
	if windowInput := strings.TrimSpace(inputs[3].Value()); windowInput != "" {
		parsed, err := strconv.Atoi(windowInput)
		if err != nil || parsed < 1 {
			return cfg, fmt.Errorf("invalid curve window (use integer >= 1)")
		}
		cfg.CurveWindow = parsed
	}
	return cfg, nil
}

func nextCurveWindow(n int) int {
	if n < 5 {
		return 5
	}
	return (n/5 + 1) * 5
}

func prevCurveWindow(n int) int {
	if n <= 5 {
		return 1
	}
	if n%5 == 0 {
		return n - 5
	}
	return (n / 5) * 5
}

func padLine(line string, width int) string {
	lineWidth := lipgloss.Width(line)
	if lineWidth < width {
		return line + strings.Repeat(" ", width-lineWidth)
	}
	return line
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, width int) string {
	if width <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
