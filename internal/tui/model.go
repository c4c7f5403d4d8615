// Package tui is an interactive query console over the ready store.
package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragstore/internal/domain"
)

// QueryTimeout bounds a single query, embedding included.
const QueryTimeout = 30 * time.Second

// Port is the TUI-facing subset of the RAG service.
type Port interface {
	Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
	AssemblePrompt(ctx context.Context, query string, useContext bool) (string, error)
}

type mode uint8

const (
	modeResults mode = iota
	modePrompt
)

type resultsMsg struct {
	query   string
	results []domain.SearchResult
	err     error
}

type promptMsg struct {
	query  string
	prompt string
	err    error
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	service    Port
	k          int
	input      textinput.Model
	viewport   viewport.Model
	results    []domain.SearchResult
	prompt     string
	summary    string
	status     string
	cursor     int
	mode       mode
	useContext bool
	ready      bool
	busy       bool
	lastQuery  string
}

// New creates a new TUI model. summary is shown under the header.
func New(service Port, k int, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type query and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		service:    service,
		k:          k,
		input:      ti,
		viewport:   vp,
		summary:    summary,
		useContext: true,
		status:     "Ready. Enter searches, Tab switches results/prompt, Ctrl+T toggles context.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) runQuery(q string) tea.Cmd {
	svc, k, md, useContext := m.service, m.k, m.mode, m.useContext
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), QueryTimeout)
		defer cancel()
		if md == modePrompt {
			p, err := svc.AssemblePrompt(ctx, q, useContext)
			return promptMsg{query: q, prompt: p, err: err}
		}
		res, err := svc.Search(ctx, q, k)
		return resultsMsg{query: q, results: res, err: err}
	}
}

// Update handles key, window and query-result events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+summary, status, spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderContent())
		return m, nil
	case resultsMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.results = nil
		} else {
			m.status = fmt.Sprintf("%d results for %q", len(msg.results), msg.query)
			m.results = msg.results
			m.cursor = 0
			m.lastQuery = msg.query
		}
		m.viewport.SetContent(m.renderContent())
		return m, nil
	case promptMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.prompt = ""
		} else {
			m.status = fmt.Sprintf("Prompt for %q (context %s)", msg.query, onOff(m.useContext))
			m.prompt = msg.prompt
			m.lastQuery = msg.query
		}
		m.viewport.SetContent(m.renderContent())
		m.viewport.GotoTop()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.busy {
				m.busy = true
				m.status = "Searching..."
				return m, m.runQuery(q)
			}
		case "tab":
			if m.mode == modeResults {
				m.mode = modePrompt
			} else {
				m.mode = modeResults
			}
			m.viewport.SetContent(m.renderContent())
			return m, nil
		case "ctrl+t":
			m.useContext = !m.useContext
			m.status = "Context " + onOff(m.useContext)
			return m, nil
		case "down":
			if m.mode == modeResults && len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderContent())
				return m, nil
			}
		case "up":
			if m.mode == modeResults && len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderContent())
				return m, nil
			}
		case "pgdown", "pgup":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the TUI layout and current content.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	title := "ragstore · results"
	if m.mode == modePrompt {
		title = "ragstore · prompt"
	}
	header := lipgloss.NewStyle().Bold(true).Render(title)
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	body := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + body + "\n" + input + "\n" + status
}

func (m Model) renderContent() string {
	if m.mode == modePrompt {
		if m.prompt == "" {
			return "No prompt yet."
		}
		return m.prompt
	}
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Result %d/%d  score=%.3f  source=%s", m.cursor+1, len(m.results), r.Score, r.Passage.Metadata[domain.MetadataSource])
	body := highlightBestSentence(r.Passage.Text, m.lastQuery)
	return title + "\n\n" + body
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence emphasises the sentence sharing the most words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
