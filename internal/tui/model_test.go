package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragstore/internal/domain"
)

type fakePort struct {
	err        error
	lastK      int
	useContext bool
}

func (f *fakePort) Search(_ context.Context, q string, k int) ([]domain.SearchResult, error) {
	f.lastK = k
	if f.err != nil {
		return nil, f.err
	}
	return []domain.SearchResult{
		{Passage: domain.Passage{ID: "1", Text: "Intro here. Bitcoin hit a record.", Metadata: map[string]string{"source": "btc.txt"}}, Score: 0.9},
		{Passage: domain.Passage{ID: "2", Text: "Unrelated text.", Metadata: map[string]string{"source": "misc.txt"}}, Score: 0.1},
	}, nil
}

func (f *fakePort) AssemblePrompt(_ context.Context, q string, useContext bool) (string, error) {
	f.useContext = useContext
	return "PROMPT:" + q, f.err
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return next.(Model)
}

func submit(t *testing.T, m Model, q string) Model {
	t.Helper()
	m.input.SetValue(q)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	next, _ = next.(Model).Update(cmd())
	return next.(Model)
}

func TestModel_SearchShowsResults(t *testing.T) {
	port := &fakePort{}
	m := submit(t, sized(t, New(port, 5, "loaded 2 passages")), "bitcoin")

	assert.Equal(t, 5, port.lastK)
	require.Len(t, m.results, 2)
	content := m.renderContent()
	assert.Contains(t, content, "Result 1/2")
	assert.Contains(t, content, "source=btc.txt")
	assert.Contains(t, m.View(), "loaded 2 passages")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Contains(t, m.renderContent(), "Result 2/2")
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Contains(t, next.(Model).renderContent(), "Result 1/2")
}

func TestModel_SearchError(t *testing.T) {
	m := submit(t, sized(t, New(&fakePort{err: errors.New("embedding service down")}, 4, "")), "q")
	assert.True(t, strings.HasPrefix(m.status, "Error: embedding service down"))
	assert.Empty(t, m.results)
}

func TestModel_PromptModeAndContextToggle(t *testing.T) {
	port := &fakePort{}
	m := sized(t, New(port, 4, ""))

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	assert.Contains(t, m.View(), "prompt")
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlT})
	m = next.(Model)
	assert.False(t, m.useContext)

	m = submit(t, m, "who won")
	assert.Equal(t, "PROMPT:who won", m.renderContent())
	assert.False(t, port.useContext)
}

func TestHighlightBestSentence(t *testing.T) {
	out := highlightBestSentence("First part. Second about bitcoin.", "bitcoin price")
	assert.Contains(t, out, "First part.")
	assert.Contains(t, out, "bitcoin")
	assert.Equal(t, "", highlightBestSentence("", "x"))
}
