package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantrag/internal/domain"
)

type fakePort struct {
	results []domain.SearchResult
	err     error
	asked   string
}

func (f *fakePort) Tenant() domain.TenantID { return "7" }

func (f *fakePort) Query(_ context.Context, question string, _ int) ([]domain.SearchResult, error) {
	f.asked = question
	return f.results, f.err
}

func (f *fakePort) Answer(_ context.Context, question string, results []domain.SearchResult) domain.Answer {
	return domain.Answer{Question: question, Text: "twenty days", Confidence: 0.9, Sources: make([]domain.Source, len(results))}
}

func press(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

func typed(t *testing.T, m Model, text string) Model {
	t.Helper()
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return m
}

func TestAskFlow(t *testing.T) {
	port := &fakePort{results: []domain.SearchResult{
		{Chunk: domain.Chunk{ID: "a_chunk_0", Source: "leave.txt", Text: "Leave is twenty days. Ask HR first."}, Distance: 0.1, Metric: domain.MetricCosine},
		{Chunk: domain.Chunk{ID: "b_chunk_0", Source: "pay.txt", Text: "Pay is monthly."}, Distance: 0.5, Metric: domain.MetricCosine},
	}}
	m := New(context.Background(), port, 3, "2 chunks indexed")
	m, _ = press(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	m = typed(t, m, "how much leave")

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.busy)

	m, _ = press(t, m, cmd())
	assert.False(t, m.busy)
	assert.Equal(t, "how much leave", port.asked)
	assert.Equal(t, "twenty days", m.answer.Text)
	assert.Len(t, m.results, 2)
	assert.Contains(t, m.render(), "leave.txt")

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.cursor)
	assert.Contains(t, m.render(), "pay.txt")
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 0, m.cursor)
	assert.Contains(t, m.View(), "tenant_7")
}

func TestAskErrorIsShown(t *testing.T) {
	port := &fakePort{err: errors.New("tenant isolation violated")}
	m := New(context.Background(), port, 3, "")
	m = typed(t, m, "anything")
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	m, _ = press(t, m, cmd())
	assert.Contains(t, m.status, "tenant isolation violated")
	assert.Empty(t, m.results)
}

func TestHighlightBestSentence(t *testing.T) {
	text := "The office opens at nine. Leave is twenty days. Parking is free."
	sentences := sentenceRe.FindAllString(text, -1)
	require.Len(t, sentences, 3)
	assert.Equal(t, 1, bestSentence(toTokenSet("how many leave days"), sentences))
	assert.Equal(t, "  ", highlightBestSentence("  ", "leave"))
	assert.Contains(t, highlightBestSentence(text, "parking"), "Parking is free.")
}
