package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tenantrag/internal/domain"
)

// RAGPort is the TUI-facing subset of a tenant pipeline.
type RAGPort interface {
	Tenant() domain.TenantID
	Query(ctx context.Context, question string, k int) ([]domain.SearchResult, error)
	Answer(ctx context.Context, question string, results []domain.SearchResult) domain.Answer
}

type answeredMsg struct {
	answer  domain.Answer
	results []domain.SearchResult
}

type failedMsg struct{ err error }

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctx      context.Context
	service  RAGPort
	topK     int
	input    textinput.Model
	viewport viewport.Model
	answer   domain.Answer
	results  []domain.SearchResult
	summary  string
	status   string
	cursor   int
	ready    bool
	busy     bool
}

// New creates a chat model for one tenant. summary is shown under the title.
func New(ctx context.Context, service RAGPort, topK int, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:      ctx,
		service:  service,
		topK:     topK,
		input:    ti,
		viewport: vp,
		summary:  summary,
		status:   "Ready. Up/Down cycles sources.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 2 // header + summary
		totalFooterLines := 1 // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.render())
		return m, nil
	case answeredMsg:
		m.busy = false
		m.answer = msg.answer
		m.results = msg.results
		m.cursor = 0
		m.status = fmt.Sprintf("%d sources, confidence %.2f", len(msg.results), msg.answer.Confidence)
		m.viewport.SetContent(m.render())
		return m, nil
	case failedMsg:
		m.busy = false
		m.status = "Error: " + msg.err.Error()
		m.answer = domain.Answer{}
		m.results = nil
		m.viewport.SetContent(m.render())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Searching..."
			m.input.SetValue("")
			return m, m.ask(q)
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.render())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.render())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(question string) tea.Cmd {
	ctx, svc, k := m.ctx, m.service, m.topK
	return func() tea.Msg {
		results, err := svc.Query(ctx, question, k)
		if err != nil {
			return failedMsg{err: err}
		}
		return answeredMsg{answer: svc.Answer(ctx, question, results), results: results}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("tenantrag · " + m.service.Tenant().Namespace())
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) render() string {
	if m.answer.Question == "" {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(answerStyle.Render(m.answer.Text))
	if len(m.results) == 0 {
		return b.String()
	}
	r := m.results[m.cursor]
	fmt.Fprintf(&b, "\n\nSource %d/%d  %s  relevance=%.3f\n\n",
		m.cursor+1, len(m.results), r.Chunk.Source, r.Relevance())
	b.WriteString(highlightBestSentence(r.Chunk.Text, m.answer.Question))
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	answerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence emphasizes the sentence sharing the most words with
// the query.
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
	bestIdx := bestSentence(qTokens, sentences)
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

func bestSentence(qTokens map[string]struct{}, sentences []string) int {
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	return bestIdx
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
