// Package answer turns ranked retrieval results into a scored, cited answer.
package answer

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"tenantrag/internal/domain"
)

const (
	NotFoundAnswer = "I couldn't find relevant information in the available documents to answer this question."

	DefaultMaxTokens   = 500
	DefaultTemperature = 0.1

	maxFallbackLines = 5
	maxFallbackRunes = 500
)

const systemInstruction = "You are a helpful assistant that answers questions based only on the provided documents."

const promptTemplate = `Use the following context from the user's documents to answer the question. If the answer is not in the context, say so.

Context:
%s

Question: %s

Answer:`

// Assembler builds answers. Completer may be nil, in which case answers are
// always extracted from the context.
type Assembler struct {
	completer   domain.Completer
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

type Option func(*Assembler)

func WithMaxTokens(n int) Option { return func(a *Assembler) { a.maxTokens = n } }

func WithTemperature(t float64) Option { return func(a *Assembler) { a.temperature = t } }

func WithLogger(l *zap.Logger) Option { return func(a *Assembler) { a.logger = l } }

func New(completer domain.Completer, opts ...Option) *Assembler {
	a := &Assembler{
		completer:   completer,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

// Assemble answers question from results, which must already be ranked.
// Completion failures fall back to extraction and never fail the call.
func (a *Assembler) Assemble(ctx context.Context, question string, results []domain.SearchResult) domain.Answer {
	if len(results) == 0 {
		return domain.Answer{Question: question, Text: NotFoundAnswer, Sources: []domain.Source{}}
	}

	block := FormatContext(results)
	text, generated := a.generate(ctx, question, block)
	if !generated {
		text = Extract(question, block)
	}

	sources := make([]domain.Source, len(results))
	for i, r := range results {
		sources[i] = domain.Source{
			Name:       r.Chunk.Source,
			DocumentID: r.Chunk.DocumentID,
			ChunkID:    r.Chunk.ID,
			Score:      r.Relevance(),
		}
	}
	return domain.Answer{
		Question:   question,
		Text:       text,
		Sources:    sources,
		Confidence: sources[0].Score,
		Generated:  generated,
	}
}

func (a *Assembler) generate(ctx context.Context, question, block string) (string, bool) {
	if a.completer == nil {
		return "", false
	}
	text, err := a.completer.Complete(ctx, domain.CompletionRequest{
		System:      systemInstruction,
		Prompt:      fmt.Sprintf(promptTemplate, block, question),
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	})
	if err != nil {
		a.logger.Warn("completion failed, using extractive answer", zap.String("completer", a.completer.Name()), zap.Error(err))
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		a.logger.Warn("completion returned no text, using extractive answer", zap.String("completer", a.completer.Name()))
		return "", false
	}
	return text, true
}

// FormatContext renders results as labelled blocks in rank order.
func FormatContext(results []domain.SearchResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		source := r.Chunk.Source
		if source == "" {
			source = "Unknown"
		}
		parts[i] = fmt.Sprintf("[Document %d - Source: %s]\n%s\n", i+1, source, r.Chunk.Text)
	}
	return strings.Join(parts, "\n")
}

// Extract picks context lines sharing a word with the question. It returns
// the first five such lines, or the start of the context when none match.
func Extract(question, block string) string {
	words := questionWords(question)
	var matched []string
	for _, line := range strings.Split(block, "\n") {
		lower := strings.ToLower(line)
		for _, w := range words {
			if strings.Contains(lower, w) {
				matched = append(matched, line)
				break
			}
		}
		if len(matched) == maxFallbackLines {
			break
		}
	}
	if len(matched) > 0 {
		return strings.Join(matched, "\n")
	}
	runes := []rune(block)
	if len(runes) > maxFallbackRunes {
		runes = runes[:maxFallbackRunes]
	}
	return string(runes)
}

// questionWords splits question into lowercase letter and digit runs.
func questionWords(question string) []string {
	return strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
