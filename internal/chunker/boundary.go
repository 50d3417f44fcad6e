package chunker

import (
	"fmt"
	"strconv"
	"strings"

	"tenantrag/internal/domain"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultLookback     = 200
)

// defaultSeparators are tried in order, most semantic first.
var defaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", " "}

// Boundary splits text into fixed-size overlapping chunks, ending each chunk
// at the most natural separator found in a bounded window before the size limit.
type Boundary struct {
	size       int
	overlap    int
	lookback   int
	separators [][]rune
}

// Option configures a Boundary chunker.
type Option func(*Boundary)

// WithSize sets the target chunk size in characters.
func WithSize(size int) Option { return func(b *Boundary) { b.size = size } }

// WithOverlap sets how many characters consecutive chunks share.
func WithOverlap(overlap int) Option { return func(b *Boundary) { b.overlap = overlap } }

// WithLookback bounds how far back from the size limit a separator is searched.
func WithLookback(lookback int) Option { return func(b *Boundary) { b.lookback = lookback } }

// WithSeparators replaces the separator preference list.
func WithSeparators(separators ...string) Option {
	return func(b *Boundary) { b.separators = toRunes(separators) }
}

func NewBoundary(opts ...Option) (*Boundary, error) {
	b := &Boundary{
		size:       DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		lookback:   DefaultLookback,
		separators: toRunes(defaultSeparators),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrConfiguration, b.size)
	}
	if b.overlap < 0 || b.overlap >= b.size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be in [0, %d)", domain.ErrConfiguration, b.overlap, b.size)
	}
	if b.lookback < 0 {
		b.lookback = 0
	}
	return b, nil
}

// Split returns the chunk texts of text in order.
func (b *Boundary) Split(text string) []string {
	runes := []rune(text)
	n := len(runes)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if n <= b.size {
		return []string{strings.TrimSpace(text)}
	}

	var out []string
	cursor := 0
	for cursor < n {
		end := cursor + b.size
		if end >= n {
			if tail := strings.TrimSpace(string(runes[cursor:])); tail != "" {
				out = append(out, tail)
			}
			break
		}
		brk := b.breakPoint(runes, cursor, end)
		if piece := strings.TrimSpace(string(runes[cursor:brk])); piece != "" {
			out = append(out, piece)
		}
		cursor = max(cursor+1, brk-b.overlap)
	}
	return out
}

// breakPoint finds where the chunk starting at cursor should end. The window
// never reaches back to cursor itself so every chunk is non-empty.
func (b *Boundary) breakPoint(runes []rune, cursor, end int) int {
	start := max(cursor+1, end-b.lookback)
	window := runes[start:end]
	for _, sep := range b.separators {
		if idx := lastIndex(window, sep); idx >= 0 {
			return start + idx + len(sep)
		}
	}
	return end
}

// Chunk splits a document and tags every chunk with the document's tenant.
func (b *Boundary) Chunk(document domain.Document) ([]domain.Chunk, error) {
	return buildChunks(document, b.Split(document.Content))
}

func buildChunks(document domain.Document, pieces []string) ([]domain.Chunk, error) {
	if document.TenantID == "" {
		return nil, domain.ErrMissingTenant
	}
	chunks := make([]domain.Chunk, 0, len(pieces))
	for i, text := range pieces {
		chunks = append(chunks, domain.Chunk{
			ID:         ChunkID(document.ID, i),
			DocumentID: document.ID,
			TenantID:   document.TenantID,
			Source:     document.Name,
			Kind:       document.Kind,
			Text:       text,
			Length:     len([]rune(text)),
			Index:      i,
			Total:      len(pieces),
		})
	}
	return chunks, nil
}

// ChunkID returns the document-scoped sequential id of a chunk.
func ChunkID(documentID string, index int) string {
	return documentID + "_chunk_" + strconv.Itoa(index)
}

func lastIndex(haystack, needle []rune) int {
	for i := len(haystack) - len(needle); i >= 0; i-- {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func toRunes(separators []string) [][]rune {
	out := make([][]rune, 0, len(separators))
	for _, s := range separators {
		if s != "" {
			out = append(out, []rune(s))
		}
	}
	return out
}
