package chunker

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"tenantrag/internal/domain"
)

// Recursive delegates splitting to langchaingo's recursive character splitter
// while producing the same chunk metadata as Boundary.
type Recursive struct {
	splitter textsplitter.RecursiveCharacter
}

func NewRecursive(size, overlap int) (*Recursive, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: invalid chunk size %d / overlap %d", domain.ErrConfiguration, size, overlap)
	}
	return &Recursive{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(append(append([]string{}, defaultSeparators...), "")),
		),
	}, nil
}

func (r *Recursive) Chunk(document domain.Document) ([]domain.Chunk, error) {
	if strings.TrimSpace(document.Content) == "" {
		return buildChunks(document, nil)
	}
	pieces, err := r.splitter.SplitText(document.Content)
	if err != nil {
		return nil, fmt.Errorf("split document %s: %w", document.ID, err)
	}
	kept := pieces[:0]
	for _, p := range pieces {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return buildChunks(document, kept)
}
