package embedding

import (
	"context"
	"errors"
	"fmt"

	"tenantrag/internal/domain"
)

// BatchFunc embeds one provider-sized batch of texts.
type BatchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// InBatches splits texts into batches of at most size and embeds them in
// order. A batch that fails or returns the wrong number of vectors fails the
// whole call.
func InBatches(ctx context.Context, texts []string, size int, fn BatchFunc) ([][]float32, error) {
	if size <= 0 {
		size = len(texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+size, len(texts))
		vectors, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embed batch %d-%d: got %d vectors for %d texts", start, end, len(vectors), end-start)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// CheckDimension verifies every vector has the expected length.
func CheckDimension(vectors [][]float32, dimension int) error {
	for i, v := range vectors {
		if len(v) != dimension {
			return fmt.Errorf("%w: vector %d has %d dimensions, expected %d", domain.ErrDimensionMismatch, i, len(v), dimension)
		}
	}
	return nil
}

var errCountMismatch = errors.New("provider returned a different number of vectors than texts")
