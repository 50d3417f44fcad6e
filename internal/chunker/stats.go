package chunker

import "tenantrag/internal/domain"

// Statistics summarizes the chunks produced for one document.
type Statistics struct {
	TotalChunks     int
	TotalCharacters int
	AverageSize     float64
	MinSize         int
	MaxSize         int
}

func Stats(chunks []domain.Chunk) Statistics {
	if len(chunks) == 0 {
		return Statistics{}
	}
	s := Statistics{TotalChunks: len(chunks), MinSize: chunks[0].Length}
	for _, c := range chunks {
		s.TotalCharacters += c.Length
		s.MinSize = min(s.MinSize, c.Length)
		s.MaxSize = max(s.MaxSize, c.Length)
	}
	s.AverageSize = float64(s.TotalCharacters) / float64(len(chunks))
	return s
}
