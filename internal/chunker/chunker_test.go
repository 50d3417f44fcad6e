package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantrag/internal/domain"
)

func gemText() string {
	return strings.Repeat("ruby ", 167) + strings.Repeat("jade ", 167) + strings.Repeat("opal ", 166)
}

func TestBoundaryScenario(t *testing.T) {
	b, err := NewBoundary(WithSize(1000), WithOverlap(200))
	require.NoError(t, err)

	doc := domain.Document{ID: "doc1", TenantID: "1", Name: "gems.txt", Content: Clean(gemText())}
	chunks, err := b.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, 3, c.Total)
		assert.Equal(t, domain.TenantID("1"), c.TenantID)
		assert.Equal(t, "doc1_chunk_"+string(rune('0'+i)), c.ID)
		assert.Equal(t, "gems.txt", c.Source)
	}
	assert.NotContains(t, chunks[0].Text, "opal")
	assert.True(t, strings.HasPrefix(chunks[2].Text, "jade"))
	assert.True(t, strings.HasSuffix(chunks[2].Text, "opal"))
}

func TestBoundaryEdgeCases(t *testing.T) {
	b, err := NewBoundary()
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, b.Split(""))
		assert.Empty(t, b.Split(" \n\t "))
	})

	t.Run("short text is one chunk", func(t *testing.T) {
		assert.Equal(t, []string{"hello world"}, b.Split("  hello world "))
	})

	t.Run("no separators falls back to hard cut", func(t *testing.T) {
		small, err := NewBoundary(WithSize(100), WithOverlap(10))
		require.NoError(t, err)
		pieces := small.Split(strings.Repeat("x", 250))
		require.NotEmpty(t, pieces)
		assert.Len(t, []rune(pieces[0]), 100)
	})

	t.Run("prefers paragraph break", func(t *testing.T) {
		small, err := NewBoundary(WithSize(60), WithOverlap(0))
		require.NoError(t, err)
		text := strings.Repeat("a", 30) + ". " + strings.Repeat("b", 10) + "\n\n" + strings.Repeat("c", 40)
		pieces := small.Split(text)
		require.Len(t, pieces, 2)
		assert.True(t, strings.HasSuffix(pieces[0], "bbbb"))
		assert.Equal(t, strings.Repeat("c", 40), pieces[1])
	})

	t.Run("multibyte text", func(t *testing.T) {
		small, err := NewBoundary(WithSize(10), WithOverlap(2))
		require.NoError(t, err)
		for _, p := range small.Split(strings.Repeat("żółć ", 20)) {
			assert.LessOrEqual(t, len([]rune(p)), 10)
		}
	})

	t.Run("missing tenant", func(t *testing.T) {
		_, err := b.Chunk(domain.Document{ID: "d", Content: "text"})
		require.ErrorIs(t, err, domain.ErrMissingTenant)
	})
}

func TestBoundaryRejectsOverlapNotSmallerThanSize(t *testing.T) {
	_, err := NewBoundary(WithSize(100), WithOverlap(100))
	require.ErrorIs(t, err, domain.ErrConfiguration)
	_, err = NewBoundary(WithSize(0))
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

// Every character of the cleaned input must appear in some chunk.
func TestBoundaryCoverage(t *testing.T) {
	texts := []string{
		gemText(),
		strings.Repeat("The quick brown fox jumps over the lazy dog. ", 80),
		strings.Repeat("line one\nline two\n\n", 70),
		strings.Repeat("z", 3333),
	}
	b, err := NewBoundary(WithSize(300), WithOverlap(50))
	require.NoError(t, err)

	for _, text := range texts {
		text = Clean(text)
		pieces := b.Split(text)
		require.NotEmpty(t, pieces)

		pos := 0
		for _, p := range pieces {
			lo := max(0, pos-50)
			idx := strings.Index(text[lo:], p)
			require.GreaterOrEqual(t, idx, 0)
			start := lo + idx
			if start > pos {
				assert.Empty(t, strings.TrimSpace(text[pos:start]), "gap before chunk")
			}
			pos = max(pos, start+len(p))
		}
		assert.Empty(t, strings.TrimSpace(text[pos:]))
	}
}

func TestClean(t *testing.T) {
	in := "Title\r\n\r\n\r\n\r\nBody \t  text\x00 here\x07.\rNext   line  "
	assert.Equal(t, "Title\n\nBody text here.\nNext line", Clean(in))
	assert.Equal(t, "", Clean("\x01\x02  \n\n"))
}

func TestStats(t *testing.T) {
	chunks := []domain.Chunk{{Length: 10}, {Length: 30}, {Length: 20}}
	s := Stats(chunks)
	assert.Equal(t, 3, s.TotalChunks)
	assert.Equal(t, 60, s.TotalCharacters)
	assert.Equal(t, 20.0, s.AverageSize)
	assert.Equal(t, 10, s.MinSize)
	assert.Equal(t, 30, s.MaxSize)
	assert.Equal(t, Statistics{}, Stats(nil))
}

func TestRecursive(t *testing.T) {
	r, err := NewRecursive(200, 20)
	require.NoError(t, err)
	doc := domain.Document{ID: "d", TenantID: "t1", Name: "n", Content: strings.Repeat("Sentence number one. ", 40)}
	chunks, err := r.Chunk(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, len(chunks), c.Total)
		assert.Equal(t, domain.TenantID("t1"), c.TenantID)
		assert.LessOrEqual(t, c.Length, 200)
	}

	empty, err := r.Chunk(domain.Document{ID: "e", TenantID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = NewRecursive(10, 10)
	require.ErrorIs(t, err, domain.ErrConfiguration)
}
