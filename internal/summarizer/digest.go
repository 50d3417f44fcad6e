// Package summarizer produces short extractive digests of ingested documents.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

const DefaultSentences = 3

var (
	sentenceRe = regexp.MustCompile(`[^.!?\n]+[.!?]?`)
	wordRe     = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)
)

// Digester ranks sentences by the document-wide frequency of their words and
// keeps the best ones in their original order.
type Digester struct {
	sentences int
	stopwords map[string]struct{}
}

func New(sentences int) *Digester {
	if sentences <= 0 {
		sentences = DefaultSentences
	}
	return &Digester{sentences: sentences, stopwords: stopwords()}
}

func (d *Digester) Digest(text string) string {
	var sentences []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); len(d.words(s)) > 0 {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) <= d.sentences {
		return strings.Join(sentences, " ")
	}

	freq := map[string]float64{}
	peak := 0.0
	for _, s := range sentences {
		for _, w := range d.words(s) {
			freq[w]++
			peak = math.Max(peak, freq[w])
		}
	}

	type ranked struct {
		idx   int
		score float64
	}
	scores := make([]ranked, len(sentences))
	for i, s := range sentences {
		words := d.words(s)
		total := 0.0
		for _, w := range words {
			total += freq[w] / peak
		}
		// longer sentences should not win by length alone
		scores[i] = ranked{i, total / math.Sqrt(float64(len(words)))}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	keep := make([]int, d.sentences)
	for i := range keep {
		keep[i] = scores[i].idx
	}
	sort.Ints(keep)
	out := make([]string, len(keep))
	for i, idx := range keep {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " ")
}

func (d *Digester) words(sentence string) []string {
	raw := wordRe.FindAllString(strings.ToLower(sentence), -1)
	out := raw[:0]
	for _, w := range raw {
		if _, stop := d.stopwords[w]; !stop {
			out = append(out, w)
		}
	}
	return out
}

func stopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
