// Package summarizer picks the most representative sentences of a passage
// for compact display.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var (
	wordRe     = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)
)

// Frequency ranks sentences by the normalised frequency of their non-stopword
// terms within the text.
type Frequency struct {
	stopwords map[string]struct{}
}

func NewFrequency() *Frequency {
	return &Frequency{stopwords: defaultStopwords()}
}

// Gist returns up to maxSentences sentences of text in their original order.
// Text without sentence punctuation is returned trimmed.
func (f *Frequency) Gist(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 1
	}
	var sentences []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) <= maxSentences {
		return strings.Join(sentences, " ")
	}

	terms := make([][]string, len(sentences))
	freq := map[string]float64{}
	maxF := 0.0
	for i, s := range sentences {
		for _, t := range wordRe.FindAllString(strings.ToLower(s), -1) {
			if _, stop := f.stopwords[t]; stop {
				continue
			}
			terms[i] = append(terms[i], t)
			freq[t]++
			maxF = math.Max(maxF, freq[t])
		}
	}

	scores := make([]float64, len(sentences))
	for i, ts := range terms {
		for _, t := range ts {
			scores[i] += freq[t] / maxF
		}
		if len(ts) > 0 {
			scores[i] /= math.Sqrt(float64(len(ts)))
		}
	}
	order := make([]int, len(sentences))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	selected := order[:maxSentences]
	sort.Ints(selected)
	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " ")
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
