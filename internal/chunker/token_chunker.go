package chunker

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"ragstore/internal/domain"
)

// Default split sizes, in word tokens and characters.
const (
	DefaultChunkSize     = 800
	DefaultMinChunkChars = 350
)

var idNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("ragstore/passage"))

// Options configures a TokenChunker.
type Options struct {
	// ChunkSize is the maximum number of word tokens per passage.
	ChunkSize int
	// MinChunkChars is the minimum passage length before a sentence
	// boundary is considered as a cut point.
	MinChunkChars int
	// MinChunkLengthToEmbed drops passages whose trimmed text is not longer
	// than this many bytes. Zero keeps every non-empty passage.
	MinChunkLengthToEmbed int
}

// TokenChunker splits text into passages of at most ChunkSize words,
// preferring to cut at the last sentence boundary past MinChunkChars.
type TokenChunker struct {
	opts Options
}

type token struct {
	word string
	eol  bool
}

func NewTokenChunker(opts Options) *TokenChunker {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MinChunkChars < 0 {
		opts.MinChunkChars = 0
	}
	if opts.MinChunkLengthToEmbed < 0 {
		opts.MinChunkLengthToEmbed = 0
	}
	return &TokenChunker{opts: opts}
}

// Split is pure: the same text, metadata and options always produce the
// same passages, including their IDs.
func (c *TokenChunker) Split(text string, baseMetadata map[string]string) []domain.Passage {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	source := baseMetadata[domain.MetadataSource]

	var passages []domain.Passage
	start := 0
	for start < len(tokens) {
		end := start + c.opts.ChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		n := end - start
		if end < len(tokens) {
			n = cutPoint(tokens[start:end], c.opts.MinChunkChars)
		}
		chunk := strings.TrimSpace(join(tokens[start : start+n]))
		start += n

		if chunk == "" || len(chunk) <= c.opts.MinChunkLengthToEmbed {
			continue
		}
		passages = append(passages, domain.Passage{
			ID:       passageID(source, len(passages), chunk),
			Text:     chunk,
			Metadata: domain.CloneMetadata(baseMetadata),
		})
	}
	return passages
}

func tokenize(text string) []token {
	var tokens []token
	for _, line := range strings.Split(text, "\n") {
		words := strings.Fields(line)
		for i, w := range words {
			tokens = append(tokens, token{word: w, eol: i == len(words)-1})
		}
	}
	return tokens
}

func join(tokens []token) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 {
			if tokens[i-1].eol {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.word)
	}
	return b.String()
}

// cutPoint returns how many tokens to keep: up to and including the last
// sentence end or line break reached after minChars, or all of them.
func cutPoint(tokens []token, minChars int) int {
	length := 0
	cut := len(tokens)
	found := false
	for i, t := range tokens {
		if i > 0 {
			length++
		}
		length += len(t.word)
		if length < minChars {
			continue
		}
		if t.eol || endsSentence(t.word) {
			cut = i + 1
			found = true
		}
	}
	if !found {
		return len(tokens)
	}
	return cut
}

func endsSentence(word string) bool {
	w := strings.TrimRight(word, `"')]`)
	if w == "" {
		return false
	}
	switch w[len(w)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

func passageID(source string, index int, text string) string {
	name := source + "\x00" + strconv.Itoa(index) + "\x00" + text
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}
