// Package prompt renders retrieval-augmented prompts. Templates are plain
// text with exactly two named slots, {input} and {documents}.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrUnknownSlot is returned for a placeholder other than {input} or {documents}.
	ErrUnknownSlot = errors.New("unknown template slot")
	// ErrMalformedTemplate is returned for unbalanced braces.
	ErrMalformedTemplate = errors.New("malformed template")
)

// Slots is the complete set of values a template can reference.
type Slots struct {
	Input     string
	Documents string
}

type slot uint8

const (
	slotNone slot = iota
	slotInput
	slotDocuments
)

var slotNames = map[string]slot{
	"input":     slotInput,
	"documents": slotDocuments,
}

type segment struct {
	literal string
	slot    slot
}

// Template is a parsed prompt template. It is immutable and safe for
// concurrent use.
type Template struct {
	source   string
	segments []segment
}

// DefaultRAG answers a question from retrieved passages.
const DefaultRAG = `You are a helpful assistant, conversing with a user about the subjects contained in a set of documents.
Use the information from the DOCUMENTS section to provide accurate answers. If unsure or if the answer
isn't found in the DOCUMENTS section, simply state that you don't know the answer.

QUESTION:
{input}

DOCUMENTS:
{documents}
`

// DefaultStuffing places optional context ahead of the question.
const DefaultStuffing = `Use the following pieces of context to answer the question at the end. If you don't know the answer just say "I'm sorry but I don't know the answer to that".

{documents}

Question: {input}
`

// Parse compiles text. "{{" and "}}" produce literal braces.
func Parse(text string) (*Template, error) {
	t := &Template{source: text}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{literal: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case '{':
			if i+1 < len(text) && text[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed '{' at offset %d", ErrMalformedTemplate, i)
			}
			name := strings.TrimSpace(text[i+1 : i+1+end])
			s, ok := slotNames[name]
			if !ok {
				return nil, fmt.Errorf("%w: {%s}", ErrUnknownSlot, name)
			}
			flush()
			t.segments = append(t.segments, segment{slot: s})
			i += end + 1
		case '}':
			if i+1 < len(text) && text[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("%w: unmatched '}' at offset %d", ErrMalformedTemplate, i)
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

// MustParse is like Parse but panics on error. Intended for built-in templates.
func MustParse(text string) *Template {
	t, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseFile reads and parses a template file.
func ParseFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}
	t, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	return t, nil
}

// Render substitutes slot values in a single pass. Values are inserted
// verbatim, so braces inside them are never interpreted.
func (t *Template) Render(s Slots) string {
	var b strings.Builder
	for _, seg := range t.segments {
		switch seg.slot {
		case slotInput:
			b.WriteString(s.Input)
		case slotDocuments:
			b.WriteString(s.Documents)
		default:
			b.WriteString(seg.literal)
		}
	}
	return b.String()
}

// String returns the template source.
func (t *Template) String() string { return t.source }
