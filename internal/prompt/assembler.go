package prompt

import (
	"context"
	"strings"

	"ragstore/internal/domain"
	"ragstore/internal/vectorstore"
)

// DocumentSeparator joins retrieved passages in the documents slot.
const DocumentSeparator = "\n"

// Searcher ranks stored passages against a query.
type Searcher interface {
	Search(ctx context.Context, query string, embedder domain.Embedder, k int, opts ...vectorstore.SearchOption) ([]domain.SearchResult, error)
}

// Assembler fills templates with a query and the passages retrieved for it.
type Assembler struct {
	searcher   Searcher
	embedder   domain.Embedder
	searchOpts []vectorstore.SearchOption
}

func NewAssembler(searcher Searcher, embedder domain.Embedder, opts ...vectorstore.SearchOption) *Assembler {
	return &Assembler{searcher: searcher, embedder: embedder, searchOpts: opts}
}

// Assemble retrieves up to k passages for query and renders tmpl with them.
// No results render an empty documents slot; a failed search is an error.
func (a *Assembler) Assemble(ctx context.Context, query string, k int, tmpl *Template) (string, error) {
	docs, err := a.Documents(ctx, query, k)
	if err != nil {
		return "", err
	}
	return tmpl.Render(Slots{Input: query, Documents: docs}), nil
}

// Stuff renders tmpl with retrieved context when useContext is set and with
// an empty documents slot otherwise.
func (a *Assembler) Stuff(ctx context.Context, query string, k int, tmpl *Template, useContext bool) (string, error) {
	if !useContext {
		return tmpl.Render(Slots{Input: query}), nil
	}
	return a.Assemble(ctx, query, k, tmpl)
}

// Documents returns the retrieved passage texts joined in rank order.
func (a *Assembler) Documents(ctx context.Context, query string, k int) (string, error) {
	results, err := a.searcher.Search(ctx, query, a.embedder, k, a.searchOpts...)
	if err != nil {
		return "", err
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Passage.Text
	}
	return strings.Join(texts, DocumentSeparator), nil
}
