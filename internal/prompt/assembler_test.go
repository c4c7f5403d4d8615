package prompt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragstore/internal/domain"
	"ragstore/internal/embedding/hashing"
	"ragstore/internal/vectorstore"
)

type failingEmbedder struct{}

func (failingEmbedder) Name() string { return "failing" }
func (failingEmbedder) Embed(context.Context, string) (domain.Vector, error) {
	return nil, errors.New("quota exceeded")
}

func filledStore(t *testing.T, emb domain.Embedder) *vectorstore.Store {
	t.Helper()
	s := vectorstore.New()
	require.NoError(t, s.Add(context.Background(), []domain.Passage{
		{ID: "1", Text: "The election was held in November."},
		{ID: "2", Text: "Turnout reached a record high."},
		{ID: "3", Text: "Bitcoin reached an all time high."},
	}, emb))
	return s
}

func TestAssemble_EmptyStoreRendersEmptyDocuments(t *testing.T) {
	emb := hashing.New(16)
	a := NewAssembler(vectorstore.New(), emb)
	tmpl := MustParse("[{input}][{documents}]")

	got, err := a.Assemble(context.Background(), "who won?", 5, tmpl)
	require.NoError(t, err)
	assert.Equal(t, "[who won?][]", got)
}

func TestAssemble_JoinsRankedPassages(t *testing.T) {
	emb := hashing.New(64)
	store := filledStore(t, emb)
	a := NewAssembler(store, emb)

	results, err := store.Search(context.Background(), "election turnout", emb, 2)
	require.NoError(t, err)
	want := results[0].Passage.Text + "\n" + results[1].Passage.Text

	got, err := a.Assemble(context.Background(), "election turnout", 2, MustParse("{documents}"))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAssemble_SearchFailureIsAnError(t *testing.T) {
	store := filledStore(t, hashing.New(8))
	a := NewAssembler(store, failingEmbedder{})
	_, err := a.Assemble(context.Background(), "q", 3, MustParse(DefaultRAG))
	assert.Error(t, err)
}

func TestStuff(t *testing.T) {
	emb := hashing.New(4096)
	a := NewAssembler(filledStore(t, emb), emb)
	tmpl := MustParse("{input}|{documents}")

	without, err := a.Stuff(context.Background(), "bitcoin", 1, tmpl, false)
	require.NoError(t, err)
	assert.Equal(t, "bitcoin|", without)

	with, err := a.Stuff(context.Background(), "bitcoin", 1, tmpl, true)
	require.NoError(t, err)
	assert.Equal(t, "bitcoin|Bitcoin reached an all time high.", with)
}

func TestStuff_WithoutContextSkipsRetrieval(t *testing.T) {
	a := NewAssembler(vectorstore.New(), failingEmbedder{})
	got, err := a.Stuff(context.Background(), "q", 4, MustParse("{input}:{documents}"), false)
	require.NoError(t, err)
	assert.Equal(t, "q:", got)
}
