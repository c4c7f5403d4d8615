package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragstore/internal/bootstrap"
	"ragstore/internal/domain"
	"ragstore/internal/embedding/hashing"
	"ragstore/internal/prompt"
	"ragstore/internal/vectorstore"
)

type fakeOpener struct {
	store *vectorstore.Store
	err   error
	calls atomic.Int32
}

func (f *fakeOpener) Open(context.Context) (*bootstrap.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &bootstrap.Result{Store: f.store, State: bootstrap.StateLoaded, Passages: f.store.Len()}, nil
}

type recordingCompleter struct {
	prompt string
	err    error
}

func (r *recordingCompleter) Complete(_ context.Context, p string) (string, error) {
	r.prompt = p
	return "answer", r.err
}

func quiet() *log.Entry {
	l := log.New()
	l.SetLevel(log.PanicLevel)
	return log.NewEntry(l)
}

func newService(t *testing.T, completer domain.Completer) (*RAGServiceImpl, *fakeOpener) {
	t.Helper()
	emb := hashing.New(1024)
	store := vectorstore.New()
	require.NoError(t, store.Add(context.Background(), []domain.Passage{
		{ID: "a", Text: "The incumbent conceded the election on Wednesday.", Metadata: map[string]string{"source": "news.txt"}},
		{ID: "b", Text: "Markets rallied after the announcement.", Metadata: map[string]string{"source": "news.txt"}},
	}, emb))
	opener := &fakeOpener{store: store}
	svc := NewRAGService(opener, emb, Options{
		DefaultK:         1,
		RAGTemplate:      prompt.MustParse("Q={input}\nD={documents}"),
		StuffingTemplate: prompt.MustParse("ctx[{documents}] q[{input}]"),
		Completer:        completer,
	}, quiet())
	return svc, opener
}

func TestService_NotReadyBeforeStart(t *testing.T) {
	svc, _ := newService(t, nil)
	assert.False(t, svc.Ready())

	_, err := svc.Retrieve(context.Background(), "election", 2)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = svc.AssemblePrompt(context.Background(), "election", true)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 0, svc.Passages())
}

func TestService_StartIsIdempotent(t *testing.T) {
	var ready atomic.Int32
	svc, opener := newService(t, nil)
	svc.opts.OnReady = func(*bootstrap.Result) { ready.Add(1) }

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Start(context.Background()))
	assert.True(t, svc.Ready())
	assert.Equal(t, bootstrap.StateLoaded, svc.State())
	assert.Equal(t, 2, svc.Passages())
	assert.Equal(t, int32(1), opener.calls.Load())
	assert.Equal(t, int32(1), ready.Load())
}

func TestService_StartFailure(t *testing.T) {
	svc, opener := newService(t, nil)
	opener.err = &vectorstore.CorruptStoreError{Path: "x", Cause: errors.New("bad")}
	err := svc.Start(context.Background())
	var ce *vectorstore.CorruptStoreError
	assert.ErrorAs(t, err, &ce)
	assert.False(t, svc.Ready())
}

func TestService_Retrieve(t *testing.T) {
	svc, _ := newService(t, nil)
	require.NoError(t, svc.Start(context.Background()))

	ps, err := svc.Retrieve(context.Background(), "who conceded the election", 2)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "a", ps[0].ID)

	none, err := svc.Retrieve(context.Background(), "election", 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.Retrieve(context.Background(), "   ", 2)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestService_AssemblePrompt(t *testing.T) {
	svc, _ := newService(t, nil)
	require.NoError(t, svc.Start(context.Background()))

	with, err := svc.AssemblePrompt(context.Background(), "who conceded the election", true)
	require.NoError(t, err)
	assert.Equal(t, "Q=who conceded the election\nD=The incumbent conceded the election on Wednesday.", with)

	without, err := svc.AssemblePrompt(context.Background(), "who conceded the election", false)
	require.NoError(t, err)
	assert.Equal(t, "Q=who conceded the election\nD=", without)
}

func TestService_Stuff(t *testing.T) {
	svc, _ := newService(t, nil)
	require.NoError(t, svc.Start(context.Background()))

	out, err := svc.Stuff(context.Background(), "markets", false)
	require.NoError(t, err)
	assert.Equal(t, "ctx[] q[markets]", out)

	out, err = svc.Stuff(context.Background(), "markets rallied", true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ctx[Markets rallied"))
}

func TestService_Answer(t *testing.T) {
	rc := &recordingCompleter{}
	svc, _ := newService(t, rc)
	require.NoError(t, svc.Start(context.Background()))

	out, err := svc.Answer(context.Background(), "who conceded the election")
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
	assert.Contains(t, rc.prompt, "D=The incumbent conceded")

	rc.err = errors.New("model overloaded")
	_, err = svc.Answer(context.Background(), "who conceded the election")
	assert.Error(t, err)
}

func TestService_AnswerWithoutCompleter(t *testing.T) {
	svc, _ := newService(t, nil)
	require.NoError(t, svc.Start(context.Background()))
	_, err := svc.Answer(context.Background(), "q")
	assert.ErrorIs(t, err, ErrNoCompleter)
}
