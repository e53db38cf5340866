package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/model"
	"docchat/internal/platform/database"
	"docchat/internal/repository"
)

type serviceFixture struct {
	docsRoot  string
	indexRoot string
	history   *repository.ChatHistoryRepository
	embedder  *bagOfWords
	generator *contextEcho
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	dir := t.TempDir()
	db, err := database.OpenSQLite(context.Background(), filepath.Join(dir, "chat_history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	history := repository.NewChatHistoryRepository(db)
	require.NoError(t, history.InitSchema(context.Background()))

	return &serviceFixture{
		docsRoot:  filepath.Join(dir, "pdfs"),
		indexRoot: filepath.Join(dir, "index"),
		history:   history,
		embedder:  &bagOfWords{},
		generator: &contextEcho{},
	}
}

func (f *serviceFixture) service(t *testing.T, history HistoryStore, cache HistoryCache, publisher BuildPublisher) *SessionService {
	t.Helper()
	if history == nil {
		history = f.history
	}
	svc := NewSessionService(
		NewDocumentLoader(f.docsRoot, plainExtractor{}, 0),
		NewIndexManager(f.indexRoot, DefaultCollection, f.embedder),
		NewQueryEngine(f.embedder, f.generator),
		history,
		cache,
		publisher,
	)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func upload(name, text string) []UploadFile {
	return []UploadFile{{Name: name, Reader: strings.NewReader(text)}}
}

func TestSessionService_UploadAskAndHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service(t, nil, nil, nil)
	sc := NewSessionContext()

	res, err := svc.Upload(ctx, sc, upload("france.txt", "The capital of France is Paris."))
	require.NoError(t, err)
	require.Len(t, res.Saved, 1)
	assert.False(t, res.Queued)
	require.NotNil(t, res.Build)
	assert.Equal(t, 1, res.Build.Total)

	ask, err := svc.Ask(ctx, sc, "  What is the capital of France?  ")
	require.NoError(t, err)
	assert.Contains(t, ask.Answer, "Paris")
	assert.True(t, ask.Recorded)
	assert.Empty(t, ask.Warning)
	require.NotEmpty(t, ask.Sources)
	assert.Equal(t, "The capital of France is Paris.", ask.Sources[0].Chunk.Content)

	messages, err := svc.History(ctx, sc)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, "What is the capital of France?", messages[0].Message)
	assert.Equal(t, model.RoleAssistant, messages[1].Role)
	assert.Equal(t, ask.Answer, messages[1].Message)

	sessions := svc.RecentSessions(ctx, 10, 0)
	require.Len(t, sessions, 1)
	assert.Equal(t, sc.SessionID, sessions[0].SessionID)
	assert.Equal(t, "What is the capital of France?", sessions[0].DisplayTitle())

	// The title stays the first question.
	_, err = svc.Ask(ctx, sc, "Tell me more")
	require.NoError(t, err)
	sessions = svc.RecentSessions(ctx, 10, 0)
	require.Len(t, sessions, 1)
	assert.Equal(t, "What is the capital of France?", sessions[0].DisplayTitle())
	assert.Len(t, svc.GlobalHistory(ctx, 10, 0), 4)
}

func TestSessionService_AskWithoutIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service(t, nil, nil, nil)

	_, err := svc.Ask(ctx, NewSessionContext(), "anything?")
	assert.ErrorIs(t, err, ErrNoIndex)
	assert.Zero(t, f.generator.calls())

	_, err = svc.Ask(ctx, NewSessionContext(), "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Ask(ctx, SessionContext{SessionID: "../x"}, "q")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSessionService_PrepareAfterRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sc := NewSessionContext()

	first := f.service(t, nil, nil, nil)
	_, err := first.Upload(ctx, sc, upload("france.txt", "The capital of France is Paris."))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	calls := f.embedder.calls
	second := f.service(t, nil, nil, nil)
	require.NoError(t, second.Prepare(ctx, sc))
	assert.Equal(t, calls, f.embedder.calls, "an existing index is loaded, not rebuilt")

	ask, err := second.Ask(ctx, sc, "capital of France")
	require.NoError(t, err)
	assert.Contains(t, ask.Answer, "Paris")
}

func TestSessionService_PrepareBuildsFromUploads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sc := NewSessionContext()

	loader := NewDocumentLoader(f.docsRoot, plainExtractor{}, 0)
	_, err := loader.SaveUpload(sc.SessionID, "notes.txt", strings.NewReader("Go was designed at Google."))
	require.NoError(t, err)

	svc := f.service(t, nil, nil, nil)
	require.NoError(t, svc.Prepare(ctx, sc))
	ask, err := svc.Ask(ctx, sc, "Where was Go designed?")
	require.NoError(t, err)
	assert.Contains(t, ask.Answer, "Google")

	assert.ErrorIs(t, svc.Prepare(ctx, NewSessionContext()), ErrNoIndex)
}

func TestSessionService_RecordFailureKeepsAnswer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	failing := &failingHistory{}
	svc := f.service(t, failing, nil, nil)
	sc := NewSessionContext()

	_, err := svc.Upload(ctx, sc, upload("france.txt", "The capital of France is Paris."))
	require.NoError(t, err)

	ask, err := svc.Ask(ctx, sc, "What is the capital of France?")
	require.NoError(t, err)
	assert.Contains(t, ask.Answer, "Paris")
	assert.False(t, ask.Recorded)
	assert.NotEmpty(t, ask.Warning)
	assert.ErrorIs(t, ask.RecordErr, ErrStorage)
	assert.Equal(t, 1, failing.appends, "assistant turn is skipped once the user turn fails")
}

func TestSessionService_QueuedUpload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	publisher := &recordingPublisher{}
	svc := f.service(t, nil, nil, publisher)
	sc := NewSessionContext()

	res, err := svc.Upload(ctx, sc, upload("a.txt", "queued text"))
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Nil(t, res.Build)
	assert.Equal(t, []string{sc.SessionID}, publisher.jobs)

	_, err = svc.Ask(ctx, sc, "queued?")
	assert.ErrorIs(t, err, ErrNoIndex)

	// What the worker does once the job is delivered.
	stats, err := svc.BuildSession(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	_, err = svc.Ask(ctx, sc, "queued?")
	assert.NoError(t, err)
}

func TestSessionService_PublishFailureBuildsInline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service(t, nil, nil, &recordingPublisher{err: errors.New("broker down")})
	sc := NewSessionContext()

	res, err := svc.Upload(ctx, sc, upload("a.txt", "inline text"))
	require.NoError(t, err)
	assert.False(t, res.Queued)
	require.NotNil(t, res.Build)
}

func TestSessionService_UploadFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service(t, nil, nil, nil)
	sc := NewSessionContext()

	_, err := svc.Upload(ctx, sc, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	res, err := svc.Upload(ctx, sc, upload(".hidden", "x"))
	assert.ErrorIs(t, err, ErrInvalidInput)
	require.NotNil(t, res)
	assert.Contains(t, res.Failed, ".hidden")

	_, err = svc.Upload(ctx, sc, upload("blank.txt", "   "))
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestSessionService_HistoryCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cache := newMemoryCache()
	svc := f.service(t, nil, cache, nil)
	sc := NewSessionContext()

	_, err := svc.Upload(ctx, sc, upload("a.txt", "cached text"))
	require.NoError(t, err)
	_, err = svc.Ask(ctx, sc, "first")
	require.NoError(t, err)

	messages, err := svc.History(ctx, sc)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Zero(t, cache.hits)

	messages, err = svc.History(ctx, sc)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
	assert.Equal(t, 1, cache.hits)

	// A new turn invalidates the cached copy.
	_, err = svc.Ask(ctx, sc, "second")
	require.NoError(t, err)
	messages, err = svc.History(ctx, sc)
	require.NoError(t, err)
	assert.Len(t, messages, 4)

	require.NoError(t, svc.DeleteHistory(ctx, sc))
	messages, err = svc.History(ctx, sc)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestSessionService_DeleteKeepsIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service(t, nil, nil, nil)
	a, b := NewSessionContext(), NewSessionContext()

	for _, sc := range []SessionContext{a, b} {
		_, err := svc.Upload(ctx, sc, upload("a.txt", "shared text"))
		require.NoError(t, err)
		_, err = svc.Ask(ctx, sc, "question")
		require.NoError(t, err)
	}

	require.NoError(t, svc.DeleteHistory(ctx, a))
	msgs, err := svc.History(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	msgs, err = svc.History(ctx, b)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	_, err = svc.Ask(ctx, a, "still indexed?")
	assert.NoError(t, err)

	require.NoError(t, svc.DeleteAllHistory(ctx))
	assert.Empty(t, svc.GlobalHistory(ctx, 10, 0))
	assert.Empty(t, svc.RecentSessions(ctx, 10, 0))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo", 10))
	assert.Equal(t, "hé", truncateRunes("héllo", 2))
}

func TestSessionService_FailedRebuildKeepsIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service(t, nil, nil, nil)
	sc := NewSessionContext()

	_, err := svc.Upload(ctx, sc, upload("france.txt", "The capital of France is Paris."))
	require.NoError(t, err)
	before := svc.handles[sc.SessionID]
	require.NotNil(t, before)

	_, err = svc.loader.SaveUpload(sc.SessionID, "notes.txt", strings.NewReader("Go was designed at Google."))
	require.NoError(t, err)
	svc.indexes.embedder = failingEmbedder{err: errors.New("embedding service down")}

	_, err = svc.BuildSession(ctx, sc)
	require.ErrorIs(t, err, ErrIndexBuild)
	assert.Same(t, before, svc.handles[sc.SessionID])

	ask, err := svc.Ask(ctx, sc, "Where was Go designed? What is the capital of France?")
	require.NoError(t, err)
	assert.Contains(t, ask.Answer, "Paris")
	assert.NotContains(t, ask.Answer, "Google")
	count, err := before.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestSessionService_AskRetriesOnReplacedHandle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service(t, nil, nil, nil)
	sc := NewSessionContext()

	_, err := svc.Upload(ctx, sc, upload("france.txt", "The capital of France is Paris."))
	require.NoError(t, err)

	// A rebuild closes the handle an in-flight request already resolved.
	stale := svc.handles[sc.SessionID]
	require.NoError(t, stale.Close())

	ask, err := svc.Ask(ctx, sc, "capital of France")
	require.NoError(t, err)
	assert.Contains(t, ask.Answer, "Paris")
	assert.NotSame(t, stale, svc.handles[sc.SessionID])
}
