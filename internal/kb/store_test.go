package kb

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/content"
	"github.com/starford/tessera/internal/gencache"
	"github.com/starford/tessera/internal/models"
	"github.com/starford/tessera/internal/sqlitedb"
	"github.com/starford/tessera/internal/storage"
	"github.com/starford/tessera/internal/syncstate"
	"github.com/starford/tessera/internal/vault"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) PublishDocumentEvent(kind, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+path)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type env struct {
	store  *Store
	mem    *storage.Memory
	mirror *vault.Mirror
	events *recorder
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	logger := quietLogger()
	p := sqlitedb.NewProvider(sqlitedb.Config{Path: filepath.Join(t.TempDir(), "kb.db")}, logger)
	mem := storage.NewMemory()
	mirror := vault.New(mem, logger)
	require.NoError(t, mirror.Reconnect(ctx))

	events := &recorder{}
	s := New(Options{Provider: p, Vault: mirror, Logger: logger, Dimensions: 3, Events: events})
	require.NoError(t, s.Initialize(ctx))
	t.Cleanup(func() { s.Close() })
	return &env{store: s, mem: mem, mirror: mirror, events: events}
}

func TestSampleScenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.store.UpsertSection(ctx, content.SectionInput{Path: "wiki"}))
	require.NoError(t, e.store.UpsertSubsection(ctx, content.SubsectionInput{Path: "wiki/getting-started"}))
	_, err := e.store.UpsertDocument(ctx, content.DocumentInput{
		Path:    "wiki/getting-started/welcome",
		Title:   "Welcome",
		Content: "Hello",
	})
	require.NoError(t, err)

	tr := e.store.GetKnowledgeTree(ctx, nil)
	require.Len(t, tr.Sections, 1)
	sec := tr.Sections[0]
	assert.Equal(t, "wiki", sec.Path)
	require.Len(t, sec.Subsections, 1)
	sub := sec.Subsections[0]
	assert.Equal(t, "wiki/getting-started", sub.Path)
	assert.Equal(t, 1, sub.Depth)
	require.Len(t, sub.Documents, 1)
	assert.Equal(t, "Welcome", sub.Documents[0].Title)
	assert.Equal(t, 1, tr.TotalDocuments)

	doc := e.store.GetDocument(ctx, "wiki/getting-started/welcome")
	require.NotNil(t, doc)
	assert.Equal(t, 1, doc.WordCount)
	assert.Equal(t, "Hello", doc.Content)

	assert.Equal(t, []string{"created:wiki/getting-started/welcome"}, e.events.list())
}

func TestInitialize_CreatesCollectionAndSyncRow(t *testing.T) {
	e := newEnv(t)
	st := e.store.GetSyncStatus(context.Background())
	assert.Equal(t, DefaultCollectionID, st.CollectionID)
	assert.NotNil(t, st.UpdatedAt)
	assert.Zero(t, st.PendingChanges)
	assert.True(t, e.store.StoreReady(context.Background()))
}

func TestUpsertDocument_EventsAndBlocks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	in := content.DocumentInput{Path: "wiki/notes", Content: "## Setup\nInstall it. #setup"}

	_, err := e.store.UpsertDocument(ctx, in)
	require.NoError(t, err)
	in.Content = "## Setup\nInstall it again. #setup\n\n## Usage\nSee [[wiki/other]]."
	_, err = e.store.UpsertDocument(ctx, in)
	require.NoError(t, err)

	blocks := e.store.DocumentBlocks(ctx, "wiki/notes")
	require.Len(t, blocks, 2)
	assert.Equal(t, "usage", blocks[1].BlockID)

	links := e.store.Backlinks(ctx, "wiki/other")
	require.Len(t, links, 1)
	assert.Equal(t, "wiki/notes", links[0].SourcePath)

	tagged := e.store.SearchByBlockTag(ctx, "setup")
	require.Len(t, tagged, 1)
	assert.Equal(t, "wiki/notes", tagged[0].Path)
	require.NotNil(t, tagged[0].Document)

	require.NoError(t, e.store.DeleteDocument(ctx, "wiki/notes"))
	assert.ErrorIs(t, e.store.DeleteDocument(ctx, "wiki/notes"), apperr.ErrNotFound)
	assert.Empty(t, e.store.DocumentBlocks(ctx, "wiki/notes"))

	assert.Equal(t, []string{
		"created:wiki/notes",
		"updated:wiki/notes",
		"deleted:wiki/notes",
	}, e.events.list())
	assert.Equal(t, int64(3), e.store.GetSyncStatus(ctx).PendingChanges)
}

func TestReadsDegradeToEmpty(t *testing.T) {
	s := New(Options{Logger: quietLogger()})
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	assert.Nil(t, s.GetDocument(ctx, "wiki/missing"))
	assert.Empty(t, s.GetDocuments(ctx, []string{"wiki/a"}))
	assert.NotNil(t, s.GetDocuments(ctx, []string{"wiki/a"}))
	assert.Empty(t, s.SearchDocuments(ctx, "x", content.SearchOptions{}))
	assert.Empty(t, s.GetKnowledgeTree(ctx, nil).Sections)
	assert.Empty(t, s.SearchBlocksFullText(ctx, "x", 0))
	assert.Empty(t, s.GetAllEmbeddings(ctx))
	assert.Equal(t, DefaultCollectionID, s.GetSyncStatus(ctx).CollectionID)
	assert.False(t, s.IsVaultReady())
	assert.False(t, s.StoreReady(ctx))

	_, err := s.UpsertDocument(ctx, content.DocumentInput{Path: "wiki/a", Content: "x"})
	require.NoError(t, err, "memory-less writes are no-ops")
	_, err = s.UpsertDocument(ctx, content.DocumentInput{Path: "Bad Path", Content: "x"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestGetDocument_MissingIsNil(t *testing.T) {
	e := newEnv(t)
	assert.Nil(t, e.store.GetDocument(context.Background(), "wiki/none"))
}

func TestBulkImportDocuments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	var progress []BulkProgress
	report, err := e.store.BulkImportDocuments(ctx, []content.DocumentInput{
		{Path: "wiki/a", Content: "Alpha body"},
		{Path: "NOT VALID", Content: "x"},
		{Path: "wiki/b/c", Content: "Gamma body"},
	}, func(p BulkProgress) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	require.Len(t, progress, 3)
	assert.Equal(t, BulkProgress{Path: "wiki/b/c", Done: 3, Total: 3}, progress[2])
	assert.Zero(t, e.store.GetSyncStatus(ctx).PendingChanges, "imports are not pending changes")
	assert.Len(t, e.store.GetDocuments(ctx, []string{"wiki/a", "wiki/b/c"}), 2)
}

func TestBulkImportDocuments_Cancelled(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := e.store.BulkImportDocuments(ctx, []content.DocumentInput{{Path: "wiki/a", Content: "x"}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Imported)
}

func TestRebuildSearchIndex(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.store.UpsertDocument(ctx, content.DocumentInput{Path: "wiki/a", Content: "## One\nx\n\n## Two\ny"})
	require.NoError(t, err)
	_, err = e.store.UpsertDocument(ctx, content.DocumentInput{Path: "wiki/b", Content: "Just text"})
	require.NoError(t, err)

	n, err := e.store.RebuildSearchIndex(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestClearAllContent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.store.UpsertDocument(ctx, content.DocumentInput{Path: "wiki/a", Content: "x"})
	require.NoError(t, err)
	require.NoError(t, e.store.ClearAllContent(ctx))
	assert.Empty(t, e.store.GetKnowledgeTree(ctx, nil).Sections)
	assert.Equal(t, DefaultCollectionID, e.store.GetSyncStatus(ctx).CollectionID)
}

func TestEmbeddingsAndSimilarity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, p := range []string{"wiki/a", "wiki/b", "wiki/c"} {
		_, err := e.store.UpsertDocument(ctx, content.DocumentInput{Path: p, Content: p})
		require.NoError(t, err)
	}
	vecs := map[string][]float32{
		"wiki/a": {1, 0, 0},
		"wiki/b": {0.9, 0.1, 0},
		"wiki/c": {0, 0, 1},
	}
	for p, v := range vecs {
		id, err := e.store.StoreEmbedding(ctx, "", content.DocumentID(p), v, models.ChunkDocument)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}
	_, err := e.store.StoreEmbedding(ctx, "", content.DocumentID("wiki/a"), []float32{1}, models.ChunkDocument)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	similar := e.store.SimilarDocuments(ctx, "wiki/a", 1)
	require.Len(t, similar, 1)
	assert.Equal(t, "wiki/b", similar[0].Path)

	all := e.store.SimilarDocuments(ctx, "wiki/a", 0)
	require.Len(t, all, 2)
	assert.Equal(t, "wiki/c", all[1].Path)

	assert.Empty(t, e.store.SimilarDocuments(ctx, "wiki/none", 3))
	require.NoError(t, e.store.ClearEmbeddings(ctx))
	assert.Empty(t, e.store.GetAllEmbeddings(ctx))
}

func TestSyncStatusUpdate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sha := "tree-1"
	require.NoError(t, e.store.UpdateSyncStatus(ctx, syncstate.Patch{RemoteTreeSHA: &sha}))
	assert.Equal(t, "tree-1", e.store.GetSyncStatus(ctx).RemoteTreeSHA)
}

func TestGenerationCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, ok := e.store.CachedGeneration(ctx, gencache.Quiz, "h")
	assert.False(t, ok)
	require.NoError(t, e.store.StoreGeneration(ctx, gencache.Quiz, "h", `{"q":1}`, 0))
	got, ok := e.store.CachedGeneration(ctx, gencache.Quiz, "h")
	assert.True(t, ok)
	assert.Equal(t, `{"q":1}`, got)

	_, ok = e.store.CachedGeneration(ctx, gencache.Kind("nope"), "h")
	assert.False(t, ok)
}

func TestTagSuggestionsFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.store.UpsertDocument(ctx, content.DocumentInput{
		Path:     "wiki/db",
		Content:  "## Queries\nsqlite sqlite sqlite everywhere.",
		Metadata: models.DocumentMetadata{Tags: []string{"sqlite"}},
	})
	require.NoError(t, err)

	pending := e.store.PendingTagSuggestions(ctx, 0)
	require.Len(t, pending, 1)
	require.NoError(t, e.store.AcceptSuggestedTag(ctx, "wiki/db", "queries", "sqlite"))
	assert.Empty(t, e.store.PendingTagSuggestions(ctx, 0))
	assert.Equal(t, []string{"sqlite"}, e.store.ListBlockTags(ctx))

	require.NoError(t, e.store.UpsertTagSchema(ctx, models.TagSchema{Name: "sqlite", Color: "blue"}))
	assert.Len(t, e.store.ListTagSchemas(ctx), 1)
}
