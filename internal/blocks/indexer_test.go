package blocks

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/content"
	"github.com/starford/tessera/internal/models"
	"github.com/starford/tessera/internal/sqlitedb"
)

const alphaPath = "wiki/guide/alpha"

const alphaBody = `Intro text about sqlite.

## Setup
Install the driver. #setup
See [[wiki/guide/beta#usage]] and [[wiki/guide/beta]].

## Usage
Run queries with sqlite every day. sqlite sqlite.`

type fixture struct {
	ix    *Indexer
	store *content.Store
	db    *sql.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := sqlitedb.NewProvider(sqlitedb.Config{Path: filepath.Join(t.TempDir(), "blocks.db")}, logger)
	t.Cleanup(func() { p.Close() })
	h, err := p.Get(ctx)
	require.NoError(t, err)

	store := content.New(content.Options{DB: p, Logger: logger, CollectionID: "default"})
	return &fixture{ix: New(p, store, logger), store: store, db: h.DB()}
}

func (f *fixture) index(t *testing.T, path, title, body string, tags ...string) int {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.UpsertDocument(ctx, content.DocumentInput{
		Path:     path,
		Title:    title,
		Content:  body,
		Metadata: models.DocumentMetadata{Tags: tags},
	})
	require.NoError(t, err)
	n, err := f.ix.IndexDocument(ctx, path, body, tags)
	require.NoError(t, err)
	return n
}

func TestIndexDocument_ReplacesBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.Equal(t, 3, f.index(t, alphaPath, "Alpha", alphaBody, "sqlite"))

	blocks, err := f.ix.BlocksForDocument(ctx, alphaPath)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, "intro", blocks[0].BlockID)
	assert.Equal(t, "setup", blocks[1].BlockID)
	assert.Equal(t, []string{"setup"}, blocks[1].Tags)
	assert.Equal(t, 3, blocks[1].StartLine)
	assert.Equal(t, 5, blocks[1].EndLine)
	assert.Equal(t, "usage", blocks[2].BlockID)

	require.Equal(t, 1, f.index(t, alphaPath, "Alpha", "Only a paragraph now."))
	blocks, err = f.ix.BlocksForDocument(ctx, alphaPath)
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	links, err := f.ix.Backlinks(ctx, "wiki/guide/beta")
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestBacklinks(t *testing.T) {
	f := newFixture(t)
	f.index(t, alphaPath, "Alpha", alphaBody)

	links, err := f.ix.Backlinks(context.Background(), "wiki/guide/beta")
	require.NoError(t, err)
	require.Len(t, links, 2)
	anchors := []string{links[0].TargetBlockID, links[1].TargetBlockID}
	assert.ElementsMatch(t, []string{"", "usage"}, anchors)
	for _, l := range links {
		assert.Equal(t, alphaPath, l.SourcePath)
		assert.Equal(t, "setup", l.SourceBlockID)
		assert.Equal(t, RefTypeWikilink, l.RefType)
	}
}

func TestSearchByBlockTag_ResolvesDocuments(t *testing.T) {
	f := newFixture(t)
	f.index(t, alphaPath, "Alpha", alphaBody)
	f.index(t, "wiki/guide/gamma", "Gamma", "## Install\nSteps here #Setup")
	f.index(t, "wiki/guide/delta", "Delta", "Nothing tagged.")

	res, err := f.ix.SearchByBlockTag(context.Background(), "#SETUP")
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, alphaPath, res[0].Path)
	assert.Equal(t, "Alpha", res[0].Title)
	require.NotNil(t, res[0].Document)
	assert.Equal(t, alphaPath, res[0].Document.Path)
	assert.Equal(t, "Gamma", res[1].Title)
	require.Len(t, res[1].Blocks, 1)
	assert.Equal(t, "install", res[1].Blocks[0].BlockID)

	none, err := f.ix.SearchByBlockTag(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearchBlocksFullText(t *testing.T) {
	f := newFixture(t)
	f.index(t, alphaPath, "Alpha", alphaBody)

	res, err := f.ix.SearchBlocksFullText(context.Background(), "DRIVER", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Len(t, res[0].Blocks, 1)
	hit := res[0].Blocks[0]
	assert.Equal(t, "setup", hit.BlockID)
	assert.Contains(t, hit.Snippet, "driver")

	res, err = f.ix.SearchBlocksFullText(context.Background(), "sqlite", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Len(t, res[0].Blocks, 1)

	empty, err := f.ix.SearchBlocksFullText(context.Background(), "  ", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTagCountsAndList(t *testing.T) {
	f := newFixture(t)
	f.index(t, alphaPath, "Alpha", alphaBody)
	f.index(t, "wiki/guide/gamma", "Gamma", "## A\n#setup #zeta\n\n## B\n#setup")

	counts, err := f.ix.TagCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []TagCount{{Tag: "setup", Count: 3}, {Tag: "zeta", Count: 1}}, counts)

	tags, err := f.ix.ListTags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"setup", "zeta"}, tags)
}

func TestSuggestionsAndAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.index(t, alphaPath, "Alpha", alphaBody, "sqlite")

	pending, err := f.ix.PendingSuggestions(ctx, 0.9)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Len(t, pending[0].Blocks, 1)
	assert.Equal(t, "usage", pending[0].Blocks[0].BlockID)

	pending, err = f.ix.PendingSuggestions(ctx, 0.5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Len(t, pending[0].Blocks, 2)

	require.NoError(t, f.ix.AcceptSuggestedTag(ctx, alphaPath, "usage", "sqlite"))
	blocks, err := f.ix.BlocksForDocument(ctx, alphaPath)
	require.NoError(t, err)
	usage := blocks[2]
	assert.True(t, usage.Reviewed)
	assert.Equal(t, []string{"sqlite"}, usage.Tags)
	assert.Empty(t, usage.SuggestedTags)

	pending, err = f.ix.PendingSuggestions(ctx, 0.9)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Accepted tags survive a re-index of unchanged block IDs.
	f.index(t, alphaPath, "Alpha", alphaBody, "sqlite")
	blocks, err = f.ix.BlocksForDocument(ctx, alphaPath)
	require.NoError(t, err)
	assert.True(t, blocks[2].Reviewed)
	assert.Equal(t, []string{"sqlite"}, blocks[2].Tags)
	assert.Empty(t, blocks[2].SuggestedTags)

	err = f.ix.AcceptSuggestedTag(ctx, alphaPath, "nope", "sqlite")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	err = f.ix.AcceptSuggestedTag(ctx, alphaPath, "usage", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestWorthyBlocks(t *testing.T) {
	f := newFixture(t)
	f.index(t, alphaPath, "Alpha", alphaBody)

	res, err := f.ix.WorthyBlocks(context.Background(), 0.5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Len(t, res[0].Blocks, 1)
	assert.Equal(t, "setup", res[0].Blocks[0].BlockID)
	assert.GreaterOrEqual(t, res[0].Blocks[0].WorthinessScore, 0.5)

	all, err := f.ix.WorthyBlocks(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Blocks, 3)
}

func TestTagSchemas(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ix.UpsertTagSchema(ctx, models.TagSchema{Name: "setup", Color: "#00f"}))
	require.NoError(t, f.ix.UpsertTagSchema(ctx, models.TagSchema{Name: "db", Description: "Databases"}))
	require.NoError(t, f.ix.UpsertTagSchema(ctx, models.TagSchema{Name: "setup", Color: "#f00", Parent: "db"}))

	schemas, err := f.ix.ListTagSchemas(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.TagSchema{
		{Name: "db", Description: "Databases"},
		{Name: "setup", Color: "#f00", Parent: "db"},
	}, schemas)

	assert.ErrorIs(t, f.ix.UpsertTagSchema(ctx, models.TagSchema{}), apperr.ErrInvalidInput)
}

func TestDocumentDeleteCascadesBlocks(t *testing.T) {
	f := newFixture(t)
	f.index(t, alphaPath, "Alpha", alphaBody)
	require.NoError(t, f.store.DeleteDocument(context.Background(), alphaPath))

	var n int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM blocks`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM block_references`).Scan(&n))
	assert.Zero(t, n)
}

func TestUnavailable(t *testing.T) {
	ix := New(sqlitedb.NewProvider(sqlitedb.Config{}, nil), nil, nil)
	ctx := context.Background()
	n, err := ix.IndexDocument(ctx, alphaPath, alphaBody, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, ix.AcceptSuggestedTag(ctx, alphaPath, "usage", "x"))

	_, err = ix.SearchByBlockTag(ctx, "setup")
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
}
