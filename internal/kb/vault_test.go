package kb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/content"
	"github.com/starford/tessera/internal/models"
	"github.com/starford/tessera/internal/vault"
)

func writeVaultDoc(t *testing.T, e *env, path, title, body string) string {
	t.Helper()
	vp, err := vault.PathToVaultPath(path)
	require.NoError(t, err)
	require.NoError(t, e.mem.Write(vp, vault.Encode(models.DocumentMetadata{Title: title}, body)))
	return vp
}

func TestSyncFromVault_ImportsThenSkipsUnchanged(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	writeVaultDoc(t, e, "wiki/alpha", "Alpha", "## Setup\nAlpha body #setup")
	writeVaultDoc(t, e, "wiki/guides/beta", "Beta", "Beta body")

	var phases []string
	report, err := e.store.SyncFromVault(ctx, SyncOptions{Progress: func(p SyncProgress) {
		phases = append(phases, p.Phase)
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Imported)
	assert.Zero(t, report.Failed)
	assert.Contains(t, phases, PhaseScan)
	assert.Contains(t, phases, PhaseImport)

	doc := e.store.GetDocument(ctx, "wiki/guides/beta")
	require.NotNil(t, doc)
	assert.Equal(t, "Beta", doc.Title)
	assert.Equal(t, "Beta body", doc.Content)
	assert.Len(t, e.store.SearchByBlockTag(ctx, "setup"), 1)

	st := e.store.GetSyncStatus(ctx)
	assert.Zero(t, st.PendingChanges)
	assert.NotNil(t, st.LastIncrementalSync)
	firstVersion := st.LocalVersion
	assert.Positive(t, firstVersion)

	report, err = e.store.SyncFromVault(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Zero(t, report.Imported)
	assert.Equal(t, 2, report.Unchanged)
	assert.Greater(t, e.store.GetSyncStatus(ctx).LocalVersion, firstVersion)
	assert.True(t, e.mirror.Writable(), "write-back restored after sync")
}

func TestSyncFromVault_VaultWins(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.store.UpsertDocument(ctx, content.DocumentInput{Path: "wiki/alpha", Content: "cached"})
	require.NoError(t, err)
	writeVaultDoc(t, e, "wiki/alpha", "Alpha", "edited in the vault")

	report, err := e.store.SyncFromVault(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, "edited in the vault", e.store.GetDocument(ctx, "wiki/alpha").Content)
}

func TestSyncFromVault_DeleteMissing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.store.UpsertDocument(ctx, content.DocumentInput{Path: "wiki/keep", Content: "keep"})
	require.NoError(t, err)
	_, err = e.store.UpsertDocument(ctx, content.DocumentInput{Path: "wiki/gone", Content: "gone"})
	require.NoError(t, err)
	vp, err := vault.PathToVaultPath("wiki/gone")
	require.NoError(t, err)
	require.NoError(t, e.mem.Delete(vp))

	report, err := e.store.SyncFromVault(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Zero(t, report.Deleted)
	assert.NotNil(t, e.store.GetDocument(ctx, "wiki/gone"))

	report, err = e.store.SyncFromVault(ctx, SyncOptions{DeleteMissing: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.Nil(t, e.store.GetDocument(ctx, "wiki/gone"))
	assert.NotNil(t, e.store.GetDocument(ctx, "wiki/keep"))
	assert.Contains(t, e.events.list(), "deleted:wiki/gone")
}

func TestSyncFromVault_BadFileIsCounted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.mem.Write("sections/wiki/documents/Not_Valid.md", []byte("x")))
	writeVaultDoc(t, e, "wiki/ok", "OK", "fine")

	report, err := e.store.SyncFromVault(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "Not_Valid.md")
}

func TestSyncFromVault_RestoresWriteBackOnError(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.store.SyncFromVault(ctx, SyncOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, e.mirror.Writable())
}

func TestSyncFromVault_FrontmatterOnlyEdit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	vp, err := vault.PathToVaultPath("wiki/alpha")
	require.NoError(t, err)
	require.NoError(t, e.mem.Write(vp, vault.Encode(
		models.DocumentMetadata{Title: "A", Tags: []string{"old"}}, "same body")))

	report, err := e.store.SyncFromVault(ctx, SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Imported)

	require.NoError(t, e.mem.Write(vp, vault.Encode(
		models.DocumentMetadata{Title: "Renamed", Tags: []string{"new"}}, "same body")))
	report, err = e.store.SyncFromVault(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)

	doc := e.store.GetDocument(ctx, "wiki/alpha")
	require.NotNil(t, doc)
	assert.Equal(t, "Renamed", doc.Title)
	assert.Equal(t, []string{"new"}, doc.Metadata.Tags)

	changed, err := e.store.ImportVaultFile(ctx, vp)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, e.mem.Write(vp, vault.Encode(
		models.DocumentMetadata{Title: "Renamed", Status: "draft", Tags: []string{"new"}}, "same body")))
	changed, err = e.store.ImportVaultFile(ctx, vp)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "draft", e.store.GetDocument(ctx, "wiki/alpha").Metadata.Status)
}

func TestSyncFromVault_UntitledFileStaysUnchanged(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	vp, err := vault.PathToVaultPath("wiki/plain")
	require.NoError(t, err)
	require.NoError(t, e.mem.Write(vp, []byte("# Derived Title\n\nNo frontmatter here.")))

	report, err := e.store.SyncFromVault(ctx, SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Imported)
	assert.Equal(t, "Derived Title", e.store.GetDocument(ctx, "wiki/plain").Title)

	report, err = e.store.SyncFromVault(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Zero(t, report.Imported)
	assert.Equal(t, 1, report.Unchanged)
}

func TestSyncFromVault_LocalWriteDuringSyncSurvives(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	writeVaultDoc(t, e, "wiki/alpha", "Alpha", "from disk")

	var local content.WriteResult
	var localErr error
	wrote := false
	_, err := e.store.SyncFromVault(ctx, SyncOptions{Progress: func(p SyncProgress) {
		if p.Phase != PhaseImport || wrote {
			return
		}
		wrote = true
		local, localErr = e.store.UpsertDocument(ctx, content.DocumentInput{Path: "wiki/new", Content: "written mid-sync"})
	}})
	require.NoError(t, err)
	require.True(t, wrote)
	require.NoError(t, localErr)
	assert.True(t, local.VaultWritten)

	report, err := e.store.SyncFromVault(ctx, SyncOptions{DeleteMissing: true})
	require.NoError(t, err)
	assert.Zero(t, report.Deleted)
	doc := e.store.GetDocument(ctx, "wiki/new")
	require.NotNil(t, doc)
	assert.Equal(t, "written mid-sync", doc.Content)
}

func TestVaultOperations_WithoutVault(t *testing.T) {
	s := New(Options{Logger: quietLogger()})
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	_, err := s.SyncFromVault(ctx, SyncOptions{})
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	_, err = s.ExportToVault(ctx, ExportOptions{})
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	_, err = s.ImportVaultFile(ctx, "sections/wiki/documents/a.md")
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.ErrorIs(t, s.ReconnectVault(ctx), apperr.ErrUnavailable)
}

func TestReconnectVault(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.mem.Revoke()
	e.mem.DenyRequests(true)
	assert.Error(t, e.store.ReconnectVault(ctx))

	e.mem.DenyRequests(false)
	require.NoError(t, e.store.ReconnectVault(ctx))
	assert.True(t, e.store.IsVaultReady())
}

func TestImportVaultFile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	vp := writeVaultDoc(t, e, "wiki/alpha", "Alpha", "first")

	changed, err := e.store.ImportVaultFile(ctx, vp)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = e.store.ImportVaultFile(ctx, vp)
	require.NoError(t, err)
	assert.False(t, changed)

	writeVaultDoc(t, e, "wiki/alpha", "Alpha", "second")
	changed, err = e.store.ImportVaultFile(ctx, vp)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "second", e.store.GetDocument(ctx, "wiki/alpha").Content)

	_, err = e.store.ImportVaultFile(ctx, "notes/loose.md")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Zero(t, e.store.GetSyncStatus(ctx).PendingChanges)
	assert.Equal(t, []string{"created:wiki/alpha", "updated:wiki/alpha"}, e.events.list())
}

func TestExportToVault(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, p := range []string{"wiki/same", "wiki/edited", "wiki/missing"} {
		_, err := e.store.UpsertDocument(ctx, content.DocumentInput{Path: p, Title: "T", Content: "body of " + p})
		require.NoError(t, err)
	}
	writeVaultDoc(t, e, "wiki/edited", "T", "changed outside")
	missing, err := vault.PathToVaultPath("wiki/missing")
	require.NoError(t, err)
	require.NoError(t, e.mem.Delete(missing))

	report, err := e.store.ExportToVault(ctx, ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Written)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 1, report.Conflicts)

	_, body, err := e.mirror.ReadDocument("wiki/edited")
	require.NoError(t, err)
	assert.Equal(t, "changed outside", body)
	_, body, err = e.mirror.ReadDocument("wiki/missing")
	require.NoError(t, err)
	assert.Equal(t, "body of wiki/missing", body)

	report, err = e.store.ExportToVault(ctx, ExportOptions{Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Written)
	assert.Equal(t, 2, report.Unchanged)
	assert.Zero(t, report.Conflicts)

	_, body, err = e.mirror.ReadDocument("wiki/edited")
	require.NoError(t, err)
	assert.Equal(t, "body of wiki/edited", body)
}
