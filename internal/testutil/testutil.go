// Package testutil provides shared test helpers for building a knowledge
// base over a temporary vault and database.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/starford/tessera/internal/kb"
	"github.com/starford/tessera/internal/sqlitedb"
	"github.com/starford/tessera/internal/storage"
	"github.com/starford/tessera/internal/vault"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestVault creates a temporary vault directory with a connected mirror.
func TestVault(t *testing.T) (string, *vault.Mirror) {
	t.Helper()
	dir := t.TempDir()
	fsys, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	mirror := vault.New(fsys, Logger())
	if err := mirror.Reconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	return dir, mirror
}

// TestStore creates an initialized kb.Store over a temporary vault and
// SQLite file. Both are removed when the test ends. events may be nil.
func TestStore(t *testing.T, events kb.EventSink) (*kb.Store, string) {
	t.Helper()
	dir, mirror := TestVault(t)
	logger := Logger()
	s := kb.New(kb.Options{
		Provider:   sqlitedb.NewProvider(sqlitedb.Config{Path: filepath.Join(t.TempDir(), "tessera.db")}, logger),
		Vault:      mirror,
		Logger:     logger,
		Dimensions: 3,
		Events:     events,
	})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dir
}
