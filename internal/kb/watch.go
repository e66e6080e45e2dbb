package kb

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/vault"
)

// reconcileDelay debounces the full reconciliation that follows renames.
const reconcileDelay = 200 * time.Millisecond

// Watch follows changes under the vault directory root and applies them to
// the relational cache until ctx is cancelled:
//
//   - a created or written document file is imported
//   - a removed document file deletes its row, leaving the vault alone
//   - a rename deletes the old row and schedules a debounced SyncFromVault
//     with DeleteMissing to pick up the new name
//
// Directories created later are watched too, and documents already inside
// them are imported.
func (s *Store) Watch(ctx context.Context, root string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	s.logger.Info("watcher: started", slog.String("root", root))

	var (
		reconcileTimer *time.Timer
		reconcileCh    <-chan time.Time
	)
	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			s.logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if _, err := s.SyncFromVault(ctx, SyncOptions{DeleteMissing: true}); err != nil {
				s.logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if err := addDirsRecursive(w, ev.Name); err != nil {
						s.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", err.Error()))
					}
					s.importDir(ctx, root, ev.Name)
					continue
				}
			}

			rel, ok := vaultRel(root, ev.Name)
			if !ok {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				s.importWatched(ctx, rel)
			case ev.Op&fsnotify.Remove != 0:
				s.removeWatched(ctx, rel)
			case ev.Op&fsnotify.Rename != 0:
				// fsnotify reports the old name only; the new one arrives as a
				// Create if it stays inside a watched directory.
				s.removeWatched(ctx, rel)
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (s *Store) importWatched(ctx context.Context, rel string) {
	changed, err := s.ImportVaultFile(ctx, rel)
	if err != nil {
		s.logger.Warn("watcher: import failed", slog.String("file", rel), slog.String("error", err.Error()))
		return
	}
	if changed {
		s.logger.Debug("watcher: imported", slog.String("file", rel))
	}
}

func (s *Store) removeWatched(ctx context.Context, rel string) {
	path, err := vault.VaultPathToPath(rel)
	if err != nil {
		return
	}
	if err := s.content.RemoveDocumentRow(ctx, path); err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("watcher: delete failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return
	}
	s.logger.Debug("watcher: deleted", slog.String("path", path))
	s.publish(EventDeleted, path)
}

// importDir imports the document files already present in a new directory.
func (s *Store) importDir(ctx context.Context, root, dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, ok := vaultRel(root, p); ok {
			s.importWatched(ctx, rel)
		}
		return nil
	})
}

// vaultRel converts an absolute event path into a slash-separated
// vault-relative document path. Hidden entries and non-document files are
// rejected.
func vaultRel(root, abs string) (string, bool) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") || !vault.IsDocumentFile(rel) {
		return "", false
	}
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}
	return rel, true
}

// addDirsRecursive adds root and all its non-hidden subdirectories to w.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
