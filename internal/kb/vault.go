package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/checksum"
	"github.com/starford/tessera/internal/content"
	"github.com/starford/tessera/internal/syncstate"
	"github.com/starford/tessera/internal/vault"
)

// Sync phases reported through SyncProgress.
const (
	PhaseScan   = "scan"
	PhaseImport = "import"
	PhaseDelete = "delete"
	PhaseExport = "export"
)

// SyncProgress is reported after each unit of vault work.
type SyncProgress struct {
	Phase string
	Path  string
	Done  int
	Total int
}

// SyncOptions controls SyncFromVault.
type SyncOptions struct {
	Progress func(SyncProgress)
	// DeleteMissing removes documents that have no vault file.
	DeleteMissing bool
}

// SyncReport summarizes SyncFromVault.
type SyncReport struct {
	Scanned   int      `json:"scanned"`
	Imported  int      `json:"imported"`
	Unchanged int      `json:"unchanged"`
	Deleted   int      `json:"deleted"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// ExportOptions controls ExportToVault.
type ExportOptions struct {
	Progress func(SyncProgress)
	// Overwrite replaces vault files that were edited externally.
	Overwrite bool
}

// ExportReport summarizes ExportToVault.
type ExportReport struct {
	Written   int      `json:"written"`
	Unchanged int      `json:"unchanged"`
	Conflicts int      `json:"conflicts"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// IsVaultReady reports whether the vault mirror is connected.
func (s *Store) IsVaultReady() bool { return s.vault.Ready() }

// ReconnectVault re-requests access to the vault directory.
func (s *Store) ReconnectVault(ctx context.Context) error {
	if s.vault == nil {
		return fmt.Errorf("%w: no vault configured", apperr.ErrUnavailable)
	}
	if err := s.vault.Reconnect(ctx); err != nil {
		return err
	}
	s.logger.Info("kb: vault connected")
	return nil
}

// SyncFromVault imports every vault file whose body or frontmatter differs
// from the cache. Imported content is never written back to the file it came
// from, while concurrent local writes keep reaching the vault. The vault wins
// over the cache here: changed files are imported without a conflict check.
func (s *Store) SyncFromVault(ctx context.Context, opts SyncOptions) (SyncReport, error) {
	var report SyncReport
	if !s.vault.Ready() {
		return report, fmt.Errorf("%w: vault not connected", apperr.ErrUnavailable)
	}
	files, err := s.vault.Scan(ctx, func(p vault.ScanProgress) {
		if opts.Progress != nil {
			opts.Progress(SyncProgress{Phase: PhaseScan, Path: p.Dir, Done: p.DirsScanned, Total: p.FilesFound})
		}
	})
	if err != nil {
		return report, err
	}
	report.Scanned = len(files)

	stored, err := s.content.AllFingerprints(ctx)
	if err != nil && !errors.Is(err, apperr.ErrUnavailable) {
		return report, err
	}

	seen := make(map[string]bool, len(files))
	for i, vp := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		path, imported, err := s.importFile(ctx, vp, stored)
		switch {
		case err != nil:
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", vp, err))
			s.logger.Warn("kb: vault import failed", slog.String("file", vp), slog.String("error", err.Error()))
		case imported:
			report.Imported++
		default:
			report.Unchanged++
		}
		if path != "" {
			seen[path] = true
		}
		if opts.Progress != nil {
			opts.Progress(SyncProgress{Phase: PhaseImport, Path: vp, Done: i + 1, Total: len(files)})
		}
	}

	if opts.DeleteMissing {
		var missing []string
		for p := range stored {
			if !seen[p] {
				missing = append(missing, p)
			}
		}
		for i, p := range missing {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if err := s.content.RemoveDocumentRow(ctx, p); err != nil && !errors.Is(err, apperr.ErrNotFound) {
				report.Failed++
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", p, err))
			} else {
				report.Deleted++
				s.publish(EventDeleted, p)
			}
			if opts.Progress != nil {
				opts.Progress(SyncProgress{Phase: PhaseDelete, Path: p, Done: i + 1, Total: len(missing)})
			}
		}
	}

	now := time.Now().UTC()
	if err := s.sync.Update(ctx, s.collectionID, syncstate.Patch{LastIncrementalSync: &now}); err != nil {
		return report, err
	}
	if err := s.sync.BumpVersion(ctx, s.collectionID); err != nil {
		return report, err
	}
	s.logger.Info("kb: vault sync finished",
		slog.Int("scanned", report.Scanned),
		slog.Int("imported", report.Imported),
		slog.Int("deleted", report.Deleted),
		slog.Int("failed", report.Failed))
	return report, nil
}

// ImportVaultFile imports one vault-relative file into the relational cache
// without writing it back. It reports whether the document changed.
func (s *Store) ImportVaultFile(ctx context.Context, vp string) (bool, error) {
	if !s.vault.Ready() {
		return false, fmt.Errorf("%w: vault not connected", apperr.ErrUnavailable)
	}
	path, err := vault.VaultPathToPath(vp)
	if err != nil {
		return false, err
	}
	stored := map[string]string{}
	if fp, found, err := s.content.StoredFingerprint(ctx, path); err == nil && found {
		stored[path] = fp
	}
	_, imported, err := s.importFile(ctx, vp, stored)
	return imported, err
}

// importFile decodes a vault file and upserts it when its body or metadata
// differs from the stored fingerprint. It returns the logical path whenever
// it could be derived.
func (s *Store) importFile(ctx context.Context, vp string, stored map[string]string) (string, bool, error) {
	path, err := vault.VaultPathToPath(vp)
	if err != nil {
		return "", false, err
	}
	data, err := s.vault.ReadRaw(vp)
	if err != nil {
		return path, false, err
	}
	meta, body := vault.Decode(data)
	if fp, ok := stored[path]; ok && fp == content.Fingerprint(path, meta, body) {
		return path, false, nil
	}
	if _, err := s.UpsertDocument(ctx, content.DocumentInput{
		Path:     path,
		Content:  body,
		Metadata:  meta,
		Import:    true,
		FromVault: true,
	}); err != nil {
		return path, false, err
	}
	return path, true, nil
}

// ExportToVault writes every cached document to the vault. An existing vault
// file whose body differs from the cached content counts as a conflict and is
// left alone unless opts.Overwrite is set.
func (s *Store) ExportToVault(ctx context.Context, opts ExportOptions) (ExportReport, error) {
	var report ExportReport
	if !s.vault.Ready() {
		return report, fmt.Errorf("%w: vault not connected", apperr.ErrUnavailable)
	}
	docs, err := s.content.AllDocuments(ctx)
	if err != nil {
		return report, err
	}
	for i, d := range docs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		_, current, err := s.vault.ReadDocument(d.Path)
		switch {
		case err == nil && checksum.String(current) == d.ContentHash:
			report.Unchanged++
		case err == nil && !opts.Overwrite:
			report.Conflicts++
			s.logger.Warn("kb: export skipped externally edited file", slog.String("path", d.Path))
		case err != nil && !errors.Is(err, apperr.ErrNotFound):
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", d.Path, err))
		default:
			meta := d.Metadata
			if meta.Title == "" {
				meta.Title = d.Title
			}
			if err := s.vault.WriteDocument(d.Path, meta, d.Content); err != nil {
				report.Failed++
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", d.Path, err))
			} else {
				report.Written++
			}
		}
		if opts.Progress != nil {
			opts.Progress(SyncProgress{Phase: PhaseExport, Path: d.Path, Done: i + 1, Total: len(docs)})
		}
	}
	s.logger.Info("kb: vault export finished",
		slog.Int("written", report.Written),
		slog.Int("conflicts", report.Conflicts),
		slog.Int("failed", report.Failed))
	return report, nil
}
