package internal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/kb"
	"github.com/starford/tessera/internal/mcpserver"
)

// withStore runs fn against an initialized knowledge base and closes it.
func withStore(ctx context.Context, opts []Option, fn func(*kb.Store, *slog.Logger) error) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.newLogger()
	store, err := app.openStore(ctx, logger, nil)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store, logger)
}

// RunMCP serves the MCP tools over stdio until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.newLogger()
	store, err := app.openStore(ctx, logger, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	logger.Info("mcp: serving on stdio", slog.String("version", app.version))
	return mcpserver.New(store, app.version).ServeStdio()
}

// RunSync imports the vault into the relational cache.
func RunSync(ctx context.Context, deleteMissing bool, opts ...Option) error {
	return withStore(ctx, opts, func(store *kb.Store, logger *slog.Logger) error {
		if !store.IsVaultReady() {
			return fmt.Errorf("sync: %w", apperr.ErrUnavailable)
		}
		report, err := store.SyncFromVault(ctx, kb.SyncOptions{
			DeleteMissing: deleteMissing,
			Progress: func(p kb.SyncProgress) {
				logger.Debug("sync: progress",
					slog.String("phase", p.Phase),
					slog.Int("done", p.Done),
					slog.Int("total", p.Total))
			},
		})
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		logger.Info("sync: done",
			slog.Int("scanned", report.Scanned),
			slog.Int("imported", report.Imported),
			slog.Int("unchanged", report.Unchanged),
			slog.Int("deleted", report.Deleted),
			slog.Int("failed", report.Failed))
		return nil
	})
}

// RunExport writes every cached document to the vault.
func RunExport(ctx context.Context, overwrite bool, opts ...Option) error {
	return withStore(ctx, opts, func(store *kb.Store, logger *slog.Logger) error {
		report, err := store.ExportToVault(ctx, kb.ExportOptions{Overwrite: overwrite})
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		logger.Info("export: done",
			slog.Int("written", report.Written),
			slog.Int("unchanged", report.Unchanged),
			slog.Int("conflicts", report.Conflicts),
			slog.Int("failed", report.Failed))
		if report.Conflicts > 0 && !overwrite {
			logger.Warn("export: vault files edited externally were kept; rerun with --overwrite to replace them",
				slog.Int("conflicts", report.Conflicts))
		}
		return nil
	})
}

// RunReindex rebuilds the block index for every document.
func RunReindex(ctx context.Context, opts ...Option) error {
	return withStore(ctx, opts, func(store *kb.Store, logger *slog.Logger) error {
		n, err := store.RebuildSearchIndex(ctx, nil)
		if err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
		logger.Info("reindex: done", slog.Int("blocks", n))
		return nil
	})
}
