// Package syncstate records per-collection synchronization markers.
package syncstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/models"
	"github.com/starford/tessera/internal/parser"
	"github.com/starford/tessera/internal/sqlitedb"
)

// Patch is a partial update. Nil fields keep their stored value.
type Patch struct {
	LastFullSync        *time.Time
	LastIncrementalSync *time.Time
	RemoteTreeSHA       *string
	LocalVersion        *int64
	PendingChanges      *int64
}

// Tracker reads and updates sync_status rows.
type Tracker struct {
	db     sqlitedb.Source
	logger *slog.Logger
}

// New creates a Tracker.
func New(db sqlitedb.Source, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{db: db, logger: logger}
}

const (
	ensureCollectionSQL = `INSERT INTO collections (id, name) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`

	// Only supplied fields overwrite; COALESCE keeps the rest.
	updateSQL = `
		INSERT INTO sync_status (collection_id, last_full_sync, last_incremental_sync, remote_tree_sha,
			local_version, pending_changes, updated_at)
		VALUES (?, ?, ?, ?, COALESCE(?, 0), COALESCE(?, 0), CURRENT_TIMESTAMP)
		ON CONFLICT(collection_id) DO UPDATE SET
			last_full_sync        = COALESCE(excluded.last_full_sync, sync_status.last_full_sync),
			last_incremental_sync = COALESCE(excluded.last_incremental_sync, sync_status.last_incremental_sync),
			remote_tree_sha       = COALESCE(excluded.remote_tree_sha, sync_status.remote_tree_sha),
			local_version         = COALESCE(?, sync_status.local_version),
			pending_changes       = COALESCE(?, sync_status.pending_changes),
			updated_at            = excluded.updated_at`

	incrementPendingSQL = `
		INSERT INTO sync_status (collection_id, pending_changes) VALUES (?, 1)
		ON CONFLICT(collection_id) DO UPDATE SET
			pending_changes = sync_status.pending_changes + 1,
			updated_at      = CURRENT_TIMESTAMP`

	bumpVersionSQL = `
		INSERT INTO sync_status (collection_id, local_version) VALUES (?, 1)
		ON CONFLICT(collection_id) DO UPDATE SET
			local_version = sync_status.local_version + 1,
			updated_at    = CURRENT_TIMESTAMP`
)

// Get returns the collection's status. A missing row yields a zero status.
func (t *Tracker) Get(ctx context.Context, collectionID string) (models.SyncStatus, error) {
	st := models.SyncStatus{CollectionID: collectionID}
	db, err := sqlitedb.Conn(ctx, t.db)
	if err != nil {
		return st, err
	}
	var sha sql.NullString
	err = db.QueryRowContext(ctx, `
		SELECT last_full_sync, last_incremental_sync, remote_tree_sha, local_version, pending_changes, updated_at
		FROM sync_status WHERE collection_id = ?`, collectionID).
		Scan(sqlitedb.NullTime{Dst: &st.LastFullSync}, sqlitedb.NullTime{Dst: &st.LastIncrementalSync},
			&sha, &st.LocalVersion, &st.PendingChanges, sqlitedb.NullTime{Dst: &st.UpdatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return models.SyncStatus{CollectionID: collectionID}, apperr.Storage("get sync status", err)
	}
	st.RemoteTreeSHA = sha.String
	return st, nil
}

// Update applies p with a single coalescing upsert.
func (t *Tracker) Update(ctx context.Context, collectionID string, p Patch) error {
	db, err := t.conn(ctx, collectionID)
	if err != nil || db == nil {
		return err
	}
	lv, pc := optInt(p.LocalVersion), optInt(p.PendingChanges)
	_, err = db.ExecContext(ctx, updateSQL,
		collectionID, optTime(p.LastFullSync), optTime(p.LastIncrementalSync), optString(p.RemoteTreeSHA),
		lv, pc, lv, pc)
	if err != nil {
		return apperr.Storage("update sync status", err)
	}
	t.logger.Debug("syncstate: updated", slog.String("collection", collectionID))
	return nil
}

// IncrementPending adds one local change to the collection's counter.
func (t *Tracker) IncrementPending(ctx context.Context, collectionID string) error {
	return t.exec(ctx, collectionID, "increment pending", incrementPendingSQL)
}

// BumpVersion increments the collection's local version.
func (t *Tracker) BumpVersion(ctx context.Context, collectionID string) error {
	return t.exec(ctx, collectionID, "bump version", bumpVersionSQL)
}

func (t *Tracker) exec(ctx context.Context, collectionID, op, query string) error {
	db, err := t.conn(ctx, collectionID)
	if err != nil || db == nil {
		return err
	}
	_, err = db.ExecContext(ctx, query, collectionID)
	return apperr.Storage(op, err)
}

// conn returns nil, nil when running without storage so writes become
// no-ops. The collection row is created on demand for the foreign key.
func (t *Tracker) conn(ctx context.Context, collectionID string) (*sql.DB, error) {
	if collectionID == "" {
		return nil, apperr.Invalid(fmt.Errorf("collection id is required"))
	}
	db, err := sqlitedb.Conn(ctx, t.db)
	if errors.Is(err, apperr.ErrUnavailable) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, ensureCollectionSQL, collectionID, parser.Humanize(collectionID)); err != nil {
		return nil, apperr.Storage("ensure collection", err)
	}
	return db, nil
}

func optTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return sqlitedb.FormatTime(*t)
}

func optString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func optInt(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}
