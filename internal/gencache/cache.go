// Package gencache stores generated study material (glossaries, flashcards,
// quizzes) keyed by the content hash it was generated from.
package gencache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/sqlitedb"
)

// Kind selects one of the cache tables.
type Kind string

// Cache kinds.
const (
	Glossary  Kind = "glossary"
	Flashcard Kind = "flashcard"
	Quiz      Kind = "quiz"
)

// DefaultTTL applies when Put receives a non-positive ttl.
const DefaultTTL = 7 * 24 * time.Hour

var tables = map[Kind]string{
	Glossary:  "glossary_cache",
	Flashcard: "flashcard_cache",
	Quiz:      "quiz_cache",
}

// Kinds lists every cache kind in a stable order.
func Kinds() []Kind { return []Kind{Glossary, Flashcard, Quiz} }

// Cache reads and writes the generation cache tables.
type Cache struct {
	db     sqlitedb.Source
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Cache.
func New(db sqlitedb.Source, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{db: db, logger: logger, now: time.Now}
}

func table(kind Kind) (string, error) {
	t, ok := tables[kind]
	if !ok {
		return "", apperr.Invalid(fmt.Errorf("unknown cache kind %q", kind))
	}
	return t, nil
}

// Get returns the payload cached for contentHash if it has not expired.
func (c *Cache) Get(ctx context.Context, kind Kind, contentHash string) (string, bool, error) {
	t, err := table(kind)
	if err != nil {
		return "", false, err
	}
	db, err := sqlitedb.Conn(ctx, c.db)
	if err != nil {
		if errors.Is(err, apperr.ErrUnavailable) {
			return "", false, nil
		}
		return "", false, err
	}
	var payload string
	err = db.QueryRowContext(ctx,
		`SELECT payload FROM `+t+` WHERE content_hash = ? AND expires_at > ?`,
		contentHash, sqlitedb.FormatTime(c.now())).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, apperr.Storage("cache get", err)
	}
	return payload, true, nil
}

// Put stores payload for contentHash, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, kind Kind, contentHash, payload string, ttl time.Duration) error {
	t, err := table(kind)
	if err != nil {
		return err
	}
	if contentHash == "" {
		return apperr.Invalid(errors.New("content hash is required"))
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	db, err := sqlitedb.Conn(ctx, c.db)
	if err != nil {
		if errors.Is(err, apperr.ErrUnavailable) {
			return nil
		}
		return err
	}
	now := c.now()
	_, err = db.ExecContext(ctx, `
		INSERT INTO `+t+` (content_hash, payload, created_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			payload    = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		contentHash, payload, sqlitedb.FormatTime(now), sqlitedb.FormatTime(now.Add(ttl)))
	return apperr.Storage("cache put", err)
}

// Purge deletes expired entries from every cache table and returns how many
// rows were removed.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	db, err := sqlitedb.Conn(ctx, c.db)
	if err != nil {
		if errors.Is(err, apperr.ErrUnavailable) {
			return 0, nil
		}
		return 0, err
	}
	now := sqlitedb.FormatTime(c.now())
	var total int64
	for _, kind := range Kinds() {
		r, err := db.ExecContext(ctx, `DELETE FROM `+tables[kind]+` WHERE expires_at <= ?`, now)
		if err != nil {
			return total, apperr.Storage("cache purge", err)
		}
		n, _ := r.RowsAffected()
		total += n
	}
	if total > 0 {
		c.logger.Debug("gencache: purged", slog.Int64("rows", total))
	}
	return total, nil
}
