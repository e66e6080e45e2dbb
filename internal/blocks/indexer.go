// Package blocks persists heading-delimited document blocks with their tags,
// suggestions, worthiness scores and outgoing references, and answers tag
// and text queries over them.
package blocks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/models"
	"github.com/starford/tessera/internal/parser"
	"github.com/starford/tessera/internal/sqlitedb"
)

// RefTypeWikilink marks references extracted from [[wikilinks]].
const RefTypeWikilink = "wikilink"

// DocumentResolver loads full documents for the paths that matched a query.
type DocumentResolver interface {
	GetDocumentsByPath(ctx context.Context, paths []string) ([]models.Document, error)
}

// Indexer writes and queries the blocks and block_references tables.
type Indexer struct {
	db       sqlitedb.Source
	resolver DocumentResolver
	logger   *slog.Logger
}

// New creates an Indexer. resolver may be nil, in which case results carry
// no document.
func New(db sqlitedb.Source, resolver DocumentResolver, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{db: db, resolver: resolver, logger: logger}
}

const insertBlockSQL = `
	INSERT INTO blocks (document_path, block_id, block_type, heading_level, heading_text, start_line,
		end_line, content, summary, tags, suggested_tags, worthiness_score, reviewed)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertRefSQL = `
	INSERT OR IGNORE INTO block_references (source_path, source_block_id, target_path, target_block_id, ref_type)
	VALUES (?, ?, ?, ?, ?)`

type reviewState struct {
	tags     []string
	reviewed bool
}

// IndexDocument replaces the blocks and references of a document with those
// split from body. Tags accepted during an earlier review survive when the
// block keeps its ID.
func (ix *Indexer) IndexDocument(ctx context.Context, path, body string, docTags []string) (int, error) {
	db, err := sqlitedb.Conn(ctx, ix.db)
	if err != nil {
		if errors.Is(err, apperr.ErrUnavailable) {
			return 0, nil
		}
		return 0, err
	}
	blocks := parser.SplitBlocks(path, body, docTags)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Storage("begin index", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	prior, err := reviewedBlocks(ctx, tx, path)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM block_references WHERE source_path = ?`, path); err != nil {
		return 0, apperr.Storage("clear references", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE document_path = ?`, path); err != nil {
		return 0, apperr.Storage("clear blocks", err)
	}

	blockStmt, err := tx.PrepareContext(ctx, insertBlockSQL)
	if err != nil {
		return 0, apperr.Storage("prepare block insert", err)
	}
	defer blockStmt.Close()
	refStmt, err := tx.PrepareContext(ctx, insertRefSQL)
	if err != nil {
		return 0, apperr.Storage("prepare reference insert", err)
	}
	defer refStmt.Close()

	for _, b := range blocks {
		if st, ok := prior[b.BlockID]; ok {
			b.Tags = union(b.Tags, st.tags)
			b.SuggestedTags = withoutTags(b.SuggestedTags, b.Tags)
			b.Reviewed = st.reviewed
		}
		tagsJSON, _ := json.Marshal(b.Tags)
		suggJSON, _ := json.Marshal(b.SuggestedTags)
		if _, err := blockStmt.ExecContext(ctx, path, b.BlockID, b.BlockType, b.HeadingLevel, b.HeadingText,
			b.StartLine, b.EndLine, b.Content, b.Summary, string(tagsJSON), string(suggJSON),
			b.WorthinessScore, b.Reviewed); err != nil {
			return 0, apperr.Storage("insert block", err)
		}
		for _, ref := range b.References {
			target, anchor := parser.SplitAnchor(ref)
			if target == "" {
				continue
			}
			if _, err := refStmt.ExecContext(ctx, path, b.BlockID, target, anchor, RefTypeWikilink); err != nil {
				return 0, apperr.Storage("insert reference", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, apperr.Storage("commit index", err)
	}
	ix.logger.Debug("blocks: indexed", slog.String("path", path), slog.Int("blocks", len(blocks)))
	return len(blocks), nil
}

func reviewedBlocks(ctx context.Context, tx *sql.Tx, path string) (map[string]reviewState, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT block_id, tags FROM blocks WHERE document_path = ? AND reviewed = 1`, path)
	if err != nil {
		return nil, apperr.Storage("load reviewed blocks", err)
	}
	defer rows.Close()

	out := make(map[string]reviewState)
	for rows.Next() {
		var id, tagsJSON string
		if err := rows.Scan(&id, &tagsJSON); err != nil {
			return nil, apperr.Storage("scan reviewed block", err)
		}
		var tags []string
		_ = json.Unmarshal([]byte(tagsJSON), &tags)
		out[id] = reviewState{tags: tags, reviewed: true}
	}
	return out, apperr.Storage("load reviewed blocks", rows.Err())
}

const acceptTagSQL = `
	UPDATE blocks SET
		tags = CASE
			WHEN EXISTS (SELECT 1 FROM json_each(blocks.tags) WHERE value = ?1) THEN tags
			ELSE json_insert(tags, '$[#]', ?1)
		END,
		suggested_tags = (
			SELECT json_group_array(json(value)) FROM json_each(blocks.suggested_tags)
			WHERE json_extract(value, '$.tag') <> ?1
		),
		reviewed   = 1,
		updated_at = CURRENT_TIMESTAMP
	WHERE document_path = ?2 AND block_id = ?3`

// AcceptSuggestedTag moves tag into the block's accepted tags, drops it from
// the suggestions and marks the block reviewed.
func (ix *Indexer) AcceptSuggestedTag(ctx context.Context, path, blockID, tag string) error {
	err := validation.Errors{
		"path":     validation.Validate(path, validation.Required),
		"block_id": validation.Validate(blockID, validation.Required),
		"tag":      validation.Validate(tag, validation.Required, validation.Length(1, 100)),
	}.Filter()
	if err != nil {
		return apperr.Invalid(err)
	}
	db, err := sqlitedb.Conn(ctx, ix.db)
	if err != nil {
		return noop(err)
	}
	r, err := db.ExecContext(ctx, acceptTagSQL, tag, path, blockID)
	if err != nil {
		return apperr.Storage("accept tag", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: block %s#%s", apperr.ErrNotFound, path, blockID)
	}
	return nil
}

// UpsertTagSchema creates or updates a tag definition.
func (ix *Indexer) UpsertTagSchema(ctx context.Context, ts models.TagSchema) error {
	if err := validation.Validate(ts.Name, validation.Required, validation.Length(1, 100)); err != nil {
		return apperr.Invalid(fmt.Errorf("name: %w", err))
	}
	db, err := sqlitedb.Conn(ctx, ix.db)
	if err != nil {
		return noop(err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO tag_schemas (name, description, color, parent) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			color       = excluded.color,
			parent      = excluded.parent`,
		ts.Name, ts.Description, ts.Color, ts.Parent)
	return apperr.Storage("upsert tag schema", err)
}

// ListTagSchemas returns every tag definition ordered by name.
func (ix *Indexer) ListTagSchemas(ctx context.Context) ([]models.TagSchema, error) {
	db, err := sqlitedb.Conn(ctx, ix.db)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT name, description, color, parent FROM tag_schemas ORDER BY name`)
	if err != nil {
		return nil, apperr.Storage("list tag schemas", err)
	}
	defer rows.Close()

	var out []models.TagSchema
	for rows.Next() {
		var ts models.TagSchema
		if err := rows.Scan(&ts.Name, &ts.Description, &ts.Color, &ts.Parent); err != nil {
			return nil, apperr.Storage("scan tag schema", err)
		}
		out = append(out, ts)
	}
	return out, apperr.Storage("list tag schemas", rows.Err())
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, t := range list {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func withoutTags(sugg []models.SuggestedTag, accepted []string) []models.SuggestedTag {
	skip := make(map[string]bool, len(accepted))
	for _, t := range accepted {
		skip[t] = true
	}
	out := make([]models.SuggestedTag, 0, len(sugg))
	for _, s := range sugg {
		if !skip[s.Tag] {
			out = append(out, s)
		}
	}
	return out
}

func noop(err error) error {
	if errors.Is(err, apperr.ErrUnavailable) {
		return nil
	}
	return err
}
