package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/checksum"
	"github.com/starford/tessera/internal/models"
	"github.com/starford/tessera/internal/parser"
)

const (
	ensureCollectionSQL = `
		INSERT INTO collections (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING`

	upsertCollectionSQL = `
		INSERT INTO collections (id, name, description, repo_owner, repo_name, repo_branch, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name        = excluded.name,
			description = excluded.description,
			repo_owner  = excluded.repo_owner,
			repo_name   = excluded.repo_name,
			repo_branch = excluded.repo_branch,
			updated_at  = excluded.updated_at`

	insertSectionSQL = `
		INSERT INTO sections (id, collection_id, path, name, description, sort_order, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`

	insertSubsectionSQL = `
		INSERT INTO subsections (id, section_id, parent_id, path, name, description, depth, sort_order, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, COALESCE((SELECT depth FROM subsections WHERE id = ?), 0) + 1, ?, CURRENT_TIMESTAMP)`

	// Appended to an insert when an existing row must be left alone.
	onPathConflictKeep = `
		ON CONFLICT(path) DO NOTHING`

	onSectionConflictUpdate = `
		ON CONFLICT(path) DO UPDATE SET
			name        = excluded.name,
			description = excluded.description,
			sort_order  = excluded.sort_order,
			updated_at  = excluded.updated_at`

	onSubsectionConflictUpdate = `
		ON CONFLICT(path) DO UPDATE SET
			parent_id   = excluded.parent_id,
			depth       = excluded.depth,
			name        = excluded.name,
			description = excluded.description,
			sort_order  = excluded.sort_order,
			updated_at  = excluded.updated_at`

	upsertDocumentSQL = `
		INSERT INTO documents (id, section_id, subsection_id, path, slug, title, content, content_hash,
			word_count, metadata, difficulty, status, summary, tags, source_sha, source_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET
			section_id    = excluded.section_id,
			subsection_id = excluded.subsection_id,
			slug          = excluded.slug,
			title         = excluded.title,
			content       = excluded.content,
			content_hash  = excluded.content_hash,
			word_count    = excluded.word_count,
			metadata      = excluded.metadata,
			difficulty    = excluded.difficulty,
			status        = excluded.status,
			summary       = excluded.summary,
			tags          = excluded.tags,
			source_sha    = excluded.source_sha,
			source_url    = excluded.source_url,
			updated_at    = excluded.updated_at`

	updateMetadataSQL = `
		UPDATE documents SET
			title        = COALESCE(NULLIF(?, ''), title),
			content      = ?,
			content_hash = ?,
			word_count   = ?,
			metadata     = ?,
			difficulty   = ?,
			status       = ?,
			summary      = ?,
			tags         = ?,
			updated_at   = CURRENT_TIMESTAMP
		WHERE path = ?`

	recountSectionSQL = `
		UPDATE sections SET
			document_count   = (SELECT COUNT(*) FROM documents WHERE section_id = sections.id),
			subsection_count = (SELECT COUNT(*) FROM subsections WHERE section_id = sections.id)
		WHERE id = ?`

	recountSubsectionSQL = `
		UPDATE subsections SET
			document_count = (SELECT COUNT(*) FROM documents WHERE subsection_id = subsections.id)
		WHERE id = ?`
)

// UpsertCollection creates or updates a collection.
func (s *Store) UpsertCollection(ctx context.Context, in CollectionInput) error {
	if err := in.Validate(); err != nil {
		return apperr.Invalid(err)
	}
	db, err := s.conn(ctx)
	if err != nil {
		return noopIfUnavailable(err)
	}
	name := in.Name
	if name == "" {
		name = parser.Humanize(in.ID)
	}
	_, err = db.ExecContext(ctx, upsertCollectionSQL,
		in.ID, name, in.Description, in.RepoOwner, in.RepoName, in.RepoBranch)
	return apperr.Storage("upsert collection", err)
}

// UpsertSection creates or updates a section in the store's collection.
func (s *Store) UpsertSection(ctx context.Context, in SectionInput) error {
	if err := in.Validate(); err != nil {
		return apperr.Invalid(err)
	}
	db, err := s.conn(ctx)
	if err != nil {
		return noopIfUnavailable(err)
	}
	if err := s.ensureCollection(ctx, db); err != nil {
		return err
	}
	name := in.Name
	if name == "" {
		name = parser.Humanize(in.Path)
	}
	_, err = db.ExecContext(ctx, insertSectionSQL+onSectionConflictUpdate,
		SectionID(in.Path), s.collectionID, in.Path, name, in.Description, in.SortOrder)
	return apperr.Storage("upsert section", err)
}

// UpsertSubsection creates or updates a sub-section. Missing ancestors are
// created with default names; depth follows from the parent row.
func (s *Store) UpsertSubsection(ctx context.Context, in SubsectionInput) error {
	if err := in.Validate(); err != nil {
		return apperr.Invalid(err)
	}
	db, err := s.conn(ctx)
	if err != nil {
		return noopIfUnavailable(err)
	}
	segs := strings.Split(in.Path, "/")
	parent := strings.Join(segs[:len(segs)-1], "/")
	if err := s.ensureParents(ctx, db, segs[0], parent); err != nil {
		return err
	}
	name := in.Name
	if name == "" {
		name = parser.Humanize(segs[len(segs)-1])
	}
	parentID := subsectionParentID(segs)
	_, err = db.ExecContext(ctx, insertSubsectionSQL+onSubsectionConflictUpdate,
		SubsectionID(in.Path), SectionID(segs[0]), parentID, in.Path, name, in.Description, parentID, in.SortOrder)
	if err != nil {
		return apperr.Storage("upsert subsection", err)
	}
	_, err = db.ExecContext(ctx, recountSectionSQL, SectionID(segs[0]))
	return apperr.Storage("recount section", err)
}

// subsectionParentID returns the parent sub-section ID for a sub-section
// path, or nil for a root sub-section.
func subsectionParentID(segs []string) any {
	if len(segs) <= 2 {
		return nil
	}
	return SubsectionID(strings.Join(segs[:len(segs)-1], "/"))
}

// EnsureCollection creates the store's collection if it does not exist yet,
// leaving an existing row untouched.
func (s *Store) EnsureCollection(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return noopIfUnavailable(err)
	}
	return s.ensureCollection(ctx, db)
}

func (s *Store) ensureCollection(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, ensureCollectionSQL, s.collectionID, parser.Humanize(s.collectionID))
	return apperr.Storage("ensure collection", err)
}

// ensureParents creates the section and every sub-section on the way to
// subsection, leaving existing rows untouched. subsection may be empty or
// equal to the section slug.
func (s *Store) ensureParents(ctx context.Context, db *sql.DB, section, subsection string) error {
	if err := s.ensureCollection(ctx, db); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, insertSectionSQL+onPathConflictKeep,
		SectionID(section), s.collectionID, section, parser.Humanize(section), "", 0)
	if err != nil {
		return apperr.Storage("ensure section", err)
	}
	segs := strings.Split(subsection, "/")
	for i := 2; i <= len(segs); i++ {
		p := strings.Join(segs[:i], "/")
		parentID := subsectionParentID(segs[:i])
		_, err := db.ExecContext(ctx, insertSubsectionSQL+onPathConflictKeep,
			SubsectionID(p), SectionID(section), parentID, p, parser.Humanize(segs[i-1]), "", parentID, 0)
		if err != nil {
			return apperr.Storage("ensure subsection", err)
		}
	}
	return nil
}

// UpsertDocument writes a document to the vault mirror (when writable and
// the input did not come from the vault) and then to the relational cache. A
// vault file that was edited since the last sync is a conflict unless
// in.Force is set or no relational store is available; on conflict nothing
// is written.
// A failed relational write does not undo a completed vault write.
func (s *Store) UpsertDocument(ctx context.Context, in DocumentInput) (WriteResult, error) {
	if err := in.Validate(); err != nil {
		return WriteResult{Path: in.Path}, apperr.Invalid(err)
	}
	loc := locate(in.Path)
	meta := in.Metadata
	title := resolveTitle(in.Title, meta.Title, in.Content, loc.slug)
	if meta.Title == "" {
		meta.Title = title
	}
	hash := checksum.String(in.Content)
	res := WriteResult{Path: in.Path, ContentHash: hash}

	db, err := s.conn(ctx)
	if err != nil && !errors.Is(err, apperr.ErrUnavailable) {
		return res, err
	}

	var stored string
	if db != nil {
		var found bool
		if stored, found, err = storedHash(ctx, db, in.Path); err != nil {
			return res, err
		}
		res.Created = !found
	}

	// Without a relational row there is no stored hash to compare against;
	// the vault is the only copy and always takes the write.
	force := in.Force || db == nil
	if !in.FromVault && s.vault.Writable() {
		written, err := s.mirror(in.Path, stored, hash, meta, in.Content, force)
		if err != nil {
			res.Conflict = errors.Is(err, apperr.ErrConflict)
			return res, err
		}
		res.VaultWritten = written
	}

	if db == nil {
		return res, nil
	}
	if err := s.ensureParents(ctx, db, loc.section, loc.subsection); err != nil {
		return res, err
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return res, apperr.Invalid(fmt.Errorf("metadata: %w", err))
	}
	_, err = db.ExecContext(ctx, upsertDocumentSQL,
		DocumentID(in.Path), SectionID(loc.section), loc.subsectionID(), in.Path, loc.slug, title,
		in.Content, hash, parser.WordCount(in.Content), string(metaJSON),
		meta.Difficulty, meta.Status, meta.Summary, jsonList(meta.Tags),
		in.SourceSHA, in.SourceURL)
	if err != nil {
		return res, apperr.Storage("upsert document", err)
	}
	if err := s.recount(ctx, db, loc); err != nil {
		return res, err
	}
	if !in.Import {
		s.markPending(ctx)
	}
	return res, nil
}

// UpdateDocumentMetadata replaces a document's metadata and body, keeping its
// identity and source fields.
func (s *Store) UpdateDocumentMetadata(ctx context.Context, path string, meta models.DocumentMetadata, body string) (WriteResult, error) {
	if err := ValidateDocumentPath(path); err != nil {
		return WriteResult{Path: path}, err
	}
	hash := checksum.String(body)
	res := WriteResult{Path: path, ContentHash: hash}

	db, err := s.conn(ctx)
	if err != nil {
		return res, noopIfUnavailable(err)
	}
	stored, found, err := storedHash(ctx, db, path)
	if err != nil {
		return res, err
	}
	if !found {
		return res, fmt.Errorf("%w: document %s", apperr.ErrNotFound, path)
	}

	title := strings.TrimSpace(meta.Title)
	if title == "" {
		title = parser.Title(body)
	}
	if s.vault.Writable() {
		vmeta := meta
		if vmeta.Title == "" {
			vmeta.Title = title
		}
		written, err := s.mirror(path, stored, hash, vmeta, body, false)
		if err != nil {
			res.Conflict = errors.Is(err, apperr.ErrConflict)
			return res, err
		}
		res.VaultWritten = written
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return res, apperr.Invalid(fmt.Errorf("metadata: %w", err))
	}
	_, err = db.ExecContext(ctx, updateMetadataSQL,
		title, body, hash, parser.WordCount(body), string(metaJSON),
		meta.Difficulty, meta.Status, meta.Summary, jsonList(meta.Tags), path)
	if err != nil {
		return res, apperr.Storage("update metadata", err)
	}
	s.markPending(ctx)
	return res, nil
}

// DeleteDocument removes a document from the relational cache (cascading to
// its blocks and embeddings) and from the vault.
func (s *Store) DeleteDocument(ctx context.Context, path string) error {
	if err := ValidateDocumentPath(path); err != nil {
		return err
	}
	if s.vault.Writable() {
		if err := s.vault.DeleteDocument(path); err != nil {
			s.logger.Warn("content: vault delete failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	if err := s.RemoveDocumentRow(ctx, path); err != nil {
		return err
	}
	s.markPending(ctx)
	return nil
}

// RemoveDocumentRow deletes only the relational row, leaving the vault alone.
// Used when the vault file is already gone.
func (s *Store) RemoveDocumentRow(ctx context.Context, path string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return noopIfUnavailable(err)
	}
	r, err := db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path)
	if err != nil {
		return apperr.Storage("delete document", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: document %s", apperr.ErrNotFound, path)
	}
	return s.recount(ctx, db, locate(path))
}

// ClearAllContent deletes every section, sub-section, document, block and
// embedding. Collections and sync status are kept.
func (s *Store) ClearAllContent(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return noopIfUnavailable(err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage("begin clear", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, table := range []string{"block_references", "blocks", "embeddings", "documents", "subsections", "sections"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return apperr.Storage("clear "+table, err)
		}
	}
	return apperr.Storage("commit clear", tx.Commit())
}

// mirror writes the vault copy. It reports a conflict when the vault body
// differs from both the last stored hash and the incoming one. Vault I/O
// failures are logged and degrade to a relational-only write.
func (s *Store) mirror(path, stored, incoming string, meta models.DocumentMetadata, body string, force bool) (bool, error) {
	if !force {
		_, current, err := s.vault.ReadDocument(path)
		switch {
		case err == nil:
			if h := checksum.String(current); h != stored && h != incoming {
				s.logger.Warn("content: vault file changed externally",
					slog.String("path", path),
					slog.String("vault_hash", h),
					slog.String("stored_hash", stored))
				return false, fmt.Errorf("%w: %s was edited in the vault", apperr.ErrConflict, path)
			}
		case errors.Is(err, apperr.ErrNotFound):
		default:
			s.logger.Warn("content: vault read failed, writing relational cache only",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return false, nil
		}
	}
	if err := s.vault.WriteDocument(path, meta, body); err != nil {
		s.logger.Warn("content: vault write failed, writing relational cache only",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return false, nil
	}
	return true, nil
}

func (s *Store) recount(ctx context.Context, db *sql.DB, loc location) error {
	if loc.subsection != "" {
		if _, err := db.ExecContext(ctx, recountSubsectionSQL, SubsectionID(loc.subsection)); err != nil {
			return apperr.Storage("recount subsection", err)
		}
	}
	_, err := db.ExecContext(ctx, recountSectionSQL, SectionID(loc.section))
	return apperr.Storage("recount section", err)
}

func (s *Store) markPending(ctx context.Context) {
	if s.changes == nil {
		return
	}
	if err := s.changes.IncrementPending(ctx, s.collectionID); err != nil {
		s.logger.Warn("content: pending change not recorded", slog.String("error", err.Error()))
	}
}

// storedHash returns the cached content hash of path; found is false when
// there is no row.
func storedHash(ctx context.Context, db *sql.DB, path string) (hash string, found bool, err error) {
	err = db.QueryRowContext(ctx, `SELECT content_hash FROM documents WHERE path = ?`, path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Storage("load content hash", err)
	}
	return hash, true, nil
}

// noopIfUnavailable turns the missing-backend signal into success so writes
// degrade to no-ops in memory-less mode.
func noopIfUnavailable(err error) error {
	if errors.Is(err, apperr.ErrUnavailable) {
		return nil
	}
	return err
}
