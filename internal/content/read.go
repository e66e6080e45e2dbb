package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/checksum"
	"github.com/starford/tessera/internal/models"
	"github.com/starford/tessera/internal/parser"
	"github.com/starford/tessera/internal/sqlitedb"
)

const documentColumns = `d.id, d.section_id, COALESCE(d.subsection_id, ''), d.path, d.slug, d.title,
	d.content, d.content_hash, d.word_count, d.metadata, d.source_sha, d.source_url,
	d.created_at, d.updated_at`

const snippetRadius = 60

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanDocument(sc scanner) (*models.Document, error) {
	var (
		d        models.Document
		metaJSON string
	)
	err := sc.Scan(&d.ID, &d.SectionID, &d.SubsectionID, &d.Path, &d.Slug, &d.Title,
		&d.Content, &d.ContentHash, &d.WordCount, &metaJSON, &d.SourceSHA, &d.SourceURL,
		sqlitedb.Time{Dst: &d.CreatedAt}, sqlitedb.Time{Dst: &d.UpdatedAt})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metaJSON), &d.Metadata); err != nil {
		s.logger.Warn("content: corrupt document metadata, using defaults",
			slog.String("path", d.Path),
			slog.String("error", err.Error()))
		d.Metadata = models.DocumentMetadata{}
	}
	return &d, nil
}

// GetDocument loads one document. When the vault is connected its file body
// replaces the cached content; metadata always comes from the row. A vault
// read failure falls back to the cache.
func (s *Store) GetDocument(ctx context.Context, path string) (*models.Document, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents d WHERE d.path = ?`, path)
	doc, err := s.scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", apperr.ErrNotFound, path)
	}
	if err != nil {
		return nil, apperr.Storage("get document", err)
	}
	s.overlayVault(doc)
	return doc, nil
}

// GetDocumentsByPath loads the documents that exist among paths, in the
// order given, with the same vault precedence as GetDocument.
func (s *Store) GetDocumentsByPath(ctx context.Context, paths []string) ([]models.Document, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	query := `SELECT ` + documentColumns + ` FROM documents d WHERE d.path IN (` + placeholders(len(paths)) + `)`
	docs, err := s.queryDocuments(ctx, db, query, args...)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]*models.Document, len(docs))
	for i := range docs {
		byPath[docs[i].Path] = &docs[i]
	}
	out := make([]models.Document, 0, len(docs))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		doc, ok := byPath[p]
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		s.overlayVault(doc)
		out = append(out, *doc)
	}
	return out, nil
}

// GetSectionDocuments lists every document in a section, including those in
// its sub-sections, ordered by path. Content is the cached copy.
func (s *Store) GetSectionDocuments(ctx context.Context, slug string) ([]models.Document, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return s.queryDocuments(ctx, db,
		`SELECT `+documentColumns+` FROM documents d WHERE d.section_id = ? ORDER BY d.path`,
		SectionID(slug))
}

// GetSubsectionDocuments lists the documents directly inside a sub-section.
func (s *Store) GetSubsectionDocuments(ctx context.Context, path string) ([]models.Document, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return s.queryDocuments(ctx, db,
		`SELECT `+documentColumns+` FROM documents d WHERE d.subsection_id = ? ORDER BY d.path`,
		SubsectionID(path))
}

// AllDocuments returns every document of the collection with cached content.
func (s *Store) AllDocuments(ctx context.Context) ([]models.Document, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return s.queryDocuments(ctx, db,
		`SELECT `+documentColumns+` FROM documents d
		 JOIN sections s ON s.id = d.section_id
		 WHERE s.collection_id = ? ORDER BY d.path`,
		s.collectionID)
}

func (s *Store) queryDocuments(ctx context.Context, db *sql.DB, query string, args ...any) ([]models.Document, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("query documents", err)
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		doc, err := s.scanDocument(rows)
		if err != nil {
			return nil, apperr.Storage("scan document", err)
		}
		out = append(out, *doc)
	}
	return out, apperr.Storage("query documents", rows.Err())
}

func (s *Store) overlayVault(doc *models.Document) {
	if !s.vault.Ready() {
		return
	}
	_, body, err := s.vault.ReadDocument(doc.Path)
	if err != nil {
		s.logger.Debug("content: vault read failed, serving cached content",
			slog.String("path", doc.Path),
			slog.String("error", err.Error()))
		return
	}
	doc.Content = body
	doc.ContentHash = checksum.String(body)
	doc.WordCount = parser.WordCount(body)
}

// SearchDocuments ranks documents by case-insensitive substring matches:
// 10 for a title hit, 5 for a summary hit and 1 per content occurrence (at
// most 20). Ties are ordered by title. Every tag in opts.Tags must be present.
func (s *Store) SearchDocuments(ctx context.Context, query string, opts SearchOptions) ([]SearchHit, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	stmt := `SELECT d.path, d.title, d.summary, d.content, d.tags
		FROM documents d JOIN sections s ON s.id = d.section_id
		WHERE s.collection_id = ?`
	args := []any{s.collectionID}
	if opts.Section != "" {
		stmt += ` AND s.path = ?`
		args = append(args, opts.Section)
	}
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, apperr.Storage("search documents", err)
	}
	defer rows.Close()

	want := make([]string, 0, len(opts.Tags))
	for _, t := range opts.Tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			want = append(want, t)
		}
	}

	var hits []SearchHit
	for rows.Next() {
		var (
			h        SearchHit
			content  string
			tagsJSON string
		)
		if err := rows.Scan(&h.Path, &h.Title, &h.Summary, &content, &tagsJSON); err != nil {
			return nil, apperr.Storage("scan search row", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &h.Tags); err != nil {
			h.Tags = nil
		}
		if !hasAllTags(h.Tags, want) {
			continue
		}
		if strings.Contains(strings.ToLower(h.Title), q) {
			h.Score += 10
		}
		if strings.Contains(strings.ToLower(h.Summary), q) {
			h.Score += 5
		}
		h.Score += min(strings.Count(strings.ToLower(content), q), 20)
		if h.Score == 0 {
			continue
		}
		h.Snippet, _ = parser.Snippet(content, q, snippetRadius)
		if h.Tags == nil {
			h.Tags = []string{}
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("search documents", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Title < hits[j].Title
	})
	return paginate(hits, opts.Offset, opts.Limit), nil
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[strings.ToLower(t)] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

func paginate[T any](items []T, offset, limit int) []T {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	return items[offset:min(len(items), offset+limit)]
}

// ListSections returns every section of the collection.
func (s *Store) ListSections(ctx context.Context) ([]models.Section, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, collection_id, path, name, description, document_count, subsection_count,
			sort_order, created_at, updated_at
		FROM sections WHERE collection_id = ? ORDER BY sort_order, name`, s.collectionID)
	if err != nil {
		return nil, apperr.Storage("list sections", err)
	}
	defer rows.Close()

	var out []models.Section
	for rows.Next() {
		var sec models.Section
		if err := rows.Scan(&sec.ID, &sec.CollectionID, &sec.Path, &sec.Name, &sec.Description,
			&sec.DocumentCount, &sec.SubsectionCount, &sec.SortOrder,
			sqlitedb.Time{Dst: &sec.CreatedAt}, sqlitedb.Time{Dst: &sec.UpdatedAt}); err != nil {
			return nil, apperr.Storage("scan section", err)
		}
		out = append(out, sec)
	}
	return out, apperr.Storage("list sections", rows.Err())
}

// ListSubsections returns every sub-section of the collection.
func (s *Store) ListSubsections(ctx context.Context) ([]models.Subsection, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT ss.id, ss.section_id, COALESCE(ss.parent_id, ''), ss.path, ss.name, ss.description,
			ss.depth, ss.document_count, ss.sort_order, ss.created_at, ss.updated_at
		FROM subsections ss JOIN sections s ON s.id = ss.section_id
		WHERE s.collection_id = ? ORDER BY ss.depth, ss.sort_order, ss.name`, s.collectionID)
	if err != nil {
		return nil, apperr.Storage("list subsections", err)
	}
	defer rows.Close()

	var out []models.Subsection
	for rows.Next() {
		var ss models.Subsection
		if err := rows.Scan(&ss.ID, &ss.SectionID, &ss.ParentID, &ss.Path, &ss.Name, &ss.Description,
			&ss.Depth, &ss.DocumentCount, &ss.SortOrder,
			sqlitedb.Time{Dst: &ss.CreatedAt}, sqlitedb.Time{Dst: &ss.UpdatedAt}); err != nil {
			return nil, apperr.Storage("scan subsection", err)
		}
		out = append(out, ss)
	}
	return out, apperr.Storage("list subsections", rows.Err())
}

// ListDocumentSummaries returns the content-free projection of every
// document of the collection.
func (s *Store) ListDocumentSummaries(ctx context.Context) ([]models.DocumentSummary, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT d.id, d.section_id, COALESCE(d.subsection_id, ''), d.path, d.slug, d.title,
			d.word_count, d.difficulty, d.status, d.updated_at
		FROM documents d JOIN sections s ON s.id = d.section_id
		WHERE s.collection_id = ? ORDER BY d.path`, s.collectionID)
	if err != nil {
		return nil, apperr.Storage("list documents", err)
	}
	defer rows.Close()

	var out []models.DocumentSummary
	for rows.Next() {
		var d models.DocumentSummary
		if err := rows.Scan(&d.ID, &d.SectionID, &d.SubsectionID, &d.Path, &d.Slug, &d.Title,
			&d.WordCount, &d.Difficulty, &d.Status, sqlitedb.Time{Dst: &d.UpdatedAt}); err != nil {
			return nil, apperr.Storage("scan document summary", err)
		}
		out = append(out, d)
	}
	return out, apperr.Storage("list documents", rows.Err())
}

// AllFingerprints maps every document path to the Fingerprint of its stored
// body and metadata.
func (s *Store) AllFingerprints(ctx context.Context) (map[string]string, error) {
	return s.fingerprints(ctx, `SELECT path, content_hash, title, metadata FROM documents`)
}

// StoredFingerprint returns the Fingerprint of the cached row for path
// without touching the vault; found is false when there is no row.
func (s *Store) StoredFingerprint(ctx context.Context, path string) (fp string, found bool, err error) {
	out, err := s.fingerprints(ctx,
		`SELECT path, content_hash, title, metadata FROM documents WHERE path = ?`, path)
	if err != nil {
		return "", false, err
	}
	fp, found = out[path]
	return fp, found, nil
}

func (s *Store) fingerprints(ctx context.Context, query string, args ...any) (map[string]string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("fingerprints", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var p, h, title, metaJSON string
		if err := rows.Scan(&p, &h, &title, &metaJSON); err != nil {
			return nil, apperr.Storage("scan fingerprint", err)
		}
		var meta models.DocumentMetadata
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			// Forces a re-import that rewrites the row.
			out[p] = ""
			continue
		}
		if meta.Title == "" {
			meta.Title = title
		}
		out[p] = fingerprint(h, meta)
	}
	return out, apperr.Storage("fingerprints", rows.Err())
}

// Fingerprint identifies what importing body with meta at path would store:
// the body hash plus the metadata with its title resolved the way
// UpsertDocument resolves it. Equal fingerprints mean an import is a no-op.
func Fingerprint(path string, meta models.DocumentMetadata, body string) string {
	meta.Title = resolveTitle("", meta.Title, body, locate(path).slug)
	return fingerprint(checksum.String(body), meta)
}

func fingerprint(hash string, meta models.DocumentMetadata) string {
	b, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return hash + ":" + checksum.Sum(b)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
