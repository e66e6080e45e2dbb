package blocks

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/models"
	"github.com/starford/tessera/internal/parser"
	"github.com/starford/tessera/internal/sqlitedb"
)

const snippetRadius = 60

// Hit is a matching block with an optional text excerpt.
type Hit struct {
	models.Block
	Snippet string `json:"snippet,omitempty"`
}

// Result groups the matching blocks of one document.
type Result struct {
	Path     string           `json:"path"`
	Title    string           `json:"title"`
	Document *models.Document `json:"document,omitempty"`
	Blocks   []Hit            `json:"blocks"`
}

// TagCount is the number of blocks carrying an accepted tag.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

const blockColumns = `document_path, block_id, block_type, heading_level, heading_text, start_line,
	end_line, content, summary, tags, suggested_tags, worthiness_score, reviewed`

// SearchByBlockTag returns blocks whose accepted tags include tag, compared
// case-insensitively.
func (ix *Indexer) SearchByBlockTag(ctx context.Context, tag string) ([]Result, error) {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
	if tag == "" {
		return []Result{}, nil
	}
	hits, err := ix.queryHits(ctx, `
		SELECT `+blockColumns+` FROM blocks
		WHERE EXISTS (SELECT 1 FROM json_each(blocks.tags) WHERE lower(value) = lower(?))
		ORDER BY document_path, start_line`, tag)
	if err != nil {
		return nil, err
	}
	return ix.group(ctx, hits), nil
}

// SearchBlocksFullText returns up to limit blocks whose heading or content
// contains query, with an excerpt around the first occurrence.
func (ix *Indexer) SearchBlocksFullText(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Result{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	hits, err := ix.queryHits(ctx, `
		SELECT `+blockColumns+` FROM blocks
		WHERE instr(lower(content), lower(?1)) > 0 OR instr(lower(heading_text), lower(?1)) > 0
		ORDER BY document_path, start_line
		LIMIT ?2`, query, limit)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		if s, ok := parser.Snippet(hits[i].Content, query, snippetRadius); ok {
			hits[i].Snippet = s
		} else {
			hits[i].Snippet = hits[i].Summary
		}
	}
	return ix.group(ctx, hits), nil
}

// PendingSuggestions returns unreviewed blocks carrying at least one
// suggested tag with confidence at or above threshold.
func (ix *Indexer) PendingSuggestions(ctx context.Context, threshold float64) ([]Result, error) {
	hits, err := ix.queryHits(ctx, `
		SELECT `+blockColumns+` FROM blocks
		WHERE reviewed = 0 AND EXISTS (
			SELECT 1 FROM json_each(blocks.suggested_tags)
			WHERE json_extract(value, '$.confidence') >= ?
		)
		ORDER BY document_path, start_line`, threshold)
	if err != nil {
		return nil, err
	}
	return ix.group(ctx, hits), nil
}

// WorthyBlocks returns blocks scoring at least threshold, best first.
func (ix *Indexer) WorthyBlocks(ctx context.Context, threshold float64) ([]Result, error) {
	hits, err := ix.queryHits(ctx, `
		SELECT `+blockColumns+` FROM blocks
		WHERE worthiness_score >= ?
		ORDER BY worthiness_score DESC, document_path, start_line`, threshold)
	if err != nil {
		return nil, err
	}
	return ix.group(ctx, hits), nil
}

// BlocksForDocument returns the blocks of one document in line order.
func (ix *Indexer) BlocksForDocument(ctx context.Context, path string) ([]models.Block, error) {
	hits, err := ix.queryHits(ctx, `
		SELECT `+blockColumns+` FROM blocks WHERE document_path = ? ORDER BY start_line`, path)
	if err != nil {
		return nil, err
	}
	out := make([]models.Block, len(hits))
	for i, h := range hits {
		out[i] = h.Block
	}
	return out, nil
}

// ListTags returns the distinct accepted block tags in lexical order.
func (ix *Indexer) ListTags(ctx context.Context) ([]string, error) {
	counts, err := ix.TagCounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(counts))
	for i, c := range counts {
		out[i] = c.Tag
	}
	slices.Sort(out)
	return out, nil
}

// TagCounts returns every accepted tag with its block count, most used first.
func (ix *Indexer) TagCounts(ctx context.Context) ([]TagCount, error) {
	db, err := sqlitedb.Conn(ctx, ix.db)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT value, COUNT(*) FROM blocks, json_each(blocks.tags)
		GROUP BY value
		ORDER BY COUNT(*) DESC, value`)
	if err != nil {
		return nil, apperr.Storage("tag counts", err)
	}
	defer rows.Close()

	out := []TagCount{}
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, apperr.Storage("scan tag count", err)
		}
		out = append(out, tc)
	}
	return out, apperr.Storage("tag counts", rows.Err())
}

// Backlinks returns the references that point at path.
func (ix *Indexer) Backlinks(ctx context.Context, path string) ([]models.BlockReference, error) {
	db, err := sqlitedb.Conn(ctx, ix.db)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT source_path, source_block_id, target_path, target_block_id, ref_type
		FROM block_references WHERE target_path = ?
		ORDER BY source_path, source_block_id`, path)
	if err != nil {
		return nil, apperr.Storage("backlinks", err)
	}
	defer rows.Close()

	out := []models.BlockReference{}
	for rows.Next() {
		var r models.BlockReference
		if err := rows.Scan(&r.SourcePath, &r.SourceBlockID, &r.TargetPath, &r.TargetBlockID, &r.RefType); err != nil {
			return nil, apperr.Storage("scan backlink", err)
		}
		out = append(out, r)
	}
	return out, apperr.Storage("backlinks", rows.Err())
}

func (ix *Indexer) queryHits(ctx context.Context, query string, args ...any) ([]Hit, error) {
	db, err := sqlitedb.Conn(ctx, ix.db)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("query blocks", err)
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		b, err := ix.scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, Hit{Block: b})
	}
	return out, apperr.Storage("query blocks", rows.Err())
}

func (ix *Indexer) scanBlock(rows *sql.Rows) (models.Block, error) {
	var (
		b              models.Block
		tags, suggests string
	)
	if err := rows.Scan(&b.DocumentPath, &b.BlockID, &b.BlockType, &b.HeadingLevel, &b.HeadingText,
		&b.StartLine, &b.EndLine, &b.Content, &b.Summary, &tags, &suggests,
		&b.WorthinessScore, &b.Reviewed); err != nil {
		return b, apperr.Storage("scan block", err)
	}
	if err := json.Unmarshal([]byte(tags), &b.Tags); err != nil {
		ix.logger.Warn("blocks: corrupt tags", slog.String("path", b.DocumentPath), slog.String("block", b.BlockID))
	}
	if err := json.Unmarshal([]byte(suggests), &b.SuggestedTags); err != nil {
		ix.logger.Warn("blocks: corrupt suggestions", slog.String("path", b.DocumentPath), slog.String("block", b.BlockID))
	}
	if b.Tags == nil {
		b.Tags = []string{}
	}
	if b.SuggestedTags == nil {
		b.SuggestedTags = []models.SuggestedTag{}
	}
	return b, nil
}

// group buckets hits by document in first-seen order, then resolves each
// matched document once. Resolution failures leave Document nil.
func (ix *Indexer) group(ctx context.Context, hits []Hit) []Result {
	out := []Result{}
	index := make(map[string]int)
	for _, h := range hits {
		i, ok := index[h.DocumentPath]
		if !ok {
			i = len(out)
			index[h.DocumentPath] = i
			out = append(out, Result{Path: h.DocumentPath, Title: h.DocumentPath})
		}
		out[i].Blocks = append(out[i].Blocks, h)
	}
	if ix.resolver == nil || len(out) == 0 {
		return out
	}

	paths := make([]string, len(out))
	for i, r := range out {
		paths[i] = r.Path
	}
	docs, err := ix.resolver.GetDocumentsByPath(ctx, paths)
	if err != nil {
		ix.logger.Warn("blocks: resolve documents", slog.String("error", err.Error()))
		return out
	}
	for i := range docs {
		if j, ok := index[docs[i].Path]; ok {
			out[j].Document = &docs[i]
			if docs[i].Title != "" {
				out[j].Title = docs[i].Title
			}
		}
	}
	return out
}
