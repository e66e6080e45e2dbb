package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/content"
	"github.com/starford/tessera/internal/models"
	"github.com/starford/tessera/internal/tree"
)

// BulkProgress is reported after each document of a bulk import.
type BulkProgress struct {
	Path  string
	Done  int
	Total int
}

// BulkReport summarizes a bulk import.
type BulkReport struct {
	Imported  int      `json:"imported"`
	Conflicts int      `json:"conflicts"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// GetKnowledgeTree assembles the section tree from three flat scans.
func (s *Store) GetKnowledgeTree(ctx context.Context, progress func(tree.Progress)) *tree.Tree {
	sections, err := s.content.ListSections(ctx)
	if err != nil {
		s.logRead("list sections", err)
		return tree.Build(nil, nil, nil, progress)
	}
	subsections, err := s.content.ListSubsections(ctx)
	if err != nil {
		s.logRead("list subsections", err)
		return tree.Build(nil, nil, nil, progress)
	}
	docs, err := s.content.ListDocumentSummaries(ctx)
	if err != nil {
		s.logRead("list documents", err)
		return tree.Build(nil, nil, nil, progress)
	}
	return tree.Build(sections, subsections, docs, progress)
}

// GetDocument returns the document at path, or nil when it is absent or the
// store cannot be read.
func (s *Store) GetDocument(ctx context.Context, path string) *models.Document {
	doc, err := s.content.GetDocument(ctx, path)
	if err != nil {
		s.logRead("get document", err, slog.String("path", path))
		return nil
	}
	return doc
}

// GetDocuments returns the documents found among paths, in the given order.
func (s *Store) GetDocuments(ctx context.Context, paths []string) []models.Document {
	docs, err := s.content.GetDocumentsByPath(ctx, paths)
	if err != nil {
		s.logRead("get documents", err, slog.Int("paths", len(paths)))
		return []models.Document{}
	}
	return nonNil(docs)
}

// GetSectionDocuments returns every document under a section.
func (s *Store) GetSectionDocuments(ctx context.Context, slug string) []models.Document {
	docs, err := s.content.GetSectionDocuments(ctx, slug)
	if err != nil {
		s.logRead("get section documents", err, slog.String("section", slug))
		return []models.Document{}
	}
	return nonNil(docs)
}

// GetSubsectionDocuments returns the documents directly inside a sub-section.
func (s *Store) GetSubsectionDocuments(ctx context.Context, path string) []models.Document {
	docs, err := s.content.GetSubsectionDocuments(ctx, path)
	if err != nil {
		s.logRead("get subsection documents", err, slog.String("subsection", path))
		return []models.Document{}
	}
	return nonNil(docs)
}

// SearchDocuments ranks documents by substring matches over title, summary
// and content.
func (s *Store) SearchDocuments(ctx context.Context, query string, opts content.SearchOptions) []content.SearchHit {
	hits, err := s.content.SearchDocuments(ctx, query, opts)
	if err != nil {
		s.logRead("search documents", err)
		return []content.SearchHit{}
	}
	return nonNil(hits)
}

// UpsertCollection creates or updates a collection.
func (s *Store) UpsertCollection(ctx context.Context, in content.CollectionInput) error {
	return s.content.UpsertCollection(ctx, in)
}

// UpsertSection creates or updates a section.
func (s *Store) UpsertSection(ctx context.Context, in content.SectionInput) error {
	return s.content.UpsertSection(ctx, in)
}

// UpsertSubsection creates or updates a sub-section and its missing ancestors.
func (s *Store) UpsertSubsection(ctx context.Context, in content.SubsectionInput) error {
	return s.content.UpsertSubsection(ctx, in)
}

// UpsertDocument writes a document to the vault and the relational cache and
// re-indexes its blocks.
func (s *Store) UpsertDocument(ctx context.Context, in content.DocumentInput) (content.WriteResult, error) {
	res, err := s.content.UpsertDocument(ctx, in)
	if err != nil {
		return res, err
	}
	s.reindex(ctx, in.Path, in.Content, in.Metadata.Tags)
	kind := EventUpdated
	if res.Created {
		kind = EventCreated
	}
	s.publish(kind, in.Path)
	return res, nil
}

// UpdateDocumentMetadata replaces a document's metadata and body.
func (s *Store) UpdateDocumentMetadata(ctx context.Context, path string, meta models.DocumentMetadata, body string) (content.WriteResult, error) {
	res, err := s.content.UpdateDocumentMetadata(ctx, path, meta, body)
	if err != nil {
		return res, err
	}
	s.reindex(ctx, path, body, meta.Tags)
	s.publish(EventUpdated, path)
	return res, nil
}

// DeleteDocument removes a document from both backends.
func (s *Store) DeleteDocument(ctx context.Context, path string) error {
	if err := s.content.DeleteDocument(ctx, path); err != nil {
		return err
	}
	s.publish(EventDeleted, path)
	return nil
}

// BulkImportDocuments upserts docs one by one as imports, so they do not
// count as pending local changes. A failing document is recorded and the
// import continues; only cancellation stops it early.
func (s *Store) BulkImportDocuments(ctx context.Context, docs []content.DocumentInput, progress func(BulkProgress)) (BulkReport, error) {
	var report BulkReport
	for i, in := range docs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		in.Import = true
		if _, err := s.UpsertDocument(ctx, in); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				report.Conflicts++
			} else {
				report.Failed++
			}
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", in.Path, err))
		} else {
			report.Imported++
		}
		if progress != nil {
			progress(BulkProgress{Path: in.Path, Done: i + 1, Total: len(docs)})
		}
	}
	s.logger.Info("kb: bulk import finished",
		slog.Int("imported", report.Imported),
		slog.Int("conflicts", report.Conflicts),
		slog.Int("failed", report.Failed))
	return report, nil
}

// ClearAllContent deletes every section, sub-section, document, block and
// embedding. Collections and sync status survive.
func (s *Store) ClearAllContent(ctx context.Context) error {
	if err := s.content.ClearAllContent(ctx); err != nil {
		return err
	}
	s.logger.Info("kb: content cleared")
	return nil
}

// RebuildSearchIndex re-splits the blocks of every document. Document search
// runs at query time and needs no index; only the block tables are rebuilt.
func (s *Store) RebuildSearchIndex(ctx context.Context, progress func(BulkProgress)) (int, error) {
	docs, err := s.content.AllDocuments(ctx)
	if err != nil {
		if errors.Is(err, apperr.ErrUnavailable) {
			return 0, nil
		}
		return 0, err
	}
	var total int
	for i, d := range docs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.blocks.IndexDocument(ctx, d.Path, d.Content, d.Metadata.Tags)
		if err != nil {
			return total, err
		}
		total += n
		if progress != nil {
			progress(BulkProgress{Path: d.Path, Done: i + 1, Total: len(docs)})
		}
	}
	s.logger.Info("kb: search index rebuilt",
		slog.Int("documents", len(docs)),
		slog.Int("blocks", total))
	return total, nil
}

func (s *Store) reindex(ctx context.Context, path, body string, tags []string) {
	if _, err := s.blocks.IndexDocument(ctx, path, body, tags); err != nil {
		s.logger.Warn("kb: block index failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
