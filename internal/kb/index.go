package kb

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/tessera/internal/blocks"
	"github.com/starford/tessera/internal/content"
	"github.com/starford/tessera/internal/gencache"
	"github.com/starford/tessera/internal/models"
	"github.com/starford/tessera/internal/syncstate"
)

// Default thresholds for block listings.
const (
	DefaultSuggestionThreshold = 0.7
	DefaultWorthinessThreshold = 0.6
)

// SimilarDocument is a document ranked by embedding similarity.
type SimilarDocument struct {
	Path  string  `json:"path"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// GetSyncStatus returns the sync state of the Store's collection.
func (s *Store) GetSyncStatus(ctx context.Context) models.SyncStatus {
	st, err := s.sync.Get(ctx, s.collectionID)
	if err != nil {
		s.logRead("get sync status", err)
		return models.SyncStatus{CollectionID: s.collectionID}
	}
	return st
}

// UpdateSyncStatus overwrites only the fields set in p.
func (s *Store) UpdateSyncStatus(ctx context.Context, p syncstate.Patch) error {
	return s.sync.Update(ctx, s.collectionID, p)
}

// StoreEmbedding saves a vector for a document or one of its chunks. An empty
// id gets a random one, which is returned.
func (s *Store) StoreEmbedding(ctx context.Context, id, ownerID string, vec []float32, kind string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	return id, s.embeddings.StoreEmbedding(ctx, id, ownerID, vec, kind)
}

// GetAllEmbeddings returns every stored vector.
func (s *Store) GetAllEmbeddings(ctx context.Context) []models.Embedding {
	all, err := s.embeddings.GetAllEmbeddings(ctx)
	if err != nil {
		s.logRead("get embeddings", err)
		return []models.Embedding{}
	}
	return nonNil(all)
}

// ClearEmbeddings deletes every stored vector.
func (s *Store) ClearEmbeddings(ctx context.Context) error {
	return s.embeddings.ClearEmbeddings(ctx)
}

// SimilarDocuments ranks other documents by the cosine similarity of their
// best vector to the document-level vector of path.
func (s *Store) SimilarDocuments(ctx context.Context, path string, k int) []SimilarDocument {
	all, err := s.embeddings.GetAllEmbeddings(ctx)
	if err != nil {
		s.logRead("similar documents", err, slog.String("path", path))
		return []SimilarDocument{}
	}
	ownerID := content.DocumentID(path)
	var query []float32
	for _, e := range all {
		if e.OwnerID == ownerID && e.ChunkKind == models.ChunkDocument {
			query = e.Vector
			break
		}
	}
	if query == nil {
		return []SimilarDocument{}
	}
	matches, err := s.embeddings.SimilarTo(ctx, query, 0)
	if err != nil {
		s.logRead("similar documents", err, slog.String("path", path))
		return []SimilarDocument{}
	}
	summaries, err := s.content.ListDocumentSummaries(ctx)
	if err != nil {
		s.logRead("similar documents", err, slog.String("path", path))
		return []SimilarDocument{}
	}
	byID := make(map[string]models.DocumentSummary, len(summaries))
	for _, d := range summaries {
		byID[d.ID] = d
	}

	seen := map[string]bool{ownerID: true}
	out := []SimilarDocument{}
	for _, m := range matches {
		owner := m.Embedding.OwnerID
		if seen[owner] {
			continue
		}
		d, ok := byID[owner]
		if !ok {
			continue
		}
		seen[owner] = true
		out = append(out, SimilarDocument{Path: d.Path, Title: d.Title, Score: m.Score})
		if k > 0 && len(out) == k {
			break
		}
	}
	return out
}

// SearchByBlockTag returns documents with blocks carrying tag.
func (s *Store) SearchByBlockTag(ctx context.Context, tag string) []blocks.Result {
	res, err := s.blocks.SearchByBlockTag(ctx, tag)
	if err != nil {
		s.logRead("search blocks by tag", err, slog.String("tag", tag))
		return []blocks.Result{}
	}
	return res
}

// SearchBlocksFullText returns documents with blocks containing query.
func (s *Store) SearchBlocksFullText(ctx context.Context, query string, limit int) []blocks.Result {
	res, err := s.blocks.SearchBlocksFullText(ctx, query, limit)
	if err != nil {
		s.logRead("search blocks", err)
		return []blocks.Result{}
	}
	return res
}

// TagCounts returns accepted block tags with their usage counts.
func (s *Store) TagCounts(ctx context.Context) []blocks.TagCount {
	counts, err := s.blocks.TagCounts(ctx)
	if err != nil {
		s.logRead("tag counts", err)
		return []blocks.TagCount{}
	}
	return counts
}

// ListBlockTags returns the distinct accepted block tags.
func (s *Store) ListBlockTags(ctx context.Context) []string {
	tags, err := s.blocks.ListTags(ctx)
	if err != nil {
		s.logRead("list block tags", err)
		return []string{}
	}
	return tags
}

// PendingTagSuggestions returns unreviewed blocks whose suggestions reach
// threshold; a non-positive threshold selects the default.
func (s *Store) PendingTagSuggestions(ctx context.Context, threshold float64) []blocks.Result {
	if threshold <= 0 {
		threshold = DefaultSuggestionThreshold
	}
	res, err := s.blocks.PendingSuggestions(ctx, threshold)
	if err != nil {
		s.logRead("pending suggestions", err)
		return []blocks.Result{}
	}
	return res
}

// WorthyBlocks returns blocks whose worthiness reaches threshold; a
// non-positive threshold selects the default.
func (s *Store) WorthyBlocks(ctx context.Context, threshold float64) []blocks.Result {
	if threshold <= 0 {
		threshold = DefaultWorthinessThreshold
	}
	res, err := s.blocks.WorthyBlocks(ctx, threshold)
	if err != nil {
		s.logRead("worthy blocks", err)
		return []blocks.Result{}
	}
	return res
}

// DocumentBlocks returns the indexed blocks of one document.
func (s *Store) DocumentBlocks(ctx context.Context, path string) []models.Block {
	list, err := s.blocks.BlocksForDocument(ctx, path)
	if err != nil {
		s.logRead("document blocks", err, slog.String("path", path))
		return []models.Block{}
	}
	return nonNil(list)
}

// AcceptSuggestedTag promotes a suggested tag of a block to an accepted one.
func (s *Store) AcceptSuggestedTag(ctx context.Context, path, blockID, tag string) error {
	if err := s.blocks.AcceptSuggestedTag(ctx, path, blockID, tag); err != nil {
		return err
	}
	s.publish(EventUpdated, path)
	return nil
}

// Backlinks returns the references pointing at path.
func (s *Store) Backlinks(ctx context.Context, path string) []models.BlockReference {
	refs, err := s.blocks.Backlinks(ctx, path)
	if err != nil {
		s.logRead("backlinks", err, slog.String("path", path))
		return []models.BlockReference{}
	}
	return refs
}

// UpsertTagSchema creates or updates a tag definition.
func (s *Store) UpsertTagSchema(ctx context.Context, ts models.TagSchema) error {
	return s.blocks.UpsertTagSchema(ctx, ts)
}

// ListTagSchemas returns every tag definition.
func (s *Store) ListTagSchemas(ctx context.Context) []models.TagSchema {
	list, err := s.blocks.ListTagSchemas(ctx)
	if err != nil {
		s.logRead("list tag schemas", err)
		return []models.TagSchema{}
	}
	return nonNil(list)
}

// CachedGeneration returns generated material for contentHash, if fresh.
func (s *Store) CachedGeneration(ctx context.Context, kind gencache.Kind, contentHash string) (string, bool) {
	payload, ok, err := s.cache.Get(ctx, kind, contentHash)
	if err != nil {
		s.logRead("cache get", err, slog.String("kind", string(kind)))
		return "", false
	}
	return payload, ok
}

// StoreGeneration caches generated material for contentHash for ttl.
func (s *Store) StoreGeneration(ctx context.Context, kind gencache.Kind, contentHash, payload string, ttl time.Duration) error {
	return s.cache.Put(ctx, kind, contentHash, payload, ttl)
}
