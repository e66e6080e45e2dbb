package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/models"
	"github.com/starford/tessera/internal/sqlitedb"
)

// DefaultDimensions matches common small sentence-embedding models.
const DefaultDimensions = 384

// Match is one similarity result.
type Match struct {
	Embedding models.Embedding `json:"embedding"`
	Score     float64          `json:"score"`
}

// Store reads and writes the embeddings table.
type Store struct {
	db     sqlitedb.Source
	logger *slog.Logger
	dims   int
}

// New creates a Store for vectors of dims entries; dims <= 0 selects
// DefaultDimensions.
func New(db sqlitedb.Source, dims int, logger *slog.Logger) *Store {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, dims: dims}
}

// Dimensions returns the configured vector length.
func (s *Store) Dimensions() int { return s.dims }

const upsertSQL = `
	INSERT INTO embeddings (id, owner_id, chunk_kind, vector, dimensions)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_id   = excluded.owner_id,
		chunk_kind = excluded.chunk_kind,
		vector     = excluded.vector,
		dimensions = excluded.dimensions,
		created_at = CURRENT_TIMESTAMP`

// StoreEmbedding upserts a vector. Its length must equal Dimensions.
func (s *Store) StoreEmbedding(ctx context.Context, id, ownerID string, vec []float32, kind string) error {
	if kind == "" {
		kind = models.ChunkDocument
	}
	err := validation.Errors{
		"id":       validation.Validate(id, validation.Required),
		"owner_id": validation.Validate(ownerID, validation.Required),
		"kind":     validation.Validate(kind, validation.In(models.ChunkDocument, models.ChunkSection, models.ChunkBlock)),
	}.Filter()
	if err != nil {
		return apperr.Invalid(err)
	}
	if len(vec) != s.dims {
		return apperr.Invalid(fmt.Errorf("vector has %d dimensions, want %d", len(vec), s.dims))
	}
	db, err := sqlitedb.Conn(ctx, s.db)
	if err != nil {
		return noop(err)
	}
	_, err = db.ExecContext(ctx, upsertSQL, id, ownerID, kind, Encode(vec), len(vec))
	return apperr.Storage("store embedding", err)
}

// GetAllEmbeddings loads every vector. Rows that fail to decode are logged
// and returned as zero vectors.
func (s *Store) GetAllEmbeddings(ctx context.Context) ([]models.Embedding, error) {
	db, err := sqlitedb.Conn(ctx, s.db)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, owner_id, chunk_kind, vector, created_at FROM embeddings ORDER BY id`)
	if err != nil {
		return nil, apperr.Storage("get embeddings", err)
	}
	defer rows.Close()

	var out []models.Embedding
	for rows.Next() {
		var (
			e   models.Embedding
			raw string
		)
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.ChunkKind, &raw, sqlitedb.Time{Dst: &e.CreatedAt}); err != nil {
			return nil, apperr.Storage("scan embedding", err)
		}
		var ok bool
		if e.Vector, ok = Decode(raw, s.dims); !ok {
			s.logger.Warn("embedding: undecodable vector, using zero vector",
				slog.String("id", e.ID),
				slog.String("error", apperr.ErrCorrupt.Error()))
		}
		out = append(out, e)
	}
	return out, apperr.Storage("get embeddings", rows.Err())
}

// ClearEmbeddings deletes every vector.
func (s *Store) ClearEmbeddings(ctx context.Context) error {
	db, err := sqlitedb.Conn(ctx, s.db)
	if err != nil {
		return noop(err)
	}
	_, err = db.ExecContext(ctx, `DELETE FROM embeddings`)
	return apperr.Storage("clear embeddings", err)
}

// SimilarTo ranks every stored vector against query and returns the best k.
func (s *Store) SimilarTo(ctx context.Context, query []float32, k int) ([]Match, error) {
	if len(query) != s.dims {
		return nil, apperr.Invalid(fmt.Errorf("query has %d dimensions, want %d", len(query), s.dims))
	}
	all, err := s.GetAllEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(all))
	for _, e := range all {
		matches = append(matches, Match{Embedding: e, Score: Cosine(query, e.Vector)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func noop(err error) error {
	if errors.Is(err, apperr.ErrUnavailable) {
		return nil
	}
	return err
}
