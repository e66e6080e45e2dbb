// Package kb is the public contract of the knowledge base: one Store that
// owns the relational cache, the vault mirror, sync state, embeddings, block
// index and generation cache, and keeps them consistent.
package kb

import (
	"context"
	"errors"
	"log/slog"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/blocks"
	"github.com/starford/tessera/internal/content"
	"github.com/starford/tessera/internal/embedding"
	"github.com/starford/tessera/internal/gencache"
	"github.com/starford/tessera/internal/sqlitedb"
	"github.com/starford/tessera/internal/syncstate"
	"github.com/starford/tessera/internal/vault"
)

// DefaultCollectionID is used when Options.CollectionID is empty.
const DefaultCollectionID = "default"

// Document event kinds passed to EventSink.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// EventSink receives a notification after every successful document mutation.
type EventSink interface {
	PublishDocumentEvent(kind, path string)
}

// Options configures a Store.
type Options struct {
	Provider     *sqlitedb.Provider
	Vault        *vault.Mirror
	Logger       *slog.Logger
	CollectionID string
	Dimensions   int
	Events       EventSink
}

// Store is the knowledge-base facade. Reads never fail: they return empty
// values and log. Writes return errors from the apperr taxonomy.
type Store struct {
	provider     *sqlitedb.Provider
	vault        *vault.Mirror
	logger       *slog.Logger
	collectionID string
	events       EventSink

	content    *content.Store
	sync       *syncstate.Tracker
	embeddings *embedding.Store
	blocks     *blocks.Indexer
	cache      *gencache.Cache
}

// New wires the components. Nothing is opened until Initialize.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	provider := opts.Provider
	if provider == nil {
		provider = sqlitedb.NewProvider(sqlitedb.Config{}, logger)
	}
	id := opts.CollectionID
	if id == "" {
		id = DefaultCollectionID
	}

	s := &Store{
		provider:     provider,
		vault:        opts.Vault,
		logger:       logger,
		collectionID: id,
		events:       opts.Events,
	}
	s.sync = syncstate.New(provider, logger)
	s.content = content.New(content.Options{
		DB:           provider,
		Vault:        opts.Vault,
		Logger:       logger,
		CollectionID: id,
		Changes:      s.sync,
	})
	s.embeddings = embedding.New(provider, opts.Dimensions, logger)
	s.blocks = blocks.New(provider, s.content, logger)
	s.cache = gencache.New(provider, logger)
	return s
}

// Initialize opens the relational store, applying the schema, and makes sure
// the default collection and its sync row exist. Only a schema failure is
// fatal; an unreachable store leaves the Store in memory-less mode.
func (s *Store) Initialize(ctx context.Context) error {
	h, err := s.provider.Get(ctx)
	if err != nil {
		return err
	}
	if !h.Available() {
		s.logger.Warn("kb: running without a relational store")
		return nil
	}
	if err := s.content.EnsureCollection(ctx); err != nil {
		return err
	}
	if err := s.sync.Update(ctx, s.collectionID, syncstate.Patch{}); err != nil {
		return err
	}
	if n, err := s.cache.Purge(ctx); err != nil {
		s.logger.Warn("kb: cache purge failed", slog.String("error", err.Error()))
	} else if n > 0 {
		s.logger.Info("kb: expired cache entries purged", slog.Int64("rows", n))
	}
	s.logger.Info("kb: initialized",
		slog.String("collection", s.collectionID),
		slog.Bool("vault_ready", s.vault.Ready()))
	return nil
}

// Close releases the relational store.
func (s *Store) Close() error {
	return s.provider.Close()
}

// CollectionID returns the collection this Store writes to.
func (s *Store) CollectionID() string { return s.collectionID }

// EmbeddingDimensions returns the configured vector length.
func (s *Store) EmbeddingDimensions() int { return s.embeddings.Dimensions() }

// StoreReady reports whether the relational store is open and reachable.
func (s *Store) StoreReady(ctx context.Context) bool {
	h, err := s.provider.Get(ctx)
	return err == nil && h.Available()
}

func (s *Store) publish(kind, path string) {
	if s.events != nil {
		s.events.PublishDocumentEvent(kind, path)
	}
}

// logRead records a failed read that is being reported as an empty result.
// Absent entities and memory-less mode are expected and logged at debug.
func (s *Store) logRead(op string, err error, attrs ...any) {
	attrs = append(attrs, slog.String("error", err.Error()))
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrUnavailable) {
		s.logger.Debug("kb: "+op, attrs...)
		return
	}
	s.logger.Warn("kb: "+op+" failed", attrs...)
}
