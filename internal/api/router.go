package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tessera/internal/kb"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// AuthEnabled enforces Bearer token auth on every route.
	AuthEnabled bool
	Token       string
	// Events, if non-nil, is mounted at GET /events behind the same auth.
	Events http.Handler
	Logger *slog.Logger
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(store *kb.Store, opts RouterOptions) chi.Router {
	h := NewHandler(store, opts.Logger)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(opts.AuthEnabled, opts.Token))

	r.Get("/tree", h.Tree)

	// Documents.
	r.Get("/documents", h.GetDocuments)
	r.Get("/documents/*", h.GetDocument)
	r.Put("/documents/*", h.UpsertDocument)
	r.Patch("/documents/*", h.UpdateMetadata)
	r.Delete("/documents/*", h.DeleteDocument)
	r.Get("/sections/{slug}/documents", h.SectionDocuments)
	r.Get("/subsections/documents", h.SubsectionDocuments)
	r.Get("/search", h.Search)

	// Blocks.
	r.Route("/blocks", func(r chi.Router) {
		r.Get("/tags", h.BlockTags)
		r.Get("/search", h.SearchBlocks)
		r.Get("/tag/{tag}", h.BlocksByTag)
		r.Get("/suggestions", h.Suggestions)
		r.Get("/worthy", h.WorthyBlocks)
	})
	r.Get("/backlinks/*", h.Backlinks)

	// Sync and vault.
	r.Get("/sync", h.SyncStatus)
	r.Patch("/sync", h.UpdateSync)
	r.Route("/vault", func(r chi.Router) {
		r.Get("/", h.VaultStatus)
		r.Post("/reconnect", h.ReconnectVault)
		r.Post("/sync", h.SyncVault)
		r.Post("/export", h.ExportVault)
	})

	r.Post("/maintenance/reindex", h.Reindex)

	if opts.Events != nil {
		r.Get("/events", opts.Events.ServeHTTP)
	}

	return r
}
