package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/content"
	"github.com/starford/tessera/internal/kb"
	"github.com/starford/tessera/internal/syncstate"
)

// Handler holds API route handlers.
type Handler struct {
	kb     *kb.Store
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(store *kb.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{kb: store, logger: logger}
}

// wildcardPath extracts the document path from the trailing route wildcard.
// Encoded slashes from OpenAPI clients (wiki%2Fwelcome) are decoded.
func wildcardPath(r *http.Request) string {
	raw := strings.Trim(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func requirePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return "", false
	}
	return path, true
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func queryFloat(r *http.Request, key string) float64 {
	f, _ := strconv.ParseFloat(r.URL.Query().Get(key), 64)
	return f
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Tree handles GET /tree.
//
//	@Summary		Get the section tree
//	@Tags			tree
//	@Produce		json
//	@Success		200	{object}	tree.Tree
//	@Security		BearerAuth
//	@Router			/tree [get]
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.kb.GetKnowledgeTree(r.Context(), nil))
}

// GetDocument handles GET /documents/*.
//
//	@Summary		Get a single document by path
//	@Tags			documents
//	@Produce		json
//	@Param			path	path		string	true	"Document path"
//	@Success		200		{object}	models.Document
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	doc := h.kb.GetDocument(r.Context(), path)
	if doc == nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// GetDocuments handles GET /documents?paths=a,b.
func (h *Handler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	paths := splitList(r.URL.Query().Get("paths"))
	if len(paths) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'paths' is required"))
		return
	}
	writeJSON(w, http.StatusOK, DocumentsResponse{Documents: h.kb.GetDocuments(r.Context(), paths)})
}

// SectionDocuments handles GET /sections/{slug}/documents.
func (h *Handler) SectionDocuments(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	writeJSON(w, http.StatusOK, DocumentsResponse{Documents: h.kb.GetSectionDocuments(r.Context(), slug)})
}

// SubsectionDocuments handles GET /subsections/documents?path=.
func (h *Handler) SubsectionDocuments(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'path' is required"))
		return
	}
	writeJSON(w, http.StatusOK, DocumentsResponse{Documents: h.kb.GetSubsectionDocuments(r.Context(), path)})
}

// UpsertDocument handles PUT /documents/*.
//
//	@Summary		Create or replace a document
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string					true	"Document path"
//	@Param			force	query		bool					false	"Overwrite an externally edited vault file"
//	@Param			body	body		UpsertDocumentRequest	true	"Document"
//	@Success		200		{object}	content.WriteResult
//	@Success		201		{object}	content.WriteResult
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [put]
func (h *Handler) UpsertDocument(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	var req UpsertDocumentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, "upsert document", err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, "upsert document", apperr.Invalid(err))
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	res, err := h.kb.UpsertDocument(r.Context(), content.DocumentInput{
		Path:      path,
		Title:     req.Title,
		Content:   req.Content,
		Metadata:  req.Metadata,
		SourceSHA: req.SourceSHA,
		SourceURL: req.SourceURL,
		Force:     force,
	})
	if err != nil {
		h.writeError(w, "upsert document", err, slog.String("path", path))
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// UpdateMetadata handles PATCH /documents/*. The body is kept unless the
// request carries new content.
func (h *Handler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	var req UpdateMetadataRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, "update metadata", err)
		return
	}
	var body string
	if req.Content != nil {
		body = *req.Content
	} else {
		doc := h.kb.GetDocument(r.Context(), path)
		if doc == nil {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		body = doc.Content
	}
	res, err := h.kb.UpdateDocumentMetadata(r.Context(), path, req.Metadata, body)
	if err != nil {
		h.writeError(w, "update metadata", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteDocument handles DELETE /documents/*.
//
//	@Summary		Delete a document
//	@Tags			documents
//	@Param			path	path	string	true	"Document path"
//	@Success		204		"Document deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [delete]
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	if err := h.kb.DeleteDocument(r.Context(), path); err != nil {
		h.writeError(w, "delete document", err, slog.String("path", path))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /search.
//
//	@Summary		Substring search across documents
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Param			offset	query		int		false	"Results to skip"
//	@Param			section	query		string	false	"Restrict to a section"
//	@Param			tags	query		string	false	"Comma-separated tags"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if strings.TrimSpace(query) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	hits := h.kb.SearchDocuments(r.Context(), query, content.SearchOptions{
		Limit:   queryInt(r, "limit"),
		Offset:  queryInt(r, "offset"),
		Section: q.Get("section"),
		Tags:    splitList(q.Get("tags")),
	})
	writeJSON(w, http.StatusOK, SearchResponse{Results: hits})
}

// BlockTags handles GET /blocks/tags.
func (h *Handler) BlockTags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TagsResponse{Tags: h.kb.TagCounts(r.Context())})
}

// SearchBlocks handles GET /blocks/search?q=.
func (h *Handler) SearchBlocks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	res := h.kb.SearchBlocksFullText(r.Context(), query, queryInt(r, "limit"))
	writeJSON(w, http.StatusOK, BlockResultsResponse{Results: res})
}

// BlocksByTag handles GET /blocks/tag/{tag}.
func (h *Handler) BlocksByTag(w http.ResponseWriter, r *http.Request) {
	res := h.kb.SearchByBlockTag(r.Context(), chi.URLParam(r, "tag"))
	writeJSON(w, http.StatusOK, BlockResultsResponse{Results: res})
}

// Suggestions handles GET /blocks/suggestions?threshold=.
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	res := h.kb.PendingTagSuggestions(r.Context(), queryFloat(r, "threshold"))
	writeJSON(w, http.StatusOK, BlockResultsResponse{Results: res})
}

// WorthyBlocks handles GET /blocks/worthy?threshold=.
func (h *Handler) WorthyBlocks(w http.ResponseWriter, r *http.Request) {
	res := h.kb.WorthyBlocks(r.Context(), queryFloat(r, "threshold"))
	writeJSON(w, http.StatusOK, BlockResultsResponse{Results: res})
}

// Backlinks handles GET /backlinks/*.
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, BacklinksResponse{Backlinks: h.kb.Backlinks(r.Context(), path)})
}

// SyncStatus handles GET /sync.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.kb.GetSyncStatus(r.Context()))
}

// UpdateSync handles PATCH /sync.
func (h *Handler) UpdateSync(w http.ResponseWriter, r *http.Request) {
	var req SyncPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, "update sync", err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, "update sync", apperr.Invalid(err))
		return
	}
	err := h.kb.UpdateSyncStatus(r.Context(), syncstate.Patch{
		LastFullSync:        req.LastFullSync,
		LastIncrementalSync: req.LastIncrementalSync,
		RemoteTreeSHA:       req.RemoteTreeSHA,
		LocalVersion:        req.LocalVersion,
		PendingChanges:      req.PendingChanges,
	})
	if err != nil {
		h.writeError(w, "update sync", err)
		return
	}
	writeJSON(w, http.StatusOK, h.kb.GetSyncStatus(r.Context()))
}

// VaultStatus handles GET /vault.
func (h *Handler) VaultStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, VaultStatus{Ready: h.kb.IsVaultReady()})
}

// ReconnectVault handles POST /vault/reconnect.
func (h *Handler) ReconnectVault(w http.ResponseWriter, r *http.Request) {
	if err := h.kb.ReconnectVault(r.Context()); err != nil {
		h.writeError(w, "reconnect vault", err)
		return
	}
	writeJSON(w, http.StatusOK, VaultStatus{Ready: h.kb.IsVaultReady()})
}

// SyncVault handles POST /vault/sync.
func (h *Handler) SyncVault(w http.ResponseWriter, r *http.Request) {
	var req VaultSyncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, "vault sync", err)
		return
	}
	report, err := h.kb.SyncFromVault(r.Context(), kb.SyncOptions{DeleteMissing: req.DeleteMissing})
	if err != nil {
		h.writeError(w, "vault sync", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ExportVault handles POST /vault/export.
func (h *Handler) ExportVault(w http.ResponseWriter, r *http.Request) {
	var req VaultExportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, "vault export", err)
		return
	}
	report, err := h.kb.ExportToVault(r.Context(), kb.ExportOptions{Overwrite: req.Overwrite})
	if err != nil {
		h.writeError(w, "vault export", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Reindex handles POST /maintenance/reindex.
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	n, err := h.kb.RebuildSearchIndex(r.Context(), nil)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		h.writeError(w, "reindex", err)
		return
	}
	writeJSON(w, http.StatusOK, ReindexResponse{Blocks: n})
}
