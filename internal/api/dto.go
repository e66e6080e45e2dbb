package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tessera/internal/blocks"
	"github.com/starford/tessera/internal/content"
	"github.com/starford/tessera/internal/models"
)

// UpsertDocumentRequest is the body of PUT /documents/{path}.
type UpsertDocumentRequest struct {
	Title     string                  `json:"title,omitempty" example:"Welcome"`
	Content   string                  `json:"content" example:"# Welcome\nHello"`
	Metadata  models.DocumentMetadata `json:"metadata"`
	SourceSHA string                  `json:"source_sha,omitempty"`
	SourceURL string                  `json:"source_url,omitempty"`
}

// Validate checks the request body.
func (r UpsertDocumentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Length(0, 500)),
		validation.Field(&r.SourceURL, validation.Length(0, 2048)),
	)
}

// UpdateMetadataRequest is the body of PATCH /documents/{path}.
type UpdateMetadataRequest struct {
	Metadata models.DocumentMetadata `json:"metadata"`
	Content  *string                 `json:"content,omitempty"`
}

// SyncPatchRequest is the body of PATCH /sync. Absent fields are kept.
type SyncPatchRequest struct {
	LastFullSync        *time.Time `json:"last_full_sync,omitempty"`
	LastIncrementalSync *time.Time `json:"last_incremental_sync,omitempty"`
	RemoteTreeSHA       *string    `json:"remote_tree_sha,omitempty"`
	LocalVersion        *int64     `json:"local_version,omitempty"`
	PendingChanges      *int64     `json:"pending_changes,omitempty"`
}

// Validate rejects negative counters.
func (r SyncPatchRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.LocalVersion, validation.Min(int64(0))),
		validation.Field(&r.PendingChanges, validation.Min(int64(0))),
	)
}

// VaultSyncRequest is the optional body of POST /vault/sync.
type VaultSyncRequest struct {
	DeleteMissing bool `json:"delete_missing"`
}

// VaultExportRequest is the optional body of POST /vault/export.
type VaultExportRequest struct {
	Overwrite bool `json:"overwrite"`
}

// VaultStatus is the response of GET /vault.
type VaultStatus struct {
	Ready bool `json:"ready" example:"true"`
}

// DocumentsResponse wraps document listings.
type DocumentsResponse struct {
	Documents []models.Document `json:"documents" validate:"required"`
}

// SearchResponse wraps document search hits.
type SearchResponse struct {
	Results []content.SearchHit `json:"results" validate:"required"`
}

// BlockResultsResponse wraps block query results grouped by document.
type BlockResultsResponse struct {
	Results []blocks.Result `json:"results" validate:"required"`
}

// TagsResponse lists accepted block tags with their counts.
type TagsResponse struct {
	Tags []blocks.TagCount `json:"tags" validate:"required"`
}

// BacklinksResponse lists references pointing at a document.
type BacklinksResponse struct {
	Backlinks []models.BlockReference `json:"backlinks" validate:"required"`
}

// ReindexResponse reports POST /maintenance/reindex.
type ReindexResponse struct {
	Blocks int `json:"blocks" example:"120"`
}
