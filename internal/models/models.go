// Package models defines the domain types for Tessera.
package models

import "time"

// Collection is a top-level knowledge repository.
type Collection struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	RepoOwner      string     `json:"repo_owner,omitempty"`
	RepoName       string     `json:"repo_name,omitempty"`
	RepoBranch     string     `json:"repo_branch,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	RemoteTreeHash string     `json:"remote_tree_hash,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Section is a top-level grouping within a collection.
type Section struct {
	ID              string    `json:"id"`
	CollectionID    string    `json:"collection_id"`
	Path            string    `json:"path"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	DocumentCount   int       `json:"document_count"`
	SubsectionCount int       `json:"subsection_count"`
	SortOrder       int       `json:"sort_order"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Subsection is a nested grouping within a section. Root sub-sections have
// Depth 1 and an empty ParentID.
type Subsection struct {
	ID            string    `json:"id"`
	SectionID     string    `json:"section_id"`
	ParentID      string    `json:"parent_id,omitempty"`
	Path          string    `json:"path"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Depth         int       `json:"depth"`
	DocumentCount int       `json:"document_count"`
	SortOrder     int       `json:"sort_order"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DocumentMetadata is the structured frontmatter of a document.
type DocumentMetadata struct {
	Title         string         `json:"title,omitempty"`
	Difficulty    string         `json:"difficulty,omitempty"`
	Status        string         `json:"status,omitempty"`
	Summary       string         `json:"summary,omitempty"`
	Subjects      []string       `json:"subjects,omitempty"`
	Topics        []string       `json:"topics,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Prerequisites []string       `json:"prerequisites,omitempty"`
	References    []string       `json:"references,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Document is an individual content unit.
type Document struct {
	ID           string           `json:"id"`
	SectionID    string           `json:"section_id"`
	SubsectionID string           `json:"subsection_id,omitempty"`
	Path         string           `json:"path"`
	Slug         string           `json:"slug"`
	Title        string           `json:"title"`
	Content      string           `json:"content"`
	ContentHash  string           `json:"content_hash"`
	WordCount    int              `json:"word_count"`
	Metadata     DocumentMetadata `json:"metadata"`
	SourceSHA    string           `json:"source_sha,omitempty"`
	SourceURL    string           `json:"source_url,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// DocumentSummary is the content-free projection used for tree building.
type DocumentSummary struct {
	ID           string    `json:"id"`
	SectionID    string    `json:"section_id"`
	SubsectionID string    `json:"subsection_id,omitempty"`
	Path         string    `json:"path"`
	Slug         string    `json:"slug"`
	Title        string    `json:"title"`
	WordCount    int       `json:"word_count"`
	Difficulty   string    `json:"difficulty,omitempty"`
	Status       string    `json:"status,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SyncStatus tracks synchronization state of a collection.
type SyncStatus struct {
	CollectionID        string     `json:"collection_id"`
	LastFullSync        *time.Time `json:"last_full_sync,omitempty"`
	LastIncrementalSync *time.Time `json:"last_incremental_sync,omitempty"`
	RemoteTreeSHA       string     `json:"remote_tree_sha,omitempty"`
	LocalVersion        int64      `json:"local_version"`
	PendingChanges      int64      `json:"pending_changes"`
	UpdatedAt           *time.Time `json:"updated_at,omitempty"`
}

// Chunk kinds for embeddings.
const (
	ChunkDocument = "document"
	ChunkSection  = "chunk"
	ChunkBlock    = "block"
)

// Embedding is a fixed-length vector attached to a document or a chunk of one.
type Embedding struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	ChunkKind string    `json:"chunk_kind"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"created_at"`
}

// SuggestedTag is a machine-proposed tag for a block.
type SuggestedTag struct {
	Tag        string  `json:"tag"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Block is a heading-delimited range of a document.
type Block struct {
	DocumentPath    string         `json:"document_path"`
	BlockID         string         `json:"block_id"`
	BlockType       string         `json:"block_type"`
	HeadingLevel    int            `json:"heading_level"`
	HeadingText     string         `json:"heading_text,omitempty"`
	StartLine       int            `json:"start_line"`
	EndLine         int            `json:"end_line"`
	Content         string         `json:"content"`
	Summary         string         `json:"summary,omitempty"`
	Tags            []string       `json:"tags"`
	SuggestedTags   []SuggestedTag `json:"suggested_tags"`
	WorthinessScore float64        `json:"worthiness_score"`
	Reviewed        bool           `json:"reviewed"`
	References      []string       `json:"-"`
}

// BlockReference is a directed link from a block to another document.
type BlockReference struct {
	SourcePath    string `json:"source_path"`
	SourceBlockID string `json:"source_block_id"`
	TargetPath    string `json:"target_path"`
	TargetBlockID string `json:"target_block_id,omitempty"`
	RefType       string `json:"ref_type"`
}

// TagSchema describes a tag known to the knowledge base.
type TagSchema struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	Parent      string `json:"parent,omitempty"`
}
