package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/starford/tessera/internal/apperr"
)

// Statement is one named, idempotent DDL statement.
type Statement struct {
	Name string
	SQL  string
}

// Schema lists every table and index in foreign-key dependency order:
// parents are declared before the tables that reference them.
var Schema = []Statement{
	{"collections", `
CREATE TABLE IF NOT EXISTS collections (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	repo_owner       TEXT NOT NULL DEFAULT '',
	repo_name        TEXT NOT NULL DEFAULT '',
	repo_branch      TEXT NOT NULL DEFAULT '',
	last_sync_at     DATETIME,
	remote_tree_hash TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`},
	{"sections", `
CREATE TABLE IF NOT EXISTS sections (
	id               TEXT PRIMARY KEY,
	collection_id    TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
	path             TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	document_count   INTEGER NOT NULL DEFAULT 0,
	subsection_count INTEGER NOT NULL DEFAULT 0,
	sort_order       INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`},
	{"subsections", `
CREATE TABLE IF NOT EXISTS subsections (
	id             TEXT PRIMARY KEY,
	section_id     TEXT NOT NULL REFERENCES sections(id) ON DELETE CASCADE,
	parent_id      TEXT REFERENCES subsections(id) ON DELETE CASCADE,
	path           TEXT NOT NULL UNIQUE,
	name           TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	depth          INTEGER NOT NULL DEFAULT 1 CHECK (depth >= 1),
	document_count INTEGER NOT NULL DEFAULT 0,
	sort_order     INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`},
	{"documents", `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	section_id    TEXT NOT NULL REFERENCES sections(id) ON DELETE CASCADE,
	subsection_id TEXT REFERENCES subsections(id) ON DELETE CASCADE,
	path          TEXT NOT NULL UNIQUE,
	slug          TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL DEFAULT '',
	content       TEXT NOT NULL DEFAULT '',
	content_hash  TEXT NOT NULL DEFAULT '',
	word_count    INTEGER NOT NULL DEFAULT 0,
	metadata      TEXT NOT NULL DEFAULT '{}',
	difficulty    TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT '',
	summary       TEXT NOT NULL DEFAULT '',
	tags          TEXT NOT NULL DEFAULT '[]',
	source_sha    TEXT NOT NULL DEFAULT '',
	source_url    TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`},
	{"sync_status", `
CREATE TABLE IF NOT EXISTS sync_status (
	collection_id         TEXT PRIMARY KEY REFERENCES collections(id) ON DELETE CASCADE,
	last_full_sync        DATETIME,
	last_incremental_sync DATETIME,
	remote_tree_sha       TEXT,
	local_version         INTEGER NOT NULL DEFAULT 0,
	pending_changes       INTEGER NOT NULL DEFAULT 0,
	updated_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`},
	{"embeddings", `
CREATE TABLE IF NOT EXISTS embeddings (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_kind TEXT NOT NULL DEFAULT 'document',
	vector     TEXT NOT NULL,
	dimensions INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`},
	{"blocks", `
CREATE TABLE IF NOT EXISTS blocks (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	document_path    TEXT NOT NULL REFERENCES documents(path) ON DELETE CASCADE ON UPDATE CASCADE,
	block_id         TEXT NOT NULL,
	block_type       TEXT NOT NULL DEFAULT 'paragraph',
	heading_level    INTEGER NOT NULL DEFAULT 0,
	heading_text     TEXT NOT NULL DEFAULT '',
	start_line       INTEGER NOT NULL,
	end_line         INTEGER NOT NULL,
	content          TEXT NOT NULL DEFAULT '',
	summary          TEXT NOT NULL DEFAULT '',
	tags             TEXT NOT NULL DEFAULT '[]',
	suggested_tags   TEXT NOT NULL DEFAULT '[]',
	worthiness_score REAL NOT NULL DEFAULT 0,
	reviewed         INTEGER NOT NULL DEFAULT 0,
	updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(document_path, block_id)
)`},
	{"block_references", `
CREATE TABLE IF NOT EXISTS block_references (
	source_path     TEXT NOT NULL REFERENCES documents(path) ON DELETE CASCADE ON UPDATE CASCADE,
	source_block_id TEXT NOT NULL,
	target_path     TEXT NOT NULL,
	target_block_id TEXT NOT NULL DEFAULT '',
	ref_type        TEXT NOT NULL DEFAULT 'wikilink',
	UNIQUE(source_path, source_block_id, target_path, target_block_id)
)`},
	{"tag_schemas", `
CREATE TABLE IF NOT EXISTS tag_schemas (
	name        TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	color       TEXT NOT NULL DEFAULT '',
	parent      TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`},
	{"glossary_cache", cacheTableSQL("glossary_cache")},
	{"flashcard_cache", cacheTableSQL("flashcard_cache")},
	{"quiz_cache", cacheTableSQL("quiz_cache")},
	{"idx_sections_collection", `CREATE INDEX IF NOT EXISTS idx_sections_collection ON sections(collection_id)`},
	{"idx_subsections_section", `CREATE INDEX IF NOT EXISTS idx_subsections_section ON subsections(section_id)`},
	{"idx_subsections_parent", `CREATE INDEX IF NOT EXISTS idx_subsections_parent ON subsections(parent_id)`},
	{"idx_documents_section", `CREATE INDEX IF NOT EXISTS idx_documents_section ON documents(section_id)`},
	{"idx_documents_subsection", `CREATE INDEX IF NOT EXISTS idx_documents_subsection ON documents(subsection_id)`},
	{"idx_documents_hash", `CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash)`},
	{"idx_embeddings_owner", `CREATE INDEX IF NOT EXISTS idx_embeddings_owner ON embeddings(owner_id)`},
	{"idx_blocks_document", `CREATE INDEX IF NOT EXISTS idx_blocks_document ON blocks(document_path)`},
	{"idx_blocks_worthiness", `CREATE INDEX IF NOT EXISTS idx_blocks_worthiness ON blocks(worthiness_score)`},
	{"idx_block_refs_target", `CREATE INDEX IF NOT EXISTS idx_block_refs_target ON block_references(target_path)`},
	{"idx_glossary_expiry", `CREATE INDEX IF NOT EXISTS idx_glossary_expiry ON glossary_cache(expires_at)`},
	{"idx_flashcard_expiry", `CREATE INDEX IF NOT EXISTS idx_flashcard_expiry ON flashcard_cache(expires_at)`},
	{"idx_quiz_expiry", `CREATE INDEX IF NOT EXISTS idx_quiz_expiry ON quiz_cache(expires_at)`},
}

func cacheTableSQL(table string) string {
	return `
CREATE TABLE IF NOT EXISTS ` + table + ` (
	content_hash TEXT PRIMARY KEY,
	payload      TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at   DATETIME NOT NULL
)`
}

// ApplySchema executes every Schema statement in order. The first failure
// aborts initialization; a partially applied schema is reported as ErrSchema.
func ApplySchema(ctx context.Context, conn *sql.DB) error {
	for _, st := range Schema {
		if _, err := conn.ExecContext(ctx, st.SQL); err != nil {
			return fmt.Errorf("%w: %s: %v", apperr.ErrSchema, st.Name, err)
		}
	}
	return nil
}
