// Package content is the relational accessor for the collection / section /
// sub-section / document hierarchy. It keeps the SQLite cache and the vault
// mirror consistent on every document write.
package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/models"
	"github.com/starford/tessera/internal/parser"
	"github.com/starford/tessera/internal/sqlitedb"
	"github.com/starford/tessera/internal/vault"
)

// ChangeCounter records local modifications that still have to be synced.
type ChangeCounter interface {
	IncrementPending(ctx context.Context, collectionID string) error
}

// Options configures a Store.
type Options struct {
	DB           sqlitedb.Source
	Vault        *vault.Mirror
	Logger       *slog.Logger
	CollectionID string
	Changes      ChangeCounter
}

// Store reads and writes content rows.
type Store struct {
	db           sqlitedb.Source
	vault        *vault.Mirror
	logger       *slog.Logger
	collectionID string
	changes      ChangeCounter
}

// New creates a Store. Vault and Changes may be nil.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:           opts.DB,
		vault:        opts.Vault,
		logger:       logger,
		collectionID: opts.CollectionID,
		changes:      opts.Changes,
	}
}

// CollectionID returns the collection new sections are created in.
func (s *Store) CollectionID() string { return s.collectionID }

// conn returns the live connection, or apperr.ErrUnavailable when the store
// runs without durable storage.
func (s *Store) conn(ctx context.Context) (*sql.DB, error) {
	return sqlitedb.Conn(ctx, s.db)
}

// Identity. IDs are name-based so rebuilding the same tree yields the same
// rows.

func newID(kind, path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(kind+":"+path)).String()
}

// SectionID returns the ID of the section at path.
func SectionID(path string) string { return newID("section", path) }

// SubsectionID returns the ID of the sub-section at path.
func SubsectionID(path string) string { return newID("subsection", path) }

// DocumentID returns the ID of the document at path.
func DocumentID(path string) string { return newID("document", path) }

// location splits a document path into its parents.
type location struct {
	section    string
	subsection string // empty for documents directly under the section
	slug       string
}

func locate(path string) location {
	segs := strings.Split(path, "/")
	loc := location{section: segs[0], slug: segs[len(segs)-1]}
	if len(segs) > 2 {
		loc.subsection = strings.Join(segs[:len(segs)-1], "/")
	}
	return loc
}

func (l location) subsectionID() any {
	if l.subsection == "" {
		return nil
	}
	return SubsectionID(l.subsection)
}

// Inputs

// CollectionInput describes a collection upsert.
type CollectionInput struct {
	ID          string
	Name        string
	Description string
	RepoOwner   string
	RepoName    string
	RepoBranch  string
}

func (in CollectionInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.ID, validation.Required, validation.Length(1, 128)),
	)
}

// SectionInput describes a section upsert. Path is a single slug.
type SectionInput struct {
	Path        string
	Name        string
	Description string
	SortOrder   int
}

func (in SectionInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Path, validation.Required, validation.Match(vault.PathPattern), segments(1, 1)),
	)
}

// SubsectionInput describes a sub-section upsert. Path starts with the
// section slug, e.g. "wiki/getting-started".
type SubsectionInput struct {
	Path        string
	Name        string
	Description string
	SortOrder   int
}

func (in SubsectionInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Path, validation.Required, validation.Match(vault.PathPattern), segments(2, 0)),
	)
}

// DocumentInput describes a document upsert.
type DocumentInput struct {
	Path      string
	Title     string
	Content   string
	Metadata  models.DocumentMetadata
	SourceSHA string
	SourceURL string

	// Force overwrites a vault file that was edited externally.
	Force bool
	// Import marks writes that came from a sync rather than a local edit;
	// they do not count as pending changes.
	Import bool
	// FromVault marks content read from the document's own vault file. The
	// vault is neither checked for conflicts nor written back.
	FromVault bool
}

func (in DocumentInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Path, validation.Required, validation.Match(vault.PathPattern), segments(2, 0)),
		validation.Field(&in.Title, validation.Length(0, 500)),
	)
}

// ValidateDocumentPath checks that p is a well-formed document path.
func ValidateDocumentPath(p string) error {
	err := validation.Validate(p, validation.Required, validation.Match(vault.PathPattern), segments(2, 0))
	if err != nil {
		return apperr.Invalid(fmt.Errorf("path %q: %w", p, err))
	}
	return nil
}

// segments requires between min and max "/"-separated parts; max 0 means
// unbounded.
func segments(minN, maxN int) validation.Rule {
	return validation.By(func(v any) error {
		s, _ := v.(string)
		if s == "" {
			return nil
		}
		n := strings.Count(s, "/") + 1
		if n < minN {
			return fmt.Errorf("needs at least %d segments", minN)
		}
		if maxN > 0 && n > maxN {
			return fmt.Errorf("allows at most %d segments", maxN)
		}
		return nil
	})
}

// WriteResult reports the outcome of a document write.
type WriteResult struct {
	Path         string `json:"path"`
	ContentHash  string `json:"content_hash"`
	Created      bool   `json:"created"`
	Conflict     bool   `json:"conflict"`
	VaultWritten bool   `json:"vault_written"`
}

// SearchOptions narrows SearchDocuments.
type SearchOptions struct {
	Limit   int
	Offset  int
	Section string
	Tags    []string
}

// SearchHit is one ranked document match.
type SearchHit struct {
	Path    string   `json:"path"`
	Title   string   `json:"title"`
	Summary string   `json:"summary,omitempty"`
	Snippet string   `json:"snippet,omitempty"`
	Tags    []string `json:"tags"`
	Score   int      `json:"score"`
}

// resolveTitle picks the first non-empty of the explicit title, the
// frontmatter title, the first H1 and the humanized slug.
func resolveTitle(explicit, front, body, slug string) string {
	for _, t := range []string{explicit, front, parser.Title(body)} {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return parser.Humanize(slug)
}

func jsonList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(items)
	return string(b)
}
