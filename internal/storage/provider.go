// Package storage defines the vault file-system capability.
//
// The vault mirror only needs to read, write, list and delete files below a
// granted root, and to re-request access to that root. Anything that can do
// those things (a native directory, an in-memory tree, a sandboxed handle)
// can back a vault.
package storage

import (
	"context"
	"errors"
)

// ErrAccessRevoked is returned when access to the vault root has been lost.
var ErrAccessRevoked = errors.New("storage: access revoked")

// Entry is a direct child of a listed directory.
type Entry struct {
	Name  string
	IsDir bool
}

// Provider is the interface for vault file operations. All paths are
// slash-separated and relative to the vault root.
type Provider interface {
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// List returns the direct children of dir ("" is the root).
	List(dir string) ([]Entry, error)
	// Delete removes the file at path.
	Delete(path string) error
	// RequestAccess re-acquires access to the previously granted root.
	RequestAccess(ctx context.Context) error
}
