// Package vault mirrors documents to a user-owned directory tree as
// frontmatter-prefixed Markdown files.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/starford/tessera/internal/apperr"
	"github.com/starford/tessera/internal/models"
	"github.com/starford/tessera/internal/storage"
)

// ScanProgress is reported after each directory visited by Scan.
type ScanProgress struct {
	Dir         string
	DirsScanned int
	FilesFound  int
}

// Mirror is the optional secondary persistence for documents. A nil *Mirror
// is a valid, permanently disconnected mirror.
type Mirror struct {
	fs     storage.Provider
	logger *slog.Logger

	ready     atomic.Bool
	suspended atomic.Int32
}

// New wraps a storage provider. The mirror is not ready until Reconnect
// succeeds.
func New(provider storage.Provider, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{fs: provider, logger: logger}
}

// Ready reports whether the vault is connected and accessible.
func (m *Mirror) Ready() bool {
	return m != nil && m.fs != nil && m.ready.Load()
}

// Writable reports whether document write-back is currently allowed: the
// vault is ready and no import has suspended it.
func (m *Mirror) Writable() bool {
	return m.Ready() && m.suspended.Load() == 0
}

// Reconnect re-requests access to the previously granted directory. The ready
// state changes only when access is granted.
func (m *Mirror) Reconnect(ctx context.Context) error {
	if m == nil || m.fs == nil {
		return fmt.Errorf("%w: no vault configured", apperr.ErrUnavailable)
	}
	if err := m.fs.RequestAccess(ctx); err != nil {
		m.logger.Warn("vault: reconnect failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", apperr.ErrUnavailable, err)
	}
	m.ready.Store(true)
	m.logger.Info("vault: connected")
	return nil
}

// Suspend disables write-back until the returned restore func is called.
// Restore is idempotent.
func (m *Mirror) Suspend() (restore func()) {
	if m == nil {
		return func() {}
	}
	m.suspended.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { m.suspended.Add(-1) })
	}
}

// WriteDocument serializes metadata and body to the document's vault file.
func (m *Mirror) WriteDocument(docPath string, meta models.DocumentMetadata, body string) error {
	vp, err := PathToVaultPath(docPath)
	if err != nil {
		return err
	}
	return m.WriteRaw(vp, Encode(meta, body))
}

// WriteRaw writes bytes to a vault-relative path.
func (m *Mirror) WriteRaw(vp string, data []byte) error {
	if !m.Ready() {
		return apperr.ErrUnavailable
	}
	if err := m.fs.Write(vp, data); err != nil {
		return m.observe("write", vp, err)
	}
	return nil
}

// ReadDocument reads and decodes the document's vault file.
func (m *Mirror) ReadDocument(docPath string) (models.DocumentMetadata, string, error) {
	vp, err := PathToVaultPath(docPath)
	if err != nil {
		return models.DocumentMetadata{}, "", err
	}
	data, err := m.ReadRaw(vp)
	if err != nil {
		return models.DocumentMetadata{}, "", err
	}
	meta, body := Decode(data)
	return meta, body, nil
}

// ReadRaw reads bytes from a vault-relative path. A missing file is reported
// as apperr.ErrNotFound.
func (m *Mirror) ReadRaw(vp string) ([]byte, error) {
	if !m.Ready() {
		return nil, apperr.ErrUnavailable
	}
	data, err := m.fs.Read(vp)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, vp)
		}
		return nil, m.observe("read", vp, err)
	}
	return data, nil
}

// DeleteDocument removes the document's vault file. A missing file is not an
// error.
func (m *Mirror) DeleteDocument(docPath string) error {
	vp, err := PathToVaultPath(docPath)
	if err != nil {
		return err
	}
	if !m.Ready() {
		return apperr.ErrUnavailable
	}
	if err := m.fs.Delete(vp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return m.observe("delete", vp, err)
	}
	return nil
}

// Scan walks the vault and returns every document file, sorted. Hidden
// entries are skipped and only directories are descended into. ctx is
// checked between directories.
func (m *Mirror) Scan(ctx context.Context, progress func(ScanProgress)) ([]string, error) {
	if !m.Ready() {
		return nil, apperr.ErrUnavailable
	}
	var (
		files []string
		stack = []string{""}
		dirs  int
	)
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := m.fs.List(dir)
		if err != nil {
			return nil, m.observe("list", dir, err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name, ".") {
				continue
			}
			rel := path.Join(dir, e.Name)
			if e.IsDir {
				stack = append(stack, rel)
				continue
			}
			if IsDocumentFile(e.Name) {
				files = append(files, rel)
			}
		}
		dirs++
		if progress != nil {
			progress(ScanProgress{Dir: dir, DirsScanned: dirs, FilesFound: len(files)})
		}
	}
	sort.Strings(files)
	return files, nil
}

// observe drops the ready state when err shows that access was lost.
func (m *Mirror) observe(op, p string, err error) error {
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, storage.ErrAccessRevoked) {
		if m.ready.CompareAndSwap(true, false) {
			m.logger.Warn("vault: access lost, reconnect required",
				slog.String("op", op),
				slog.String("path", p),
				slog.String("error", err.Error()))
		}
		return fmt.Errorf("%w: %v", apperr.ErrUnavailable, err)
	}
	return fmt.Errorf("vault: %s %s: %w", op, p, err)
}
