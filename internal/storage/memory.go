package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Provider. Access can be revoked and re-granted to
// model a directory handle that silently loses permission.
type Memory struct {
	mu      sync.RWMutex
	files   map[string][]byte
	revoked bool
	denied  bool
}

// NewMemory returns an empty, accessible in-memory vault.
func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

// Revoke makes every operation fail with ErrAccessRevoked until access is
// requested again.
func (m *Memory) Revoke() {
	m.mu.Lock()
	m.revoked = true
	m.mu.Unlock()
}

// DenyRequests makes RequestAccess fail, as if the user declined the prompt.
func (m *Memory) DenyRequests(deny bool) {
	m.mu.Lock()
	m.denied = deny
	m.mu.Unlock()
}

func clean(p string) (string, error) {
	c := path.Clean("/" + p)[1:]
	if strings.HasPrefix(p, "/") || strings.Contains(p, "..") {
		return "", fmt.Errorf("storage: path escapes vault root: %s", p)
	}
	return c, nil
}

func (m *Memory) Read(p string) ([]byte, error) {
	key, err := clean(p)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.revoked {
		return nil, ErrAccessRevoked
	}
	data, ok := m.files[key]
	if !ok {
		return nil, fmt.Errorf("storage: read %s: %w", p, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Write(p string, content []byte) error {
	key, err := clean(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revoked {
		return ErrAccessRevoked
	}
	m.files[key] = append([]byte(nil), content...)
	return nil
}

func (m *Memory) Delete(p string) error {
	key, err := clean(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revoked {
		return ErrAccessRevoked
	}
	if _, ok := m.files[key]; !ok {
		return fmt.Errorf("storage: delete %s: %w", p, fs.ErrNotExist)
	}
	delete(m.files, key)
	return nil
}

func (m *Memory) List(dir string) ([]Entry, error) {
	prefix, err := clean(dir)
	if err != nil {
		return nil, err
	}
	if prefix != "" {
		prefix += "/"
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.revoked {
		return nil, ErrAccessRevoked
	}
	seen := make(map[string]bool)
	for key := range m.files {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		name, _, isDir := strings.Cut(rest, "/")
		seen[name] = seen[name] || isDir
	}
	if len(seen) == 0 && prefix != "" {
		return nil, fmt.Errorf("storage: list %s: %w", dir, fs.ErrNotExist)
	}
	out := make([]Entry, 0, len(seen))
	for name, isDir := range seen {
		out = append(out, Entry{Name: name, IsDir: isDir})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) RequestAccess(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied {
		return fmt.Errorf("storage: access request denied: %w", fs.ErrPermission)
	}
	m.revoked = false
	return nil
}
