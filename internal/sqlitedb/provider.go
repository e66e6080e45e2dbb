// Package sqlitedb owns the embedded SQLite store: schema declaration and a
// lazily opened, process-wide handle.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/starford/tessera/internal/apperr"
)

// Handle is the shared connection to the embedded store. The Unavailable
// handle carries no connection; components must treat it as a working no-op.
type Handle struct {
	db *sql.DB
}

// Unavailable is the sentinel handle returned when no durable storage exists.
var Unavailable = &Handle{}

// Available reports whether the handle is backed by a live connection.
func (h *Handle) Available() bool {
	return h != nil && h.db != nil
}

// DB returns the underlying connection, or nil for the Unavailable handle.
func (h *Handle) DB() *sql.DB {
	if h == nil {
		return nil
	}
	return h.db
}

// Config configures the provider. An empty Path selects memory-less mode.
type Config struct {
	Path string
}

type connectFunc func(ctx context.Context, path string) (*sql.DB, error)

// Provider opens the store at most once per process and hands every caller
// the same Handle.
type Provider struct {
	cfg     Config
	logger  *slog.Logger
	connect connectFunc

	group singleflight.Group

	mu     sync.Mutex
	handle *Handle
}

// NewProvider creates a provider. Nothing is opened until Get is called.
func NewProvider(cfg Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{cfg: cfg, logger: logger, connect: connect}
}

// NewHandle wraps an already-open connection. The schema is applied.
func NewHandle(ctx context.Context, conn *sql.DB) (*Handle, error) {
	if err := ApplySchema(ctx, conn); err != nil {
		return nil, err
	}
	return &Handle{db: conn}, nil
}

// Get returns the shared handle, opening it on first use. Callers arriving
// while the first open is in flight wait for and share its result.
// A schema failure is returned as an error and is not cached. The open
// outlives the caller that started it, since its result is cached for the
// whole process.
func (p *Provider) Get(ctx context.Context) (*Handle, error) {
	if h := p.cached(); h != nil {
		return h, nil
	}
	openCtx := context.WithoutCancel(ctx)
	v, err, _ := p.group.Do("open", func() (any, error) {
		if h := p.cached(); h != nil {
			return h, nil
		}
		h, err := p.open(openCtx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.handle = h
		p.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (p *Provider) cached() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

func (p *Provider) open(ctx context.Context) (*Handle, error) {
	if p.cfg.Path == "" {
		p.logger.Warn("sqlitedb: no database path configured, running without durable storage")
		return Unavailable, nil
	}
	conn, err := p.connect(ctx, p.cfg.Path)
	if err != nil {
		p.logger.Warn("sqlitedb: store unavailable, running without durable storage",
			slog.String("path", p.cfg.Path),
			slog.String("error", err.Error()))
		return Unavailable, nil
	}
	h, err := NewHandle(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.logger.Info("sqlitedb: store opened",
		slog.String("path", p.cfg.Path),
		slog.String("driver", DriverName))
	return h, nil
}

// Close releases the connection. A later Get reopens it.
func (p *Provider) Close() error {
	p.mu.Lock()
	h := p.handle
	p.handle = nil
	p.mu.Unlock()
	if h.Available() {
		return h.db.Close()
	}
	return nil
}

func connect(ctx context.Context, path string) (*sql.DB, error) {
	conn, err := sql.Open(DriverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: open: %w", err)
	}
	// Single writer; also keeps ":memory:" databases on one connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitedb: ping: %w", err)
	}
	return conn, nil
}

// Source hands out the shared handle. *Provider implements it.
type Source interface {
	Get(ctx context.Context) (*Handle, error)
}

// Conn resolves src to a live connection. It returns apperr.ErrUnavailable
// when src is nil or yields the Unavailable handle.
func Conn(ctx context.Context, src Source) (*sql.DB, error) {
	if src == nil {
		return nil, apperr.ErrUnavailable
	}
	h, err := src.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !h.Available() {
		return nil, apperr.ErrUnavailable
	}
	return h.db, nil
}
