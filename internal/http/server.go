// Package http exposes the size table as a JSON API.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sizeseg/internal/cache"
	"sizeseg/internal/core"
	applog "sizeseg/internal/log"
	"sizeseg/internal/services"
	"sizeseg/internal/sheets"
	"sizeseg/internal/table"
)

const maxFormBytes = 64 << 10

// Saver commits the current table.
type Saver interface {
	Save(ctx context.Context) (services.SaveResult, error)
}

// Options tunes a Server. Zero values fall back to defaults.
type Options struct {
	Logger         *applog.Logger
	Snapshots      sheets.SnapshotLister // optional, enables GET /api/snapshots
	MaxUploadBytes int64
	ViewCacheSize  int
	ViewCacheTTL   time.Duration
	RateLimit      int
	RateWindow     time.Duration
	CleanupEvery   time.Duration
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentHTTP)
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = 10 << 20
	}
	if o.ViewCacheSize <= 0 {
		o.ViewCacheSize = 64
	}
	if o.ViewCacheTTL <= 0 {
		o.ViewCacheTTL = 10 * time.Minute
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 120
	}
	if o.RateWindow <= 0 {
		o.RateWindow = time.Minute
	}
	if o.CleanupEvery <= 0 {
		o.CleanupEvery = 5 * time.Minute
	}
}

type Server struct {
	http.Server
	store       *table.Store
	saver       Saver
	snapshots   sheets.SnapshotLister
	views       *cache.Memo[core.View]
	caches      *cache.Manager
	rateLimiter *rateLimiter
	maxUpload   int64

	shutdownOnce sync.Once
}

// NewServer configures routes and returns a ready-to-run http.Server.
func NewServer(addr string, store *table.Store, saver Saver, opts Options) *Server {
	opts.setDefaults()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		store:       store,
		saver:       saver,
		snapshots:   opts.Snapshots,
		views:       cache.NewMemo(cache.NewLRUCache[core.View](opts.ViewCacheSize, opts.ViewCacheTTL)),
		caches:      cache.NewManager(),
		rateLimiter: newRateLimiter(opts.RateLimit, opts.RateWindow),
		maxUpload:   opts.MaxUploadBytes,
	}

	s.caches.Register(s.views.Cache())
	s.caches.StartCleanup(opts.CleanupEvery)
	s.rateLimiter.startCleanup(opts.CleanupEvery)

	s.Handler = s.routes(opts.Logger)
	return s
}

func (s *Server) routes(logger *applog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(applog.Middleware(logger))
	r.Use(applog.AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(flagSuspicious)

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(securityHeaders)
		r.Use(s.rateLimiter.middleware)

		r.Get("/sheet", s.handleGetSheet)
		r.Post("/sheet/save", s.handleSave)
		r.Get("/sheet/export.xlsx", s.handleExport)
		r.Post("/sheet/import", s.handleImport)

		r.Post("/rows", s.handleAddRow)
		r.Delete("/rows/{rowID}", s.handleRemoveRow)
		r.Put("/rows/{rowID}/cells/{column}", s.handleUpdateCell)

		r.Post("/groups", s.handleAddGroup)
		r.Delete("/groups/{groupID}", s.handleRemoveGroup)
		r.Post("/groups/{groupID}/toggle", s.handleToggleGroup)
		r.Put("/groups/{groupID}/name", s.handleRenameGroup)
		r.Post("/groups/{groupID}/columns/{column}/toggle", s.handleToggleColumn)

		if s.snapshots != nil {
			r.Get("/snapshots", s.handleListSnapshots)
		}
	})
	return r
}

// Shutdown stops background cleanup and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
		slog.InfoContext(ctx, "HTTP server stopped", "error", shutdownErr)
	})
	return shutdownErr
}
