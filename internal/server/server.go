package server

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ginjaninja78/workhours-merger/internal/aggregator"
	"github.com/ginjaninja78/workhours-merger/internal/pipeline"
	workhoursmiddleware "github.com/ginjaninja78/workhours-merger/internal/server/middleware"
)

// Pipeline is the part of pipeline.Pipeline the HTTP handlers use.
type Pipeline interface {
	Search(ctx context.Context) ([]string, error)
	ClearStaging(ctx context.Context) (int, error)
	ExtractAll(ctx context.Context, files []string) []pipeline.Result
	Merge(ctx context.Context) (*aggregator.Result, map[string]string, error)
}

type WebAPI struct {
	router *chi.Mux
	logger *zerolog.Logger
	server *http.Server
	config Config
}

type Dependencies struct {
	Pipeline Pipeline
	Logger   zerolog.Logger
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration

	// StagingDir keys the lock that serializes staging access.
	StagingDir string

	// OutputDir and Keywords bound what GET /outputs/{unit} may serve.
	OutputDir string
	Keywords  []string

	Dependencies Dependencies
}

func NewWebAPI(config Config) *WebAPI {
	logger := config.Dependencies.Logger
	router := ConfigureRouter(config)

	return &WebAPI{
		router: router,
		logger: &logger,
		config: config,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func ConfigureRouter(config Config) *chi.Mux {
	logger := config.Dependencies.Logger
	h := &handler{
		pipeline:   config.Dependencies.Pipeline,
		locks:      defaultLocks,
		stagingDir: config.StagingDir,
		outputDir:  config.OutputDir,
		keywords:   config.Keywords,
	}

	router := chi.NewRouter()

	router.Use(workhoursmiddleware.Logger(&logger))
	router.Use(middleware.Recoverer)

	router.Get("/healthz", h.Health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/search", h.Search)
		r.Post("/extract", h.Extract)
		r.Post("/merge", h.Merge)
		r.Get("/outputs/{unit}", h.GetOutput)
		r.Delete("/staging", h.ClearStaging)
	})

	return router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (w *WebAPI) Start(ctx context.Context) error {
	serverErrors := make(chan error, 1)

	go func() {
		w.logger.Info().Str("addr", w.server.Addr).Msg("starting server")
		serverErrors <- w.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		w.logger.Info().Msg("shutdown initiated")

		timeout := w.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err := w.server.Shutdown(shutdownCtx)
		if err != nil {
			w.logger.Error().Err(err).Msg("graceful shutdown failed")
			err = w.server.Close()
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// =============================================================================
// STAGING LOCKS
// =============================================================================

// dirLocks hands out one mutex per staging directory. A merge lists the
// directory and then reads each file, so extracts, clears and merges on
// the same directory must not interleave.
type dirLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var defaultLocks = newDirLocks()

func newDirLocks() *dirLocks {
	return &dirLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for dir and returns its release function.
func (d *dirLocks) lock(dir string) func() {
	key := dir
	if abs, err := filepath.Abs(dir); err == nil {
		key = abs
	}

	d.mu.Lock()
	m, ok := d.locks[key]
	if !ok {
		m = &sync.Mutex{}
		d.locks[key] = m
	}
	d.mu.Unlock()

	m.Lock()
	return m.Unlock
}
