// Package server is the local HTTP adapter: it binds browser requests to
// controller commands and returns JSON views of the result.
//
// Routes:
//
//	GET  /healthz              liveness
//	GET  /api/state            controller snapshot
//	POST /api/summary/reload   load the backend's current summary
//	POST /api/upload           multipart field "file"
//	PUT  /api/table/filter     {"query": "..."}
//	POST /api/charts/refresh   {"filename": "..."} (optional)
//	POST /api/report           {"filename": "..."} (optional)
//	POST /api/cleaned          {"filename": "..."} (optional)
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/koustreak/edasync/internal/controller"
	"github.com/koustreak/edasync/internal/logger"
)

// Config holds the adapter settings.
type Config struct {
	Addr string

	// MaxUploadBytes bounds the file part; the request body may exceed it
	// by formOverhead.
	MaxUploadBytes int64

	// ShutdownTimeout bounds graceful shutdown in Run.
	ShutdownTimeout time.Duration

	Logger *logger.Logger
}

// DefaultConfig listens on loopback only.
func DefaultConfig() *Config {
	return &Config{
		Addr:            "127.0.0.1:8088",
		MaxUploadBytes:  10 << 20,
		ShutdownTimeout: 10 * time.Second,
	}
}

const formOverhead = 1 << 20

// Server routes HTTP requests to one controller.
type Server struct {
	router *chi.Mux
	ctl    *controller.Controller
	cfg    Config
	log    *logger.Logger
}

// New builds the router.
func New(ctl *controller.Controller, cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultConfig().MaxUploadBytes
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	s := &Server{
		router: chi.NewRouter(),
		ctl:    ctl,
		cfg:    c,
		log:    c.Logger.Component("server"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(accessLog(s.log))
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/summary/reload", s.handleReload)
		r.Post("/upload", s.handleUpload)
		r.Put("/table/filter", s.handleTableFilter)
		r.Post("/charts/refresh", s.handleChartsRefresh)
		r.Post("/report", s.handleReport)
		r.Post("/cleaned", s.handleCleaned)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening on http://%s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// accessLog writes one zerolog line per request and puts the request's
// logger in its context.
func accessLog(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			reqLog := log.ForRequest(middleware.GetReqID(r.Context()))
			r = r.WithContext(reqLog.WithContext(r.Context()))
			defer func() {
				reqLog.RequestEvent().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
