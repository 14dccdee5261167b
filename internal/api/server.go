// Package api exposes the lifecycle manager over HTTP for the web
// application and operators.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sandiman184/e-raport/internal/lifecycle"
	"github.com/Sandiman184/e-raport/internal/logger"
	"github.com/Sandiman184/e-raport/internal/metrics"
)

type Options struct {
	Addr              string
	RequestsPerMinute int // per client IP on mutating routes, 0 disables
	MaxUploadBytes    int64
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	Logger            *logger.Logger
}

type Server struct {
	mgr  *lifecycle.Manager
	opts Options
	log  *logger.Logger
}

func NewServer(mgr *lifecycle.Manager, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 16 << 20
	}
	return &Server{mgr: mgr, opts: opts, log: opts.Logger}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.withLogger)
	r.Use(s.instrument)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/backups", s.listBackups)
		r.Get("/backups/{name}/download", s.downloadBackup)
		r.Get("/impact", s.impact)
		r.Get("/estimate", s.estimate)
		r.Get("/audit", s.listAudit)
		r.Get("/audit/verify", s.verifyAudit)

		r.Group(func(r chi.Router) {
			if s.opts.RequestsPerMinute > 0 {
				r.Use(httprate.Limit(
					s.opts.RequestsPerMinute,
					time.Minute,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
						respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", "Wait a minute and retry.")
					}),
				))
			}
			r.Post("/backups", s.createBackup)
			r.Delete("/backups/{name}", s.deleteBackup)
			r.Post("/backups/{name}/restore", s.restoreBackup)
			r.Post("/restore/upload", s.restoreUpload)
			r.Post("/prune", s.prune)
			r.Post("/reset", s.reset)
		})
	})
	return r
}

func (s *Server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := s.log.With("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), l)))
	})
}

// instrument counts requests by route pattern rather than raw path, so
// snapshot names do not explode label cardinality.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTP(r.Method, route, status)
	})
}

// ListenAndServe runs until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.opts.Addr)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.log.Info("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
