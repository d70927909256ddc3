// Copyright 2025 James Ross
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/config"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/obs"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/queue"
)

type Server struct {
	cfg    *config.Config
	log    *zap.Logger
	router *mux.Router
}

func NewServer(cfg *config.Config, q *queue.Queue, log *zap.Logger) *Server {
	h := NewHandler(q, log)
	r := mux.NewRouter()
	r.HandleFunc("/ping", h.Ping).Methods("GET")
	r.HandleFunc("/jobs", h.CreateJob).Methods("POST")
	r.HandleFunc("/jobs/{job_id}", h.GetJob).Methods("GET")
	return &Server{cfg: cfg, log: log, router: r}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains within the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.HTTP.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", obs.String("addr", s.cfg.HTTP.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
