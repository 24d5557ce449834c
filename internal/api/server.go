// Package api serves the tracker's overview, topic rows, sync state and run
// history over HTTP for mailtracker serve.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wesm/mailtracker/internal/config"
	"github.com/wesm/mailtracker/internal/report"
	"github.com/wesm/mailtracker/internal/scheduler"
	"github.com/wesm/mailtracker/internal/store"
)

// TrackerData reads the current workbook and sync state.
type TrackerData interface {
	Overview() ([]report.Summary, error)
	TopicRows(topic string) (rows []report.Row, found bool, err error)
	State() (*StateInfo, error)
}

// RunStore reads the run history.
type RunStore interface {
	ListRuns(limit int) ([]store.Run, error)
}

// SyncScheduler is the part of the scheduler the API drives.
type SyncScheduler interface {
	TriggerSync() error
	Status() scheduler.Status
}

// Server is the HTTP API.
type Server struct {
	cfg     config.ServerConfig
	data    TrackerData
	runs    RunStore
	sched   SyncScheduler
	logger  *slog.Logger
	limiter *RateLimiter
	handler http.Handler
	httpSrv *http.Server
}

// NewServer builds the server. runs and sched may be nil: run history and
// manual sync then answer 503.
func NewServer(cfg config.ServerConfig, data TrackerData, runs RunStore, sched SyncScheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		data:    data,
		runs:    runs,
		sched:   sched,
		logger:  logger,
		limiter: NewRateLimiter(10, 20),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, s.accessLog, chimw.Recoverer,
		chimw.Timeout(time.Minute), RateLimitMiddleware(s.limiter))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireKey)
		r.Get("/topics", s.handleListTopics)
		r.Get("/topics/{topic}/messages", s.handleTopicMessages)
		r.Get("/state", s.handleState)
		r.Get("/runs", s.handleListRuns)
		r.Post("/sync", s.handleTriggerSync)
		r.Get("/scheduler/status", s.handleSchedulerStatus)
	})
	return r
}

// Handler returns the routed handler without a listener.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr is the configured listen address; the bind address defaults to
// loopback.
func (s *Server) Addr() string {
	host := s.cfg.BindAddr
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(s.cfg.APIPort))
}

// Start serves on Addr until Shutdown, after which it returns nil. A
// non-loopback bind address requires an API key.
func (s *Server) Start() error {
	switch {
	case s.cfg.APIKey == "" && !isLoopback(s.cfg.BindAddr):
		return fmt.Errorf("refusing to listen on %s without [server] api_key", s.cfg.BindAddr)
	case s.cfg.APIKey == "":
		s.logger.Warn("API is unauthenticated; set [server] api_key in config.toml")
	}

	s.httpSrv = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
	s.logger.Info("api listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Close()
	if s.httpSrv == nil {
		return nil
	}
	s.logger.Info("api shutting down")
	return s.httpSrv.Shutdown(ctx)
}

func isLoopback(host string) bool {
	if host == "" || strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()))
	})
}

// requireKey checks "Authorization: Bearer <key>" or "X-API-Key: <key>"
// against the configured key. With no key configured it lets everything
// through.
func (s *Server) requireKey(next http.Handler) http.Handler {
	if s.cfg.APIKey == "" {
		return next
	}
	want := []byte(s.cfg.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			got = r.Header.Get("X-API-Key")
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			s.logger.Warn("rejected API request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
