package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"folio/internal/config"
	"folio/internal/executor"
	"folio/internal/logging"
	"folio/internal/taskproto"
)

// maxTaskBody bounds a task payload accepted over HTTP. It leaves room for
// the envelope around the payload on the worker stream.
const maxTaskBody = taskproto.MaxPayloadBytes

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/_folio", func(r chi.Router) {
		r.Use(bearerAuth(token))
		r.Get("/status", s.handleStatus)
		r.Get("/generations", s.handleGenerations)
		r.Post("/generations/activate", s.handleActivate)
		r.Post("/tasks/{kind}", s.handleTask)
		r.Delete("/worker", s.handleTerminateWorker)
		r.Post("/modules/preload", s.handlePreload)
	})
	r.Handle("/metrics", s.daemon.metrics.Handler())
	r.Handle("/*", s.daemon.cache)
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound listen address, or "" before start.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) stop() {
	if s == nil || s.listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.listener = nil
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleGenerations(w http.ResponseWriter, r *http.Request) {
	gens, err := s.daemon.Generations(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"generations": gens})
}

func (s *apiServer) handleActivate(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.daemon.Activate(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if deleted == nil {
		deleted = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (s *apiServer) handleTerminateWorker(w http.ResponseWriter, _ *http.Request) {
	if err := s.daemon.TerminateWorker(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handlePreload(w http.ResponseWriter, _ *http.Request) {
	s.daemon.Preload()
	w.WriteHeader(http.StatusAccepted)
}

func (s *apiServer) handleTask(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTaskBody+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read payload: "+err.Error())
		return
	}
	if len(body) > maxTaskBody {
		s.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	var payload json.RawMessage
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 {
		if !json.Valid(trimmed) {
			s.writeError(w, http.StatusBadRequest, "payload must be JSON")
			return
		}
		payload = trimmed
	}

	result, err := s.daemon.Execute(r.Context(), kind, payload)
	if err != nil {
		s.writeError(w, taskErrorStatus(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	_, _ = w.Write(result)
}

func taskErrorStatus(err error) int {
	switch {
	case errors.Is(err, executor.ErrTaskFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, executor.ErrChannelUnavailable), errors.Is(err, executor.ErrChannelClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, executor.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			logging.String("request_id", middleware.GetReqID(r.Context())),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Int("bytes", ww.BytesWritten()),
			logging.Duration("duration", time.Since(start)))
	})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
