// Package devserver runs a local HTTP server that speaks the same API the
// hosted backend speaks, backed by the in-memory store. It exists so the
// sync engine, the CLI, and the benchmarks can run end to end without
// network access.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/hermonbest/my-money-sub001/internal/remote"
	"github.com/hermonbest/my-money-sub001/internal/remote/memory"
)

const maxBodyBytes = 4 << 20

// Server serves the /rest/v1 API over an in-memory table store.
type Server struct {
	addr     string
	version  string
	token    string
	listener net.Listener
	server   *http.Server
	store    *memory.Backend

	wg     sync.WaitGroup
	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8090). Use 0 for an ephemeral port.
	Port int

	// Version reported by /health (default: 1.0.0).
	Version string

	// Token required in the apikey or Authorization header. Empty
	// disables authentication.
	Token string

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:    8090,
		Version: "1.0.0",
		Logger:  log.Default(),
	}
}

// NewServer creates a dev server with an empty store.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.Version == "" {
		config.Version = "1.0.0"
	}

	return &Server{
		addr:    fmt.Sprintf(":%d", config.Port),
		version: config.Version,
		token:   config.Token,
		store:   memory.New(),
		logger:  config.Logger,
	}
}

// Store exposes the backing tables for seeding and assertions.
func (s *Server) Store() *memory.Backend { return s.store }

// Start begins serving. It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("[devserver] listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("[devserver] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.wg.Wait()
	return nil
}

// GetAddr returns the bound address, useful with an ephemeral port.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the base URL clients should dial.
func (s *Server) URL() string {
	return "http://" + s.GetAddr()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Prefer", "apikey"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/rest/v1/{table}", func(r chi.Router) {
		if s.token != "" {
			r.Use(s.requireToken)
		}
		r.Post("/", s.handleWrite)
		r.Patch("/", s.handlePatch)
		r.Delete("/", s.handleDelete)
		r.Get("/", s.handleGet)
	})

	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("apikey")
		if key == "" {
			key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if key != s.token {
			writeError(w, http.StatusUnauthorized, "invalid or missing api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleWrite covers both insert and upsert; the Prefer header picks.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	rows, err := decodeRows(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	upsert := strings.Contains(r.Header.Get("Prefer"), "resolution=merge-duplicates")

	var stored []remote.Row
	if upsert {
		stored, err = s.store.UpsertMany(r.Context(), table, rows)
	} else {
		stored, err = s.store.InsertMany(r.Context(), table, rows)
	}
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	id, ok := idFilter(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing id=eq. filter")
		return
	}
	rows, err := decodeRows(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(rows) != 1 {
		writeError(w, http.StatusBadRequest, "PATCH body must be a single object")
		return
	}

	updated, err := s.store.Update(r.Context(), table, id, rows[0])
	if errors.Is(err, remote.ErrNotFound) {
		// No match is an empty representation, not an error.
		writeJSON(w, http.StatusOK, []remote.Row{})
		return
	}
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, []remote.Row{updated})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	id, ok := idFilter(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing id=eq. filter")
		return
	}
	if err := s.store.Delete(r.Context(), table, id); err != nil {
		writeBackendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	if id, ok := idFilter(r); ok {
		row, err := s.store.Get(r.Context(), table, id)
		if errors.Is(err, remote.ErrNotFound) {
			writeJSON(w, http.StatusOK, []remote.Row{})
			return
		}
		if err != nil {
			writeBackendError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, []remote.Row{row})
		return
	}
	writeJSON(w, http.StatusOK, s.store.Rows(table))
}

// idFilter parses the id=eq.{id} query parameter.
func idFilter(r *http.Request) (string, bool) {
	raw := r.URL.Query().Get("id")
	if !strings.HasPrefix(raw, "eq.") {
		return "", false
	}
	id := strings.TrimPrefix(raw, "eq.")
	return id, id != ""
}

// decodeRows accepts either a JSON array or a single JSON object.
func decodeRows(r *http.Request) ([]remote.Row, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	var rows []remote.Row
	if err := json.Unmarshal(data, &rows); err == nil {
		return rows, nil
	}
	var row remote.Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("request body must be a JSON object or array")
	}
	return []remote.Row{row}, nil
}

func writeBackendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, remote.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, remote.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, remote.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
