package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"dealscout/internal/scan"
	"dealscout/internal/sources"
	"dealscout/pkg/types"
)

// Scanner runs one orchestration pass. Satisfied by *scan.Engine.
type Scanner interface {
	Run(ctx context.Context, req types.ScanRequest) (*scan.Report, error)
}

// SourceDirectory exposes what the registry discovered at startup.
// Satisfied by *sources.Registry.
type SourceDirectory interface {
	Descriptors() []sources.Descriptor
	Skipped() []sources.SkipReport
}

// Server exposes the HTTP API for running scans.
type Server struct {
	scanner Scanner
	dir     SourceDirectory
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewServer wires handlers onto an HTTP mux.
func NewServer(scanner Scanner, dir SourceDirectory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		scanner: scanner,
		dir:     dir,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/scan", s.handleScan)
	s.mux.HandleFunc("/api/sources", s.handleSources)
	s.mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	s.mux.HandleFunc("/docs", s.handleDocs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req types.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json payload: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	report, err := s.scanner.Run(r.Context(), req)
	if err != nil {
		var unknown *sources.UnknownSourceError
		switch {
		case errors.As(err, &unknown):
			http.Error(w, unknown.Error(), http.StatusBadRequest)
		case errors.Is(err, scan.ErrAllSourcesFailed):
			// The report still carries the per-source breakdown; total
			// failure is data, not a transport error.
			writeJSON(w, http.StatusOK, report)
		default:
			s.logger.Error("scan request failed", "query", req.Query, "error", err)
			http.Error(w, "scan failed", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, SourcesResponse{
		Sources: s.dir.Descriptors(),
		Skipped: s.dir.Skipped(),
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
