// Package web exposes the analysis pipeline over HTTP: an analyze
// trigger, the persisted CSV artifacts for the visualization layer, and
// an SSE stream of run progress events.
package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vadiminshakov/tokentrace/internal/clients"
	"github.com/vadiminshakov/tokentrace/internal/domain"
	"github.com/vadiminshakov/tokentrace/internal/storage/runjournal"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

const eventPollInterval = 2 * time.Second

type analysisRunner interface {
	Run(ctx context.Context, tokenID string) (domain.AnalysisResult, error)
}

type artifactReader interface {
	ReadArtifacts(tokenID string) (holders string, transactions string, err error)
}

type runEventReader interface {
	EventsAfter(index uint64) ([]runjournal.EventRecord, error)
}

// Server exposes the analyze/visualize endpoints and the run event stream.
type Server struct {
	Addr     string
	Runner   analysisRunner
	Store    artifactReader
	Journal  runEventReader
	Logger   *zap.Logger
	mu       sync.Mutex
	analyses map[string]struct{}
}

// NewServer creates a new web server instance. journal may be nil.
func NewServer(addr string, runner analysisRunner, store artifactReader, journal runEventReader, logger *zap.Logger) *Server {
	return &Server{
		Addr:     addr,
		Runner:   runner,
		Store:    store,
		Journal:  journal,
		Logger:   logger,
		analyses: make(map[string]struct{}),
	}
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/visualize/", s.handleVisualize)
	mux.HandleFunc("/api/runs/stream", s.handleRunStream)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.mux(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates via
// ACME. It also starts an HTTP server on port 80 to handle ACME HTTP-01
// challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(domains) == 0 {
		return fmt.Errorf("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	server := &http.Server{
		Addr:              ":443",
		Handler:           s.mux(),
		TLSConfig:         &tls.Config{GetCertificate: manager.GetCertificate},
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	challenge := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
	}
	go func() {
		if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Warn("ACME challenge server stopped", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		_ = challenge.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type analyzeRequest struct {
	TokenID string `json:"token_id"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TokenID == "" {
		s.writeError(w, http.StatusBadRequest, "token_id is required")
		return
	}

	if !s.beginAnalysis(req.TokenID) {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("analysis of %s is already running", req.TokenID))
		return
	}
	defer s.endAnalysis(req.TokenID)

	result, err := s.Runner.Run(r.Context(), req.TokenID)
	if err != nil {
		s.Logger.Error("analysis failed", zap.String("token", req.TokenID), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, clients.ErrTokenNotFound) {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVisualize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tokenID := strings.TrimPrefix(r.URL.Path, "/api/visualize/")
	if tokenID == "" || strings.Contains(tokenID, "/") {
		s.writeError(w, http.StatusBadRequest, "token id is required")
		return
	}

	holders, transactions, err := s.Store.ReadArtifacts(tokenID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("no analysis data for %s", tokenID))
			return
		}
		s.Logger.Error("read artifacts failed", zap.String("token", tokenID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read analysis data")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"holders":      holders,
		"transactions": transactions,
	})
}

func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "run journal not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// comment heartbeat every 30s so proxies keep the connection
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(eventPollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendEvents := func() error {
		records, err := s.Journal.EventsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(record.Event)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "event: run\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = record.Index
		}
		return nil
	}

	if err := sendEvents(); err != nil {
		http.Error(w, "failed to load run events", http.StatusInternalServerError)
		s.Logger.Error("run stream initial load failed", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendEvents(); err != nil {
				s.Logger.Warn("run stream poll failed", zap.Error(err))
			}
		}
	}
}

func (s *Server) beginAnalysis(tokenID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.analyses[tokenID]; running {
		return false
	}
	s.analyses[tokenID] = struct{}{}
	return true
}

func (s *Server) endAnalysis(tokenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.analyses, tokenID)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.Logger.Warn("write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
