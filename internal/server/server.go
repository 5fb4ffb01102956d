package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/soundrecorder/internal/library"
	"github.com/audiolibrelab/soundrecorder/internal/prefs"
	"github.com/audiolibrelab/soundrecorder/internal/service"
)

// Items exposes committed recordings
type Items interface {
	List() []library.Item
	Get(ref string) (library.Item, bool)
}

// Prefs reads and writes preferences by key
type Prefs interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Server exposes the recorder service over HTTP and WebSocket
type Server struct {
	service service.Service
	items   Items
	prefs   Prefs
	listen  string
}

// StartRequest is the body of POST /api/start
type StartRequest struct {
	Tag      string `json:"tag"`
	Circular bool   `json:"circular"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Success bool             `json:"success"`
	Status  service.Snapshot `json:"status"`
}

// ItemInfo describes one library item for the API
type ItemInfo struct {
	library.Item
	SizeHuman string `json:"size_human"`
	StreamURL string `json:"stream_url"`
}

// PrefsResponse lists preference values by key
type PrefsResponse struct {
	Prefs map[string]string `json:"prefs"`
}

// SetPrefRequest is the body of POST /api/prefs
type SetPrefRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ItemsResponse represents the JSON response for the items endpoint
type ItemsResponse struct {
	Items      []ItemInfo `json:"items"`
	TotalCount int        `json:"total_count"`
}

// New creates a new web server instance. items and store may be nil.
func New(svc service.Service, items Items, store Prefs, listen string) *Server {
	return &Server{service: svc, items: items, prefs: store, listen: listen}
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/pause", s.handlePause)
	mux.HandleFunc("/api/resume", s.handleResume)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/items", s.handleItems)
	mux.HandleFunc("/api/items/stream/", s.handleItemStream)
	mux.HandleFunc("/api/prefs", s.handlePrefs)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "address", s.listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	slog.Info("Server stopped")
	return nil
}

// handleStart starts a new recording
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req StartRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid request body", "operation", "start", "error", err)
			return
		}
	}

	slog.Debug("Start request received", "tag", req.Tag, "circular", req.Circular)

	if err := s.service.Start(r.Context(), req.Tag, req.Circular); err != nil {
		s.sendServiceError(w, err, "start")
		return
	}
	sendJSON(w, GenericResponse{Success: true, Message: "Recording started"})
}

// handleStop stops the current recording session
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.Stop(r.Context()); err != nil {
		s.sendServiceError(w, err, "stop")
		return
	}
	sendJSON(w, GenericResponse{Success: true, Message: "Recording stopped, saving"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.Pause(r.Context()); err != nil {
		s.sendServiceError(w, err, "pause")
		return
	}
	sendJSON(w, GenericResponse{Success: true, Message: "Recording paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.Resume(r.Context()); err != nil {
		s.sendServiceError(w, err, "resume")
		return
	}
	sendJSON(w, GenericResponse{Success: true, Message: "Recording resumed"})
}

// handleStatus returns the current session snapshot
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	snap, err := s.service.Status(r.Context())
	if err != nil {
		s.sendServiceError(w, err, "status")
		return
	}
	sendJSON(w, StatusResponse{Success: true, Status: snap})
}

// handleItems lists committed recordings, oldest first
func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.items == nil {
		s.sendErrorResponse(w, http.StatusNotFound, "No library configured", "operation", "items")
		return
	}

	items := s.items.List()
	infos := make([]ItemInfo, 0, len(items))
	for _, item := range items {
		if item.Pending {
			continue
		}
		infos = append(infos, ItemInfo{
			Item:      item,
			SizeHuman: formatBytes(item.Size),
			StreamURL: "/api/items/stream/" + item.Ref,
		})
	}

	sendJSON(w, ItemsResponse{Items: infos, TotalCount: len(infos)})
}

// handleItemStream streams a committed recording
func (s *Server) handleItemStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.items == nil {
		http.Error(w, "No library configured", http.StatusNotFound)
		return
	}

	ref := strings.TrimPrefix(r.URL.Path, "/api/items/stream/")
	if ref == "" {
		http.Error(w, "Item reference required", http.StatusBadRequest)
		return
	}

	item, ok := s.items.Get(ref)
	if !ok || item.Pending {
		http.Error(w, "Item not found", http.StatusNotFound)
		return
	}

	file, err := os.Open(item.Path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "File not found", http.StatusNotFound)
		} else {
			http.Error(w, "Error opening file", http.StatusInternalServerError)
		}
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		http.Error(w, "Error accessing file", http.StatusInternalServerError)
		return
	}

	contentType := item.MimeType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(item.Path))
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Accept-Ranges", "bytes")

	http.ServeContent(w, r, filepath.Base(item.Path), info.ModTime(), file)
}

// handlePrefs lists preferences on GET and updates one on POST. Changes
// apply to the next recording.
func (s *Server) handlePrefs(w http.ResponseWriter, r *http.Request) {
	if s.prefs == nil {
		s.sendErrorResponse(w, http.StatusNotFound, "No preference store configured", "operation", "prefs")
		return
	}

	switch r.Method {
	case http.MethodGet:
		values := make(map[string]string)
		for _, key := range prefs.Keys() {
			v, err := s.prefs.Get(key)
			if err != nil {
				s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "prefs", "key", key)
				return
			}
			values[key] = v
		}
		sendJSON(w, PrefsResponse{Prefs: values})

	case http.MethodPost:
		var req SetPrefRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid request body", "operation", "prefs", "error", err)
			return
		}
		if err := s.prefs.Set(req.Key, req.Value); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "prefs", "key", req.Key)
			return
		}
		slog.Info("Preference updated", "key", req.Key, "value", req.Value)
		sendJSON(w, GenericResponse{Success: true, Message: fmt.Sprintf("%s = %s", req.Key, req.Value)})

	default:
		requireMethod(w, r, http.MethodGet)
	}
}

// statusForError maps service errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidStateTransition),
		errors.Is(err, service.ErrNoActiveSession):
		return http.StatusConflict
	case errors.Is(err, service.ErrServiceStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendServiceError(w http.ResponseWriter, err error, operation string) {
	s.sendErrorResponse(w, statusForError(err), err.Error(), "operation", operation)
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	if statusCode >= http.StatusInternalServerError {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Debug("Sending error response to client", logFields...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(GenericResponse{
		Success: false,
		Error:   errorMsg,
	})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(GenericResponse{
		Success: false,
		Error:   "Method not allowed",
	})
	return false
}

func sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
