package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/murtazakamran18/count-steps/internal/db"
	"github.com/murtazakamran18/count-steps/internal/ingest"
	"github.com/murtazakamran18/count-steps/internal/serialmux"
	"github.com/murtazakamran18/count-steps/internal/steps"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	m        serialmux.SerialMuxInterface
	db       *db.DB
	pipeline *ingest.Pipeline
}

func NewServer(m serialmux.SerialMuxInterface, db *db.DB, pipeline *ingest.Pipeline) *Server {
	return &Server{
		m:        m,
		db:       db,
		pipeline: pipeline,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.listEvents)
	mux.HandleFunc("/samples", s.listSamples)
	mux.HandleFunc("/walks", s.listWalks)
	mux.HandleFunc("/step_stats", s.showStepStats)
	mux.HandleFunc("/classifier/config", s.handleClassifierConfig)
	mux.HandleFunc("/pipeline/status", s.showPipelineStatus)
	mux.HandleFunc("/command", s.sendCommandHandler)
	return mux
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := r.FormValue("command")

	if err := s.m.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parsePositiveIntParam reads an integer query parameter, falling back to def
// when absent. A present-but-invalid value (unparseable or < 1) returns an
// error so handlers can 400 instead of silently using the default.
func parsePositiveIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		return 0, fmt.Errorf("invalid '%s' parameter", name)
	}
	return parsed, nil
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, err := parsePositiveIntParam(r, "limit", 50)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.db.RecentStepEvents(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(events); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write events")
		return
	}
}

func (s *Server) listSamples(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, err := parsePositiveIntParam(r, "limit", 100)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	samples, err := s.db.RecentSamples(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve samples: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(samples); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write samples")
		return
	}
}

func (s *Server) listWalks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	days, err := parsePositiveIntParam(r, "days", 7)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	sinceMS := time.Now().AddDate(0, 0, -days).UnixMilli()
	walks, err := s.db.WalksSince(r.Context(), sinceMS)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve walks: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(walks); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write walks")
		return
	}
}

func (s *Server) showStepStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	days, err := parsePositiveIntParam(r, "days", 7)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := s.db.StepRollup(r.Context(), days)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve step stats: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write step stats")
		return
	}
}

// handleClassifierConfig reports the live classifier configuration on GET and
// replaces it on PUT. A PUT body must be a complete configuration; values are
// validated before they are applied, so a rejected update leaves the running
// classifier untouched.
func (s *Server) handleClassifierConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		if err := json.NewEncoder(w).Encode(s.pipeline.Config()); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to write classifier config")
		}
	case http.MethodPut:
		var cfg steps.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid config body: %v", err))
			return
		}
		if err := s.pipeline.SetConfig(cfg); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid config: %v", err))
			return
		}
		if err := json.NewEncoder(w).Encode(s.pipeline.Config()); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to write classifier config")
		}
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) showPipelineStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := json.NewEncoder(w).Encode(s.pipeline.Snapshot()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write pipeline status")
		return
	}
}
