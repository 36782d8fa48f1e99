// Package api exposes the extraction database over HTTP and MCP so other
// tools can query results without touching the SQLite file directly. Both
// surfaces are read-only; writes happen only through the extraction run.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/pdfmill/internal/storage"
)

// ResultReader is the slice of the store the query API depends on.
type ResultReader interface {
	GetStats() (storage.Stats, error)
	Search(query string, limit int) ([]storage.SearchResult, error)
	ListExtractions(method string, includeFailed bool, limit int) ([]storage.Extraction, error)
	GetExtraction(id int64) (storage.Extraction, error)
}

// Deps holds the handler's collaborators. An empty Token disables auth,
// which is acceptable for a loopback-only server.
type Deps struct {
	Store ResultReader
	Token string
}

// NewHandler builds the HTTP query surface.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Get("/stats", handleStats(deps))
		r.Get("/search", handleSearch(deps))
		r.Get("/extractions", handleList(deps))
		r.Get("/extractions/{id}", handleGet(deps))
	})

	return r
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		stats, err := deps.Store.GetStats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"total":               stats.Total,
			"succeeded":           stats.Succeeded,
			"failed":              stats.Failed,
			"avg_processing_time": stats.AvgSeconds,
			"by_method":           stats.ByMethod,
		})
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := queryInt(r, "limit", 10)

		results, err := deps.Store.Search(query, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}

		type match struct {
			FilePath  string `json:"file_path"`
			Method    string `json:"method"`
			Preview   string `json:"preview"`
			Timestamp string `json:"timestamp"`
		}
		out := make([]match, len(results))
		for i, res := range results {
			out[i] = match{
				FilePath:  res.FilePath,
				Method:    res.Method,
				Preview:   res.Preview,
				Timestamp: res.Timestamp.Format(time.RFC3339),
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleList(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Query().Get("method")
		includeFailed := r.URL.Query().Get("failed") == "true"
		limit := queryInt(r, "limit", 50)

		rows, err := deps.Store.ListExtractions(method, includeFailed, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing extractions: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toSummaries(rows))
	}
}

func handleGet(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid id")
			return
		}

		e, err := deps.Store.GetExtraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "no extraction with id %d", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading extraction: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":            e.ID,
			"file_path":     e.FilePath,
			"file_hash":     e.FileHash,
			"file_size":     e.FileSize,
			"method":        e.Method,
			"text":          e.Text,
			"page_count":    e.PageCount,
			"seconds":       e.Seconds,
			"timestamp":     e.Timestamp.Format(time.RFC3339),
			"success":       e.Success,
			"error_message": e.ErrorMessage,
		})
	}
}

type extractionSummary struct {
	ID           int64   `json:"id"`
	FilePath     string  `json:"file_path"`
	Method       string  `json:"method"`
	PageCount    int     `json:"page_count"`
	Seconds      float64 `json:"seconds"`
	Timestamp    string  `json:"timestamp"`
	Success      bool    `json:"success"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

func toSummaries(rows []storage.Extraction) []extractionSummary {
	out := make([]extractionSummary, len(rows))
	for i, e := range rows {
		out[i] = extractionSummary{
			ID:           e.ID,
			FilePath:     e.FilePath,
			Method:       e.Method,
			PageCount:    e.PageCount,
			Seconds:      e.Seconds,
			Timestamp:    e.Timestamp.Format(time.RFC3339),
			Success:      e.Success,
			ErrorMessage: e.ErrorMessage,
		}
	}
	return out
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
