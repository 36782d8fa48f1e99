package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kalambet/pdfmill/internal/storage"
)

type fakeReader struct {
	stats       storage.Stats
	statsErr    error
	searchHits  []storage.SearchResult
	extractions []storage.Extraction
	byID        map[int64]storage.Extraction

	lastQuery string
	lastLimit int
}

func (f *fakeReader) GetStats() (storage.Stats, error) {
	return f.stats, f.statsErr
}

func (f *fakeReader) Search(query string, limit int) ([]storage.SearchResult, error) {
	f.lastQuery = query
	f.lastLimit = limit
	return f.searchHits, nil
}

func (f *fakeReader) ListExtractions(method string, includeFailed bool, limit int) ([]storage.Extraction, error) {
	return f.extractions, nil
}

func (f *fakeReader) GetExtraction(id int64) (storage.Extraction, error) {
	e, ok := f.byID[id]
	if !ok {
		return storage.Extraction{}, storage.ErrNotFound
	}
	return e, nil
}

func TestHealth(t *testing.T) {
	h := NewHandler(Deps{Store: &fakeReader{}})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestStats(t *testing.T) {
	store := &fakeReader{
		stats: storage.Stats{
			Total:      10,
			Succeeded:  8,
			Failed:     2,
			AvgSeconds: 1.5,
			ByMethod:   map[string]int64{"direct": 6, "ocr": 2},
		},
	}
	h := NewHandler(Deps{Store: store})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body struct {
		Total    int            `json:"total"`
		ByMethod map[string]int `json:"by_method"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Total != 10 {
		t.Errorf("total = %d, want 10", body.Total)
	}
	if body.ByMethod["direct"] != 6 {
		t.Errorf("by_method[direct] = %d, want 6", body.ByMethod["direct"])
	}
}

func TestSearch(t *testing.T) {
	store := &fakeReader{
		searchHits: []storage.SearchResult{
			{FilePath: "/docs/a.pdf", Method: "direct", Preview: "hello world", Timestamp: time.Now().UTC()},
		},
	}
	h := NewHandler(Deps{Store: store})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/search?q=hello&limit=3", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if store.lastQuery != "hello" {
		t.Errorf("query = %q, want %q", store.lastQuery, "hello")
	}
	if store.lastLimit != 3 {
		t.Errorf("limit = %d, want 3", store.lastLimit)
	}

	var matches []map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&matches); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(matches) != 1 || matches[0]["file_path"] != "/docs/a.pdf" {
		t.Errorf("matches = %v", matches)
	}
}

func TestSearch_MissingQuery(t *testing.T) {
	h := NewHandler(Deps{Store: &fakeReader{}})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	json.NewDecoder(rr.Body).Decode(&body)
	if body.Error.Type != "invalid_request_error" {
		t.Errorf("error type = %q, want invalid_request_error", body.Error.Type)
	}
}

func TestGetExtraction(t *testing.T) {
	store := &fakeReader{
		byID: map[int64]storage.Extraction{
			7: {
				ID:        7,
				FilePath:  "/docs/report.pdf",
				FileHash:  "abc123",
				Method:    "ocr",
				Text:      "scanned text",
				PageCount: 3,
				Timestamp: time.Now().UTC(),
				Success:   true,
			},
		},
	}
	h := NewHandler(Deps{Store: store})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/extractions/7", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body struct {
		FilePath string `json:"file_path"`
		Text     string `json:"text"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.FilePath != "/docs/report.pdf" || body.Text != "scanned text" {
		t.Errorf("body = %+v", body)
	}
}

func TestGetExtraction_NotFound(t *testing.T) {
	h := NewHandler(Deps{Store: &fakeReader{byID: map[int64]storage.Extraction{}}})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/extractions/999", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestGetExtraction_BadID(t *testing.T) {
	h := NewHandler(Deps{Store: &fakeReader{}})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/extractions/notanumber", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestBearerAuth(t *testing.T) {
	h := NewHandler(Deps{Store: &fakeReader{}, Token: "secret"})

	// Health stays open.
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", rr.Code, http.StatusOK)
	}

	// No token.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	// Wrong token.
	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status with wrong token = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	// Correct token.
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status with token = %d, want %d", rr.Code, http.StatusOK)
	}
}
