package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Extraction is the durable outcome of one file's strategy chain. Rows are
// keyed by (FilePath, FileHash); re-inserting the same key replaces the row.
type Extraction struct {
	ID        int64
	FilePath  string
	FileHash  string
	FileSize  int64
	Method    string // "direct", "ocr", "direct_partial", "error"
	Text      string
	PageCount int
	Seconds   float64 // wall-clock time for the file's full resolution
	Timestamp time.Time
	Success   bool
	// ErrorMessage concatenates the failure of every attempted strategy;
	// empty on success.
	ErrorMessage string
}

// Run records one completed batch run.
type Run struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	RootDir   string
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	HashMode  string
	Workers   int
}

// Stats are aggregate counts computed fresh from the extractions table.
type Stats struct {
	Total      int64
	Succeeded  int64
	Failed     int64
	AvgSeconds float64 // over successful rows only
	ByMethod   map[string]int64
}

// SearchResult is one match from a substring search over extracted text.
type SearchResult struct {
	FilePath  string
	Method    string
	Preview   string // first 200 characters of the extracted text
	Timestamp time.Time
}
