package storage

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testExtraction(path, hash string) Extraction {
	return Extraction{
		FilePath:  path,
		FileHash:  hash,
		FileSize:  1234,
		Method:    "direct",
		Text:      "Some extracted text for " + path,
		PageCount: 2,
		Seconds:   0.5,
		Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Success:   true,
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	path := t.TempDir() + "/pdfmill.db"

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestIndexesExist verifies the secondary indexes backing the query surface.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_extractions_path", "idx_extractions_method", "idx_extractions_timestamp", "idx_runs_started"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("checking index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestUpsertReplacesNotDuplicates(t *testing.T) {
	s := openTestStore(t)

	e := testExtraction("docs/a.pdf", "hash-a")
	if err := s.Upsert(e); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	e.Text = "Replacement text"
	if err := s.Upsert(e); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("total = %d after re-upsert of same key, want 1", stats.Total)
	}

	// Same path with a different hash is a new row (the file changed).
	e.FileHash = "hash-b"
	if err := s.Upsert(e); err != nil {
		t.Fatalf("Upsert with new hash: %v", err)
	}
	stats, _ = s.GetStats()
	if stats.Total != 2 {
		t.Errorf("total = %d after hash change, want 2", stats.Total)
	}
}

func TestUpsertBatchIsAtomic(t *testing.T) {
	s := openTestStore(t)

	batch := []Extraction{
		testExtraction("a.pdf", "h1"),
		testExtraction("b.pdf", "h2"),
		{FilePath: "c.pdf", FileHash: "h3", Timestamp: time.Now()}, // empty method violates the schema CHECK
	}
	if err := s.UpsertBatch(batch); err == nil {
		t.Fatal("expected batch with invalid row to fail")
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("partial batch visible: %d rows, want 0 after rollback", stats.Total)
	}

	// The same batch minus the bad row commits in full.
	if err := s.UpsertBatch(batch[:2]); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	stats, _ = s.GetStats()
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}
}

func TestUpsertBatchRerunIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	batch := []Extraction{
		testExtraction("a.pdf", "h1"),
		testExtraction("b.pdf", "h2"),
		testExtraction("c.pdf", "h3"),
	}
	if err := s.UpsertBatch(batch); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if err := s.UpsertBatch(batch); err != nil {
		t.Fatalf("re-running UpsertBatch: %v", err)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d after identical rerun, want 3", stats.Total)
	}
}

func TestExists(t *testing.T) {
	s := openTestStore(t)

	if err := s.Upsert(testExtraction("a.pdf", "h1")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	ok, err := s.Exists("a.pdf", "h1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Error("Exists = false for stored row")
	}

	ok, err = s.Exists("a.pdf", "other-hash")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Error("Exists = true for unknown hash")
	}
}

func TestGetStats(t *testing.T) {
	s := openTestStore(t)

	rows := []Extraction{
		{FilePath: "a.pdf", FileHash: "h1", Method: "direct", Text: "t", Seconds: 1.0, Success: true, Timestamp: time.Now()},
		{FilePath: "b.pdf", FileHash: "h2", Method: "ocr", Text: "t", Seconds: 3.0, Success: true, Timestamp: time.Now()},
		{FilePath: "c.pdf", FileHash: "h3", Method: "error", Seconds: 10.0, Success: false, ErrorMessage: "boom", Timestamp: time.Now()},
	}
	if err := s.UpsertBatch(rows); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Total != 3 || stats.Succeeded != 2 || stats.Failed != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/2/1", stats.Total, stats.Succeeded, stats.Failed)
	}
	// Average covers successful rows only: (1.0 + 3.0) / 2.
	if stats.AvgSeconds < 1.99 || stats.AvgSeconds > 2.01 {
		t.Errorf("avg seconds = %f, want 2.0", stats.AvgSeconds)
	}
	if stats.ByMethod["direct"] != 1 || stats.ByMethod["ocr"] != 1 || stats.ByMethod["error"] != 1 {
		t.Errorf("by-method counts = %v", stats.ByMethod)
	}
}

func TestSearchCaseSensitive(t *testing.T) {
	s := openTestStore(t)

	older := testExtraction("old.pdf", "h1")
	older.Text = "The Needle lies here"
	older.Timestamp = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	newer := testExtraction("new.pdf", "h2")
	newer.Text = "Another Needle appears"
	newer.Timestamp = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	failed := Extraction{FilePath: "bad.pdf", FileHash: "h3", Method: "error",
		ErrorMessage: "Needle", Success: false, Timestamp: time.Now()}

	if err := s.UpsertBatch([]Extraction{older, newer, failed}); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	results, err := s.Search("Needle", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (failed rows excluded)", len(results))
	}
	if results[0].FilePath != "new.pdf" {
		t.Errorf("results not newest-first: %s", results[0].FilePath)
	}

	// Lowercase query must not match capitalized text.
	results, err = s.Search("needle", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("search should be case-sensitive, got %d matches", len(results))
	}
}

func TestSearchPreviewTruncated(t *testing.T) {
	s := openTestStore(t)

	e := testExtraction("long.pdf", "h1")
	e.Text = "needle " + strings.Repeat("x", 500)
	if err := s.Upsert(e); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := s.Search("needle", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if len(results[0].Preview) != 200 {
		t.Errorf("preview length = %d, want 200", len(results[0].Preview))
	}
}

func TestListExtractions(t *testing.T) {
	s := openTestStore(t)

	rows := []Extraction{
		{FilePath: "a.pdf", FileHash: "h1", Method: "direct", Text: "t", Success: true, Timestamp: time.Now()},
		{FilePath: "b.pdf", FileHash: "h2", Method: "ocr", Text: "t", Success: true, Timestamp: time.Now()},
		{FilePath: "c.pdf", FileHash: "h3", Method: "error", Success: false, ErrorMessage: "x", Timestamp: time.Now()},
	}
	if err := s.UpsertBatch(rows); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	all, err := s.ListExtractions("", true, 0)
	if err != nil {
		t.Fatalf("ListExtractions: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d rows, want 3", len(all))
	}

	ocr, err := s.ListExtractions("ocr", false, 0)
	if err != nil {
		t.Fatalf("ListExtractions: %v", err)
	}
	if len(ocr) != 1 || ocr[0].FilePath != "b.pdf" {
		t.Errorf("method filter failed: %+v", ocr)
	}

	ok, err := s.ListExtractions("", false, 0)
	if err != nil {
		t.Fatalf("ListExtractions: %v", err)
	}
	if len(ok) != 2 {
		t.Errorf("got %d successful rows, want 2", len(ok))
	}
}

func TestGetExtraction(t *testing.T) {
	s := openTestStore(t)

	e := testExtraction("a.pdf", "h1")
	if err := s.Upsert(e); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	listed, err := s.ListExtractions("", true, 1)
	if err != nil || len(listed) != 1 {
		t.Fatalf("ListExtractions: %v (%d rows)", err, len(listed))
	}

	got, err := s.GetExtraction(listed[0].ID)
	if err != nil {
		t.Fatalf("GetExtraction: %v", err)
	}
	if got.Text != e.Text {
		t.Errorf("text = %q, want %q", got.Text, e.Text)
	}

	if _, err := s.GetExtraction(99999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetExtraction(missing) = %v, want ErrNotFound", err)
	}
}

func TestExportTextFormat(t *testing.T) {
	s := openTestStore(t)

	good := testExtraction("b-good.pdf", "h1")
	good.Text = "Body of the good document.\n"
	bad := Extraction{FilePath: "a-bad.pdf", FileHash: "h2", Method: "error",
		Success: false, ErrorMessage: "direct: corrupt; ocr: no tools", Timestamp: time.Now()}
	if err := s.UpsertBatch([]Extraction{good, bad}); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	var b strings.Builder
	if err := s.ExportText(&b); err != nil {
		t.Fatalf("ExportText: %v", err)
	}
	out := b.String()

	rule := strings.Repeat("=", 80)
	if !strings.Contains(out, rule) {
		t.Error("missing 80-char rule line")
	}
	for _, want := range []string{
		"FILE: a-bad.pdf", "METHOD: error", "SUCCESS: false", "ERROR: direct: corrupt; ocr: no tools",
		"FILE: b-good.pdf", "METHOD: direct", "SUCCESS: true", "Body of the good document.",
		"TIMESTAMP: ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q", want)
		}
	}

	// Ordered by path: the failed a-bad.pdf block comes first.
	if strings.Index(out, "FILE: a-bad.pdf") > strings.Index(out, "FILE: b-good.pdf") {
		t.Error("export not ordered by file path")
	}
}

func TestRunHistory(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		r := Run{
			ID:        fmt.Sprintf("run-%d", i),
			StartedAt: time.Date(2025, 3, 1, 10, i, 0, 0, time.UTC),
			EndedAt:   time.Date(2025, 3, 1, 10, i, 30, 0, time.UTC),
			RootDir:   "/docs",
			Total:     10,
			Succeeded: 9,
			Failed:    1,
			HashMode:  "fast",
			Workers:   4,
		}
		if err := s.SaveRun(r); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	runs, err := s.RecentRuns(2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run-2" {
		t.Errorf("runs not newest-first: %s", runs[0].ID)
	}
	if runs[0].Succeeded != 9 || runs[0].Workers != 4 {
		t.Errorf("run fields not round-tripped: %+v", runs[0])
	}
}
