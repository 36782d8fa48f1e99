// Package storage persists extraction outcomes in SQLite. The store owns a
// single serialized connection: batch commits are atomic and correctness
// wins over write throughput.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding extraction results and run history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs pending
// migrations. Pass ":memory:" for an in-memory database (used by tests).
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// WAL with relaxed synchronous keeps the write lock short per batch.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting synchronous mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

const upsertSQL = `
	INSERT OR REPLACE INTO extractions
	(file_path, file_hash, file_size, extraction_method, extracted_text,
	 page_count, processing_time_seconds, timestamp, success, error_message)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Upsert inserts e, replacing any existing row with the same
// (file_path, file_hash).
func (s *Store) Upsert(e Extraction) error {
	_, err := s.db.Exec(upsertSQL,
		e.FilePath, e.FileHash, e.FileSize, e.Method, e.Text,
		e.PageCount, e.Seconds, e.Timestamp.UTC().Format(time.RFC3339), e.Success, e.ErrorMessage,
	)
	return err
}

// UpsertBatch writes all outcomes in a single transaction. Either every row
// becomes visible or none does; a failure on any row rolls the batch back.
func (s *Store) UpsertBatch(batch []Extraction) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning batch transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(upsertSQL)
	if err != nil {
		return fmt.Errorf("preparing batch statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.Exec(
			e.FilePath, e.FileHash, e.FileSize, e.Method, e.Text,
			e.PageCount, e.Seconds, e.Timestamp.UTC().Format(time.RFC3339), e.Success, e.ErrorMessage,
		); err != nil {
			return fmt.Errorf("inserting %s: %w", e.FilePath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// Exists reports whether a row for (path, hash) is already stored.
func (s *Store) Exists(path, hash string) (bool, error) {
	var count int64
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM extractions WHERE file_path = ? AND file_hash = ?",
		path, hash,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetStats computes aggregate counts. Nothing is cached; every call reads
// the current table state.
func (s *Store) GetStats() (Stats, error) {
	var st Stats
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(success), 0),
		       COALESCE(AVG(CASE WHEN success = 1 THEN processing_time_seconds END), 0)
		FROM extractions`,
	).Scan(&st.Total, &st.Succeeded, &st.AvgSeconds)
	if err != nil {
		return Stats{}, err
	}
	st.Failed = st.Total - st.Succeeded

	rows, err := s.db.Query(`
		SELECT extraction_method, COUNT(*)
		FROM extractions GROUP BY extraction_method`,
	)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	st.ByMethod = make(map[string]int64)
	for rows.Next() {
		var method string
		var count int64
		if err := rows.Scan(&method, &count); err != nil {
			return Stats{}, err
		}
		st.ByMethod[method] = count
	}
	return st, rows.Err()
}

// Search finds successful rows whose text contains query, newest first.
// instr() keeps the match case-sensitive; SQLite's LIKE would fold ASCII
// case.
func (s *Store) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT file_path, extraction_method,
		       substr(extracted_text, 1, 200),
		       timestamp
		FROM extractions
		WHERE success = 1 AND instr(extracted_text, ?) > 0
		ORDER BY timestamp DESC
		LIMIT ?`, query, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var ts string
		if err := rows.Scan(&r.FilePath, &r.Method, &r.Preview, &ts); err != nil {
			return nil, err
		}
		if r.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListExtractions returns rows without their text bodies, newest first.
// method filters by extraction method when non-empty; failed rows are
// included only when includeFailed is set.
func (s *Store) ListExtractions(method string, includeFailed bool, limit int) ([]Extraction, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, file_path, file_hash, file_size, extraction_method,
		       page_count, processing_time_seconds, timestamp, success, error_message
		FROM extractions`
	var conds []string
	var args []any
	if method != "" {
		conds = append(conds, "extraction_method = ?")
		args = append(args, method)
	}
	if !includeFailed {
		conds = append(conds, "success = 1")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Extraction
	for rows.Next() {
		var e Extraction
		var ts string
		if err := rows.Scan(&e.ID, &e.FilePath, &e.FileHash, &e.FileSize, &e.Method,
			&e.PageCount, &e.Seconds, &ts, &e.Success, &e.ErrorMessage); err != nil {
			return nil, err
		}
		if e.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// GetExtraction returns one row, including its text body.
func (s *Store) GetExtraction(id int64) (Extraction, error) {
	var e Extraction
	var ts string
	err := s.db.QueryRow(`
		SELECT id, file_path, file_hash, file_size, extraction_method, extracted_text,
		       page_count, processing_time_seconds, timestamp, success, error_message
		FROM extractions WHERE id = ?`, id,
	).Scan(&e.ID, &e.FilePath, &e.FileHash, &e.FileSize, &e.Method, &e.Text,
		&e.PageCount, &e.Seconds, &ts, &e.Success, &e.ErrorMessage)
	if err == sql.ErrNoRows {
		return Extraction{}, ErrNotFound
	}
	if err != nil {
		return Extraction{}, err
	}
	if e.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
		return Extraction{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	return e, nil
}

// ExportText writes every row to w as a plain-text report ordered by path:
// a FILE/METHOD/SUCCESS/TIMESTAMP header block per row, then the extracted
// text for successful rows or the error detail for failed ones, delimited
// by 80-character rule lines.
func (s *Store) ExportText(w io.Writer) error {
	rows, err := s.db.Query(`
		SELECT file_path, extraction_method, extracted_text, success, error_message, timestamp
		FROM extractions
		ORDER BY file_path`,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	rule := strings.Repeat("=", 80)
	if _, err := fmt.Fprintf(w, "PDF Text Extraction Results\n%s\n\n", rule); err != nil {
		return err
	}

	for rows.Next() {
		var filePath, method, text, errMsg, ts string
		var success bool
		if err := rows.Scan(&filePath, &method, &text, &success, &errMsg, &ts); err != nil {
			return err
		}

		if _, err := fmt.Fprintf(w, "FILE: %s\nMETHOD: %s\nSUCCESS: %t\nTIMESTAMP: %s\n%s\n",
			filePath, method, success, ts, rule); err != nil {
			return err
		}
		if success && text != "" {
			if _, err := io.WriteString(w, text); err != nil {
				return err
			}
		} else if errMsg != "" {
			if _, err := fmt.Fprintf(w, "ERROR: %s\n", errMsg); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "\n%s\n\n", rule); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SaveRun records a completed batch run.
func (s *Store) SaveRun(r Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, finished_at, root_dir, total, succeeded, failed, skipped, hash_mode, workers)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UTC().Format(time.RFC3339), r.EndedAt.UTC().Format(time.RFC3339),
		r.RootDir, r.Total, r.Succeeded, r.Failed, r.Skipped, r.HashMode, r.Workers,
	)
	return err
}

// RecentRuns returns run history, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, root_dir, total, succeeded, failed, skipped, hash_mode, workers
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.RootDir, &r.Total,
			&r.Succeeded, &r.Failed, &r.Skipped, &r.HashMode, &r.Workers); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(time.RFC3339, started); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if r.EndedAt, err = time.Parse(time.RFC3339, finished); err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
