// Package runner fans a batch of files out across a bounded set of workers,
// drives each file through the extraction strategy chain, and collects one
// outcome per file for a single transactional commit.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/pdfmill/internal/extract"
	"github.com/kalambet/pdfmill/internal/storage"
)

// Resolver runs the full strategy chain for one file.
type Resolver interface {
	Resolve(ctx context.Context, path string) extract.Result
	OCRAvailable() bool
}

// Fingerprinter computes a file's content identity.
type Fingerprinter interface {
	File(path string) (string, error)
}

// ResultStore is the slice of the store the runner needs for its
// skip-already-processed fast path.
type ResultStore interface {
	Exists(path, hash string) (bool, error)
}

// Notifier receives monotonically increasing completion counts. Calls are
// best-effort and must not block the pipeline; implementations tolerate
// concurrent invocation.
type Notifier interface {
	Done(completed int)
}

// NopNotifier discards progress updates.
type NopNotifier struct{}

func (NopNotifier) Done(int) {}

// Summary describes one finished run.
type Summary struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Elapsed   time.Duration
}

// Runner coordinates one batch run. The resolver and fingerprinter are
// stateless and shared by every worker.
type Runner struct {
	resolver Resolver
	hasher   Fingerprinter
	store    ResultStore
	progress Notifier
	workers  int
	force    bool
	logger   *slog.Logger

	completed atomic.Int64
}

// New builds a Runner. workers below 1 is clamped to 1; a nil progress
// notifier is replaced with NopNotifier.
func New(resolver Resolver, hasher Fingerprinter, store ResultStore, progress Notifier, workers int, force bool) *Runner {
	if workers < 1 {
		workers = 1
	}
	if progress == nil {
		progress = NopNotifier{}
	}
	return &Runner{
		resolver: resolver,
		hasher:   hasher,
		store:    store,
		progress: progress,
		workers:  workers,
		force:    force,
		logger:   slog.Default(),
	}
}

// Run dispatches every file through the strategy chain with at most the
// configured number of resolutions in flight, and returns the produced
// outcomes. Per-file failures never abort the run; outcomes for files whose
// fingerprint step failed are dropped with a warning. The returned slice is
// ready for a single UpsertBatch.
func (r *Runner) Run(ctx context.Context, files []string) (Summary, []storage.Extraction, error) {
	start := time.Now()
	summary := Summary{RunID: uuid.New().String(), Total: len(files)}
	r.completed.Store(0)

	// Probe the OCR backend once per run, not once per file. A missing
	// backend is a degraded condition, not a fatal one: per-file OCR
	// attempts will fail through the normal chain.
	if !r.resolver.OCRAvailable() {
		r.logger.Warn("ocr backend unavailable, files without a text layer will degrade to partial or failed results", "run_id", summary.RunID)
	}

	slots := make([]*storage.Extraction, len(files))
	var skipped atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i, path := range files {
		g.Go(func() error {
			outcome := r.processFile(gCtx, path)
			if outcome != nil {
				slots[i] = outcome
			} else {
				skipped.Add(1)
			}
			r.progress.Done(int(r.completed.Add(1)))
			return nil
		})
	}

	// Tasks never return errors; Wait is a pure join point.
	if err := g.Wait(); err != nil {
		return summary, nil, err
	}

	outcomes := make([]storage.Extraction, 0, len(files))
	for _, o := range slots {
		if o == nil {
			continue
		}
		outcomes = append(outcomes, *o)
		if o.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	summary.Skipped = int(skipped.Load())
	summary.Elapsed = time.Since(start)
	return summary, outcomes, nil
}

// processFile resolves a single file into an outcome, or nil when the file
// is skipped (already processed, or unreadable before extraction began).
func (r *Runner) processFile(ctx context.Context, path string) (outcome *storage.Extraction) {
	start := time.Now()

	// A fault anywhere in one file's resolution must not take down the
	// run; degrade to an error outcome for just that file.
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while processing file", "path", path, "panic", rec)
			outcome = &storage.Extraction{
				FilePath:     path,
				Method:       extract.MethodError,
				Seconds:      time.Since(start).Seconds(),
				Timestamp:    time.Now().UTC(),
				ErrorMessage: fmt.Sprintf("unexpected fault: %v", rec),
			}
		}
	}()

	info, err := os.Stat(path)
	if err != nil {
		r.logger.Warn("skipping unstatable file", "path", path, "error", err)
		return nil
	}
	size := info.Size()

	hash, err := r.hasher.File(path)
	if err != nil {
		// Unreadable before extraction even starts: no outcome for this
		// file, per the I/O error policy.
		r.logger.Warn("skipping unreadable file", "path", path, "error", err)
		return nil
	}

	if !r.force {
		exists, err := r.store.Exists(path, hash)
		if err != nil {
			r.logger.Warn("skip check failed, processing anyway", "path", path, "error", err)
		} else if exists {
			r.logger.Debug("already processed, skipping", "path", path, "hash", hash)
			return nil
		}
	}

	res := r.resolver.Resolve(ctx, path)

	e := storage.Extraction{
		FilePath:     path,
		FileHash:     hash,
		FileSize:     size,
		Method:       res.Method,
		Text:         res.Text,
		PageCount:    res.PageCount,
		Seconds:      time.Since(start).Seconds(),
		Timestamp:    time.Now().UTC(),
		Success:      res.Success,
		ErrorMessage: res.ErrorDetail,
	}
	if e.Success {
		r.logger.Info("extracted", "path", path, "method", e.Method, "pages", e.PageCount, "seconds", e.Seconds)
	} else {
		r.logger.Warn("extraction failed", "path", path, "error", e.ErrorMessage)
	}
	return &e
}
