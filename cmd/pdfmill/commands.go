package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/pdfmill/internal/extract"
	"github.com/kalambet/pdfmill/internal/fingerprint"
	"github.com/kalambet/pdfmill/internal/runner"
	"github.com/kalambet/pdfmill/internal/storage"
)

// --- extract ---

var extractCmd = &cobra.Command{
	Use:   "extract [directory]",
	Short: "Extract text from every PDF under a directory",
	Long: `Extract text from every PDF under a directory.

Files are fingerprinted and skipped if an identical version was already
processed. Text-layer extraction is tried first; pages without a usable
text layer fall back to OCR when pdftoppm and tesseract are installed.

Examples:
  pdfmill extract ./documents
  pdfmill extract ./scans --ocr-only --workers 8
  pdfmill extract ./documents --force --export-txt results.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		workers, _ := cmd.Flags().GetInt("workers")
		dbPath, _ := cmd.Flags().GetString("database")
		fullHash, _ := cmd.Flags().GetBool("full-hash")
		textOnly, _ := cmd.Flags().GetBool("text-only")
		ocrOnly, _ := cmd.Flags().GetBool("ocr-only")
		force, _ := cmd.Flags().GetBool("force")
		exportTxt, _ := cmd.Flags().GetString("export-txt")

		if textOnly && ocrOnly {
			return fmt.Errorf("--text-only and --ocr-only are mutually exclusive")
		}
		if workers <= 0 {
			workers = cfg.Extract.Workers
		}
		if dbPath == "" {
			dbPath = cfg.Storage.DatabasePath
		}

		hashMode := fingerprint.Mode(cfg.Extract.HashMode)
		if fullHash {
			hashMode = fingerprint.ModeFull
		}

		mode := extract.ModeDefault
		switch {
		case textOnly:
			mode = extract.ModeTextOnly
		case ocrOnly:
			mode = extract.ModeOCROnly
		}

		ocrTimeout, err := time.ParseDuration(cfg.Extract.OCRTimeout)
		if err != nil {
			return fmt.Errorf("invalid ocr_timeout %q: %w", cfg.Extract.OCRTimeout, err)
		}

		files, err := runner.FindPDFs(dir)
		if err != nil {
			return fmt.Errorf("scanning %s: %w", dir, err)
		}
		if len(files) == 0 {
			printWarning("No PDF files found under %s", dir)
			return nil
		}

		store, err := openStore(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		resolver := extract.NewResolver(
			extract.Direct{},
			&extract.OCR{Language: cfg.Extract.OCRLanguage, Timeout: ocrTimeout},
			mode,
			cfg.Extract.TextThreshold,
		)
		hasher := fingerprint.New(hashMode, cfg.Extract.HashChunkSize)

		printStep("Processing %d files with %d workers...", len(files), workers)
		startedAt := time.Now().UTC()

		run := runner.New(resolver, hasher, store, &progressPrinter{total: len(files)}, workers, force)
		summary, outcomes, err := run.Run(ctx, files)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("extraction run: %w", err)
		}

		if err := store.UpsertBatch(outcomes); err != nil {
			return fmt.Errorf("saving results: %w", err)
		}

		if err := store.SaveRun(storage.Run{
			ID:        summary.RunID,
			StartedAt: startedAt,
			EndedAt:   time.Now().UTC(),
			RootDir:   dir,
			Total:     summary.Total,
			Succeeded: summary.Succeeded,
			Failed:    summary.Failed,
			Skipped:   summary.Skipped,
			HashMode:  string(hashMode),
			Workers:   workers,
		}); err != nil {
			printWarning("Could not record run history: %v", err)
		}

		printSuccess("Processed %d files in %s", summary.Total, summary.Elapsed.Round(time.Millisecond))
		printStatus("Succeeded", "%d", summary.Succeeded)
		printStatus("Failed", "%d", summary.Failed)
		printStatus("Skipped", "%d", summary.Skipped)

		if exportTxt != "" {
			f, err := os.Create(exportTxt)
			if err != nil {
				return fmt.Errorf("creating export file: %w", err)
			}
			defer f.Close()
			if err := store.ExportText(f); err != nil {
				return fmt.Errorf("exporting results: %w", err)
			}
			printSuccess("Results exported to %s", exportTxt)
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().IntP("workers", "t", 0, "number of concurrent workers (default from config)")
	extractCmd.Flags().StringP("database", "d", "", "database path (default from config)")
	extractCmd.Flags().Bool("full-hash", false, "fingerprint whole file contents instead of head/tail sampling")
	extractCmd.Flags().Bool("text-only", false, "skip OCR, use text-layer extraction only")
	extractCmd.Flags().Bool("ocr-only", false, "skip text-layer extraction, OCR every file")
	extractCmd.Flags().Bool("force", false, "re-process files even if already in the database")
	extractCmd.Flags().String("export-txt", "", "write a text report of all results after the run")
}

// progressPrinter rewrites a single status line as workers report completion.
type progressPrinter struct {
	total int
}

func (p *progressPrinter) Done(completed int) {
	fmt.Fprintf(os.Stderr, "\r  %d/%d files", completed, p.total)
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate extraction statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.GetStats()
		if err != nil {
			return fmt.Errorf("reading stats: %w", err)
		}

		printStatus("Total", "%d", stats.Total)
		printStatus("Succeeded", "%d", stats.Succeeded)
		printStatus("Failed", "%d", stats.Failed)
		printStatus("Avg time", "%.2fs", stats.AvgSeconds)

		if len(stats.ByMethod) > 0 {
			methods := make([]string, 0, len(stats.ByMethod))
			for m := range stats.ByMethod {
				methods = append(methods, m)
			}
			sort.Strings(methods)
			for _, m := range methods {
				printStatus(m, "%d", stats.ByMethod[m])
			}
		}
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search extracted text (case-sensitive substring match)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		results, err := store.Search(query, limit)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range results {
			fmt.Printf("\n%s  %s\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.FilePath)
			fmt.Printf("  %s  %s\n", colorize(colorCyan, r.Method), r.Timestamp.Format(time.RFC3339))
			fmt.Printf("  %s\n", r.Preview)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored extraction records",
	RunE: func(cmd *cobra.Command, args []string) error {
		method, _ := cmd.Flags().GetString("method")
		includeFailed, _ := cmd.Flags().GetBool("include-failed")
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		rows, err := store.ListExtractions(method, includeFailed, limit)
		if err != nil {
			return fmt.Errorf("listing extractions: %w", err)
		}

		if len(rows) == 0 {
			fmt.Println("No extractions found.")
			return nil
		}

		for _, e := range rows {
			status := colorize(colorGreen, "ok")
			if !e.Success {
				status = colorize(colorRed, "failed")
			}
			fmt.Printf("%-6d %-7s %-15s %6.2fs  %s\n", e.ID, status, e.Method, e.Seconds, e.FilePath)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().String("method", "", "filter by extraction method")
	listCmd.Flags().Bool("include-failed", false, "include failed extractions")
	listCmd.Flags().Int("limit", 50, "maximum number of records")
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export [output]",
	Short: "Export all results as a plain-text report",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		writer := os.Stdout
		if len(args) == 1 {
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		if err := store.ExportText(writer); err != nil {
			return fmt.Errorf("exporting results: %w", err)
		}
		if len(args) == 1 {
			printSuccess("Results exported to %s", args[0])
		}
		return nil
	},
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent extraction run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.RecentRuns(limit)
		if err != nil {
			return fmt.Errorf("reading run history: %w", err)
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, r := range runs {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, r.ID[:8]),
				r.StartedAt.Format(time.RFC3339),
				r.RootDir,
			)
			fmt.Printf("         total=%d ok=%d failed=%d skipped=%d workers=%d hash=%s\n",
				r.Total, r.Succeeded, r.Failed, r.Skipped, r.Workers, r.HashMode)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 10, "maximum number of runs to show")
}
