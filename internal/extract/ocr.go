package extract

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// OCR recovers text from PDFs with no usable text layer by rasterizing each
// page with pdftoppm and running tesseract over the images. Both tools are
// external commands; Available reports whether they can be found at all.
type OCR struct {
	// Language is the tesseract language code ("eng", "eng+fra").
	Language string
	// Timeout bounds one file's whole rasterize-and-recognize pipeline so
	// a hung subprocess cannot hold a worker slot forever. Zero means no
	// bound.
	Timeout time.Duration
}

// Available reports whether both pdftoppm and tesseract are on PATH.
func (o *OCR) Available() bool {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return false
	}
	if _, err := exec.LookPath("tesseract"); err != nil {
		return false
	}
	return true
}

// Extract renders every page of the PDF at path to a PNG and OCRs each one.
// Pages that produce non-blank text are concatenated with a
// "--- Page N (OCR) ---" header. The returned page count is the number of
// rendered images, even when some pages yield no text.
func (o *OCR) Extract(ctx context.Context, path string) (string, int, error) {
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	tmpDir, err := os.MkdirTemp("", "pdfmill-ocr-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	images, err := o.rasterize(ctx, path, tmpDir)
	if err != nil {
		return "", 0, err
	}
	if len(images) == 0 {
		return "", 0, fmt.Errorf("no page images produced for %s", path)
	}

	var b strings.Builder
	for i, image := range images {
		pageText, err := o.recognize(ctx, image)
		if err != nil {
			if ctx.Err() != nil {
				return "", 0, fmt.Errorf("ocr timed out on page %d of %s: %w", i+1, path, ctx.Err())
			}
			// Keep going; other pages may still be readable.
			continue
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		fmt.Fprintf(&b, "--- Page %d (OCR) ---\n", i+1)
		b.WriteString(pageText)
		b.WriteString("\n\n")
	}

	return b.String(), len(images), nil
}

// rasterize converts the PDF into per-page PNGs under dir and returns their
// paths in page order. pdftoppm zero-pads page numbers, so a lexical sort
// preserves page order.
func (o *OCR) rasterize(ctx context.Context, path, dir string) ([]string, error) {
	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm", "-png", path, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm on %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing page images: %w", err)
	}

	var images []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".png") {
			images = append(images, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(images)
	return images, nil
}

func (o *OCR) recognize(ctx context.Context, imagePath string) (string, error) {
	lang := o.Language
	if lang == "" {
		lang = "eng"
	}
	cmd := exec.CommandContext(ctx, "tesseract", imagePath, "stdout", "-l", lang)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("tesseract on %s: %w: %s", imagePath, err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}
