package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Extraction methods recorded with every stored result.
const (
	MethodDirect        = "direct"
	MethodOCR           = "ocr"
	MethodDirectPartial = "direct_partial"
	MethodError         = "error"
)

// Mode restricts which strategies the resolver may attempt.
type Mode int

const (
	// ModeDefault tries the direct text layer first and falls back to OCR.
	ModeDefault Mode = iota
	// ModeTextOnly never invokes OCR, not even as a fallback.
	ModeTextOnly
	// ModeOCROnly skips the direct read entirely.
	ModeOCROnly
)

// DefaultTextThreshold is the minimum trimmed length for direct-extracted
// text to be considered substantial. Below it the file is assumed to be a
// scan with no real text layer.
const DefaultTextThreshold = 50

var errOCRDisabled = errors.New("ocr disabled (text-only mode)")

// DirectStrategy reads a document's embedded text layer.
type DirectStrategy interface {
	Extract(path string) (text string, pageCount int, err error)
}

// OCRStrategy derives text from rasterized page images.
type OCRStrategy interface {
	Available() bool
	Extract(ctx context.Context, path string) (text string, pageCount int, err error)
}

// Result is the terminal outcome of one file's strategy chain. Resolve
// never fails: every error path is folded into a MethodError result.
type Result struct {
	Method    string
	Text      string
	PageCount int
	Success   bool
	// ErrorDetail concatenates the failure of every attempted strategy
	// when Success is false.
	ErrorDetail string
}

// Resolver runs the configured strategy chain for one file at a time. It
// holds no per-call state and is safe to share across concurrent workers.
type Resolver struct {
	direct    DirectStrategy
	ocr       OCRStrategy
	mode      Mode
	threshold int
	logger    *slog.Logger
}

// NewResolver builds a Resolver. threshold <= 0 selects
// DefaultTextThreshold.
func NewResolver(direct DirectStrategy, ocr OCRStrategy, mode Mode, threshold int) *Resolver {
	if threshold <= 0 {
		threshold = DefaultTextThreshold
	}
	return &Resolver{
		direct:    direct,
		ocr:       ocr,
		mode:      mode,
		threshold: threshold,
		logger:    slog.Default(),
	}
}

// OCRAvailable reports whether the OCR backend is usable. In text-only mode
// it is always false.
func (r *Resolver) OCRAvailable() bool {
	if r.mode == ModeTextOnly {
		return false
	}
	return r.ocr.Available()
}

// HasExtractableText reports whether direct-extracted text is substantial
// enough to accept without an OCR pass.
func (r *Resolver) HasExtractableText(text string) bool {
	return len(strings.TrimSpace(text)) > r.threshold
}

// Resolve runs the strategy chain for path and always returns a terminal
// Result; strategy failures surface only through Method and ErrorDetail.
func (r *Resolver) Resolve(ctx context.Context, path string) Result {
	if r.mode == ModeOCROnly {
		text, pages, err := r.ocr.Extract(ctx, path)
		if err != nil {
			r.logger.Error("ocr extraction failed", "path", path, "error", err)
			return errorResult(fmt.Sprintf("ocr: %v", err))
		}
		return Result{Method: MethodOCR, Text: text, PageCount: pages, Success: true}
	}

	text, pages, directErr := r.direct.Extract(path)
	if directErr == nil {
		if r.HasExtractableText(text) {
			return Result{Method: MethodDirect, Text: text, PageCount: pages, Success: true}
		}
		// Thin or empty text layer: likely a scan. Try OCR, but keep the
		// direct text as a partial result if OCR cannot deliver.
		ocrText, ocrPages, ocrErr := r.tryOCR(ctx, path)
		if ocrErr == nil {
			return Result{Method: MethodOCR, Text: ocrText, PageCount: ocrPages, Success: true}
		}
		r.logger.Warn("ocr fallback failed, keeping partial direct text", "path", path, "error", ocrErr)
		return Result{Method: MethodDirectPartial, Text: text, PageCount: pages, Success: true}
	}

	// Direct read failed outright (corrupt or unreadable structure); OCR is
	// the last resort.
	ocrText, ocrPages, ocrErr := r.tryOCR(ctx, path)
	if ocrErr == nil {
		return Result{Method: MethodOCR, Text: ocrText, PageCount: ocrPages, Success: true}
	}
	r.logger.Error("all extraction strategies failed", "path", path, "direct_error", directErr, "ocr_error", ocrErr)
	return errorResult(fmt.Sprintf("direct: %v; ocr: %v", directErr, ocrErr))
}

func (r *Resolver) tryOCR(ctx context.Context, path string) (string, int, error) {
	if r.mode == ModeTextOnly {
		return "", 0, errOCRDisabled
	}
	return r.ocr.Extract(ctx, path)
}

func errorResult(detail string) Result {
	return Result{Method: MethodError, ErrorDetail: detail}
}
