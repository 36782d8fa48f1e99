// Package extract resolves a document file to text, trying a direct
// structural read of the PDF text layer first and falling back to an OCR
// pipeline when that yields nothing usable.
package extract

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Direct extracts the embedded text layer of a PDF without image analysis.
type Direct struct{}

// Extract reads the text layer of the PDF at path. Pages with non-blank
// text are concatenated with a "--- Page N ---" header each. A structurally
// valid PDF with zero pages returns ("", 0, nil); only parse failures
// return an error.
func (Direct) Extract(path string) (text string, pageCount int, err error) {
	// The pdf library panics on some malformed files; treat that the same
	// as a parse error so the caller can fall back to OCR.
	defer func() {
		if r := recover(); r != nil {
			text, pageCount = "", 0
			err = fmt.Errorf("parsing %s: %v", path, r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	pageCount = reader.NumPage()

	var b strings.Builder
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page is not fatal; later pages may
			// still carry text.
			continue
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		fmt.Fprintf(&b, "--- Page %d ---\n", i)
		b.WriteString(pageText)
		b.WriteString("\n\n")
	}

	return b.String(), pageCount, nil
}
