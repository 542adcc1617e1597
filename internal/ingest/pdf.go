package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF extracts the plain text of a PDF document. The reference may be
// a local file path or an http(s) URL; remote documents are fetched into
// memory first (subject to the shared size limit).
func (i *Ingestor) extractPDF(ctx context.Context, ref string) (string, []string, error) {
	var (
		reader *pdf.Reader
		closer io.Closer
		err    error
	)

	if strings.HasPrefix(strings.ToLower(ref), "http://") || strings.HasPrefix(strings.ToLower(ref), "https://") {
		var body []byte
		body, _, err = i.fetch(ctx, ref, "application/pdf,*/*;q=0.8")
		if err != nil {
			return "", nil, err
		}
		reader, err = pdf.NewReader(bytes.NewReader(body), int64(len(body)))
		if err != nil {
			return "", nil, fmt.Errorf("ingest: parse pdf %q: %w", ref, err)
		}
	} else {
		var f *os.File
		f, reader, err = pdf.Open(ref)
		if err != nil {
			return "", nil, fmt.Errorf("ingest: open pdf %q: %w", ref, err)
		}
		closer = f
	}
	if closer != nil {
		defer closer.Close()
	}

	text, warnings, err := pdfPlainText(reader)
	if err != nil {
		return "", warnings, fmt.Errorf("ingest: extract pdf %q: %w", ref, err)
	}
	return text, warnings, nil
}

// pdfPlainText reads the whole document as plain text, falling back to a
// page-by-page walk when the bulk reader fails partway through. Individual
// unreadable pages become warnings rather than failing the document.
func pdfPlainText(reader *pdf.Reader) (string, []string, error) {
	if plain, err := reader.GetPlainText(); err == nil {
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, plain); err == nil {
			return buf.String(), nil, nil
		}
	}

	var (
		buf      strings.Builder
		warnings []string
	)
	for n := 1; n <= reader.NumPage(); n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			warnings = append(warnings, fmt.Sprintf("pdf page %d is unreadable", n))
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("pdf page %d: %v", n, err))
			continue
		}
		buf.WriteString(text)
		buf.WriteByte('\n')
	}
	if buf.Len() == 0 && len(warnings) > 0 {
		return "", warnings, fmt.Errorf("no readable pages")
	}
	return buf.String(), warnings, nil
}
