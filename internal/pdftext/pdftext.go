// Package pdftext pulls plain text out of PDF documents.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

var (
	// ErrNotPDF is returned for uploads that are not PDF documents
	ErrNotPDF = errors.New("file is not a PDF")
	// ErrNoText is returned when a PDF has no extractable text
	ErrNoText = errors.New("no text found in PDF")
)

// IsPDF sniffs the content type from the leading bytes
func IsPDF(head []byte) bool {
	return mimetype.Detect(head).Is("application/pdf")
}

// FromBytes extracts text from an in-memory PDF
func FromBytes(data []byte) (string, error) {
	if !IsPDF(data) {
		return "", ErrNotPDF
	}
	return Extract(bytes.NewReader(data), int64(len(data)))
}

// Extract returns the text of every page, each preceded by a page marker
func Extract(r io.ReaderAt, size int64) (text string, err error) {
	// the parser panics on some malformed files
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = fmt.Errorf("failed to parse PDF: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	var b strings.Builder
	hasText := false
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read page %d: %w", i, err)
		}
		content = strings.Join(strings.Fields(content), " ")
		if content != "" {
			hasText = true
		}
		fmt.Fprintf(&b, "\n--- Page %d ---\n%s", i, content)
	}

	if !hasText {
		return "", ErrNoText
	}
	return b.String(), nil
}
