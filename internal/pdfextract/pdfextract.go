// Package pdfextract pulls plain text out of PDF bytes using two
// independent engines in sequence, for the non-vision AnalysisEngine path
// where a PDF must be reduced to text before token counting and chunking
// can proceed.
package pdfextract

import (
	"bytes"
	"strings"

	ledongthucpdf "github.com/ledongthuc/pdf"
	rscpdf "rsc.io/pdf"
)

// NoExtractableTextMarker is returned (as the sole content) when neither
// engine can recover any text from the document, so downstream token
// counting sees a short, honest string rather than an empty one.
const NoExtractableTextMarker = "[PDF contains no extractable text]"

// Extract tries ledongthuc/pdf first (layout-preserving, reads a whole
// page's text in document order) and falls back to rsc.io/pdf (page-by-page
// content-stream walking) if the first engine errors or returns nothing.
func Extract(pdfBytes []byte) string {
	if text, ok := extractLedongthuc(pdfBytes); ok && strings.TrimSpace(text) != "" {
		return text
	}
	if text, ok := extractRSC(pdfBytes); ok && strings.TrimSpace(text) != "" {
		return text
	}
	return NoExtractableTextMarker
}

func extractLedongthuc(pdfBytes []byte) (string, bool) {
	reader := bytes.NewReader(pdfBytes)
	r, err := ledongthucpdf.NewReader(reader, int64(len(pdfBytes)))
	if err != nil {
		return "", false
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), true
}

func extractRSC(pdfBytes []byte) (string, bool) {
	reader := bytes.NewReader(pdfBytes)
	r, err := rscpdf.NewReader(reader, int64(len(pdfBytes)))
	if err != nil {
		return "", false
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content := page.Content()
		for _, txt := range content.Text {
			b.WriteString(txt.S)
		}
		b.WriteString("\n")
	}
	return b.String(), true
}
