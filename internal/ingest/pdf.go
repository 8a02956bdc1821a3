package ingest

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// validatePDF checks that the upload is a readable PDF and returns its page
// count. Pulling clean prose out of a PDF stays a collaborator concern; the
// core only validates.
func validatePDF(data []byte) (int, error) {
	pages, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0, fmt.Errorf("unreadable PDF: %w", err)
	}
	if pages == 0 {
		return 0, fmt.Errorf("PDF has no pages")
	}
	return pages, nil
}
