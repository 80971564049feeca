package convert

import (
	"bytes"
	"fmt"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// ValidatePDF checks that converter output is a structurally sound PDF before
// it is published. Malformed output is treated as a converter failure.
func ValidatePDF(content []byte) error {
	if err := pdfapi.Validate(bytes.NewReader(content), nil); err != nil {
		return &ConvertError{ExitCode: 0, Output: fmt.Sprintf("invalid pdf output: %v", err)}
	}
	return nil
}

// PDFPageCount returns the page count of a produced PDF, for artifact metadata.
func PDFPageCount(content []byte) (int, error) {
	return pdfapi.PageCount(bytes.NewReader(content), nil)
}
