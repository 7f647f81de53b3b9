package splitter

import (
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFSource reads and slices PDF files with pdfcpu.
type PDFSource struct {
	conf *model.Configuration
}

// NewPDFSource returns a PDFSource using relaxed validation.
func NewPDFSource() *PDFSource {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return &PDFSource{conf: cfg}
}

// PageCount returns the number of pages in the PDF at path.
func (p *PDFSource) PageCount(path string) (int, error) {
	return api.PageCountFile(path)
}

// Extract writes pages first..last of src to dst, replacing dst if it exists.
func (p *PDFSource) Extract(src, dst string, first, last int) error {
	if first < 1 || last < first {
		return fmt.Errorf("invalid page range %d-%d", first, last)
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to replace %s: %w", dst, err)
	}
	selection := []string{fmt.Sprintf("%d-%d", first, last)}
	return api.TrimFile(src, dst, selection, p.conf)
}
