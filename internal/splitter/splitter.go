// Package splitter decides whether a paginated document fits the recognition
// service limits and, when it does not, partitions it into ordered sub-documents.
package splitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnreadableDocument is returned when the page count cannot be determined.
var ErrUnreadableDocument = errors.New("unreadable document")

// Limits bounds every sub-document sent to the recognition service.
type Limits struct {
	MaxPages int
	MaxBytes int64
}

// Part is one sub-document of a plan. Pages are 1-based and inclusive.
type Part struct {
	Path      string
	FirstPage int
	LastPage  int
	Size      int64
}

// Pages returns the number of pages in the part.
func (p Part) Pages() int { return p.LastPage - p.FirstPage + 1 }

// Plan is the ordered list of sub-documents for one input.
type Plan struct {
	Parts      []Part
	TotalPages int
}

// Paths returns the sub-document paths in page order.
func (p Plan) Paths() []string {
	paths := make([]string, len(p.Parts))
	for i, part := range p.Parts {
		paths[i] = part.Path
	}
	return paths
}

// IsSingleton reports whether the plan is the untouched original file.
func (p Plan) IsSingleton() bool { return len(p.Parts) == 1 && p.Parts[0].Size < 0 }

// PageSource is the document library used to count and extract pages.
type PageSource interface {
	PageCount(path string) (int, error)
	// Extract writes pages first..last (1-based, inclusive) of src to dst.
	Extract(src, dst string, first, last int) error
}

// Splitter builds split plans.
type Splitter struct {
	source PageSource
	logger *slog.Logger
}

// New creates a Splitter backed by pdfcpu.
func New(logger *slog.Logger) *Splitter {
	return NewWithSource(NewPDFSource(), logger)
}

// NewWithSource creates a Splitter over an arbitrary PageSource.
func NewWithSource(source PageSource, logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Splitter{source: source, logger: logger.With("component", "splitter")}
}

// IsPaginated reports whether the file is a format the splitter can page through.
func IsPaginated(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// Inspect returns the page count and byte size of a document.
func (s *Splitter) Inspect(path string) (pages int, size int64, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	pages, err = s.source.PageCount(path)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s: %v", ErrUnreadableDocument, filepath.Base(path), err)
	}
	if pages < 1 {
		return 0, 0, fmt.Errorf("%w: %s has no pages", ErrUnreadableDocument, filepath.Base(path))
	}
	return pages, fi.Size(), nil
}

// NeedsSplit reports whether a document with the given shape exceeds the limits.
func NeedsSplit(pages int, size int64, limits Limits) bool {
	return pages > limits.MaxPages || size > limits.MaxBytes
}

// Plan partitions inputPath into sub-documents under tempDir that each respect
// limits. A document already within both limits yields a singleton plan that
// points at inputPath itself. Removing tempDir is the caller's job.
func (s *Splitter) Plan(ctx context.Context, inputPath, tempDir string, limits Limits) (Plan, error) {
	if limits.MaxPages < 1 {
		return Plan{}, fmt.Errorf("max pages must be at least 1, got %d", limits.MaxPages)
	}
	total, size, err := s.Inspect(inputPath)
	if err != nil {
		return Plan{}, err
	}
	if !NeedsSplit(total, size, limits) {
		return Plan{
			Parts:      []Part{{Path: inputPath, FirstPage: 1, LastPage: total, Size: -1}},
			TotalPages: total,
		}, nil
	}

	logCtx := s.logger.With("inputPath", inputPath, "totalPages", total, "sizeBytes", size)
	logCtx.Info("Document exceeds limits, splitting.", "maxPages", limits.MaxPages, "maxBytes", limits.MaxBytes)

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	plan := Plan{TotalPages: total}
	for first, index := 1, 1; first <= total; index++ {
		if err := ctx.Err(); err != nil {
			return Plan{}, err
		}
		dst := filepath.Join(tempDir, fmt.Sprintf("%s_part%d.pdf", base, index))
		part, err := s.materialize(inputPath, dst, first, min(limits.MaxPages, total-first+1), limits.MaxBytes)
		if err != nil {
			return Plan{}, err
		}
		logCtx.Debug("Materialized sub-document.", "part", index, "firstPage", part.FirstPage, "lastPage", part.LastPage, "sizeBytes", part.Size)
		plan.Parts = append(plan.Parts, part)
		first = part.LastPage + 1
	}
	logCtx.Info("Split plan ready.", "parts", len(plan.Parts))
	return plan, nil
}

// materialize writes a window starting at first, halving its page count until the
// file fits maxBytes. A single page is kept regardless of size.
func (s *Splitter) materialize(src, dst string, first, take int, maxBytes int64) (Part, error) {
	for {
		last := first + take - 1
		if err := s.source.Extract(src, dst, first, last); err != nil {
			return Part{}, fmt.Errorf("failed to extract pages %d-%d: %w", first, last, err)
		}
		fi, err := os.Stat(dst)
		if err != nil {
			return Part{}, fmt.Errorf("failed to stat sub-document %s: %w", dst, err)
		}
		if fi.Size() <= maxBytes || take == 1 {
			if fi.Size() > maxBytes {
				s.logger.Warn("Single page exceeds size limit, keeping it.", "page", first, "sizeBytes", fi.Size(), "maxBytes", maxBytes)
			}
			return Part{Path: dst, FirstPage: first, LastPage: last, Size: fi.Size()}, nil
		}
		take = max(take/2, 1)
	}
}
