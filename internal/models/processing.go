package models

import (
	"path/filepath"
	"strings"
	"time"
)

// ProcessingRequest names one document to convert and where its output goes.
type ProcessingRequest struct {
	InputPath string
	OutputDir string
}

// PageFragment is the normalized Markdown recognized for one page.
type PageFragment struct {
	Index        int
	MarkdownText string
}

// RecognitionResult is the parsed response for one (sub-)document.
// Fragments are in page order; Assets maps a relative output path to its URL.
type RecognitionResult struct {
	Fragments []PageFragment
	Assets    map[string]string
}

// Text joins the fragments with exactly one blank line between pages.
func (r RecognitionResult) Text() string {
	n := 0
	for _, f := range r.Fragments {
		n += len(f.MarkdownText) + 2
	}
	buf := make([]byte, 0, n)
	for i, f := range r.Fragments {
		if i > 0 {
			buf = append(buf, '\n', '\n')
		}
		buf = append(buf, f.MarkdownText...)
	}
	return string(buf)
}

// AssetWarning records an asset that could not be fetched. Never fatal.
type AssetWarning struct {
	RelativePath string
	URL          string
	StatusCode   int
	Message      string
}

// ProcessingOutcome is the single terminal value of one pipeline run.
// Success implies OutputPath is set and ErrorMessage is empty; failure implies
// OutputPath is empty. Build it with Succeeded or Failed.
type ProcessingOutcome struct {
	Success       bool
	OutputPath    string
	Elapsed       time.Duration
	ErrorMessage  string
	StatusCode    int
	AuthError     bool
	Fatal         bool
	Cancelled     bool
	AssetsFetched int
	Warnings      []AssetWarning
}

// Succeeded builds a successful outcome.
func Succeeded(outputPath string, elapsed time.Duration, fetched int, warnings []AssetWarning) ProcessingOutcome {
	return ProcessingOutcome{
		Success:       true,
		OutputPath:    outputPath,
		Elapsed:       elapsed,
		AssetsFetched: fetched,
		Warnings:      warnings,
	}
}

// Failed builds a failed outcome. statusCode is zero when no HTTP status applies.
func Failed(message string, elapsed time.Duration, statusCode int, authError, fatal, cancelled bool) ProcessingOutcome {
	return ProcessingOutcome{
		Success:      false,
		Elapsed:      elapsed,
		ErrorMessage: message,
		StatusCode:   statusCode,
		AuthError:    authError,
		Fatal:        fatal,
		Cancelled:    cancelled,
	}
}

// SupportedExtensions are the input formats the recognition service accepts.
var SupportedExtensions = []string{".pdf", ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff"}

// IsSupportedDocument reports whether path has a supported extension.
func IsSupportedDocument(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
