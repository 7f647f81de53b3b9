// Package pdftest writes small, valid PDF files for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"
)

// Write creates a PDF with the given number of pages at path. Each page carries
// a content stream padded with roughly padBytes bytes so callers can control
// file size.
func Write(t testing.TB, path string, pages, padBytes int) {
	t.Helper()
	if err := os.WriteFile(path, Build(pages, padBytes), 0o644); err != nil {
		t.Fatalf("failed to write test pdf: %v", err)
	}
}

// Build returns the bytes of a PDF with the given number of pages.
func Build(pages, padBytes int) []byte {
	var buf bytes.Buffer
	offsets := []int{0}
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets)-1, body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")

	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))

	for i := 0; i < pages; i++ {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> /Contents %d 0 R >>", 4+2*i))
		content := pageContent(i+1, padBytes)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets))
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets[1:] {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets), xref)
	return buf.Bytes()
}

func pageContent(page, padBytes int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%% page %d\n0 0 m\n", page)
	line := "%" + strings.Repeat("x", 62) + "\n"
	for sb.Len() < padBytes {
		sb.WriteString(line)
	}
	return sb.String()
}
