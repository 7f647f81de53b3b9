// Package assembler merges recognized sub-document text into the final
// Markdown file and audits the image references it contains.
package assembler

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Merge concatenates sub-document texts in split order. Each sub-document ends
// with one line break and is followed by a blank line before the next one. A
// single sub-document is returned unchanged.
func Merge(fragments []string) string {
	switch len(fragments) {
	case 0:
		return ""
	case 1:
		return fragments[0]
	}
	var sb strings.Builder
	for i, frag := range fragments {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(strings.TrimRight(frag, "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// OutputPath returns <outputDir>/<input base name>.md.
func OutputPath(inputPath, outputDir string) string {
	base := filepath.Base(inputPath)
	return filepath.Join(outputDir, strings.TrimSuffix(base, filepath.Ext(base))+".md")
}

// WriteMarkdown writes content as UTF-8 without a byte order mark, replacing
// path atomically. A trailing newline is added when missing.
func WriteMarkdown(path, content string) error {
	content = strings.TrimPrefix(content, "\ufeff")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write markdown: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move markdown into place: %w", err)
	}
	return nil
}

var htmlImgSrc = regexp.MustCompile(`(?i)<img\b[^>]*?\bsrc\s*=\s*["']([^"']+)["']`)

// ImageReferences lists the distinct image destinations in markdown, from
// both Markdown image syntax and raw HTML <img> tags, in document order.
func ImageReferences(markdown string) []string {
	src := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	seen := make(map[string]bool)
	var refs []string
	add := func(ref string) {
		ref = strings.TrimSpace(ref)
		if ref != "" && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	addHTML := func(raw []byte) {
		for _, m := range htmlImgSrc.FindAllSubmatch(raw, -1) {
			add(string(m[1]))
		}
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Image:
			add(string(node.Destination))
		case *ast.HTMLBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				addHTML(seg.Value(src))
			}
		case *ast.RawHTML:
			var raw []byte
			for i := 0; i < node.Segments.Len(); i++ {
				seg := node.Segments.At(i)
				raw = append(raw, seg.Value(src)...)
			}
			addHTML(raw)
		}
		return ast.WalkContinue, nil
	})
	return refs
}

// UnresolvedImages returns the relative image references in markdown that are
// neither in known nor present under outputDir. Absolute URLs are ignored.
func UnresolvedImages(markdown string, known map[string]string, outputDir string) []string {
	var missing []string
	for _, ref := range ImageReferences(markdown) {
		if isRemote(ref) {
			continue
		}
		if _, ok := known[ref]; ok {
			continue
		}
		if _, err := os.Stat(filepath.Join(outputDir, filepath.FromSlash(ref))); err == nil {
			continue
		}
		missing = append(missing, ref)
	}
	sort.Strings(missing)
	return missing
}

func isRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "data:") ||
		strings.HasPrefix(lower, "//")
}
