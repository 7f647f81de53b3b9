package assembler

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name      string
		fragments []string
		want      string
	}{
		{"empty", nil, ""},
		{"single fragment unchanged", []string{"# Title\n\nBody"}, "# Title\n\nBody"},
		{"single fragment keeps trailing newline", []string{"Body\n"}, "Body\n"},
		{"two sub-documents", []string{"part one", "part two"}, "part one\n\npart two\n"},
		{"trailing newlines collapsed", []string{"a\n\n", "b\n", "c"}, "a\n\nb\n\nc\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Merge(tt.fragments); got != tt.want {
				t.Errorf("Merge(%q) = %q; want %q", tt.fragments, got, tt.want)
			}
		})
	}
}

func TestOutputPath(t *testing.T) {
	got := OutputPath(filepath.Join("in", "report.final.pdf"), "out")
	if want := filepath.Join("out", "report.final.md"); got != want {
		t.Errorf("OutputPath = %s; want %s", got, want)
	}
}

func TestWriteMarkdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")
	if err := WriteMarkdown(path, "\ufeff# 标题\n\nText"); err != nil {
		t.Fatalf("WriteMarkdown failed: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "# 标题\n\nText\n" {
		t.Errorf("file content = %q", got)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind")
	}
}

func TestImageReferences(t *testing.T) {
	md := "# Report\n\n![chart](imgs/chart.png)\n\n<img src=\"imgs/table.jpg\" alt=\"t\">\n\nInline <img src='imgs/inline.jpg'/> text and ![again](imgs/chart.png).\n\n![remote](https://example.com/x.png)\n"
	got := ImageReferences(md)
	want := []string{"imgs/chart.png", "imgs/table.jpg", "imgs/inline.jpg", "https://example.com/x.png"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ImageReferences = %v; want %v", got, want)
	}
}

func TestUnresolvedImages(t *testing.T) {
	out := t.TempDir()
	if err := os.MkdirAll(filepath.Join(out, "imgs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(out, "imgs", "local.png"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	md := "![a](imgs/known.png) ![b](imgs/local.png) ![c](imgs/lost.png) ![d](http://cdn/x.png)"
	got := UnresolvedImages(md, map[string]string{"imgs/known.png": "http://svc/known"}, out)
	if want := []string{"imgs/lost.png"}; !reflect.DeepEqual(got, want) {
		t.Errorf("UnresolvedImages = %v; want %v", got, want)
	}
}
