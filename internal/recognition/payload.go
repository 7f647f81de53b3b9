package recognition

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	fileTypePDF   = 0
	fileTypeImage = 1
)

// requestBody mirrors the JSON the service expects. It is only used to decode
// payloads in tests; encodePayload writes the same shape incrementally.
type requestBody struct {
	File                      string `json:"file"`
	FileType                  int    `json:"fileType"`
	UseDocOrientationClassify bool   `json:"useDocOrientationClassify"`
	UseDocUnwarping           bool   `json:"useDocUnwarping"`
	UseChartRecognition       bool   `json:"useChartRecognition"`
}

func fileTypeOf(path string) int {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return fileTypePDF
	}
	return fileTypeImage
}

// encodePayload writes the request JSON for src to w, base64-encoding the
// document as it streams through.
func encodePayload(w io.Writer, src io.Reader, fileType int) error {
	if _, err := io.WriteString(w, `{"file":"`); err != nil {
		return err
	}
	enc := base64.NewEncoder(base64.StdEncoding, w)
	if _, err := io.Copy(enc, src); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to flush encoder: %w", err)
	}
	_, err := fmt.Fprintf(w, `","fileType":%d,"useDocOrientationClassify":false,"useDocUnwarping":false,"useChartRecognition":false}`, fileType)
	return err
}

// payload is a request body that can be replayed for every attempt.
type payload struct {
	inline   []byte
	path     string
	size     int64
	streamed bool
}

// newPayload builds the body for docPath. Documents below inlineLimit are
// encoded in memory; larger ones go to a temp file under tempDir so the
// document is never held twice in memory.
func newPayload(docPath string, size, inlineLimit int64, tempDir string) (*payload, error) {
	src, err := os.Open(docPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", docPath, err)
	}
	defer src.Close()
	fileType := fileTypeOf(docPath)

	if size < inlineLimit {
		var buf bytes.Buffer
		buf.Grow(base64.StdEncoding.EncodedLen(int(size)) + 160)
		if err := encodePayload(&buf, src, fileType); err != nil {
			return nil, err
		}
		return &payload{inline: buf.Bytes(), size: int64(buf.Len())}, nil
	}

	tmp, err := os.CreateTemp(tempDir, "ocr-payload-*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create payload file: %w", err)
	}
	bw := bufio.NewWriterSize(tmp, 1<<20)
	err = encodePayload(bw, bufio.NewReaderSize(src, 3<<18), fileType)
	if err == nil {
		err = bw.Flush()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to write payload file: %w", err)
	}
	fi, err := os.Stat(tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to stat payload file: %w", err)
	}
	return &payload{path: tmp.Name(), size: fi.Size(), streamed: true}, nil
}

// open returns a fresh reader over the body.
func (p *payload) open() (io.ReadCloser, error) {
	if !p.streamed {
		return io.NopCloser(bytes.NewReader(p.inline)), nil
	}
	return os.Open(p.path)
}

func (p *payload) cleanup() error {
	if !p.streamed {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
