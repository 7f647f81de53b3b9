package assets

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchAssetsWritesDeclaredPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "img:"+r.URL.Path)
	}))
	defer srv.Close()

	out := t.TempDir()
	f := New(Options{})
	fetched, warnings := f.FetchAssets(context.Background(), map[string]string{
		"imgs/a.jpg":        srv.URL + "/a",
		"imgs/nested/b.png": srv.URL + "/b",
	}, out)

	if fetched != 2 || len(warnings) != 0 {
		t.Fatalf("fetched=%d warnings=%v; want 2 and none", fetched, warnings)
	}
	got, err := os.ReadFile(filepath.Join(out, "imgs", "nested", "b.png"))
	if err != nil {
		t.Fatalf("nested asset missing: %v", err)
	}
	if string(got) != "img:/b" {
		t.Errorf("asset content = %q", got)
	}
}

func TestFetchAssetsNotFoundIsWarning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	out := t.TempDir()
	fetched, warnings := New(Options{}).FetchAssets(context.Background(), map[string]string{
		"imgs/missing.jpg": srv.URL + "/missing.jpg",
	}, out)

	if fetched != 0 {
		t.Errorf("fetched = %d; want 0", fetched)
	}
	if len(warnings) != 1 || warnings[0].StatusCode != http.StatusNotFound || warnings[0].RelativePath != "imgs/missing.jpg" {
		t.Fatalf("unexpected warnings %+v", warnings)
	}
	if _, err := os.Stat(filepath.Join(out, "imgs", "missing.jpg")); !os.IsNotExist(err) {
		t.Errorf("failed asset must not be written, stat err = %v", err)
	}
}

func TestFetchAssetsSkipsBadEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	fetched, warnings := New(Options{}).FetchAssets(context.Background(), map[string]string{
		"imgs/empty.jpg": "",
		"../escape.jpg":  srv.URL + "/x",
		"imgs/good.jpg":  srv.URL + "/good",
	}, t.TempDir())

	if fetched != 1 {
		t.Errorf("fetched = %d; want 1", fetched)
	}
	if len(warnings) != 2 {
		t.Fatalf("got %d warnings; want 2: %+v", len(warnings), warnings)
	}
	// Warnings are ordered by relative path.
	if warnings[0].RelativePath != "../escape.jpg" || warnings[1].RelativePath != "imgs/empty.jpg" {
		t.Errorf("unexpected warning order %+v", warnings)
	}
}

func TestFetchAssetsBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	assets := make(map[string]string)
	for i := 0; i < 24; i++ {
		assets["imgs/"+strconv.Itoa(i)+".jpg"] = srv.URL + "/" + strconv.Itoa(i)
	}
	fetched, warnings := New(Options{Concurrency: 3}).FetchAssets(context.Background(), assets, t.TempDir())

	if fetched != 24 || len(warnings) != 0 {
		t.Fatalf("fetched=%d warnings=%d", fetched, len(warnings))
	}
	if p := peak.Load(); p > 3 {
		t.Errorf("peak concurrency %d exceeds limit 3", p)
	}
}

func TestLocalPath(t *testing.T) {
	out := filepath.Join("out", "dir")
	got, err := LocalPath(out, "imgs/a/b.jpg")
	if err != nil {
		t.Fatalf("LocalPath failed: %v", err)
	}
	if want := filepath.Join(out, "imgs", "a", "b.jpg"); got != want {
		t.Errorf("LocalPath = %s; want %s", got, want)
	}
	for _, bad := range []string{"../x.jpg", "/abs.jpg", ""} {
		if _, err := LocalPath(out, bad); err == nil {
			t.Errorf("LocalPath(%q) should fail", bad)
		}
	}
}
