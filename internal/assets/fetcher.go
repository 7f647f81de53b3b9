// Package assets downloads the images referenced by recognized pages.
package assets

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/docuconvert/internal/config"
	"github.com/Lllllllleong/docuconvert/internal/httpclient"
	"github.com/Lllllllleong/docuconvert/internal/metrics"
	"github.com/Lllllllleong/docuconvert/internal/models"
	"golang.org/x/sync/errgroup"
)

// Options configures a Fetcher. Zero values fall back to the config defaults.
type Options struct {
	Concurrency int
	Timeout     time.Duration // per asset
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Fetcher downloads asset maps with bounded concurrency.
type Fetcher struct {
	opts   Options
	logger *slog.Logger
}

// New returns a Fetcher using the shared pooled HTTP client unless one is given.
func New(opts Options) *Fetcher {
	if opts.Concurrency < 1 {
		opts.Concurrency = config.DefaultAssetConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultAssetTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = httpclient.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Fetcher{opts: opts, logger: opts.Logger.With("component", "assets")}
}

// FetchAssets writes every asset in the map to outputDir/<relative path> and
// returns how many were written. Failures never abort the batch; each one is
// reported as a warning and the asset is skipped.
func (f *Fetcher) FetchAssets(ctx context.Context, assetMap map[string]string, outputDir string) (int, []models.AssetWarning) {
	if len(assetMap) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(assetMap))
	for rel := range assetMap {
		keys = append(keys, rel)
	}
	sort.Strings(keys)

	var (
		mu       sync.Mutex
		fetched  int
		warnings []models.AssetWarning
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(f.opts.Concurrency)

	for _, rel := range keys {
		url := assetMap[rel]
		eg.Go(func() error {
			warn := f.fetchOne(gctx, rel, url, outputDir)
			mu.Lock()
			defer mu.Unlock()
			if warn != nil {
				metrics.IncrementAssetsFailed()
				f.logger.Warn("Skipping asset.", "relativePath", rel, "url", url, "statusCode", warn.StatusCode, "reason", warn.Message)
				warnings = append(warnings, *warn)
				return nil
			}
			metrics.IncrementAssetsFetched()
			fetched++
			return nil
		})
	}
	// Workers only report warnings, so Wait has no error to return.
	_ = eg.Wait()

	sort.Slice(warnings, func(i, j int) bool { return warnings[i].RelativePath < warnings[j].RelativePath })
	f.logger.Info("Asset download finished.", "requested", len(keys), "fetched", fetched, "warnings", len(warnings))
	return fetched, warnings
}

func (f *Fetcher) fetchOne(ctx context.Context, rel, url, outputDir string) *models.AssetWarning {
	warning := func(status int, format string, args ...any) *models.AssetWarning {
		return &models.AssetWarning{RelativePath: rel, URL: url, StatusCode: status, Message: fmt.Sprintf(format, args...)}
	}
	if url == "" {
		return warning(0, "asset has no URL")
	}
	local, err := LocalPath(outputDir, rel)
	if err != nil {
		return warning(0, "%v", err)
	}
	if err := ctx.Err(); err != nil {
		return warning(0, "cancelled: %v", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return warning(0, "invalid URL: %v", err)
	}
	resp, err := f.opts.HTTPClient.Do(req)
	if err != nil {
		return warning(0, "download failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return warning(resp.StatusCode, "download returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return warning(0, "failed to create directory: %v", err)
	}
	if err := writeFile(local, resp.Body); err != nil {
		return warning(resp.StatusCode, "%v", err)
	}
	return nil
}

func writeFile(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// LocalPath maps a '/'-separated relative asset path to a path under
// outputDir. Paths that would escape outputDir are rejected.
func LocalPath(outputDir, rel string) (string, error) {
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("asset path %q escapes the output directory", rel)
	}
	return filepath.Join(outputDir, local), nil
}
