package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Lllllllleong/docuconvert/internal/config"
	"github.com/Lllllllleong/docuconvert/internal/metrics"
	"github.com/Lllllllleong/docuconvert/internal/models"
	"github.com/Lllllllleong/docuconvert/internal/pipeline"
	"github.com/Lllllllleong/docuconvert/internal/recognition"
	"github.com/Lllllllleong/docuconvert/internal/watcher"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		outputDir   = flag.String("out", "", "output directory (default: next to the input, or <dir>_markdown with -watch)")
		watchDir    = flag.String("watch", "", "process every document dropped into this directory")
		check       = flag.Bool("check", false, "check that the OCR endpoint is reachable and exit")
		metricsAddr = flag.String("metrics-addr", "", "serve /metrics and /healthz on this address")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <document>...\n       %s [flags] -watch <dir>\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	setupLogging(*verbose)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration.", "error", err)
		return 2
	}
	if cfg.APIURL == "" {
		slog.Error("OCR_API_URL must be set.")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *check {
		return checkEndpoint(ctx, cfg)
	}
	if *watchDir == "" && flag.NArg() == 0 {
		flag.Usage()
		return 2
	}
	if *metricsAddr != "" {
		srv := startMetricsServer(*metricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	orchestrator, err := pipeline.NewFromConfig(cfg, slog.Default(), nil)
	if err != nil {
		slog.Error("Failed to initialize pipeline.", "error", err)
		return 1
	}

	if *watchDir != "" {
		out, err := watchOutputDir(*watchDir, *outputDir)
		if err != nil {
			slog.Error("Invalid output directory for watch mode.", "error", err)
			return 2
		}
		return watch(ctx, orchestrator, *watchDir, out)
	}

	exitCode := 0
	for _, input := range flag.Args() {
		outcome := orchestrator.ProcessDocument(ctx, request(input, *outputDir))
		report(input, outcome)
		if !outcome.Success {
			exitCode = 1
			if outcome.Cancelled || outcome.AuthError {
				break
			}
		}
	}
	return exitCode
}

func setupLogging(verbose bool) {
	opts := &slog.HandlerOptions{}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(config.GetEnv("LOG_FORMAT", ""), "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func request(input, outputDir string) models.ProcessingRequest {
	if outputDir == "" {
		outputDir = filepath.Dir(input)
	}
	return models.ProcessingRequest{InputPath: input, OutputDir: outputDir}
}

// watchOutputDir keeps outputs out of the watched directory, where downloaded
// images would be picked up again as new inputs. The default is a
// "<dir>_markdown" sibling.
func watchOutputDir(watchDir, outputDir string) (string, error) {
	dir, err := filepath.Abs(watchDir)
	if err != nil {
		return "", err
	}
	if outputDir == "" {
		return filepath.Join(filepath.Dir(dir), filepath.Base(dir)+"_markdown"), nil
	}
	out, err := filepath.Abs(outputDir)
	if err != nil {
		return "", err
	}
	if out == dir {
		return "", fmt.Errorf("output directory %s must differ from the watched directory", outputDir)
	}
	return out, nil
}

func report(input string, outcome models.ProcessingOutcome) {
	logCtx := slog.With("inputPath", input, "elapsed", outcome.Elapsed.Round(time.Millisecond).String())
	switch {
	case outcome.Success:
		logCtx.Info("Converted.", "outputPath", outcome.OutputPath, "assetsFetched", outcome.AssetsFetched, "assetWarnings", len(outcome.Warnings))
	case outcome.Cancelled:
		logCtx.Warn("Cancelled.")
	case outcome.AuthError:
		logCtx.Error("The OCR service rejected the token. Check OCR_API_TOKEN.", "statusCode", outcome.StatusCode)
	default:
		logCtx.Error("Conversion failed.", "error", outcome.ErrorMessage, "statusCode", outcome.StatusCode)
	}
}

func checkEndpoint(ctx context.Context, cfg config.Config) int {
	client, err := recognition.New(recognition.OptionsFromConfig(cfg, slog.Default()))
	if err != nil {
		slog.Error("Failed to create recognition client.", "error", err)
		return 1
	}
	res, err := client.Probe(ctx)
	if err != nil {
		slog.Error("OCR endpoint unreachable.", "endpoint", cfg.APIURL, "error", err)
		return 1
	}
	if !res.Reachable {
		slog.Error("OCR endpoint rejected the probe.", "endpoint", cfg.APIURL, "statusCode", res.StatusCode, "status", recognition.StatusDescription(res.StatusCode))
		return 1
	}
	slog.Info("OCR endpoint reachable.", "endpoint", cfg.APIURL, "statusCode", res.StatusCode)
	return 0
}

func watch(ctx context.Context, orchestrator *pipeline.Orchestrator, dir, outputDir string) int {
	w, err := watcher.New(nil, watcher.DefaultSettleDelay, slog.Default())
	if err != nil {
		slog.Error("Failed to create watcher.", "error", err)
		return 1
	}
	defer w.Close()

	events, err := w.Watch(ctx, dir)
	if err != nil {
		slog.Error("Failed to watch directory.", "dir", dir, "error", err)
		return 1
	}
	for path := range events {
		outcome := orchestrator.ProcessDocument(ctx, request(path, outputDir))
		report(path, outcome)
		if outcome.AuthError {
			return 1
		}
	}
	slog.Info("Watch stopped.")
	return 0
}

func startMetricsServer(addr string) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server stopped.", "error", err)
		}
	}()
	slog.Info("Serving metrics.", "addr", addr)
	return srv
}
