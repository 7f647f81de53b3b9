package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Lllllllleong/docuconvert/internal/models"
	"github.com/Lllllllleong/docuconvert/internal/recognition"
	"github.com/Lllllllleong/docuconvert/internal/splitter"
)

type fakePlanner struct {
	parts int
	calls int
}

func (f *fakePlanner) Plan(_ context.Context, inputPath, tempDir string, _ splitter.Limits) (splitter.Plan, error) {
	f.calls++
	if f.parts <= 1 {
		return splitter.Plan{Parts: []splitter.Part{{Path: inputPath, FirstPage: 1, LastPage: 1, Size: -1}}, TotalPages: 1}, nil
	}
	plan := splitter.Plan{TotalPages: f.parts}
	for i := 1; i <= f.parts; i++ {
		path := filepath.Join(tempDir, "part"+string(rune('0'+i))+".pdf")
		if err := os.WriteFile(path, []byte("part"), 0o644); err != nil {
			return splitter.Plan{}, err
		}
		plan.Parts = append(plan.Parts, splitter.Part{Path: path, FirstPage: i, LastPage: i, Size: 4})
	}
	return plan, nil
}

type fakeRecognizer struct {
	fn    func(ctx context.Context, call int, path string) (models.RecognitionResult, error)
	paths []string
}

func (f *fakeRecognizer) Recognize(ctx context.Context, path string) (models.RecognitionResult, error) {
	f.paths = append(f.paths, path)
	return f.fn(ctx, len(f.paths), path)
}

type fakeFetcher struct {
	calls int
}

func (f *fakeFetcher) FetchAssets(_ context.Context, assetMap map[string]string, _ string) (int, []models.AssetWarning) {
	f.calls++
	return len(assetMap), nil
}

func textResult(texts ...string) models.RecognitionResult {
	res := models.RecognitionResult{Assets: map[string]string{}}
	for i, text := range texts {
		res.Fragments = append(res.Fragments, models.PageFragment{Index: i, MarkdownText: text})
	}
	return res
}

func writeInput(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestOrchestrator(t *testing.T, planner Planner, rec Recognizer, fetcher AssetFetcher, observe func(Transition)) (*Orchestrator, string) {
	t.Helper()
	tempRoot := t.TempDir()
	o := New(planner, rec, fetcher, Options{
		Limits:        splitter.Limits{MaxPages: 100, MaxBytes: 1 << 20},
		TempDir:       tempRoot,
		OnStateChange: observe,
	})
	return o, tempRoot
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp root not cleaned: %v", entries)
	}
}

func TestProcessDocumentSingleShotImage(t *testing.T) {
	var states []State
	rec := &fakeRecognizer{fn: func(context.Context, int, string) (models.RecognitionResult, error) {
		return textResult("# Scan", "second"), nil
	}}
	planner := &fakePlanner{}
	o, _ := newTestOrchestrator(t, planner, rec, &fakeFetcher{}, func(tr Transition) { states = append(states, tr.State) })

	out := filepath.Join(t.TempDir(), "nested", "out")
	input := writeInput(t, "scan.png", 10)
	outcome := o.ProcessDocument(context.Background(), models.ProcessingRequest{InputPath: input, OutputDir: out})

	if !outcome.Success || outcome.ErrorMessage != "" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.OutputPath != filepath.Join(out, "scan.md") {
		t.Errorf("OutputPath = %s", outcome.OutputPath)
	}
	got, err := os.ReadFile(outcome.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "# Scan\n\nsecond\n" {
		t.Errorf("markdown = %q", got)
	}
	if planner.calls != 0 {
		t.Errorf("images must not be planned, got %d calls", planner.calls)
	}
	want := []State{StateIdle, StateValidating, StateSingleShot, StateRecognizing, StateFetchingAssets, StateMerging, StateDone}
	if !reflect.DeepEqual(states, want) {
		t.Errorf("states = %v; want %v", states, want)
	}
}

func TestProcessDocumentMergesPartsInOrder(t *testing.T) {
	rec := &fakeRecognizer{fn: func(_ context.Context, call int, _ string) (models.RecognitionResult, error) {
		return textResult("part " + string(rune('0'+call))), nil
	}}
	fetcher := &fakeFetcher{}
	o, tempRoot := newTestOrchestrator(t, &fakePlanner{parts: 3}, rec, fetcher, nil)

	input := writeInput(t, "report.pdf", 10)
	outcome := o.ProcessDocument(context.Background(), models.ProcessingRequest{InputPath: input, OutputDir: t.TempDir()})
	if !outcome.Success {
		t.Fatalf("processing failed: %+v", outcome)
	}
	got, _ := os.ReadFile(outcome.OutputPath)
	if string(got) != "part 1\n\npart 2\n\npart 3\n" {
		t.Errorf("markdown = %q", got)
	}
	if fetcher.calls != 3 {
		t.Errorf("fetcher called %d times; want once per part", fetcher.calls)
	}
	assertEmptyDir(t, tempRoot)
}

func TestProcessDocumentFailsFast(t *testing.T) {
	rec := &fakeRecognizer{fn: func(_ context.Context, call int, _ string) (models.RecognitionResult, error) {
		if call == 2 {
			return models.RecognitionResult{}, &recognition.Error{Kind: recognition.KindExhausted, StatusCode: 502, Message: "recognition service failed after repeated attempts"}
		}
		return textResult("ok"), nil
	}}
	o, tempRoot := newTestOrchestrator(t, &fakePlanner{parts: 3}, rec, &fakeFetcher{}, nil)

	out := t.TempDir()
	outcome := o.ProcessDocument(context.Background(), models.ProcessingRequest{InputPath: writeInput(t, "report.pdf", 10), OutputDir: out})

	if outcome.Success || !outcome.Fatal || outcome.Cancelled {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.OutputPath != "" || outcome.StatusCode != 502 {
		t.Errorf("unexpected outcome fields %+v", outcome)
	}
	if !strings.Contains(outcome.ErrorMessage, "sub-document 2 of 3") {
		t.Errorf("error message %q does not name the failing part", outcome.ErrorMessage)
	}
	if len(rec.paths) != 2 {
		t.Errorf("recognizer called %d times; want 2", len(rec.paths))
	}
	if _, err := os.Stat(filepath.Join(out, "report.md")); !os.IsNotExist(err) {
		t.Errorf("partial output must not be written")
	}
	assertEmptyDir(t, tempRoot)
}

func TestProcessDocumentReportsAuthErrors(t *testing.T) {
	rec := &fakeRecognizer{fn: func(context.Context, int, string) (models.RecognitionResult, error) {
		return models.RecognitionResult{}, &recognition.Error{Kind: recognition.KindAuthentication, StatusCode: 401}
	}}
	o, _ := newTestOrchestrator(t, &fakePlanner{}, rec, &fakeFetcher{}, nil)

	outcome := o.ProcessDocument(context.Background(), models.ProcessingRequest{InputPath: writeInput(t, "a.pdf", 10), OutputDir: t.TempDir()})
	if outcome.Success || !outcome.AuthError || outcome.StatusCode != 401 {
		t.Errorf("unexpected outcome %+v", outcome)
	}
}

func TestProcessDocumentCancelledBetweenParts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var last State
	rec := &fakeRecognizer{fn: func(context.Context, int, string) (models.RecognitionResult, error) {
		cancel()
		return textResult("done"), nil
	}}
	o, tempRoot := newTestOrchestrator(t, &fakePlanner{parts: 3}, rec, &fakeFetcher{}, func(tr Transition) { last = tr.State })

	outcome := o.ProcessDocument(ctx, models.ProcessingRequest{InputPath: writeInput(t, "a.pdf", 10), OutputDir: t.TempDir()})
	if outcome.Success || !outcome.Cancelled || outcome.Fatal {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(rec.paths) != 1 {
		t.Errorf("recognizer called %d times after cancellation; want 1", len(rec.paths))
	}
	if last != StateCancelled {
		t.Errorf("final state = %s; want cancelled", last)
	}
	assertEmptyDir(t, tempRoot)
}

type fetcherFunc func(ctx context.Context, assetMap map[string]string) (int, []models.AssetWarning)

func (f fetcherFunc) FetchAssets(ctx context.Context, assetMap map[string]string, _ string) (int, []models.AssetWarning) {
	return f(ctx, assetMap)
}

func TestProcessDocumentCancelledDuringLastAssetFetch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var last State
	rec := &fakeRecognizer{fn: func(context.Context, int, string) (models.RecognitionResult, error) {
		res := textResult("![](imgs/a.jpg)")
		res.Assets["imgs/a.jpg"] = "http://assets.invalid/a.jpg"
		return res, nil
	}}
	fetcher := fetcherFunc(func(ctx context.Context, assetMap map[string]string) (int, []models.AssetWarning) {
		cancel()
		return 0, []models.AssetWarning{{RelativePath: "imgs/a.jpg", Message: ctx.Err().Error()}}
	})
	o, _ := newTestOrchestrator(t, &fakePlanner{}, rec, fetcher, func(tr Transition) { last = tr.State })

	out := t.TempDir()
	outcome := o.ProcessDocument(ctx, models.ProcessingRequest{InputPath: writeInput(t, "scan.png", 10), OutputDir: out})
	if outcome.Success || !outcome.Cancelled || outcome.OutputPath != "" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if last != StateCancelled {
		t.Errorf("final state = %s; want cancelled", last)
	}
	if _, err := os.Stat(filepath.Join(out, "scan.md")); !os.IsNotExist(err) {
		t.Errorf("cancelled run must not write markdown")
	}
}

func TestProcessDocumentKeepsFatalErrorWhenCancelledLater(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &fakeRecognizer{fn: func(context.Context, int, string) (models.RecognitionResult, error) {
		// The caller gives up only after the service already rejected the request.
		defer cancel()
		return models.RecognitionResult{}, &recognition.Error{Kind: recognition.KindClient, StatusCode: 404, Message: "not found"}
	}}
	o, _ := newTestOrchestrator(t, &fakePlanner{}, rec, &fakeFetcher{}, nil)

	outcome := o.ProcessDocument(ctx, models.ProcessingRequest{InputPath: writeInput(t, "scan.png", 10), OutputDir: t.TempDir()})
	if outcome.Success || outcome.Cancelled || !outcome.Fatal {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.StatusCode != 404 {
		t.Errorf("StatusCode = %d; want 404", outcome.StatusCode)
	}
}

func TestProcessDocumentValidation(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name    string
		req     models.ProcessingRequest
		wantMsg string
	}{
		{"missing input", models.ProcessingRequest{InputPath: filepath.Join(dir, "nope.pdf"), OutputDir: dir}, "input file not found"},
		{"empty input", models.ProcessingRequest{InputPath: writeInput(t, "empty.pdf", 0), OutputDir: dir}, "empty"},
		{"oversized image", models.ProcessingRequest{InputPath: writeInput(t, "huge.tif", 2 << 20), OutputDir: dir}, "only PDFs can be split"},
		{"output blocked", models.ProcessingRequest{InputPath: writeInput(t, "a.pdf", 10), OutputDir: filepath.Join(blocker, "out")}, "output directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecognizer{fn: func(context.Context, int, string) (models.RecognitionResult, error) {
				return textResult("unused"), nil
			}}
			o, _ := newTestOrchestrator(t, &fakePlanner{}, rec, &fakeFetcher{}, nil)
			outcome := o.ProcessDocument(context.Background(), tt.req)
			if outcome.Success || !outcome.Fatal || outcome.Cancelled {
				t.Fatalf("unexpected outcome %+v", outcome)
			}
			if !strings.Contains(outcome.ErrorMessage, tt.wantMsg) {
				t.Errorf("message %q does not contain %q", outcome.ErrorMessage, tt.wantMsg)
			}
			if len(rec.paths) != 0 {
				t.Errorf("recognizer called on invalid input")
			}
		})
	}
}

func TestProcessDocumentPlanError(t *testing.T) {
	planner := plannerFunc(func() (splitter.Plan, error) {
		return splitter.Plan{}, splitter.ErrUnreadableDocument
	})
	rec := &fakeRecognizer{fn: func(context.Context, int, string) (models.RecognitionResult, error) {
		return textResult("unused"), nil
	}}
	o, _ := newTestOrchestrator(t, planner, rec, &fakeFetcher{}, nil)
	outcome := o.ProcessDocument(context.Background(), models.ProcessingRequest{InputPath: writeInput(t, "bad.pdf", 10), OutputDir: t.TempDir()})
	if outcome.Success || !outcome.Fatal {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if !strings.Contains(outcome.ErrorMessage, splitter.ErrUnreadableDocument.Error()) {
		t.Errorf("message %q", outcome.ErrorMessage)
	}
}

type plannerFunc func() (splitter.Plan, error)

func (f plannerFunc) Plan(context.Context, string, string, splitter.Limits) (splitter.Plan, error) {
	return f()
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateDone, StateFailed, StateCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if StateRecognizing.Terminal() {
		t.Error("recognizing is not terminal")
	}
}
