package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/Lllllllleong/docuconvert/internal/assembler"
	"github.com/Lllllllleong/docuconvert/internal/config"
	"github.com/Lllllllleong/docuconvert/internal/gcp"
	"github.com/Lllllllleong/docuconvert/internal/models"
	"github.com/Lllllllleong/docuconvert/internal/pipeline"
)

// Response statuses of the conversion functions.
const (
	ResponseCompleted = "COMPLETED"
	ResponseDuplicate = "DUPLICATE"
	ResponseSkipped   = "SKIPPED"
	ResponseFailed    = "FAILED"
	ResponseCancelled = "CANCELLED"
)

// JobStore records conversion jobs keyed by file hash.
type JobStore interface {
	FindByHash(ctx context.Context, fileHash string) ([]gcp.JobRecord, error)
	Create(ctx context.Context, fileHash, filename string) (string, error)
	Reopen(ctx context.Context, docID string) error
	UpdateStatus(ctx context.Context, docID, status string, extra ...firestore.Update) error
}

// ObjectStore downloads source documents and publishes outputs.
type ObjectStore interface {
	Download(ctx context.Context, bucket, object, destPath string) error
	UploadDirectory(ctx context.Context, localDir, prefix string) ([]string, error)
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// WorkflowStarter hands a converted document to the format-conversion workflow.
type WorkflowStarter interface {
	Start(ctx context.Context, args models.ConversionWorkflowArgs) (string, error)
}

// DocumentOCRFunction converts uploaded documents to Markdown and hands the
// result to the format-conversion workflow.
type DocumentOCRFunction struct {
	objects        ObjectStore
	jobs           JobStore
	workflow       WorkflowStarter // nil when no workflow is configured
	orchestrator   *pipeline.Orchestrator
	config         config.CloudConfig
	pipelineConfig config.Config
}

// NewDocumentOCR builds the function from the environment.
func NewDocumentOCR(ctx context.Context) (*DocumentOCRFunction, error) {
	pipelineConfig, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline configuration: %w", err)
	}
	if pipelineConfig.APIURL == "" {
		return nil, fmt.Errorf("OCR_API_URL environment variable must be set")
	}
	cloudConfig, err := config.LoadCloud()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	orchestrator, err := pipeline.NewFromConfig(pipelineConfig, slog.Default(), nil)
	if err != nil {
		return nil, err
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, cloudConfig.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}

	f := &DocumentOCRFunction{
		objects:        gcp.NewGCSObjects(storageClient, cloudConfig.OutputBucket),
		jobs:           gcp.NewFirestoreJobs(firestoreClient, cloudConfig.CollectionName),
		orchestrator:   orchestrator,
		config:         cloudConfig,
		pipelineConfig: pipelineConfig,
	}
	if cloudConfig.WorkflowID != "" {
		executionsClient, err := executions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
		f.workflow = gcp.NewWorkflow(executionsClient, cloudConfig.ProjectID, cloudConfig.WorkflowLocation, cloudConfig.WorkflowID)
	}
	slog.Info("Document OCR logic initialized.", "outputBucket", cloudConfig.OutputBucket, "workflowId", cloudConfig.WorkflowID)
	return f, nil
}

// Process converts one uploaded object. The returned error is non-nil only
// for failures the platform should see as a failed invocation.
func (f *DocumentOCRFunction) Process(ctx context.Context, e models.GCSEvent) (models.ConvertDocumentResponse, error) {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	if !models.IsSupportedDocument(e.Name) {
		logCtx.Info("Unsupported file type. Skipping.")
		return models.ConvertDocumentResponse{Status: ResponseSkipped}, nil
	}

	tempDir, err := os.MkdirTemp(f.pipelineConfig.TempDir, "document-ocr-*")
	if err != nil {
		return failedResponse(err), fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	inputPath := filepath.Join(tempDir, path.Base(e.Name))
	if err := f.objects.Download(ctx, e.Bucket, e.Name, inputPath); err != nil {
		logCtx.Error("Failed to download source document", "error", err)
		return failedResponse(err), err
	}

	fileHash, err := calculateFileHash(inputPath)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return failedResponse(err), fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	docID, isDuplicate, err := f.claimJob(ctx, logCtx, fileHash, e.Name)
	if err != nil {
		logCtx.Error("Failed to record job", "error", err)
		return failedResponse(err), err
	}
	if isDuplicate {
		logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", docID)
		return models.ConvertDocumentResponse{Status: ResponseDuplicate, DocumentID: docID, Duplicate: true}, nil
	}
	logCtx = logCtx.With("documentId", docID)

	if err := f.jobs.UpdateStatus(ctx, docID, models.StatusProcessing); err != nil {
		return f.handleError(ctx, logCtx, docID, "failed to update status to PROCESSING", err)
	}

	outputDir := filepath.Join(tempDir, "out")
	outcome := f.orchestrator.ProcessDocument(ctx, models.ProcessingRequest{InputPath: inputPath, OutputDir: outputDir})
	if !outcome.Success {
		return f.handleFailedOutcome(ctx, logCtx, docID, outcome)
	}

	objects, err := f.objects.UploadDirectory(ctx, outputDir, docID)
	if err != nil {
		if n, delErr := f.objects.DeletePrefix(context.WithoutCancel(ctx), docID); delErr != nil {
			logCtx.Error("Failed to remove partial upload.", "deleted", n, "error", delErr)
		}
		return f.handleError(ctx, logCtx, docID, "failed to upload outputs", err)
	}
	markdownObject := gcp.ObjectName(docID, filepath.Base(assembler.OutputPath(inputPath, outputDir)))
	markdownURI := gcp.ObjectURI(f.config.OutputBucket, markdownObject)
	logCtx.Info("Outputs uploaded.", "objects", len(objects), "markdownUri", markdownURI)

	updates := []firestore.Update{
		{Path: "markdownUri", Value: markdownURI},
		{Path: "assetCount", Value: outcome.AssetsFetched},
		{Path: "elapsedSeconds", Value: outcome.Elapsed.Seconds()},
	}
	if f.workflow != nil {
		execName, err := f.workflow.Start(ctx, models.ConversionWorkflowArgs{
			DocumentID:  docID,
			MarkdownURI: markdownURI,
			AssetPrefix: gcp.ObjectURI(f.config.OutputBucket, docID+"/"),
		})
		if err != nil {
			return f.handleError(ctx, logCtx, docID, "failed to trigger workflow", err)
		}
		updates = append(updates, firestore.Update{Path: "workflowExecutionId", Value: execName})
		logCtx.Info("Hand-off to workflow complete.", "execution", execName)
	}
	if err := f.jobs.UpdateStatus(ctx, docID, models.StatusCompleted, updates...); err != nil {
		logCtx.Error("Failed to record completion.", "error", err)
		return failedResponse(err), err
	}

	return models.ConvertDocumentResponse{
		Status:         ResponseCompleted,
		DocumentID:     docID,
		MarkdownURI:    markdownURI,
		ElapsedSeconds: outcome.Elapsed.Seconds(),
	}, nil
}

// claimJob returns the job to run for fileHash. A completed or in-flight job
// makes the upload a duplicate; any other earlier job, such as a failed or
// cancelled one, is reopened so redelivered events convert the file.
func (f *DocumentOCRFunction) claimJob(ctx context.Context, logCtx *slog.Logger, fileHash, filename string) (string, bool, error) {
	records, err := f.jobs.FindByHash(ctx, fileHash)
	if err != nil {
		return "", false, err
	}
	for _, rec := range records {
		if rec.Status == models.StatusCompleted || rec.Status == models.StatusProcessing {
			return rec.ID, true, nil
		}
	}
	if len(records) > 0 {
		prev := records[0]
		if err := f.jobs.Reopen(ctx, prev.ID); err != nil {
			return "", false, err
		}
		logCtx.Info("Reopened earlier job.", "documentId", prev.ID, "previousStatus", prev.Status)
		return prev.ID, false, nil
	}
	docID, err := f.jobs.Create(ctx, fileHash, filename)
	if err != nil {
		return "", false, err
	}
	logCtx.Info("Created job document in Firestore.", "documentId", docID)
	return docID, false, nil
}

// handleFailedOutcome records a pipeline failure. Recognition failures are the
// document's problem, not the invocation's, so they do not return an error and
// the platform will not retry them. Cancellation does.
func (f *DocumentOCRFunction) handleFailedOutcome(ctx context.Context, logCtx *slog.Logger, docID string, outcome models.ProcessingOutcome) (models.ConvertDocumentResponse, error) {
	resp := ResponseFromOutcome(docID, outcome)
	logCtx.Error("Document conversion failed.", "error", outcome.ErrorMessage, "statusCode", outcome.StatusCode, "authError", outcome.AuthError)
	if err := f.jobs.UpdateStatus(context.WithoutCancel(ctx), docID, models.StatusFailed, gcp.FailureUpdates(outcome)...); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	if outcome.Cancelled {
		return resp, fmt.Errorf("conversion of %s cancelled", docID)
	}
	return resp, nil
}

func (f *DocumentOCRFunction) handleError(ctx context.Context, logCtx *slog.Logger, docID, message string, originalErr error) (models.ConvertDocumentResponse, error) {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := f.jobs.UpdateStatus(context.WithoutCancel(ctx), docID, models.StatusFailed, firestore.Update{Path: "errorDetails", Value: fullError}); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return models.ConvertDocumentResponse{Status: ResponseFailed, DocumentID: docID, ErrorMessage: fullError}, fmt.Errorf("%s", fullError)
}

// ResponseFromOutcome maps a failed pipeline outcome to the function response.
func ResponseFromOutcome(docID string, outcome models.ProcessingOutcome) models.ConvertDocumentResponse {
	status := ResponseFailed
	if outcome.Cancelled {
		status = ResponseCancelled
	}
	return models.ConvertDocumentResponse{
		Status:         status,
		DocumentID:     docID,
		ElapsedSeconds: outcome.Elapsed.Seconds(),
		ErrorMessage:   outcome.ErrorMessage,
		StatusCode:     outcome.StatusCode,
		AuthError:      outcome.AuthError,
	}
}

func failedResponse(err error) models.ConvertDocumentResponse {
	return models.ConvertDocumentResponse{Status: ResponseFailed, ErrorMessage: err.Error()}
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
