package models

import "time"

// Document statuses recorded in Firestore as a job moves through the pipeline.
const (
	StatusValidating = "VALIDATING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Document represents the main record for an OCR conversion job in Firestore.
// It tracks the overall status and metadata of the uploaded file.
type Document struct {
	FileHash            string    `firestore:"fileHash,omitempty"`
	OriginalFilename    string    `firestore:"originalFilename,omitempty"`
	Status              string    `firestore:"status,omitempty"`
	ErrorDetails        string    `firestore:"errorDetails,omitempty"`
	StatusCode          int       `firestore:"statusCode,omitempty"`
	AuthError           bool      `firestore:"authError,omitempty"`
	MarkdownURI         string    `firestore:"markdownUri,omitempty"`
	AssetCount          int       `firestore:"assetCount,omitempty"`
	ElapsedSeconds      float64   `firestore:"elapsedSeconds,omitempty"`
	WorkflowExecutionID string    `firestore:"workflowExecutionId,omitempty"` // For traceability
	CreatedAt           time.Time `firestore:"createdAt,omitempty"`
}
