package models

// These structs define the JSON payloads exchanged with the cloud entry points
// and the downstream format-conversion workflow.

// GCSEvent is the payload of a Cloud Storage object-finalized event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// ConvertDocumentRequest is the input for the HTTP conversion function.
type ConvertDocumentRequest struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// ConvertDocumentResponse is the output of the HTTP conversion function.
type ConvertDocumentResponse struct {
	Status         string  `json:"status"`
	DocumentID     string  `json:"documentId,omitempty"`
	MarkdownURI    string  `json:"markdownUri,omitempty"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	ErrorMessage   string  `json:"errorMessage,omitempty"`
	StatusCode     int     `json:"statusCode,omitempty"`
	AuthError      bool    `json:"authError,omitempty"`
	Duplicate      bool    `json:"duplicate,omitempty"`
}

// ConversionWorkflowArgs is the argument passed to the format-conversion workflow.
type ConversionWorkflowArgs struct {
	DocumentID  string `json:"documentId"`
	MarkdownURI string `json:"markdownUri"`
	AssetPrefix string `json:"assetPrefix"`
}
