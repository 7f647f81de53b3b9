package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/docuconvert/internal/models"
	"github.com/Lllllllleong/docuconvert/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	documentOCRInstance *services.DocumentOCRFunction
	once                sync.Once
	initErr             error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ConvertDocument", convertDocument)
	functions.HTTP("ConvertDocumentHTTP", convertDocumentHTTP)
}

// main is required by the Go Functions Framework.
func main() {}

func instance() (*services.DocumentOCRFunction, error) {
	once.Do(func() {
		documentOCRInstance, initErr = services.NewDocumentOCR(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
	}
	return documentOCRInstance, initErr
}

// convertDocument handles Cloud Storage object-finalized events.
func convertDocument(ctx context.Context, e cloudevents.Event) error {
	f, err := instance()
	if err != nil {
		return err
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	_, err = f.Process(ctx, gcsEvent)
	return err
}

// convertDocumentHTTP converts the object named in the request body and
// replies with the outcome.
func convertDocumentHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	f, err := instance()
	if err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	var req models.ConvertDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Bucket == "" || req.Name == "" {
		http.Error(w, "bucket and name are required", http.StatusBadRequest)
		return
	}

	resp, err := f.Process(r.Context(), models.GCSEvent{Bucket: req.Bucket, Name: req.Name})
	status := http.StatusOK
	switch {
	case err != nil:
		status = http.StatusInternalServerError
	case resp.Status == services.ResponseFailed:
		status = http.StatusUnprocessableEntity
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
