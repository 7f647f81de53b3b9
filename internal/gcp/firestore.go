package gcp

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/docuconvert/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// JobRecord identifies a stored job and its current status.
type JobRecord struct {
	ID     string
	Status string
}

// FirestoreJobs keeps conversion jobs in one Firestore collection.
type FirestoreJobs struct {
	coll *firestore.CollectionRef
}

// NewFirestoreJobs returns a job store backed by the named collection.
func NewFirestoreJobs(client *firestore.Client, collection string) *FirestoreJobs {
	return &FirestoreJobs{coll: client.Collection(collection)}
}

// FindByHash returns every job recorded for fileHash.
func (j *FirestoreJobs) FindByHash(ctx context.Context, fileHash string) ([]JobRecord, error) {
	docs, err := j.coll.Where("fileHash", "==", fileHash).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	records := make([]JobRecord, 0, len(docs))
	for _, snap := range docs {
		var doc models.Document
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", snap.Ref.ID, err)
		}
		records = append(records, JobRecord{ID: snap.Ref.ID, Status: doc.Status})
	}
	return records, nil
}

// Create records a new job in the VALIDATING state and returns its ID.
func (j *FirestoreJobs) Create(ctx context.Context, fileHash, filename string) (string, error) {
	newDoc := models.Document{
		FileHash:         fileHash,
		OriginalFilename: filename,
		Status:           models.StatusValidating,
		CreatedAt:        time.Now(),
	}
	docRef, _, err := j.coll.Add(ctx, newDoc)
	if err != nil {
		return "", fmt.Errorf("failed to create job document: %w", err)
	}
	return docRef.ID, nil
}

// Reopen moves an earlier job back to VALIDATING and clears its failure fields.
func (j *FirestoreJobs) Reopen(ctx context.Context, docID string) error {
	return j.UpdateStatus(ctx, docID, models.StatusValidating, ReopenUpdates()...)
}

// UpdateStatus sets the job status along with any extra fields.
func (j *FirestoreJobs) UpdateStatus(ctx context.Context, docID, status string, extra ...firestore.Update) error {
	updates := append([]firestore.Update{{Path: "status", Value: status}}, extra...)
	if _, err := j.coll.Doc(docID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to set status %s: %w", status, err)
	}
	return nil
}

// FailureUpdates builds the fields recorded with a FAILED status.
func FailureUpdates(outcome models.ProcessingOutcome) []firestore.Update {
	updates := []firestore.Update{
		{Path: "errorDetails", Value: outcome.ErrorMessage},
		{Path: "elapsedSeconds", Value: outcome.Elapsed.Seconds()},
	}
	if outcome.StatusCode != 0 {
		updates = append(updates, firestore.Update{Path: "statusCode", Value: outcome.StatusCode})
	}
	if outcome.AuthError {
		updates = append(updates, firestore.Update{Path: "authError", Value: true})
	}
	return updates
}

// ReopenUpdates removes the fields a failed attempt left behind.
func ReopenUpdates() []firestore.Update {
	return []firestore.Update{
		{Path: "errorDetails", Value: firestore.Delete},
		{Path: "statusCode", Value: firestore.Delete},
		{Path: "authError", Value: firestore.Delete},
		{Path: "elapsedSeconds", Value: firestore.Delete},
	}
}
