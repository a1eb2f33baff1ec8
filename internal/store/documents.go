package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"

	"github.com/fieldmark-hq/fieldmark/internal/geometry"
	"github.com/fieldmark-hq/fieldmark/internal/models"
)

// DocumentStore is the Firestore-backed repository for uploaded PDFs.
type DocumentStore struct {
	client     *firestore.Client
	collection string
}

// NewDocumentStore creates a DocumentStore on the given collection.
func NewDocumentStore(client *firestore.Client, collection string) *DocumentStore {
	return &DocumentStore{client: client, collection: collection}
}

// Create stores a new document record. An empty ID gets a fresh uuid.
func (s *DocumentStore) Create(ctx context.Context, doc *models.Document) (*models.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = models.DocumentStatusUploaded
	}
	doc.CreatedAt = time.Now()
	if _, err := s.client.Collection(s.collection).Doc(doc.ID).Set(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}
	return doc, nil
}

// Get returns a document record by id.
func (s *DocumentStore) Get(ctx context.Context, id string) (*models.Document, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, wrapGetErr("document", id, err)
	}
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return &doc, nil
}

// FindByHash looks up an existing record with the same content hash.
// Returns (nil, nil) when there is no duplicate.
func (s *DocumentStore) FindByHash(ctx context.Context, fileHash string) (*models.Document, error) {
	snaps, err := s.client.Collection(s.collection).
		Where("fileHash", "==", fileHash).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	var doc models.Document
	if err := snaps[0].DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", snaps[0].Ref.ID, err)
	}
	return &doc, nil
}

// SetStatus updates the processing status, with optional error details.
func (s *DocumentStore) SetStatus(ctx context.Context, id, docStatus, errDetails string) error {
	updates := []firestore.Update{
		{Path: "status", Value: docStatus},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	if _, err := s.client.Collection(s.collection).Doc(id).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update document %s status: %w", id, err)
	}
	return nil
}

// SetPageLayout records the page count and per-page dimensions discovered
// during splitting.
func (s *DocumentStore) SetPageLayout(ctx context.Context, id string, pageCount int, dims []geometry.PageDim) error {
	_, err := s.client.Collection(s.collection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "pageCount", Value: pageCount},
		{Path: "pageDims", Value: dims},
	})
	if err != nil {
		return fmt.Errorf("failed to set page layout on document %s: %w", id, err)
	}
	return nil
}

// SetFields stores the detected fields and flips the record to READY.
func (s *DocumentStore) SetFields(ctx context.Context, id string, fields []models.Field) error {
	_, err := s.client.Collection(s.collection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "fields", Value: fields},
		{Path: "status", Value: models.DocumentStatusReady},
	})
	if err != nil {
		return fmt.Errorf("failed to set fields on document %s: %w", id, err)
	}
	return nil
}

// SetWorkflowExecution records the orchestration hand-off for traceability.
func (s *DocumentStore) SetWorkflowExecution(ctx context.Context, id, executionID string) error {
	_, err := s.client.Collection(s.collection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "workflowExecutionId", Value: executionID},
	})
	if err != nil {
		return fmt.Errorf("failed to set workflow execution on document %s: %w", id, err)
	}
	return nil
}
