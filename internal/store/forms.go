package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/fieldmark-hq/fieldmark/internal/models"
)

// FormStore is the Firestore-backed filled-form repository.
type FormStore struct {
	client     *firestore.Client
	collection string
}

// NewFormStore creates a FormStore on the given collection.
func NewFormStore(client *firestore.Client, collection string) *FormStore {
	return &FormStore{client: client, collection: collection}
}

// Create stores a new draft filled form with an initial audit entry.
func (s *FormStore) Create(ctx context.Context, templateID string, templateVersion int, name string, doc models.DocumentInfo, filledURI string, values []models.FieldValue, preserveAspect bool) (*models.FilledForm, error) {
	now := time.Now()
	form := &models.FilledForm{
		ID:              uuid.NewString(),
		TemplateID:      templateID,
		TemplateVersion: templateVersion,
		Name:            name,
		Document:        doc,
		FilledGCSUri:    filledURI,
		FieldValues:     values,
		PreserveAspect:  preserveAspect,
		Status:          models.FormStatusDraft,
		Exports:         []models.ExportRecord{},
		Audit: []models.AuditEntry{{
			Action:    "created",
			Detail:    fmt.Sprintf("filled from template %s v%d", templateID, templateVersion),
			Timestamp: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.client.Collection(s.collection).Doc(form.ID).Set(ctx, form); err != nil {
		return nil, fmt.Errorf("failed to create filled form: %w", err)
	}
	return form, nil
}

// Get returns a filled form by id.
func (s *FormStore) Get(ctx context.Context, id string) (*models.FilledForm, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, wrapGetErr("filled form", id, err)
	}
	var form models.FilledForm
	if err := snap.DataTo(&form); err != nil {
		return nil, fmt.Errorf("failed to decode filled form %s: %w", id, err)
	}
	return &form, nil
}

// List returns filled forms, optionally filtered by template and status.
func (s *FormStore) List(ctx context.Context, templateID, formStatus string, offset, limit int) ([]models.FilledForm, error) {
	q := s.client.Collection(s.collection).Query
	if templateID != "" {
		q = q.Where("templateId", "==", templateID)
	}
	if formStatus != "" {
		q = q.Where("status", "==", formStatus)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var forms []models.FilledForm
	it := q.Documents(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list filled forms: %w", err)
		}
		var form models.FilledForm
		if err := snap.DataTo(&form); err != nil {
			return nil, fmt.Errorf("failed to decode filled form %s: %w", snap.Ref.ID, err)
		}
		forms = append(forms, form)
	}
	return forms, nil
}

// UpdateFieldValues replaces the form's field values and records the
// correction in the audit log.
func (s *FormStore) UpdateFieldValues(ctx context.Context, id string, values []models.FieldValue) (*models.FilledForm, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	now := time.Now()
	_, err := s.client.Collection(s.collection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "fieldValues", Value: values},
		{Path: "updatedAt", Value: now},
		{Path: "audit", Value: firestore.ArrayUnion(models.AuditEntry{
			Action:    "values_updated",
			Detail:    fmt.Sprintf("%d field values set", len(values)),
			Timestamp: now,
		})},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update field values for form %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

// UpdateStatus sets the form's status.
func (s *FormStore) UpdateStatus(ctx context.Context, id, formStatus string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	_, err := s.client.Collection(s.collection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "status", Value: formStatus},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to update status for form %s: %w", id, err)
	}
	return nil
}

// AddExport appends an export record and a matching audit entry.
func (s *FormStore) AddExport(ctx context.Context, id string, rec models.ExportRecord) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	now := time.Now()
	_, err := s.client.Collection(s.collection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "exports", Value: firestore.ArrayUnion(rec)},
		{Path: "updatedAt", Value: now},
		{Path: "audit", Value: firestore.ArrayUnion(models.AuditEntry{
			Action:    "exported",
			Detail:    fmt.Sprintf("destination %s: %s", rec.Destination, rec.Status),
			Timestamp: now,
		})},
	})
	if err != nil {
		return fmt.Errorf("failed to add export record to form %s: %w", id, err)
	}
	return nil
}

// AppendAudit records an action on the form without touching other state.
func (s *FormStore) AppendAudit(ctx context.Context, id, action, detail string) error {
	_, err := s.client.Collection(s.collection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "audit", Value: firestore.ArrayUnion(models.AuditEntry{
			Action:    action,
			Detail:    detail,
			Timestamp: time.Now(),
		})},
	})
	if err != nil {
		return fmt.Errorf("failed to append audit entry to form %s: %w", id, err)
	}
	return nil
}

// Delete removes a filled form.
func (s *FormStore) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if _, err := s.client.Collection(s.collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete filled form %s: %w", id, err)
	}
	return nil
}
