package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/fieldmark-hq/fieldmark/internal/models"
)

const revisionsSubcollection = "revisions"

// TemplateStore is the Firestore-backed template repository.
type TemplateStore struct {
	client     *firestore.Client
	collection string
}

// NewTemplateStore creates a TemplateStore on the given collection.
func NewTemplateStore(client *firestore.Client, collection string) *TemplateStore {
	return &TemplateStore{client: client, collection: collection}
}

// AssignFieldIDs gives every field a sequential id unique within the
// template. Existing ids are discarded so the uniqueness invariant holds
// regardless of what detection produced.
func AssignFieldIDs(fields []models.Field) []models.Field {
	out := make([]models.Field, len(fields))
	for i, f := range fields {
		f.ID = fmt.Sprintf("field_%d", i+1)
		out[i] = f
	}
	return out
}

// hasAllTags reports whether every wanted tag is present.
func hasAllTags(tags, wanted []string) bool {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	for _, w := range wanted {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

// Create stores a new version-1 template built from extracted fields.
func (s *TemplateStore) Create(ctx context.Context, name, description string, doc models.DocumentInfo, fields []models.Field, tags []string) (*models.Template, error) {
	now := time.Now()
	if tags == nil {
		tags = []string{}
	}
	tpl := &models.Template{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Version:     1,
		Tags:        tags,
		Document:    doc,
		Fields:      AssignFieldIDs(fields),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.client.Collection(s.collection).Doc(tpl.ID).Set(ctx, tpl); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	return tpl, nil
}

// Get returns a template by id.
func (s *TemplateStore) Get(ctx context.Context, id string) (*models.Template, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, wrapGetErr("template", id, err)
	}
	var tpl models.Template
	if err := snap.DataTo(&tpl); err != nil {
		return nil, fmt.Errorf("failed to decode template %s: %w", id, err)
	}
	return &tpl, nil
}

// List returns templates, optionally filtered by tags. Firestore allows a
// single array-contains clause per query, so the first tag filters
// server-side and the rest are checked in memory.
func (s *TemplateStore) List(ctx context.Context, tags []string, offset, limit int) ([]models.Template, error) {
	q := s.client.Collection(s.collection).Query
	if len(tags) > 0 {
		q = q.Where("tags", "array-contains", tags[0])
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var templates []models.Template
	it := q.Documents(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list templates: %w", err)
		}
		var tpl models.Template
		if err := snap.DataTo(&tpl); err != nil {
			return nil, fmt.Errorf("failed to decode template %s: %w", snap.Ref.ID, err)
		}
		if len(tags) > 1 && !hasAllTags(tpl.Tags, tags[1:]) {
			continue
		}
		templates = append(templates, tpl)
	}
	return templates, nil
}

// Update applies mutate to the template, keeping a backup of the prior
// version in the revisions subcollection and bumping the version counter.
// This is a plain read-modify-write; concurrent template edits are not a
// supported workload.
func (s *TemplateStore) Update(ctx context.Context, id string, mutate func(*models.Template) error) (*models.Template, error) {
	tpl, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	docRef := s.client.Collection(s.collection).Doc(id)
	backupRef := docRef.Collection(revisionsSubcollection).Doc(strconv.Itoa(tpl.Version))
	if _, err := backupRef.Set(ctx, tpl); err != nil {
		return nil, fmt.Errorf("failed to back up template %s version %d: %w", id, tpl.Version, err)
	}

	if err := mutate(tpl); err != nil {
		return nil, err
	}
	tpl.ID = id // mutate must not reassign identity
	tpl.Version++
	tpl.UpdatedAt = time.Now()

	if _, err := docRef.Set(ctx, tpl); err != nil {
		return nil, fmt.Errorf("failed to update template %s: %w", id, err)
	}
	return tpl, nil
}

// Revision returns a backed-up prior version of a template.
func (s *TemplateStore) Revision(ctx context.Context, id string, version int) (*models.Template, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).
		Collection(revisionsSubcollection).Doc(strconv.Itoa(version)).Get(ctx)
	if err != nil {
		return nil, wrapGetErr("template revision", fmt.Sprintf("%s@%d", id, version), err)
	}
	var tpl models.Template
	if err := snap.DataTo(&tpl); err != nil {
		return nil, fmt.Errorf("failed to decode template revision: %w", err)
	}
	return &tpl, nil
}

// Delete removes a template. Revisions are left behind; they are pruned by
// bucket lifecycle tooling, not the API.
func (s *TemplateStore) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if _, err := s.client.Collection(s.collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete template %s: %w", id, err)
	}
	return nil
}

// AddTag adds a tag to a template. Adding an existing tag is a no-op.
func (s *TemplateStore) AddTag(ctx context.Context, id, tag string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	_, err := s.client.Collection(s.collection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "tags", Value: firestore.ArrayUnion(tag)},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to add tag to template %s: %w", id, err)
	}
	return nil
}

// RemoveTag removes a tag from a template.
func (s *TemplateStore) RemoveTag(ctx context.Context, id, tag string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	_, err := s.client.Collection(s.collection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "tags", Value: firestore.ArrayRemove(tag)},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to remove tag from template %s: %w", id, err)
	}
	return nil
}
