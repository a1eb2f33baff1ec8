package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fieldmark-hq/fieldmark/internal/models"
)

func TestAssignFieldIDs(t *testing.T) {
	fields := []models.Field{
		{Label: "one", ID: "stale"},
		{Label: "two"},
		{Label: "three", ID: "field_1"}, // collides with the first slot
	}
	out := AssignFieldIDs(fields)
	assert.Equal(t, "field_1", out[0].ID)
	assert.Equal(t, "field_2", out[1].ID)
	assert.Equal(t, "field_3", out[2].ID)

	seen := map[string]bool{}
	for _, f := range out {
		assert.False(t, seen[f.ID], "duplicate field id %s", f.ID)
		seen[f.ID] = true
	}
	// Input untouched.
	assert.Equal(t, "stale", fields[0].ID)
}

func TestAssignFieldIDsEmpty(t *testing.T) {
	assert.Empty(t, AssignFieldIDs(nil))
}

func TestHasAllTags(t *testing.T) {
	tags := []string{"tax", "2026", "draft"}
	assert.True(t, hasAllTags(tags, nil))
	assert.True(t, hasAllTags(tags, []string{"tax"}))
	assert.True(t, hasAllTags(tags, []string{"2026", "draft"}))
	assert.False(t, hasAllTags(tags, []string{"tax", "final"}))
	assert.False(t, hasAllTags(nil, []string{"tax"}))
}
