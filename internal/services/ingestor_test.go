package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmark-hq/fieldmark/internal/detect"
	"github.com/fieldmark-hq/fieldmark/internal/geometry"
	"github.com/fieldmark-hq/fieldmark/internal/models"
)

func TestPageObjectName(t *testing.T) {
	assert.Equal(t, "doc-1/00001.pdf", pageObjectName("doc-1", 1))
	assert.Equal(t, "doc-1/00042.pdf", pageObjectName("doc-1", 42))
}

func TestFlattenDetectionsReadingOrder(t *testing.T) {
	byPage := [][]detect.Detection{
		{
			{Label: "c", Checked: true, Confidence: 0.9, Box: geometry.Box{X: 0.1, Y: 0.5, Width: 0.02, Height: 0.02}},
			{Label: "b", Confidence: 0.8, Box: geometry.Box{X: 0.6, Y: 0.1, Width: 0.02, Height: 0.02}},
			{Label: "a", Confidence: 0.7, Box: geometry.Box{X: 0.1, Y: 0.1, Width: 0.02, Height: 0.02}},
		},
		{
			{Label: "d", Confidence: 0.6, Box: geometry.Box{X: 0.2, Y: 0.2, Width: 0.02, Height: 0.02}},
		},
	}

	fields := flattenDetections(byPage)
	require.Len(t, fields, 4)

	labels := make([]string, len(fields))
	for i, f := range fields {
		labels[i] = f.Label
		assert.Equal(t, models.FieldTypeCheckbox, f.Type)
	}
	// Page 1 top-to-bottom, left-to-right, then page 2.
	assert.Equal(t, []string{"a", "b", "c", "d"}, labels)

	assert.Equal(t, 1, fields[0].Page)
	assert.Equal(t, 2, fields[3].Page)
	assert.True(t, fields[2].Default)
}

func TestCalculateFileHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	hash, err := calculateFileHash(path)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hash)

	_, err = calculateFileHash(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
