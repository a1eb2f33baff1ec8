package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDetections(t *testing.T) {
	payload := `[
		{"label": " I agree ", "checked": false, "confidence": 0.97,
		 "box": {"x": 0.12, "y": 0.43, "width": 0.02, "height": 0.015}},
		{"label": "Subscribe", "checked": true, "confidence": 0.88,
		 "box": {"x": 0.12, "y": 0.47, "width": 0.02, "height": 0.015}}
	]`

	dets, err := ParseDetections(payload)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, "I agree", dets[0].Label)
	assert.False(t, dets[0].Checked)
	assert.True(t, dets[1].Checked)
	assert.InDelta(t, 0.88, dets[1].Confidence, 1e-9)
}

func TestParseDetectionsClampsConfidence(t *testing.T) {
	payload := `[
		{"label": "a", "confidence": 1.4, "box": {"x": 0.1, "y": 0.1, "width": 0.1, "height": 0.1}},
		{"label": "b", "confidence": -0.2, "box": {"x": 0.2, "y": 0.2, "width": 0.1, "height": 0.1}}
	]`

	dets, err := ParseDetections(payload)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, 1.0, dets[0].Confidence)
	assert.Equal(t, 0.0, dets[1].Confidence)
}

func TestParseDetectionsClampsBoxesAndDropsDegenerate(t *testing.T) {
	payload := `[
		{"label": "spills over", "confidence": 0.9,
		 "box": {"x": 0.95, "y": 0.1, "width": 0.2, "height": 0.05}},
		{"label": "no area", "confidence": 0.9,
		 "box": {"x": 1.5, "y": 1.5, "width": 0.1, "height": 0.1}}
	]`

	dets, err := ParseDetections(payload)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.True(t, dets[0].Box.InUnitSquare())
	assert.InDelta(t, 0.05, dets[0].Box.Width, 1e-9)
}

func TestParseDetectionsEmptyArray(t *testing.T) {
	dets, err := ParseDetections(`[]`)
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestParseDetectionsRejectsMalformedJSON(t *testing.T) {
	_, err := ParseDetections(`{"not": "an array"`)
	assert.Error(t, err)
}

func TestIsRefusal(t *testing.T) {
	assert.True(t, isRefusal("I am unable to process this document."))
	assert.True(t, isRefusal("As a large language model, I cannot..."))
	assert.False(t, isRefusal(`[{"label":"ok"}]`))
}
