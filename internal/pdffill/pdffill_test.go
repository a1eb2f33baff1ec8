package pdffill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmark-hq/fieldmark/internal/geometry"
	"github.com/fieldmark-hq/fieldmark/internal/models"
)

func testTemplate() *models.Template {
	return &models.Template{
		ID: "tpl-1",
		Fields: []models.Field{
			{
				ID: "field_1", Type: models.FieldTypeCheckbox, Page: 1,
				Box:        geometry.Box{X: 0.1, Y: 0.1, Width: 0.025, Height: 0.02},
				Default:    true,
				Confidence: 0.95,
			},
			{
				ID: "field_2", Type: models.FieldTypeCheckbox, Page: 1,
				Box:        geometry.Box{X: 0.1, Y: 0.2, Width: 0.025, Height: 0.02},
				Default:    false,
				Confidence: 0.75,
			},
			{
				ID: "field_3", Type: models.FieldTypeText, Page: 1,
				Box:        geometry.Box{X: 0.5, Y: 0.5, Width: 0.2, Height: 0.02},
				Confidence: 0.5,
			},
			{
				ID: "field_4", Type: models.FieldTypeCheckbox, Page: 3,
				Box:        geometry.Box{X: 0.4, Y: 0.4, Width: 0.025, Height: 0.02},
				Default:    true,
				Confidence: 0.2,
			},
		},
	}
}

func TestResolveValuesDefaults(t *testing.T) {
	resolved, unknown := ResolveValues(testTemplate(), nil)
	require.Len(t, resolved, 3) // text field excluded
	assert.Empty(t, unknown)

	byID := map[string]bool{}
	for _, v := range resolved {
		byID[v.FieldID] = v.Checked
	}
	assert.True(t, byID["field_1"])
	assert.False(t, byID["field_2"])
	assert.True(t, byID["field_4"])
}

func TestResolveValuesOverridesAndUnknown(t *testing.T) {
	resolved, unknown := ResolveValues(testTemplate(), []models.FieldValue{
		{FieldID: "field_2", Checked: true},
		{FieldID: "field_1", Checked: false},
		{FieldID: "ghost", Checked: true},
	})
	assert.Equal(t, []string{"ghost"}, unknown)

	byID := map[string]bool{}
	for _, v := range resolved {
		byID[v.FieldID] = v.Checked
	}
	assert.False(t, byID["field_1"])
	assert.True(t, byID["field_2"])
}

func TestBuildCheckMarksFlipsYAxis(t *testing.T) {
	dims := []geometry.PageDim{{Width: 612, Height: 792}}
	values := []models.FieldValue{{FieldID: "field_1", Checked: true}}

	marks := BuildCheckMarks(testTemplate(), values, dims, false)
	require.Len(t, marks, 1)

	m := marks[0]
	assert.Equal(t, 1, m.Page)
	assert.Equal(t, "X", m.Text)
	assert.InDelta(t, 61.2, m.X, 0.01)
	// Box top at y=0.1 with height 0.02: bottom edge in PDF space is
	// 792 - (0.1+0.02)*792 = 696.96.
	assert.InDelta(t, 696.96, m.Y, 0.01)
}

func TestBuildCheckMarksSkipsUncheckedAndOutOfRangePages(t *testing.T) {
	dims := []geometry.PageDim{{Width: 612, Height: 792}} // single-page target
	values := []models.FieldValue{
		{FieldID: "field_1", Checked: false},
		{FieldID: "field_4", Checked: true}, // page 3 does not exist
	}
	marks := BuildCheckMarks(testTemplate(), values, dims, false)
	assert.Empty(t, marks)
}

func TestBuildCheckMarksPreserveAspect(t *testing.T) {
	tpl := testTemplate()
	// Letter-size source; the target page is taller but equally wide.
	tpl.Document.PageDims = []geometry.PageDim{{Width: 612, Height: 792}}
	dims := []geometry.PageDim{{Width: 612, Height: 1000}}
	values := []models.FieldValue{{FieldID: "field_1", Checked: true}}

	stretched := BuildCheckMarks(tpl, values, dims, false)
	require.Len(t, stretched, 1)
	assert.InDelta(t, 880.0, stretched[0].Y, 0.01) // 1000 - 0.12*1000

	// Uniform scale: min(612/612, 1000/792) = 1, so the box keeps its
	// source-page position measured from the top.
	uniform := BuildCheckMarks(tpl, values, dims, true)
	require.Len(t, uniform, 1)
	assert.InDelta(t, 61.2, uniform[0].X, 0.01)
	assert.InDelta(t, 904.96, uniform[0].Y, 0.01) // 1000 - (79.2 + 15.84)

	// Narrower target: x scale 0.5 governs both axes.
	narrow := BuildCheckMarks(tpl, values, []geometry.PageDim{{Width: 306, Height: 792}}, true)
	require.Len(t, narrow, 1)
	assert.InDelta(t, 30.6, narrow[0].X, 0.01)
	assert.InDelta(t, 744.48, narrow[0].Y, 0.01) // 792 - (39.6 + 7.92)*1

	// Without recorded source dimensions the stretch mapping applies.
	tpl.Document.PageDims = nil
	fallback := BuildCheckMarks(tpl, values, dims, true)
	require.Len(t, fallback, 1)
	assert.InDelta(t, 880.0, fallback[0].Y, 0.01)
}

func TestMarkSizeClamped(t *testing.T) {
	assert.Equal(t, float64(minMarkPoints), markSize(geometry.Box{Width: 2, Height: 2}))
	assert.Equal(t, float64(maxMarkPoints), markSize(geometry.Box{Width: 100, Height: 50}))
	assert.Equal(t, 15.0, markSize(geometry.Box{Width: 15, Height: 18}))
}

func TestBuildFieldLabelsConfidenceTiers(t *testing.T) {
	dims := []geometry.PageDim{{Width: 612, Height: 792}}
	marks := BuildFieldLabels(testTemplate(), dims, 0.9, 0.7)
	require.Len(t, marks, 3) // field_4 is on a missing page

	colors := map[string]string{}
	for _, m := range marks {
		colors[m.Text] = m.BGColor
	}
	assert.Equal(t, colorHigh, colors["field_1"])
	assert.Equal(t, colorMedium, colors["field_2"])
	assert.Equal(t, colorLow, colors["field_3"])
}

func TestMarkDescriptor(t *testing.T) {
	m := Mark{Text: "X", X: 10.5, Y: 20, FontSize: 12, FillColor: "#000000"}
	d := m.descriptor()
	assert.Contains(t, d, "off:10.50 20.00")
	assert.Contains(t, d, "points:12")
	assert.Contains(t, d, "pos:bl")
	assert.NotContains(t, d, "bgcol")

	m.BGColor = "#1E8E3E"
	assert.Contains(t, m.descriptor(), "bgcol:#1E8E3E")
}
