// Package pdffill writes checkbox marks and field markers into PDFs using
// pdfcpu watermarks. Template boxes are normalized with a top-left origin;
// PDF user space has a bottom-left origin, so the y axis is flipped here.
package pdffill

import (
	"fmt"
	"math"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/fieldmark-hq/fieldmark/internal/geometry"
	"github.com/fieldmark-hq/fieldmark/internal/models"
)

const (
	minMarkPoints = 6
	maxMarkPoints = 24
)

// PageDims returns the media box dimensions of every page, in points.
func PageDims(path string) ([]geometry.PageDim, error) {
	dims, err := api.PageDimsFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read page dimensions of %s: %w", path, err)
	}
	out := make([]geometry.PageDim, len(dims))
	for i, d := range dims {
		out[i] = geometry.PageDim{Width: d.Width, Height: d.Height}
	}
	return out, nil
}

// Mark is one piece of text stamped at an absolute position on a page.
// X/Y are points from the bottom-left corner.
type Mark struct {
	Page      int
	Text      string
	X, Y      float64
	FontSize  float64
	FillColor string
	BGColor   string
}

// descriptor renders the pdfcpu watermark description for this mark.
func (m Mark) descriptor() string {
	d := fmt.Sprintf("font:Helvetica, points:%.0f, scale:1 abs, pos:bl, off:%.2f %.2f, fillc:%s, rot:0, opacity:1",
		m.FontSize, m.X, m.Y, m.FillColor)
	if m.BGColor != "" {
		d += fmt.Sprintf(", bgcol:%s, border:1 round, margins:2", m.BGColor)
	}
	return d
}

// ResolveValues merges provided field values with template defaults. Every
// checkbox field of the template gets exactly one value; provided ids that
// do not exist on the template are returned in unknown and otherwise
// ignored (template/form consistency is deliberately weak).
func ResolveValues(tpl *models.Template, provided []models.FieldValue) (resolved []models.FieldValue, unknown []string) {
	known := make(map[string]models.Field, len(tpl.Fields))
	for _, f := range tpl.Fields {
		known[f.ID] = f
	}

	overrides := make(map[string]bool, len(provided))
	for _, fv := range provided {
		if _, ok := known[fv.FieldID]; !ok {
			unknown = append(unknown, fv.FieldID)
			continue
		}
		overrides[fv.FieldID] = fv.Checked
	}

	for _, f := range tpl.Fields {
		if f.Type != models.FieldTypeCheckbox {
			continue
		}
		checked := f.Default
		if v, ok := overrides[f.ID]; ok {
			checked = v
		}
		resolved = append(resolved, models.FieldValue{FieldID: f.ID, Checked: checked})
	}
	return resolved, unknown
}

// BuildCheckMarks produces an "X" mark for every checked checkbox, scaled to
// the target document's page sizes. Fields on pages the target does not
// have are skipped. With preserveAspect set, boxes are placed through a
// uniform scale from the template's source page instead of stretching each
// axis independently; without recorded source dimensions the stretch
// mapping applies.
func BuildCheckMarks(tpl *models.Template, values []models.FieldValue, dims []geometry.PageDim, preserveAspect bool) []Mark {
	checked := make(map[string]bool, len(values))
	for _, v := range values {
		checked[v.FieldID] = v.Checked
	}

	var marks []Mark
	for _, f := range tpl.Fields {
		if f.Type != models.FieldTypeCheckbox || !checked[f.ID] {
			continue
		}
		if f.Page < 1 || f.Page > len(dims) {
			continue
		}
		page := dims[f.Page-1]
		abs := targetBox(tpl, f, page, preserveAspect)
		size := markSize(abs)
		marks = append(marks, Mark{
			Page:      f.Page,
			Text:      "X",
			X:         abs.X,
			Y:         page.Height - (abs.Y + abs.Height), // flip to bottom-left origin
			FontSize:  size,
			FillColor: "#000000",
		})
	}
	return marks
}

// targetBox maps a field's normalized box onto the target page, in points
// from the top-left corner.
func targetBox(tpl *models.Template, f models.Field, page geometry.PageDim, preserveAspect bool) geometry.Box {
	if preserveAspect && f.Page >= 1 && f.Page <= len(tpl.Document.PageDims) {
		src := tpl.Document.PageDims[f.Page-1]
		if scaled, err := uniformScale(f.Box, src, page); err == nil {
			return scaled
		}
	}
	return geometry.Denormalize(f.Box, page)
}

// uniformScale maps the normalized box through the source page and scales
// by the smaller of the two axis factors, anchored at the top-left corner.
func uniformScale(b geometry.Box, src, dst geometry.PageDim) (geometry.Box, error) {
	sx, sy, err := geometry.ScaleFactors(src, dst)
	if err != nil {
		return geometry.Box{}, err
	}
	s := math.Min(sx, sy)
	abs := geometry.Denormalize(b, src)
	return geometry.Box{
		X:      abs.X * s,
		Y:      abs.Y * s,
		Width:  abs.Width * s,
		Height: abs.Height * s,
	}, nil
}

// Visualization colors by confidence tier.
const (
	colorHigh   = "#1E8E3E"
	colorMedium = "#F9AB00"
	colorLow    = "#D93025"
)

// BuildFieldLabels produces one labeled marker per field, color-coded by
// detection confidence, for the template visualization.
func BuildFieldLabels(tpl *models.Template, dims []geometry.PageDim, highThreshold, mediumThreshold float64) []Mark {
	var marks []Mark
	for _, f := range tpl.Fields {
		if f.Page < 1 || f.Page > len(dims) {
			continue
		}
		page := dims[f.Page-1]
		abs := geometry.Denormalize(f.Box, page)

		color := colorLow
		switch {
		case f.Confidence >= highThreshold:
			color = colorHigh
		case f.Confidence >= mediumThreshold:
			color = colorMedium
		}

		marks = append(marks, Mark{
			Page:      f.Page,
			Text:      f.ID,
			X:         abs.X,
			Y:         page.Height - (abs.Y + abs.Height),
			FontSize:  8,
			FillColor: "#FFFFFF",
			BGColor:   color,
		})
	}
	return marks
}

func markSize(abs geometry.Box) float64 {
	size := math.Min(abs.Width, abs.Height)
	if size < minMarkPoints {
		return minMarkPoints
	}
	if size > maxMarkPoints {
		return maxMarkPoints
	}
	return size
}

// Apply stamps the marks onto a copy of the input PDF.
func Apply(inPath, outPath string, marks []Mark) error {
	byPage := make(map[int][]*model.Watermark, len(marks))
	for _, m := range marks {
		wm, err := api.TextWatermark(m.Text, m.descriptor(), true, false, types.POINTS)
		if err != nil {
			return fmt.Errorf("failed to build watermark for page %d: %w", m.Page, err)
		}
		byPage[m.Page] = append(byPage[m.Page], wm)
	}
	if len(byPage) == 0 {
		// Nothing checked: the output is a plain copy.
		return copyFile(inPath, outPath)
	}
	if err := api.AddWatermarksSliceMapFile(inPath, outPath, byPage, nil); err != nil {
		return fmt.Errorf("failed to stamp marks: %w", err)
	}
	return nil
}
