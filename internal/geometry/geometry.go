// Package geometry holds the coordinate math shared by detection, template
// editing and form filling. Boxes are stored normalized to [0,1] relative to
// page width/height, with a top-left origin (the convention the detection
// service uses). Conversion to PDF user space (bottom-left origin, points)
// happens at fill time.
package geometry

import (
	"fmt"
	"sort"
)

// Box is a normalized bounding box. X/Y locate the top-left corner.
type Box struct {
	X      float64 `firestore:"x" json:"x"`
	Y      float64 `firestore:"y" json:"y"`
	Width  float64 `firestore:"width" json:"width"`
	Height float64 `firestore:"height" json:"height"`
}

// PageDim is a page size in absolute units (points or pixels).
type PageDim struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Normalize converts an absolute-coordinate box into a normalized one.
func Normalize(px Box, page PageDim) (Box, error) {
	if page.Width <= 0 || page.Height <= 0 {
		return Box{}, fmt.Errorf("invalid page dimensions %gx%g", page.Width, page.Height)
	}
	return Box{
		X:      px.X / page.Width,
		Y:      px.Y / page.Height,
		Width:  px.Width / page.Width,
		Height: px.Height / page.Height,
	}.Clamp(), nil
}

// Denormalize scales a normalized box to absolute coordinates on the given
// page. This is the whole of the template-to-target mapping: because boxes
// are stored normalized, a differently sized target page needs no separate
// scale step.
func Denormalize(b Box, page PageDim) Box {
	return Box{
		X:      b.X * page.Width,
		Y:      b.Y * page.Height,
		Width:  b.Width * page.Width,
		Height: b.Height * page.Height,
	}
}

// ScaleFactors returns the x and y scale between two page sizes. The
// aspect-preserving fill mode takes the smaller of the two as its uniform
// scale.
func ScaleFactors(src, dst PageDim) (sx, sy float64, err error) {
	if src.Width <= 0 || src.Height <= 0 {
		return 0, 0, fmt.Errorf("invalid source dimensions %gx%g", src.Width, src.Height)
	}
	return dst.Width / src.Width, dst.Height / src.Height, nil
}

// Clamp constrains the box to the unit square.
func (b Box) Clamp() Box {
	b.X = clamp01(b.X)
	b.Y = clamp01(b.Y)
	b.Width = clamp01(b.Width)
	b.Height = clamp01(b.Height)
	if b.X+b.Width > 1 {
		b.Width = 1 - b.X
	}
	if b.Y+b.Height > 1 {
		b.Height = 1 - b.Y
	}
	return b
}

// InUnitSquare reports whether the box lies entirely within [0,1] and has
// positive area.
func (b Box) InUnitSquare() bool {
	return b.X >= 0 && b.Y >= 0 && b.Width > 0 && b.Height > 0 &&
		b.X+b.Width <= 1 && b.Y+b.Height <= 1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Translate moves the box by the given normalized deltas and clamps.
func (b Box) Translate(dx, dy float64) Box {
	b.X += dx
	b.Y += dy
	return b.Clamp()
}

// Resize sets the box dimensions, keeping the top-left corner fixed.
func (b Box) Resize(w, h float64) Box {
	b.Width = w
	b.Height = h
	return b.Clamp()
}

// AlignLeft sets every box's left edge to the minimum left edge.
func AlignLeft(boxes []Box) []Box {
	if len(boxes) == 0 {
		return boxes
	}
	minX := boxes[0].X
	for _, b := range boxes[1:] {
		if b.X < minX {
			minX = b.X
		}
	}
	out := make([]Box, len(boxes))
	for i, b := range boxes {
		b.X = minX
		out[i] = b.Clamp()
	}
	return out
}

// AlignRight sets every box's right edge to the maximum right edge.
func AlignRight(boxes []Box) []Box {
	if len(boxes) == 0 {
		return boxes
	}
	maxR := boxes[0].X + boxes[0].Width
	for _, b := range boxes[1:] {
		if r := b.X + b.Width; r > maxR {
			maxR = r
		}
	}
	out := make([]Box, len(boxes))
	for i, b := range boxes {
		b.X = maxR - b.Width
		out[i] = b.Clamp()
	}
	return out
}

// AlignTop sets every box's top edge to the minimum top edge.
func AlignTop(boxes []Box) []Box {
	if len(boxes) == 0 {
		return boxes
	}
	minY := boxes[0].Y
	for _, b := range boxes[1:] {
		if b.Y < minY {
			minY = b.Y
		}
	}
	out := make([]Box, len(boxes))
	for i, b := range boxes {
		b.Y = minY
		out[i] = b.Clamp()
	}
	return out
}

// AlignBottom sets every box's bottom edge to the maximum bottom edge.
func AlignBottom(boxes []Box) []Box {
	if len(boxes) == 0 {
		return boxes
	}
	maxB := boxes[0].Y + boxes[0].Height
	for _, b := range boxes[1:] {
		if bot := b.Y + b.Height; bot > maxB {
			maxB = bot
		}
	}
	out := make([]Box, len(boxes))
	for i, b := range boxes {
		b.Y = maxB - b.Height
		out[i] = b.Clamp()
	}
	return out
}

// DistributeHorizontal spaces box centers evenly between the leftmost and
// rightmost centers. Order within the result matches the input.
func DistributeHorizontal(boxes []Box) []Box {
	return distribute(boxes, func(b Box) float64 { return b.X + b.Width/2 },
		func(b Box, c float64) Box { b.X = c - b.Width/2; return b.Clamp() })
}

// DistributeVertical spaces box centers evenly between the topmost and
// bottommost centers.
func DistributeVertical(boxes []Box) []Box {
	return distribute(boxes, func(b Box) float64 { return b.Y + b.Height/2 },
		func(b Box, c float64) Box { b.Y = c - b.Height/2; return b.Clamp() })
}

func distribute(boxes []Box, center func(Box) float64, place func(Box, float64) Box) []Box {
	out := make([]Box, len(boxes))
	copy(out, boxes)
	if len(boxes) < 3 {
		return out
	}

	idx := make([]int, len(boxes))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return center(boxes[idx[a]]) < center(boxes[idx[b]])
	})

	first := center(boxes[idx[0]])
	last := center(boxes[idx[len(idx)-1]])
	step := (last - first) / float64(len(idx)-1)
	for rank, i := range idx {
		out[i] = place(boxes[i], first+step*float64(rank))
	}
	return out
}
