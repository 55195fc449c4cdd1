// SPDX-License-Identifier: MIT

// Package annotate draws error markers onto diagram images. Each reported
// error becomes a colored rectangle with a short text label above it.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Box marks one error region in image pixel coordinates.
type Box struct {
	X1, Y1   float64
	X2, Y2   float64
	Label    string
	Severity string // "low", "medium" or "high"
}

const (
	borderWidth = 3
	jpegQuality = 90
)

var severityColors = map[string]color.RGBA{
	"high":   {R: 220, G: 30, B: 30, A: 255},
	"medium": {R: 240, G: 140, B: 0, A: 255},
	"low":    {R: 230, G: 200, B: 0, A: 255},
}

func severityColor(severity string) color.RGBA {
	if c, ok := severityColors[severity]; ok {
		return c
	}
	return severityColors["high"]
}

// Annotate decodes raw image bytes, draws all boxes and re-encodes the
// result as JPEG. Boxes outside the image are clamped to its bounds.
func Annotate(raw []byte, boxes []Box) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	for _, box := range boxes {
		drawBox(dst, scaleIfNormalized(box, bounds))
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode annotated image: %w", err)
	}
	return buf.Bytes(), nil
}

// scaleIfNormalized maps fractional coordinates onto the image. Vision models
// sometimes return regions in the 0..1 range instead of pixels; a box whose
// coordinates all fit inside the unit square is treated as normalized.
func scaleIfNormalized(box Box, bounds image.Rectangle) Box {
	if box.X1 < 0 || box.Y1 < 0 || box.X2 > 1 || box.Y2 > 1 || box.X2 <= box.X1 {
		return box
	}
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	box.X1 *= w
	box.X2 *= w
	box.Y1 *= h
	box.Y2 *= h
	return box
}

func drawBox(dst *image.RGBA, box Box) {
	bounds := dst.Bounds()
	rect := image.Rect(int(box.X1), int(box.Y1), int(box.X2), int(box.Y2)).
		Canon().
		Intersect(bounds)
	if rect.Empty() {
		return
	}

	col := severityColor(box.Severity)
	drawBorder(dst, rect, col)

	if box.Label != "" {
		drawLabel(dst, rect, box.Label, col)
	}
}

// drawBorder draws a borderWidth-thick rectangle outline.
func drawBorder(dst *image.RGBA, rect image.Rectangle, col color.RGBA) {
	uniform := image.NewUniform(col)
	bounds := dst.Bounds()

	edges := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+borderWidth), // top
		image.Rect(rect.Min.X, rect.Max.Y-borderWidth, rect.Max.X, rect.Max.Y), // bottom
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+borderWidth, rect.Max.Y), // left
		image.Rect(rect.Max.X-borderWidth, rect.Min.Y, rect.Max.X, rect.Max.Y), // right
	}
	for _, edge := range edges {
		draw.Draw(dst, edge.Intersect(bounds), uniform, image.Point{}, draw.Src)
	}
}

// drawLabel renders the label on a filled background just above the box, or
// inside its top edge when there is no room above.
func drawLabel(dst *image.RGBA, rect image.Rectangle, label string, col color.RGBA) {
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, label).Ceil()
	textHeight := face.Metrics().Height.Ceil()

	const pad = 2
	labelRect := image.Rect(
		rect.Min.X,
		rect.Min.Y-textHeight-2*pad,
		rect.Min.X+textWidth+2*pad,
		rect.Min.Y,
	)
	if labelRect.Min.Y < dst.Bounds().Min.Y {
		labelRect = labelRect.Add(image.Pt(0, textHeight+2*pad+borderWidth))
	}
	labelRect = labelRect.Intersect(dst.Bounds())
	if labelRect.Empty() {
		return
	}

	draw.Draw(dst, labelRect, image.NewUniform(col), image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot: fixed.P(
			labelRect.Min.X+pad,
			labelRect.Min.Y+pad+face.Metrics().Ascent.Ceil(),
		),
	}
	drawer.DrawString(label)
}
