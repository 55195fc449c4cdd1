// SPDX-License-Identifier: MIT

package annotate

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whitePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAnnotateDrawsBorder(t *testing.T) {
	raw := whitePNG(t, 200, 200)

	out, err := Annotate(raw, []Box{
		{X1: 50, Y1: 50, X2: 150, Y2: 150, Severity: "high", Label: "wrong arrow"},
	})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	// A pixel on the top border edge must be strongly red.
	r, g, b, _ := img.At(100, 51).RGBA()
	assert.Greater(t, r>>8, uint32(150), "border pixel should be red")
	assert.Less(t, g>>8, uint32(120))
	assert.Less(t, b>>8, uint32(120))

	// The box interior stays untouched.
	r, g, b, _ = img.At(100, 100).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Greater(t, g>>8, uint32(200))
	assert.Greater(t, b>>8, uint32(200))
}

func TestAnnotateScalesNormalizedBox(t *testing.T) {
	raw := whitePNG(t, 200, 200)

	// 0.25..0.75 of a 200px image is the same box as 50..150 pixels.
	out, err := Annotate(raw, []Box{
		{X1: 0.25, Y1: 0.25, X2: 0.75, Y2: 0.75, Severity: "high"},
	})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	r, g, _, _ := img.At(100, 51).RGBA()
	assert.Greater(t, r>>8, uint32(150), "scaled border pixel should be red")
	assert.Less(t, g>>8, uint32(120))
}

func TestScaleIfNormalized(t *testing.T) {
	bounds := image.Rect(0, 0, 400, 300)

	scaled := scaleIfNormalized(Box{X1: 0.1, Y1: 0.2, X2: 0.5, Y2: 1}, bounds)
	assert.InDelta(t, 40, scaled.X1, 0.01)
	assert.InDelta(t, 60, scaled.Y1, 0.01)
	assert.InDelta(t, 200, scaled.X2, 0.01)
	assert.InDelta(t, 300, scaled.Y2, 0.01)

	// Pixel boxes pass through untouched.
	pixel := Box{X1: 10, Y1: 20, X2: 30, Y2: 40}
	assert.Equal(t, pixel, scaleIfNormalized(pixel, bounds))
}

func TestAnnotateClampsOutOfBoundsBox(t *testing.T) {
	raw := whitePNG(t, 100, 100)

	out, err := Annotate(raw, []Box{
		{X1: -50, Y1: -50, X2: 500, Y2: 500, Severity: "medium"},
		{X1: 300, Y1: 300, X2: 400, Y2: 400, Severity: "low"}, // fully outside
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestAnnotateNoBoxes(t *testing.T) {
	raw := whitePNG(t, 50, 50)
	out, err := Annotate(raw, nil)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())
}

func TestAnnotateRejectsGarbage(t *testing.T) {
	_, err := Annotate([]byte("nope"), nil)
	assert.Error(t, err)
}

func TestSeverityColorFallback(t *testing.T) {
	assert.Equal(t, severityColors["high"], severityColor("unknown"))
	assert.Equal(t, severityColors["low"], severityColor("low"))
}
