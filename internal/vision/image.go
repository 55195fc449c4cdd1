// SPDX-License-Identifier: MIT

package vision

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

const (
	// maxDimension bounds the longer image edge before upload. Vision models
	// tile large images, so anything beyond this only costs tokens.
	maxDimension = 1024

	jpegQuality = 85
)

// PrepareImage decodes raw image bytes (PNG, JPEG, GIF, BMP or TIFF),
// downscales them to fit maxDimension and re-encodes as JPEG. The result is
// returned as a base64 data URL ready for a chat message.
func PrepareImage(raw []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	img = downscale(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	return "data:image/jpeg;base64," + encoded, nil
}

// downscale shrinks img so neither edge exceeds maxDimension, preserving the
// aspect ratio. Images already within bounds pass through unchanged.
func downscale(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDimension && h <= maxDimension {
		return img
	}

	scaleW := float64(maxDimension) / float64(w)
	scaleH := float64(maxDimension) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}

	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}
