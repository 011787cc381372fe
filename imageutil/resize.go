// Package imageutil shrinks screenshot payloads before storage.
package imageutil

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// ResizeScreenshot downscales and recompresses a base64-encoded screenshot.
// Scale is an integer divisor (1=full, 2=half, 4=quarter); quality is JPEG
// quality 1-100. Any failure returns the original payload unchanged, since
// a stored full-size screenshot beats a lost one.
func ResizeScreenshot(base64Image string, scale, quality int) string {
	data, err := base64.StdEncoding.DecodeString(base64Image)
	if err != nil {
		return base64Image
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return base64Image
	}

	if scale > 1 {
		bounds := src.Bounds()
		dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx()/scale, bounds.Dy()/scale))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		src = dst
	}

	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return base64Image
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}
