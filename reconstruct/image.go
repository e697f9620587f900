package reconstruct

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Canonical output size.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

// DefaultMinPayloadBytes is the smallest payload worth handing to a decoder.
const DefaultMinPayloadBytes = 16

// decodeImage decodes an encoded frame payload.
func decodeImage(payload []byte, minBytes int) (image.Image, string, error) {
	if len(payload) < minBytes {
		return nil, "", fmt.Errorf("payload too small: %d bytes", len(payload))
	}
	img, format, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// normalize converts img to RGBA at the given size. Images that already
// match are copied without scaling.
func normalize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
