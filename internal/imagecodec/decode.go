// Package imagecodec turns transport-encoded still images into opaque RGB pixel buffers.
package imagecodec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// ErrInvalidImageFormat is returned for any payload that cannot be decoded.
var ErrInvalidImageFormat = errors.New("invalid image format")

// MaxPixels bounds the declared width*height accepted for decoding. The
// header is checked before any pixel buffer is allocated.
const MaxPixels = 40_000_000

// Decode strips an optional data-URL prefix, base64-decodes the payload and
// decodes the image into an opaque NRGBA buffer anchored at the origin.
func Decode(payload string) (*image.NRGBA, error) {
	payload = strings.TrimSpace(payload)
	if _, data, found := strings.Cut(payload, ","); found {
		payload = data
	}
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImageFormat)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrInvalidImageFormat, err)
	}
	return DecodeBytes(raw)
}

// DecodeBytes decodes raw encoded image bytes (JPEG, PNG, GIF, BMP, WebP).
func DecodeBytes(raw []byte) (*image.NRGBA, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImageFormat)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImageFormat, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImageFormat, cfg.Width, cfg.Height, MaxPixels)
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImageFormat, err)
	}
	if src.Bounds().Empty() {
		return nil, fmt.Errorf("%w: zero-sized image", ErrInvalidImageFormat)
	}
	return Opaque(src), nil
}

// Opaque copies src into a new NRGBA buffer and drops transparency, keeping the
// straight color values of every pixel.
func Opaque(src image.Image) *image.NRGBA {
	dst := imaging.Clone(src)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// EncodePNG serializes img losslessly for transport to model services.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Equal reports whether a and b hold identical pixels.
func Equal(a, b *image.NRGBA) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Rect.Dx() != b.Rect.Dx() || a.Rect.Dy() != b.Rect.Dy() {
		return false
	}
	rowLen := a.Rect.Dx() * 4
	for y := 0; y < a.Rect.Dy(); y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+rowLen]
		rb := b.Pix[y*b.Stride : y*b.Stride+rowLen]
		if !bytes.Equal(ra, rb) {
			return false
		}
	}
	return true
}
