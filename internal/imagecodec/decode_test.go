package imagecodec

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodeTestPNG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecodeStripsDataURLPrefix(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 3))
	src.Set(1, 1, color.RGBA{R: 200, G: 10, B: 20, A: 255})
	payload := "data:image/png;base64," + encodeTestPNG(t, src)

	img, err := Decode(payload)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if img.Rect.Dx() != 4 || img.Rect.Dy() != 3 {
		t.Fatalf("unexpected bounds: %v", img.Rect)
	}
	if got := img.NRGBAAt(1, 1); got.R != 200 || got.G != 10 || got.B != 20 || got.A != 255 {
		t.Fatalf("unexpected pixel: %+v", got)
	}
}

func TestDecodeFlattensAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.SetNRGBA(0, 0, color.NRGBA{R: 100, G: 150, B: 200, A: 10})

	img, err := Decode(encodeTestPNG(t, src))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	got := img.NRGBAAt(0, 0)
	if got.A != 255 {
		t.Fatalf("expected opaque pixel, got alpha %d", got.A)
	}
	if got.R != 100 || got.G != 150 || got.B != 200 {
		t.Fatalf("expected straight colors to survive, got %+v", got)
	}
}

func TestDecodeExpandsGrayscale(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 2))
	src.SetGray(1, 0, color.Gray{Y: 77})

	img, err := Decode(encodeTestPNG(t, src))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got := img.NRGBAAt(1, 0); got.R != 77 || got.G != 77 || got.B != 77 {
		t.Fatalf("expected gray expanded to RGB, got %+v", got)
	}
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"prefix only":    "data:image/png;base64,",
		"not base64":     "!!!not-base64!!!",
		"not an image":   base64.StdEncoding.EncodeToString([]byte("hello world")),
		"truncated json": "{",
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(payload); !errors.Is(err, ErrInvalidImageFormat) {
				t.Fatalf("expected ErrInvalidImageFormat, got %v", err)
			}
		})
	}
}

func TestEqualComparesPixels(t *testing.T) {
	a := image.NewNRGBA(image.Rect(0, 0, 3, 3))
	b := image.NewNRGBA(image.Rect(0, 0, 3, 3))
	if !Equal(a, b) {
		t.Fatal("expected blank images to be equal")
	}
	b.SetNRGBA(2, 2, color.NRGBA{R: 1, A: 255})
	if Equal(a, b) {
		t.Fatal("expected differing pixel to break equality")
	}
	if Equal(a, image.NewNRGBA(image.Rect(0, 0, 3, 4))) {
		t.Fatal("expected different sizes to differ")
	}
}

func TestEncodePNGRoundTrip(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 5, 5))
	src.SetNRGBA(3, 4, color.NRGBA{R: 9, G: 8, B: 7, A: 255})
	raw, err := EncodePNG(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img, err := DecodeBytes(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Equal(Opaque(src), img) {
		t.Fatal("expected lossless round trip")
	}
}

// withDeclaredSize rewrites the IHDR of a PNG so it claims w x h pixels while
// the payload stays tiny.
func withDeclaredSize(t *testing.T, w, h uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	raw := buf.Bytes()
	if string(raw[12:16]) != "IHDR" {
		t.Fatalf("unexpected chunk %q", raw[12:16])
	}
	binary.BigEndian.PutUint32(raw[16:20], w)
	binary.BigEndian.PutUint32(raw[20:24], h)
	binary.BigEndian.PutUint32(raw[29:33], crc32.ChecksumIEEE(raw[12:29]))
	return raw
}

func TestDecodeRejectsOversizedImagesBeforeAllocating(t *testing.T) {
	raw := withDeclaredSize(t, 12000, 12000)
	if len(raw) > 1024 {
		t.Fatalf("expected a tiny payload, got %d bytes", len(raw))
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("crafted header should parse: %v", err)
	}
	if cfg.Width != 12000 || cfg.Height != 12000 {
		t.Fatalf("unexpected declared size %dx%d", cfg.Width, cfg.Height)
	}

	if _, err := DecodeBytes(raw); !errors.Is(err, ErrInvalidImageFormat) {
		t.Fatalf("expected ErrInvalidImageFormat, got %v", err)
	}
	if _, err := Decode(base64.StdEncoding.EncodeToString(raw)); !errors.Is(err, ErrInvalidImageFormat) {
		t.Fatalf("expected ErrInvalidImageFormat from base64 payload, got %v", err)
	}
}

func TestDecodeAcceptsImagesWithinPixelBudget(t *testing.T) {
	img, err := Decode(encodeTestPNG(t, image.NewGray(image.Rect(0, 0, 640, 480))))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if img.Rect.Dx() != 640 || img.Rect.Dy() != 480 {
		t.Fatalf("unexpected bounds: %v", img.Rect)
	}
}
