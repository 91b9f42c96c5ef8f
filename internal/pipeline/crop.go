package pipeline

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/example/kyc-facematch/internal/vision"
)

// paddedRect grows box by padding times its size on every side, clamped to bounds.
func paddedRect(box vision.Box, padding float64, bounds image.Rectangle) image.Rectangle {
	padX := int(float64(box.X2-box.X1) * padding)
	padY := int(float64(box.Y2-box.Y1) * padding)
	r := image.Rect(box.X1-padX, box.Y1-padY, box.X2+padX, box.Y2+padY)
	return r.Intersect(bounds)
}

// cropRegion copies r out of img. The source is never modified.
func cropRegion(img *image.NRGBA, r image.Rectangle) *image.NRGBA {
	if r.Empty() {
		return nil
	}
	return imaging.Crop(img, r)
}

// meanIntensity averages the R, G and B channels of every pixel.
func meanIntensity(img *image.NRGBA) float64 {
	b := img.Rect
	if b.Empty() {
		return 0
	}
	var sum uint64
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			sum += uint64(row[i]) + uint64(row[i+1]) + uint64(row[i+2])
		}
	}
	return float64(sum) / float64(3*b.Dx()*b.Dy())
}
