// Package vision defines the model capabilities the verification pipeline consumes:
// an object detector and a face locator/encoder. Implementations live in
// internal/grpcclient and internal/httpdetector.
package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
)

// ErrDetectorUnavailable reports that the model capabilities failed to initialize.
// It is terminal for the process: every verification fails with it until restart.
var ErrDetectorUnavailable = errors.New("object detector unavailable")

// Box is an axis-aligned rectangle in pixel coordinates, (X1,Y1) inclusive top-left
// and (X2,Y2) exclusive bottom-right.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width of the box, zero when degenerate.
func (b Box) Width() int { return max(0, b.X2-b.X1) }

// Height of the box, zero when degenerate.
func (b Box) Height() int { return max(0, b.Y2-b.Y1) }

// Area of the box in pixels.
func (b Box) Area() int { return b.Width() * b.Height() }

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle { return image.Rect(b.X1, b.Y1, b.X2, b.Y2) }

// Detection is one object reported by the detector.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// FaceRegion locates a face as (top, right, bottom, left) pixel coordinates.
type FaceRegion struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Embedding is a fixed-length identity signature of a face.
type Embedding []float64

// ObjectDetector finds labelled objects in an image.
type ObjectDetector interface {
	Detect(ctx context.Context, img *image.NRGBA) ([]Detection, error)
}

// FaceEncoder locates faces and computes embeddings for located faces.
// Encode returns embeddings positionally aligned with regions.
type FaceEncoder interface {
	Locate(ctx context.Context, img *image.NRGBA) ([]FaceRegion, error)
	Encode(ctx context.Context, img *image.NRGBA, regions []FaceRegion, jitters int) ([]Embedding, error)
}

// Distance returns the Euclidean distance between two embeddings.
func Distance(a, b Embedding) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("embedding length mismatch: %d vs %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}
