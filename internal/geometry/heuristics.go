// Package geometry implements the edge and contour heuristics used to confirm that
// a document-shaped object is present and to flag photographed screens or printouts.
package geometry

import "image"

// Canny hysteresis thresholds and pre-blur.
const (
	DefaultLowThreshold  = 50
	DefaultHighThreshold = 150
	// DefaultBlurSigma matches a 5x5 Gaussian kernel.
	DefaultBlurSigma = 1.1
	// approxTolerance is the polygon approximation tolerance as a fraction of perimeter.
	approxTolerance = 0.02
)

// Candidate summarizes one external contour.
type Candidate struct {
	Area        float64         `json:"area"`
	Bounds      image.Rectangle `json:"bounds"`
	AspectRatio float64         `json:"aspect_ratio"`
	Vertices    int             `json:"vertices"`
}

// ShapeRule accepts candidates whose aspect ratio lies strictly inside
// (MinAspect, MaxAspect) and whose area covers at least MinAreaFraction of the image.
type ShapeRule struct {
	MinAspect       float64 `json:"min_aspect"`
	MaxAspect       float64 `json:"max_aspect"`
	MinAreaFraction float64 `json:"min_area_fraction"`
}

// Accepts reports whether c satisfies the rule for an image of imageArea pixels.
func (r ShapeRule) Accepts(c Candidate, imageArea float64) bool {
	return c.AspectRatio > r.MinAspect && c.AspectRatio < r.MaxAspect &&
		c.Area >= r.MinAreaFraction*imageArea
}

// FlatRule flags quadrilateral contours larger than MinArea pixels with an
// aspect ratio strictly inside (MinAspect, MaxAspect).
type FlatRule struct {
	MinArea   float64 `json:"min_area"`
	MinAspect float64 `json:"min_aspect"`
	MaxAspect float64 `json:"max_aspect"`
}

// ShapeResult is the verdict on the largest contour of an image.
type ShapeResult struct {
	Found     bool      `json:"found"`
	Candidate Candidate `json:"candidate"`
	Pass      bool      `json:"pass"`
}

// Artifact is the flat-surface spoof verdict.
type Artifact struct {
	Suspected bool `json:"suspected"`
	Count     int  `json:"count"`
}

// Analyzer runs the edge/contour heuristics. The zero value is not usable; use NewAnalyzer.
type Analyzer struct {
	low, high float64
	sigma     float64
}

// NewAnalyzer returns an Analyzer with the default Canny thresholds and blur.
func NewAnalyzer() *Analyzer {
	return &Analyzer{low: DefaultLowThreshold, high: DefaultHighThreshold, sigma: DefaultBlurSigma}
}

// Candidates extracts every external contour of img. When blur is set the
// grayscale image is smoothed before edge detection.
func (a *Analyzer) Candidates(img image.Image, blur bool) []Candidate {
	sigma := 0.0
	if blur {
		sigma = a.sigma
	}
	p := grayPlane(img, sigma)
	if p.w == 0 || p.h == 0 {
		return nil
	}
	contours := externalContours(canny(p, a.low, a.high))
	out := make([]Candidate, 0, len(contours))
	for _, c := range contours {
		out = append(out, candidateOf(c))
	}
	return out
}

func candidateOf(c Contour) Candidate {
	b := c.Bounds()
	aspect := 0.0
	if b.Dy() > 0 {
		aspect = float64(b.Dx()) / float64(b.Dy())
	}
	return Candidate{
		Area:        c.Area(),
		Bounds:      b,
		AspectRatio: aspect,
		Vertices:    len(c.Approximate(approxTolerance * c.Perimeter())),
	}
}

// FlatArtifact scans the unblurred image for rectangular regions that suggest a
// photographed screen or printout. Real ID cards pass this test as well, so the
// verdict is a hint rather than proof.
func (a *Analyzer) FlatArtifact(img image.Image, rule FlatRule) Artifact {
	var res Artifact
	for _, c := range a.Candidates(img, false) {
		if c.Vertices == 4 && c.Area > rule.MinArea &&
			c.AspectRatio > rule.MinAspect && c.AspectRatio < rule.MaxAspect {
			res.Count++
		}
	}
	res.Suspected = res.Count > 0
	return res
}

// DocumentShape judges the largest external contour of img against rule.
func (a *Analyzer) DocumentShape(img image.Image, rule ShapeRule) ShapeResult {
	return largestShape(a.Candidates(img, true), rule, imageArea(img))
}

func largestShape(cands []Candidate, rule ShapeRule, area float64) ShapeResult {
	if len(cands) == 0 {
		return ShapeResult{}
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Area > best.Area {
			best = c
		}
	}
	return ShapeResult{Found: true, Candidate: best, Pass: rule.Accepts(best, area)}
}

// HeldDocument looks for any contour satisfying rule that does not overlap
// exclude, the region occupied by the person holding the document. Without an
// exclusion region nothing qualifies.
func (a *Analyzer) HeldDocument(img image.Image, rule ShapeRule, exclude *image.Rectangle) (Candidate, bool) {
	if exclude == nil {
		return Candidate{}, false
	}
	return firstHeld(a.Candidates(img, true), rule, imageArea(img), *exclude)
}

func firstHeld(cands []Candidate, rule ShapeRule, area float64, exclude image.Rectangle) (Candidate, bool) {
	for _, c := range cands {
		if rule.Accepts(c, area) && !Overlaps(c.Bounds, exclude) {
			return c, true
		}
	}
	return Candidate{}, false
}

// Overlaps reports whether two half-open boxes intersect. They do not when one
// box's horizontal or vertical extent lies entirely outside the other's.
func Overlaps(a, b image.Rectangle) bool {
	return a.Min.X < b.Max.X && a.Max.X > b.Min.X &&
		a.Min.Y < b.Max.Y && a.Max.Y > b.Min.Y
}

func imageArea(img image.Image) float64 {
	b := img.Bounds()
	return float64(b.Dx() * b.Dy())
}
