package geometry

import (
	"image"
	"testing"
)

func maskFrom(w, h int, fill func(x, y int) bool) edgeMap {
	e := edgeMap{w: w, h: h, on: make([]bool, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			e.on[y*w+x] = fill(x, y)
		}
	}
	return e
}

func inRect(r image.Rectangle) func(x, y int) bool {
	return func(x, y int) bool { return image.Pt(x, y).In(r) }
}

func TestExternalContoursFilledRectangle(t *testing.T) {
	e := maskFrom(40, 30, inRect(image.Rect(10, 10, 20, 15)))

	contours := externalContours(e)
	if len(contours) != 1 {
		t.Fatalf("expected 1 contour, got %d", len(contours))
	}
	c := contours[0]
	if len(c) != 4 {
		t.Fatalf("expected 4 compressed corner points, got %d: %v", len(c), c)
	}
	if got := c.Area(); got != 36 {
		t.Fatalf("expected area 36, got %f", got)
	}
	if got := c.Bounds(); got != image.Rect(10, 10, 20, 15) {
		t.Fatalf("unexpected bounds %v", got)
	}
	if got := len(c.Approximate(0.02 * c.Perimeter())); got != 4 {
		t.Fatalf("expected 4 approximated vertices, got %d", got)
	}
}

func TestExternalContoursSkipsNestedComponents(t *testing.T) {
	outer := image.Rect(5, 5, 35, 25)
	inner := image.Rect(7, 7, 33, 23)
	blob := image.Rect(15, 12, 20, 16)
	e := maskFrom(40, 30, func(x, y int) bool {
		p := image.Pt(x, y)
		ring := p.In(outer) && !p.In(inner)
		return ring || p.In(blob)
	})

	contours := externalContours(e)
	if len(contours) != 1 {
		t.Fatalf("expected only the outer ring, got %d contours", len(contours))
	}
	if got := contours[0].Bounds(); got != outer {
		t.Fatalf("expected ring bounds %v, got %v", outer, got)
	}
}

func TestExternalContoursSeparateComponents(t *testing.T) {
	a := image.Rect(2, 2, 8, 8)
	b := image.Rect(20, 2, 30, 6)
	e := maskFrom(40, 20, func(x, y int) bool {
		p := image.Pt(x, y)
		return p.In(a) || p.In(b)
	})

	contours := externalContours(e)
	if len(contours) != 2 {
		t.Fatalf("expected 2 contours, got %d", len(contours))
	}
	if contours[0].Bounds() != a || contours[1].Bounds() != b {
		t.Fatalf("unexpected bounds %v and %v", contours[0].Bounds(), contours[1].Bounds())
	}
}

func TestSinglePixelContourHasNoArea(t *testing.T) {
	e := maskFrom(10, 10, func(x, y int) bool { return x == 4 && y == 4 })
	contours := externalContours(e)
	if len(contours) != 1 {
		t.Fatalf("expected 1 contour, got %d", len(contours))
	}
	if contours[0].Area() != 0 {
		t.Fatalf("expected zero area, got %f", contours[0].Area())
	}
}

func TestThinLineEnclosesNoArea(t *testing.T) {
	e := maskFrom(30, 10, func(x, y int) bool { return y == 5 && x >= 3 && x < 25 })
	contours := externalContours(e)
	if len(contours) != 1 {
		t.Fatalf("expected 1 contour, got %d", len(contours))
	}
	if contours[0].Area() != 0 {
		t.Fatalf("expected zero area for a line, got %f", contours[0].Area())
	}
	if got := contours[0].Bounds(); got != image.Rect(3, 5, 25, 6) {
		t.Fatalf("unexpected bounds %v", got)
	}
}

func TestApproximateKeepsTriangleCorners(t *testing.T) {
	var c Contour
	for x := 0; x <= 20; x++ {
		c = append(c, image.Pt(x, 0))
	}
	for i := 1; i <= 20; i++ {
		c = append(c, image.Pt(20-i, i))
	}
	for y := 19; y > 0; y-- {
		c = append(c, image.Pt(0, y))
	}
	if got := len(c.Approximate(0.02 * c.Perimeter())); got != 3 {
		t.Fatalf("expected 3 vertices, got %d", got)
	}
}
