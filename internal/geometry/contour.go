package geometry

import (
	"image"
	"math"
)

// neighbors8 lists the 8-neighborhood clockwise (image y grows downward), starting east.
var neighbors8 = [8]image.Point{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1},
}

var neighbors4 = [4]image.Point{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}

func direction(d image.Point) int {
	for i, n := range neighbors8 {
		if n == d {
			return i
		}
	}
	return -1
}

// Contour is the closed outer border of an edge component.
type Contour []image.Point

// externalContours returns the outer border of every edge component that is not
// nested inside the hole of another component. Foreground is 8-connected and
// background 4-connected.
func externalContours(e edgeMap) []Contour {
	w, h := e.w, e.h
	outside := make([]bool, w*h)
	var queue []int
	seed := func(x, y int) {
		i := y*w + x
		if !e.on[i] && !outside[i] {
			outside[i] = true
			queue = append(queue, i)
		}
	}
	for x := 0; x < w; x++ {
		seed(x, 0)
		seed(x, h-1)
	}
	for y := 0; y < h; y++ {
		seed(0, y)
		seed(w-1, y)
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		x, y := i%w, i/w
		for _, d := range neighbors4 {
			nx, ny := x+d.X, y+d.Y
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			seed(nx, ny)
		}
	}

	touchesOutside := func(x, y int) bool {
		if x == 0 || y == 0 || x == w-1 || y == h-1 {
			return true
		}
		for _, d := range neighbors4 {
			if outside[(y+d.Y)*w+x+d.X] {
				return true
			}
		}
		return false
	}

	visited := make([]bool, w*h)
	var contours []Contour
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if !e.on[i] || visited[i] {
				continue
			}
			// Raster order guarantees (x, y) is the top-left pixel of a new component.
			external := false
			stack := []int{i}
			visited[i] = true
			for len(stack) > 0 {
				j := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				cx, cy := j%w, j/w
				if !external && touchesOutside(cx, cy) {
					external = true
				}
				for _, d := range neighbors8 {
					nx, ny := cx+d.X, cy+d.Y
					if !e.get(nx, ny) {
						continue
					}
					k := ny*w + nx
					if !visited[k] {
						visited[k] = true
						stack = append(stack, k)
					}
				}
			}
			if external {
				contours = append(contours, compress(traceBorder(e, image.Pt(x, y))))
			}
		}
	}
	return contours
}

// traceBorder follows the outer border clockwise from start, which must be the
// top-left pixel of its component, using Moore-neighbor tracing. Tracing stops
// when the walk leaves start towards the same pixel as its first step.
func traceBorder(e edgeMap, start image.Point) Contour {
	const westDir = 4
	contour := Contour{start}
	cur := start
	back := start.Add(neighbors8[westDir])
	var second image.Point
	limit := 4*e.w*e.h + 8

	for step := 0; step < limit; step++ {
		bdir := direction(back.Sub(cur))
		next, prev := image.Point{}, back
		found := false
		for k := 1; k <= 8; k++ {
			p := cur.Add(neighbors8[(bdir+k)%8])
			if e.get(p.X, p.Y) {
				next = p
				found = true
				break
			}
			prev = p
		}
		if !found {
			return contour
		}
		if step == 0 {
			second = next
		} else if cur == start && next == second {
			return contour[:len(contour)-1]
		}
		cur, back = next, prev
		contour = append(contour, cur)
	}
	return contour
}

// compress keeps only the end points of horizontal, vertical and diagonal runs.
func compress(c Contour) Contour {
	n := len(c)
	if n < 3 {
		return c
	}
	out := make(Contour, 0, n)
	for i := 0; i < n; i++ {
		prev := c[(i-1+n)%n]
		next := c[(i+1)%n]
		if c[i].Sub(prev) != next.Sub(c[i]) {
			out = append(out, c[i])
		}
	}
	if len(out) == 0 {
		return Contour{c[0]}
	}
	return out
}

// Area returns the enclosed polygon area (shoelace formula).
func (c Contour) Area() float64 {
	n := len(c)
	if n < 3 {
		return 0
	}
	var sum int
	for i := 0; i < n; i++ {
		a, b := c[i], c[(i+1)%n]
		sum += a.X*b.Y - b.X*a.Y
	}
	return math.Abs(float64(sum)) / 2
}

// Perimeter returns the closed arc length.
func (c Contour) Perimeter() float64 {
	n := len(c)
	if n < 2 {
		return 0
	}
	var total float64
	for i := 0; i < n; i++ {
		total += dist(c[i], c[(i+1)%n])
	}
	return total
}

// Bounds returns the bounding rectangle covering every contour pixel.
func (c Contour) Bounds() image.Rectangle {
	if len(c) == 0 {
		return image.Rectangle{}
	}
	r := image.Rectangle{Min: c[0], Max: c[0]}
	for _, p := range c[1:] {
		r.Min.X = min(r.Min.X, p.X)
		r.Min.Y = min(r.Min.Y, p.Y)
		r.Max.X = max(r.Max.X, p.X)
		r.Max.Y = max(r.Max.Y, p.Y)
	}
	r.Max = r.Max.Add(image.Pt(1, 1))
	return r
}

// Approximate simplifies the closed contour with Douglas-Peucker at tolerance epsilon.
func (c Contour) Approximate(epsilon float64) Contour {
	n := len(c)
	if n < 3 {
		return c
	}

	// Anchor the split on a pair of far-apart points.
	a := 0
	b := farthest(c, a)
	for i := 0; i < 2; i++ {
		a, b = b, farthest(c, b)
	}
	if a == b {
		return c
	}
	if a > b {
		a, b = b, a
	}

	first := douglasPeucker(c[a:b+1], epsilon)
	tail := append(append(Contour{}, c[b:]...), c[:a+1]...)
	second := douglasPeucker(tail, epsilon)

	out := make(Contour, 0, len(first)+len(second))
	out = append(out, first[:len(first)-1]...)
	out = append(out, second[:len(second)-1]...)
	return out
}

func farthest(c Contour, from int) int {
	best, bestDist := from, -1.0
	for i, p := range c {
		if d := dist(c[from], p); d > bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func douglasPeucker(pts Contour, epsilon float64) Contour {
	if len(pts) < 3 {
		return append(Contour{}, pts...)
	}
	first, last := pts[0], pts[len(pts)-1]
	idx, maxDist := 0, -1.0
	for i := 1; i < len(pts)-1; i++ {
		if d := segmentDistance(pts[i], first, last); d > maxDist {
			idx, maxDist = i, d
		}
	}
	if maxDist <= epsilon {
		return Contour{first, last}
	}
	left := douglasPeucker(pts[:idx+1], epsilon)
	right := douglasPeucker(pts[idx:], epsilon)
	return append(left[:len(left)-1], right...)
}

func segmentDistance(p, a, b image.Point) float64 {
	if a == b {
		return dist(p, a)
	}
	dx, dy := float64(b.X-a.X), float64(b.Y-a.Y)
	cross := math.Abs(dx*float64(p.Y-a.Y) - dy*float64(p.X-a.X))
	return cross / math.Hypot(dx, dy)
}

func dist(a, b image.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}
