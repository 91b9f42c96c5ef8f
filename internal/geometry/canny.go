package geometry

import (
	"image"

	"github.com/disintegration/imaging"
)

// plane is a single-channel 8-bit image.
type plane struct {
	w, h int
	pix  []uint8
}

func (p plane) at(x, y int) int {
	x = clamp(x, 0, p.w-1)
	y = clamp(y, 0, p.h-1)
	return int(p.pix[y*p.w+x])
}

// grayPlane converts img to luma, optionally Gaussian-blurred with sigma.
func grayPlane(img image.Image, sigma float64) plane {
	g := imaging.Grayscale(img)
	if sigma > 0 {
		g = imaging.Blur(g, sigma)
	}
	b := g.Bounds()
	p := plane{w: b.Dx(), h: b.Dy(), pix: make([]uint8, b.Dx()*b.Dy())}
	for y := 0; y < p.h; y++ {
		row := g.Pix[y*g.Stride:]
		for x := 0; x < p.w; x++ {
			p.pix[y*p.w+x] = row[x*4]
		}
	}
	return p
}

// edgeMap is a binary mask, true on edge pixels.
type edgeMap struct {
	w, h int
	on   []bool
}

func (e edgeMap) get(x, y int) bool {
	if x < 0 || y < 0 || x >= e.w || y >= e.h {
		return false
	}
	return e.on[y*e.w+x]
}

// tan(22.5°) and tan(67.5°) for direction quantization.
const (
	tan22 = 0.41421356237
	tan67 = 2.41421356237
)

// canny runs Sobel gradients, non-maximum suppression and hysteresis over p.
// Gradient magnitude is the L1 norm. On 8-bit input |gx|, |gy| <= 1020 and the
// magnitude <= 2040, so the per-pixel buffers are int16.
func canny(p plane, low, high float64) edgeMap {
	n := p.w * p.h
	dx := make([]int16, n)
	dy := make([]int16, n)
	mag := make([]int16, n)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			gx := (p.at(x+1, y-1) + 2*p.at(x+1, y) + p.at(x+1, y+1)) -
				(p.at(x-1, y-1) + 2*p.at(x-1, y) + p.at(x-1, y+1))
			gy := (p.at(x-1, y+1) + 2*p.at(x, y+1) + p.at(x+1, y+1)) -
				(p.at(x-1, y-1) + 2*p.at(x, y-1) + p.at(x+1, y-1))
			i := y*p.w + x
			dx[i], dy[i] = int16(gx), int16(gy)
			mag[i] = int16(abs(gx) + abs(gy))
		}
	}

	magAt := func(x, y int) int16 {
		if x < 0 || y < 0 || x >= p.w || y >= p.h {
			return 0
		}
		return mag[y*p.w+x]
	}

	const (
		none = iota
		weak
		strong
	)
	state := make([]uint8, n)
	var stack []int
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			i := y*p.w + x
			m := mag[i]
			if float64(m) <= low {
				continue
			}
			ax, ay := float64(abs(int(dx[i]))), float64(abs(int(dy[i])))
			var keep bool
			switch {
			case ay < ax*tan22:
				keep = m > magAt(x-1, y) && m >= magAt(x+1, y)
			case ay > ax*tan67:
				keep = m > magAt(x, y-1) && m >= magAt(x, y+1)
			default:
				if (dx[i] < 0) == (dy[i] < 0) {
					keep = m > magAt(x-1, y-1) && m > magAt(x+1, y+1)
				} else {
					keep = m > magAt(x+1, y-1) && m > magAt(x-1, y+1)
				}
			}
			if !keep {
				continue
			}
			if float64(m) > high {
				state[i] = strong
				stack = append(stack, i)
			} else {
				state[i] = weak
			}
		}
	}

	out := edgeMap{w: p.w, h: p.h, on: make([]bool, n)}
	for _, i := range stack {
		out.on[i] = true
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%p.w, i/p.w
		for _, d := range neighbors8 {
			nx, ny := x+d.X, y+d.Y
			if nx < 0 || ny < 0 || nx >= p.w || ny >= p.h {
				continue
			}
			j := ny*p.w + nx
			if state[j] == weak && !out.on[j] {
				out.on[j] = true
				stack = append(stack, j)
			}
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
