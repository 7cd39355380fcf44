// Package coords holds affine matrices and the mapping from editor space
// (origin top-left, y down) to page space (origin bottom-left, y up).
package coords

import (
	"errors"
	"iter"
	"math"
)

// Matrix is a PDF transformation matrix [a b c d e f].
type Matrix [6]float64

func Identity() Matrix { return Matrix{1, 0, 0, 1, 0, 0} }

func (m Matrix) Multiply(o Matrix) Matrix {
	return Matrix{
		m[0]*o[0] + m[1]*o[2],
		m[0]*o[1] + m[1]*o[3],
		m[2]*o[0] + m[3]*o[2],
		m[2]*o[1] + m[3]*o[3],
		m[4]*o[0] + m[5]*o[2] + o[4],
		m[4]*o[1] + m[5]*o[3] + o[5],
	}
}

type Point struct{ X, Y float64 }

func (m Matrix) Transform(p Point) Point {
	return Point{X: m[0]*p.X + m[2]*p.Y + m[4], Y: m[1]*p.X + m[3]*p.Y + m[5]}
}

func (m Matrix) Inverse() (Matrix, error) {
	det := m[0]*m[3] - m[1]*m[2]
	if math.Abs(det) < 1e-10 {
		return Matrix{}, errors.New("matrix singular")
	}
	return Matrix{
		m[3] / det, -m[1] / det, -m[2] / det, m[0] / det,
		(m[2]*m[5] - m[3]*m[4]) / det, (m[1]*m[4] - m[0]*m[5]) / det,
	}, nil
}

func Translate(tx, ty float64) Matrix { return Matrix{1, 0, 0, 1, tx, ty} }
func Scale(sx, sy float64) Matrix     { return Matrix{sx, 0, 0, sy, 0, 0} }

func Rotate(angle float64) Matrix {
	c, s := math.Cos(angle), math.Sin(angle)
	return Matrix{c, s, -s, c, 0, 0}
}

// FlipY returns the page-space bottom edge of a box whose top edge sits at y
// in editor space. A zero height yields pageHeight - y.
func FlipY(pageHeight, y, height float64) float64 {
	return pageHeight - y - height
}

// Rect is an axis-aligned box, in page or editor space by context.
type Rect struct {
	X, Y, Width, Height float64
}

// MapBox converts an editor-space box to page space.
func MapBox(pageHeight, x, y, width, height float64) Rect {
	return Rect{X: x, Y: FlipY(pageHeight, y, height), Width: width, Height: height}
}

// Tiles covers an editor-space box with size×size squares, row by row within
// each column. Every tile is full size, so the last column and row may extend
// up to one tile past the box. Only tiles overlapping limit, also in editor
// space, are produced; the grid stays anchored at the box origin.
func Tiles(pageHeight float64, box, limit Rect, size float64) iter.Seq[Rect] {
	return func(yield func(Rect) bool) {
		if !(size > 0) {
			return
		}
		x0, cols := tileSpan(box.X, box.Width, limit.X, limit.X+limit.Width, size)
		y0, rows := tileSpan(box.Y, box.Height, limit.Y, limit.Y+limit.Height, size)
		for c := 0; c < cols; c++ {
			for r := 0; r < rows; r++ {
				py := y0 + float64(r)*size
				if !yield(Rect{X: x0 + float64(c)*size, Y: FlipY(pageHeight, py, size), Width: size, Height: size}) {
					return
				}
			}
		}
	}
}

// tileSpan returns the first tile start and the tile count along one axis for
// tiles laid from start over length that overlap [lo, hi).
func tileSpan(start, length, lo, hi, size float64) (float64, int) {
	end := start + length
	if start < lo {
		start += math.Floor((lo-start)/size) * size
		// precision is gone this far out
		if start < lo-size || start > lo {
			start = lo
		}
	}
	end = math.Min(end, hi)
	if !(end > start) {
		return start, 0
	}
	return start, int(math.Ceil((end - start) / size))
}
