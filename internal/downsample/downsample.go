// Package downsample folds an arbitrarily large sparse matrix into a fixed-size
// dense grid used as classifier input.
package downsample

import (
	"errors"
	"fmt"
	"math"

	"github.com/JakeFAU/suitesparse-dataset/internal/mtx"
)

// BandPairs is the number of off-diagonal pairs kept by Band.
const BandPairs = 31

// ErrInvalidSize is returned for a grid size below 1.
var ErrInvalidSize = errors.New("grid size must be >= 1")

// Grid is a size×size row-major dense matrix.
type Grid struct {
	Size  int
	Cells []float64
}

// At returns cell (i, j).
func (g *Grid) At(i, j int) float64 {
	return g.Cells[i*g.Size+j]
}

// Diagonal returns the k-th diagonal: k > 0 above the main diagonal, k < 0
// below it. Offsets at or beyond Size yield an empty slice.
func (g *Grid) Diagonal(k int) []float64 {
	n := g.Size - abs(k)
	if n <= 0 {
		return []float64{}
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if k >= 0 {
			out[i] = g.At(i, i+k)
		} else {
			out[i] = g.At(i-k, i)
		}
	}
	return out
}

// Flat returns a row-major copy of the cells.
func (g *Grid) Flat() []float64 {
	return append([]float64(nil), g.Cells...)
}

// Band concatenates the main diagonal and the diagonals at +k then -k for
// k = 1..BandPairs.
func (g *Grid) Band() []float64 {
	out := make([]float64, 0, BandLength(g.Size))
	out = append(out, g.Diagonal(0)...)
	for k := 1; k <= BandPairs; k++ {
		out = append(out, g.Diagonal(k)...)
		out = append(out, g.Diagonal(-k)...)
	}
	return out
}

// BandLength is the length of Band for a grid of the given size.
func BandLength(size int) int {
	n := max(size, 0)
	for k := 1; k <= BandPairs; k++ {
		n += 2 * max(size-k, 0)
	}
	return n
}

// Downsample maps every nonzero to cell (row/delta, col/delta) with
// delta = ceil(dim/size), stores the mean of the values landing in each
// cell, and divides the grid by max(1, |max|, |min|).
func Downsample(m *mtx.Coordinate, size int) (*Grid, error) {
	if size < 1 {
		return nil, fmt.Errorf("downsample to %d: %w", size, ErrInvalidSize)
	}
	if m == nil {
		return nil, errors.New("matrix is required")
	}
	dim := max(m.Rows, m.Cols)
	delta := max((dim+size-1)/size, 1)

	sums := make([]float64, size*size)
	counts := make([]int, size*size)
	for k, v := range m.Val {
		i, j := m.Row[k]/delta, m.Col[k]/delta
		if i < 0 || j < 0 || i >= size || j >= size {
			return nil, fmt.Errorf("entry (%d, %d) outside %dx%d matrix", m.Row[k], m.Col[k], m.Rows, m.Cols)
		}
		sums[i*size+j] += v
		counts[i*size+j]++
	}

	g := &Grid{Size: size, Cells: sums}
	hi, lo := math.Inf(-1), math.Inf(1)
	for idx, n := range counts {
		if n > 0 {
			g.Cells[idx] /= float64(n)
		}
		hi = math.Max(hi, g.Cells[idx])
		lo = math.Min(lo, g.Cells[idx])
	}
	scale := math.Max(1.0, math.Max(math.Abs(hi), math.Abs(lo)))
	for idx := range g.Cells {
		g.Cells[idx] /= scale
	}
	return g, nil
}

// Features downsamples m and returns either the flattened grid or its
// diagonal band.
func Features(m *mtx.Coordinate, size int, flat bool) ([]float64, error) {
	g, err := Downsample(m, size)
	if err != nil {
		return nil, err
	}
	if flat {
		return g.Flat(), nil
	}
	return g.Band(), nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
