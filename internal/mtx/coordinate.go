package mtx

import (
	"fmt"
	"io"
	"os"
)

// maxPrealloc caps the entries reserved up front from the declared count.
// Larger matrices grow their slices as lines are read.
const maxPrealloc = 1 << 20

// Coordinate is a sparse matrix in 0-based coordinate form. Mirrored
// storage is expanded, so every logical nonzero appears once.
type Coordinate struct {
	Rows int
	Cols int
	Row  []int
	Col  []int
	Val  []float64
}

// NNZ returns the number of stored entries.
func (c *Coordinate) NNZ() int {
	return len(c.Val)
}

func (c *Coordinate) add(row, col int, v float64) {
	c.Row = append(c.Row, row)
	c.Col = append(c.Col, col)
	c.Val = append(c.Val, v)
}

// ReadCoordinate parses a whole coordinate file. Symmetric and hermitian
// storage is mirrored across the diagonal; skew-symmetric storage is mirrored
// with negated values.
func ReadCoordinate(r io.Reader) (*Coordinate, error) {
	s := NewScanner(r)
	h, err := s.Header()
	if err != nil {
		return nil, err
	}
	size, err := s.Size()
	if err != nil {
		return nil, err
	}
	m := &Coordinate{Rows: size.Rows, Cols: size.Cols}
	capacity := min(size.Entries, maxPrealloc)
	if h.Mirrored() {
		capacity *= 2
	}
	m.Row = make([]int, 0, capacity)
	m.Col = make([]int, 0, capacity)
	m.Val = make([]float64, 0, capacity)

	for i := 0; i < size.Entries; i++ {
		e, err := s.Entry()
		if err != nil {
			return nil, fmt.Errorf("entry %d of %d: %w", i+1, size.Entries, err)
		}
		if e.Row < 1 || e.Row > size.Rows || e.Col < 1 || e.Col > size.Cols {
			return nil, fmt.Errorf("line %d: index (%d, %d) outside %dx%d: %w",
				s.Line(), e.Row, e.Col, size.Rows, size.Cols, ErrMalformed)
		}
		row, col := e.Row-1, e.Col-1
		m.add(row, col, e.Value)
		if !h.Mirrored() || row == col {
			continue
		}
		if h.Symmetry == SymmetrySkew {
			m.add(col, row, -e.Value)
		} else {
			m.add(col, row, e.Value)
		}
	}
	return m, nil
}

// ReadFile opens path and parses it with ReadCoordinate.
func ReadFile(path string) (*Coordinate, error) {
	// #nosec G304 -- callers pass paths under the extraction root.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open matrix %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	m, err := ReadCoordinate(f)
	if err != nil {
		return nil, fmt.Errorf("read matrix %s: %w", path, err)
	}
	return m, nil
}
