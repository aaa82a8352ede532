// Package raster renders the sparsity pattern of a coordinate matrix file as a
// fixed-resolution black and white image.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/suitesparse-dataset/internal/mtx"
)

// MaxResolution bounds the edge of a rendered grid.
const MaxResolution = 1 << 14

var (
	// ErrInvalidResolution is returned for a negative target resolution.
	ErrInvalidResolution = errors.New("resolution must be >= 0")
	// ErrTooLarge is returned when the grid edge would exceed MaxResolution.
	ErrTooLarge = errors.New("raster exceeds maximum resolution")
)

// Image is a square row-major occupancy grid.
type Image struct {
	Size  int
	Cells []bool
}

// At reports whether cell (i, j) holds a nonzero.
func (im *Image) At(i, j int) bool {
	return im.Cells[i*im.Size+j]
}

func (im *Image) set(i, j int) {
	im.Cells[i*im.Size+j] = true
}

// mirror ORs the grid with its transpose.
func (im *Image) mirror() {
	for i := 0; i < im.Size; i++ {
		for j := i + 1; j < im.Size; j++ {
			v := im.At(i, j) || im.At(j, i)
			im.Cells[i*im.Size+j] = v
			im.Cells[j*im.Size+i] = v
		}
	}
}

// Symmetric reports whether the grid equals its transpose.
func (im *Image) Symmetric() bool {
	for i := 0; i < im.Size; i++ {
		for j := i + 1; j < im.Size; j++ {
			if im.At(i, j) != im.At(j, i) {
				return false
			}
		}
	}
	return true
}

// Gray renders occupied cells white on black.
func (im *Image) Gray() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, im.Size, im.Size))
	for i := 0; i < im.Size; i++ {
		for j := 0; j < im.Size; j++ {
			if im.At(i, j) {
				out.SetGray(j, i, color.Gray{Y: 0xff})
			}
		}
	}
	return out
}

// EncodePNG writes the image as a grayscale PNG.
func (im *Image) EncodePNG(w io.Writer) error {
	if err := png.Encode(w, im.Gray()); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// Rasterize reads a coordinate matrix and marks every stored entry. A
// resolution of 0 keeps the native size; otherwise coordinates are scaled by
// resolution/size and rounded up. Mirrored storage is reflected across the
// diagonal. The size line is trusted to be square. Input with fewer entry
// lines than declared fails with mtx.ErrTruncated.
func Rasterize(r io.Reader, resolution int) (*Image, error) {
	if resolution < 0 {
		return nil, fmt.Errorf("rasterize at %d: %w", resolution, ErrInvalidResolution)
	}
	s := mtx.NewScanner(r)
	h, err := s.Header()
	if err != nil {
		return nil, err
	}
	size, err := s.Size()
	if err != nil {
		return nil, err
	}
	n := size.Rows
	target := resolution
	if target == 0 {
		target = n
	}
	if target > MaxResolution {
		return nil, fmt.Errorf("%dx%d grid: %w", target, target, ErrTooLarge)
	}
	im := &Image{Size: target, Cells: make([]bool, target*target)}

	for k := 0; k < size.Entries; k++ {
		e, err := s.Entry()
		if err != nil {
			return nil, fmt.Errorf("entry %d of %d: %w", k+1, size.Entries, err)
		}
		if e.Row < 1 || e.Row > n || e.Col < 1 || e.Col > n {
			return nil, fmt.Errorf("line %d: index (%d, %d) outside %dx%d: %w",
				s.Line(), e.Row, e.Col, n, n, mtx.ErrMalformed)
		}
		im.set(scale(e.Row, n, target), scale(e.Col, n, target))
	}
	if h.Mirrored() {
		im.mirror()
	}
	return im, nil
}

// scale maps a 1-based index in [1, n] to a 0-based cell in [0, target),
// computing ceil(idx*target/n) - 1 in integers.
func scale(idx, n, target int) int {
	if n == target {
		return idx - 1
	}
	return int((int64(idx)*int64(target)+int64(n)-1)/int64(n)) - 1
}

// RasterizeFile opens path and rasterizes it.
func RasterizeFile(path string, resolution int) (*Image, error) {
	// #nosec G304 -- callers pass paths under the extraction root.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open matrix %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	im, err := Rasterize(f, resolution)
	if err != nil {
		return nil, fmt.Errorf("rasterize %s: %w", path, err)
	}
	return im, nil
}

// FlatName turns a path relative to the extraction root into a single file
// name: the extension becomes .png and path segments are joined with "+".
func FlatName(rel string) string {
	rel = filepath.ToSlash(filepath.Clean(rel))
	rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + ".png"
	return strings.Join(strings.Split(rel, "/"), "+")
}
