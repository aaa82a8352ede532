// Package mtx reads Matrix Market coordinate files without a full matrix library.
package mtx

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Banner opens every Matrix Market header line.
const Banner = "%%MatrixMarket"

// Field and symmetry tokens recognised in the header.
const (
	FieldReal    = "real"
	FieldInteger = "integer"
	FieldComplex = "complex"
	FieldPattern = "pattern"

	SymmetryGeneral   = "general"
	SymmetrySymmetric = "symmetric"
	SymmetrySkew      = "skew-symmetric"
	SymmetryHermitian = "hermitian"
)

var (
	// ErrNotCoordinate reports a header that is not "%%MatrixMarket matrix coordinate".
	ErrNotCoordinate = errors.New("not a matrix market coordinate header")
	// ErrMalformed reports a size or entry line that cannot be parsed.
	ErrMalformed = errors.New("malformed matrix market line")
	// ErrTruncated reports input ending before the declared number of entries.
	ErrTruncated = errors.New("truncated matrix market input")
)

// Header is the parsed banner line.
type Header struct {
	Object   string
	Format   string
	Field    string
	Symmetry string
}

// Mirrored reports whether only one triangle is stored.
func (h Header) Mirrored() bool {
	switch h.Symmetry {
	case SymmetrySymmetric, SymmetrySkew, SymmetryHermitian:
		return true
	default:
		return false
	}
}

// ParseHeader parses a banner line and requires the exact lowercase
// "matrix coordinate" marker. Field and symmetry tokens are case-folded.
func ParseHeader(line string) (Header, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[0] != Banner {
		return Header{}, ErrNotCoordinate
	}
	h := Header{
		Object:   fields[1],
		Format:   fields[2],
		Field:    FieldReal,
		Symmetry: SymmetryGeneral,
	}
	if h.Object != "matrix" || h.Format != "coordinate" {
		return Header{}, ErrNotCoordinate
	}
	if len(fields) > 3 {
		h.Field = strings.ToLower(fields[3])
	}
	if len(fields) > 4 {
		h.Symmetry = strings.ToLower(fields[4])
	}
	return h, nil
}

// Size is the dimension line of a coordinate file.
type Size struct {
	Rows    int
	Cols    int
	Entries int
}

// Square reports whether rows == columns.
func (s Size) Square() bool {
	return s.Rows == s.Cols
}

// Entry is one stored coordinate, 1-based as written in the file.
type Entry struct {
	Row   int
	Col   int
	Value float64
}

// Scanner reads a coordinate file section by section: header, size, then entries.
type Scanner struct {
	r      *bufio.Reader
	line   int
	header Header
}

// NewScanner wraps r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r)}
}

// Line returns the number of lines consumed so far.
func (s *Scanner) Line() int {
	return s.line
}

// Header reads and parses the banner line.
func (s *Scanner) Header() (Header, error) {
	line, err := s.next()
	if err != nil {
		return Header{}, fmt.Errorf("read header: %w", err)
	}
	h, err := ParseHeader(line)
	if err != nil {
		return Header{}, err
	}
	s.header = h
	return h, nil
}

// Size skips comment lines and parses the first non-comment line as rows, columns and entry count.
func (s *Scanner) Size() (Size, error) {
	for {
		line, err := s.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Size{}, fmt.Errorf("size line missing: %w", ErrTruncated)
			}
			return Size{}, fmt.Errorf("read size line: %w", err)
		}
		if strings.HasPrefix(line, "%") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return Size{}, fmt.Errorf("line %d: size needs 3 fields: %w", s.line, ErrMalformed)
		}
		var dims [3]int
		for i := range dims {
			v, err := strconv.Atoi(fields[i])
			if err != nil || v < 0 {
				return Size{}, fmt.Errorf("line %d: size field %q: %w", s.line, fields[i], ErrMalformed)
			}
			dims[i] = v
		}
		return Size{Rows: dims[0], Cols: dims[1], Entries: dims[2]}, nil
	}
}

// Entry reads the next coordinate line. The value is 1.0 for pattern matrices
// and the real part for complex ones.
func (s *Scanner) Entry() (Entry, error) {
	line, err := s.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, ErrTruncated
		}
		return Entry{}, fmt.Errorf("read entry: %w", err)
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Entry{}, fmt.Errorf("line %d: entry needs indices: %w", s.line, ErrMalformed)
	}
	row, err := strconv.Atoi(fields[0])
	if err != nil {
		return Entry{}, fmt.Errorf("line %d: row %q: %w", s.line, fields[0], ErrMalformed)
	}
	col, err := strconv.Atoi(fields[1])
	if err != nil {
		return Entry{}, fmt.Errorf("line %d: column %q: %w", s.line, fields[1], ErrMalformed)
	}
	e := Entry{Row: row, Col: col, Value: 1}
	if s.header.Field == FieldPattern {
		return e, nil
	}
	if len(fields) < 3 {
		return Entry{}, fmt.Errorf("line %d: entry needs a value: %w", s.line, ErrMalformed)
	}
	e.Value, err = strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Entry{}, fmt.Errorf("line %d: value %q: %w", s.line, fields[2], ErrMalformed)
	}
	return e, nil
}

// next returns the next line without its terminator. io.EOF is returned only
// when no bytes remain.
func (s *Scanner) next() (string, error) {
	line, err := s.r.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) || line == "" {
			return "", err
		}
	}
	s.line++
	return strings.TrimRight(line, "\r\n"), nil
}

// IsSquareCoordinate reports whether r starts with a coordinate matrix header
// followed by a square size line. Any read or parse failure yields false.
func IsSquareCoordinate(r io.Reader) bool {
	s := NewScanner(r)
	if _, err := s.Header(); err != nil {
		return false
	}
	size, err := s.Size()
	if err != nil {
		return false
	}
	return size.Square()
}
