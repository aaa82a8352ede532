// Package dataset turns solver benchmark runs and extracted matrices into
// the training arrays: downsampled features, label indices and the label
// vocabularies that decode them.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// ErrMalformedRow marks a metrics row that cannot be parsed.
var ErrMalformedRow = errors.New("malformed metrics row")

// Candidates holds every option tuple benchmarked for one matrix, with the
// solve time of the first run seen for each tuple.
type Candidates struct {
	Path    string
	Options [][]string
	Times   []float64
}

// Choice is the best option tuple for one matrix.
type Choice struct {
	Path   string
	Option []string
}

// LoadCandidates reads the tab-separated metrics log. The first line is a
// header. Each row holds a matrix path, an options object and a metrics
// object; rows whose options or metrics are missing, or whose residual
// norm exceeds normThreshold, are dropped. keys selects the option fields
// that make up a label tuple. Matrices keep their order of first appearance.
func LoadCandidates(r io.Reader, keys []string, normThreshold float64) ([]Candidates, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one label key is required")
	}
	var (
		out   []Candidates
		index = make(map[string]int)
		seen  = make(map[string]map[string]bool)
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if line == 1 {
			continue
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: line %d has %d fields", ErrMalformedRow, line, len(fields))
		}
		options, err := decodeObject(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d options: %v", ErrMalformedRow, line, err)
		}
		metrics, err := decodeObject(fields[2])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d metrics: %v", ErrMalformedRow, line, err)
		}
		if options == nil || metrics == nil {
			continue
		}
		norm, err := number(metrics, "norm")
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, line, err)
		}
		if norm > normThreshold {
			continue
		}
		elapsed, err := number(metrics, "time")
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, line, err)
		}
		option := make([]string, len(keys))
		for i, k := range keys {
			v, ok := options[k]
			if !ok {
				return nil, fmt.Errorf("%w: line %d lacks option %q", ErrMalformedRow, line, k)
			}
			option[i] = labelValue(v)
		}

		path := fields[0]
		idx, ok := index[path]
		if !ok {
			idx = len(out)
			index[path] = idx
			out = append(out, Candidates{Path: path})
			seen[path] = make(map[string]bool)
		}
		tuple := strings.Join(option, "\x00")
		if seen[path][tuple] {
			continue
		}
		seen[path][tuple] = true
		out[idx].Options = append(out[idx].Options, option)
		out[idx].Times = append(out[idx].Times, elapsed)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}
	return out, nil
}

// SelectBest picks the fastest option tuple per matrix; the first tuple
// wins ties.
func SelectBest(cands []Candidates) []Choice {
	out := make([]Choice, 0, len(cands))
	for _, c := range cands {
		if len(c.Options) == 0 {
			continue
		}
		best := 0
		for i := 1; i < len(c.Times); i++ {
			if c.Times[i] < c.Times[best] {
				best = i
			}
		}
		out = append(out, Choice{Path: c.Path, Option: c.Option(best)})
	}
	return out
}

// Option returns a copy of the i-th option tuple.
func (c Candidates) Option(i int) []string {
	return append([]string(nil), c.Options[i]...)
}

// Vocabularies returns, per label dimension, the sorted unique values taken
// by the chosen tuples.
func Vocabularies(choices []Choice) [][]string {
	if len(choices) == 0 {
		return [][]string{}
	}
	dims := len(choices[0].Option)
	sets := make([]map[string]struct{}, dims)
	for i := range sets {
		sets[i] = make(map[string]struct{})
	}
	for _, c := range choices {
		for i := 0; i < dims && i < len(c.Option); i++ {
			sets[i][c.Option[i]] = struct{}{}
		}
	}
	out := make([][]string, dims)
	for i, set := range sets {
		vocab := make([]string, 0, len(set))
		for v := range set {
			vocab = append(vocab, v)
		}
		sort.Strings(vocab)
		out[i] = vocab
	}
	return out
}

// Labels encodes an option tuple as indices into vocabs.
func Labels(option []string, vocabs [][]string) ([]int, error) {
	if len(option) != len(vocabs) {
		return nil, fmt.Errorf("option has %d values, vocabulary has %d dimensions", len(option), len(vocabs))
	}
	out := make([]int, len(option))
	for i, v := range option {
		idx := sort.SearchStrings(vocabs[i], v)
		if idx == len(vocabs[i]) || vocabs[i][idx] != v {
			return nil, fmt.Errorf("value %q is not in vocabulary %d", v, i)
		}
		out[i] = idx
	}
	return out, nil
}

func number(obj map[string]any, key string) (float64, error) {
	v, ok := obj[key]
	if !ok {
		return 0, fmt.Errorf("metrics lack %q", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("metrics %q is not a number", key)
	}
	return f, nil
}

func labelValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return "None"
	default:
		return fmt.Sprint(t)
	}
}

// decodeObject parses a JSON object or a Python dict literal. A bare
// None/null field yields a nil map.
func decodeObject(field string) (map[string]any, error) {
	field = strings.TrimSpace(field)
	if field == "None" || field == "null" {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(field), &obj); err == nil {
		return obj, nil
	}
	if err := json.Unmarshal([]byte(pythonToJSON(field)), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// pythonToJSON rewrites single-quoted strings and the True, False and None
// literals of a Python repr into their JSON spellings.
func pythonToJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case c == '\\' && i+1 < len(s):
				if s[i+1] == '\'' {
					b.WriteByte('\'')
				} else {
					b.WriteByte(c)
					b.WriteByte(s[i+1])
				}
				i++
			case c == quote:
				b.WriteByte('"')
				quote = 0
			case c == '"':
				b.WriteString(`\"`)
			default:
				b.WriteByte(c)
			}
			continue
		}
		switch {
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte('"')
		case strings.HasPrefix(s[i:], "True"):
			b.WriteString("true")
			i += len("True") - 1
		case strings.HasPrefix(s[i:], "False"):
			b.WriteString("false")
			i += len("False") - 1
		case strings.HasPrefix(s[i:], "None"):
			b.WriteString("null")
			i += len("None") - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
