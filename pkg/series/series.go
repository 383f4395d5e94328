// Package series parses the textual sample sequences and window sizes handed to
// the verifier on the command line or over the wire.
//
// Supported list formats:
//   - JSON arrays: [1, 2.5, 3e2]
//   - Python-style list and tuple literals, trailing comma allowed: [1, 2,] or (1, 2),
//     with .5, 5., +1, 1_000 and 0x10 style numbers
//   - Bare numbers separated by commas and/or whitespace: 1, 2, 3 or "1 2 3"
//
// Every element must be a finite number. Nested lists are rejected.
package series

import (
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrEmpty is returned when the input contains no text at all.
var ErrEmpty = errors.New("empty sample list")

// maxInputBytes bounds what Read accepts from a stream.
const maxInputBytes = 16 << 20

// Parse converts a textual list of numbers into a sample sequence.
func Parse(text string) ([]float64, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, ErrEmpty
	}

	switch {
	case strings.HasPrefix(s, "["):
		if !strings.HasSuffix(s, "]") {
			return nil, fmt.Errorf("unterminated list %q", s)
		}
		return parseArray(s[1 : len(s)-1])
	case strings.HasPrefix(s, "("):
		if !strings.HasSuffix(s, ")") {
			return nil, fmt.Errorf("unterminated tuple %q", s)
		}
		return parseArray(s[1 : len(s)-1])
	default:
		return parseFields(s)
	}
}

var (
	// decimalLiteral is a decimal integer or float literal with optional sign and
	// digit-group underscores: 1_000, .5, 5., 1e-3.
	decimalLiteral = regexp.MustCompile(`^[+-]?(?:\d(?:_?\d)*(?:\.(?:\d(?:_?\d)*)?)?|\.\d(?:_?\d)*)(?:[eE][+-]?\d(?:_?\d)*)?$`)
	// prefixedInt is a hexadecimal, octal or binary integer literal.
	prefixedInt = regexp.MustCompile(`^[+-]?0(?:[xX](?:_?[0-9a-fA-F])+|[oO](?:_?[0-7])+|[bB](?:_?[01])+)$`)
	// leadingZeroInt matches integers such as 007 that only a float may spell.
	leadingZeroInt = regexp.MustCompile(`^[+-]?0[0_]*[1-9][0-9_]*$`)
)

// parseArray parses the body of a bracketed literal. Valid JSON goes through
// gjson; anything else is read element by element as a list literal.
func parseArray(body string) ([]float64, error) {
	doc := "[" + body + "]"
	if gjson.Valid(doc) {
		return parseJSON(doc)
	}

	elems := strings.Split(body, ",")
	// One trailing comma is allowed after at least one element.
	if n := len(elems); n > 1 && strings.TrimSpace(elems[n-1]) == "" {
		elems = elems[:n-1]
	}

	out := make([]float64, 0, len(elems))
	for i, e := range elems {
		e = strings.TrimSpace(e)
		if e == "" {
			return nil, fmt.Errorf("malformed list %q: element %d is empty", doc, i)
		}
		v, err := parseNumber(i, e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseJSON(doc string) ([]float64, error) {
	elems := gjson.Parse(doc).Array()
	out := make([]float64, 0, len(elems))
	for i, e := range elems {
		if e.Type != gjson.Number {
			return nil, fmt.Errorf("element %d (%s) is not a number", i, e.Raw)
		}
		v := e.Float()
		if err := checkFinite(i, v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseFields(s string) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ';'
	})
	if len(fields) == 0 {
		return nil, ErrEmpty
	}

	out := make([]float64, 0, len(fields))
	for i, f := range fields {
		v, err := parseNumber(i, f)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// parseNumber reads one numeric literal. Underscores are only accepted
// between digits, and decimal integers may not carry leading zeros.
func parseNumber(i int, lit string) (float64, error) {
	var v float64
	switch {
	case prefixedInt.MatchString(lit):
		n, err := strconv.ParseInt(lit, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("element %d (%s) is out of range", i, lit)
		}
		v = float64(n)
	case decimalLiteral.MatchString(lit) && !leadingZeroInt.MatchString(lit):
		f, err := strconv.ParseFloat(strings.ReplaceAll(lit, "_", ""), 64)
		if err != nil {
			return 0, fmt.Errorf("element %d (%s) is out of range", i, lit)
		}
		v = f
	default:
		return 0, fmt.Errorf("element %d (%s) is not a number", i, lit)
	}
	if err := checkFinite(i, v); err != nil {
		return 0, err
	}
	return v, nil
}

func checkFinite(i int, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("element %d is not finite", i)
	}
	return nil
}

// Read parses a sample list from r.
func Read(r io.Reader) ([]float64, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputBytes))
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	return Parse(string(data))
}

// ParseWindowSize parses a positive integer window size.
func ParseWindowSize(text string) (int, error) {
	s := strings.TrimSpace(text)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid window size %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("window size must be positive, got %d", n)
	}
	return n, nil
}

// Format renders samples the way Parse reads them back.
func Format(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
