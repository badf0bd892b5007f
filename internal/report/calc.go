package report

import (
	"math"
	"strconv"
	"strings"

	"github.com/dskow/cgi-probe/internal/params"
	"github.com/dskow/cgi-probe/internal/snapshot"
)

// Calculator error messages.
const (
	ErrDivisionByZero = "Division by zero!"
	ErrInvalidNumber  = "Invalid number format"
)

// Calculator is the query-driven arithmetic page. Exactly one of Result
// and Error is set.
type Calculator struct {
	A      string
	B      string
	Op     string
	Symbol string
	Result string
	Error  string
}

// Operations lists the supported operations in display order.
var Operations = []string{"add", "sub", "mul", "div", "mod", "pow"}

var opSymbols = map[string]string{
	"add": "+",
	"sub": "-",
	"mul": "×",
	"div": "÷",
	"mod": "%",
	"pow": "^",
}

// NewCalculator evaluates the a, b and op query parameters. Missing
// parameters default to 0, 0 and add.
func NewCalculator(s *snapshot.Snapshot) Calculator {
	qp := s.QueryParams()
	c := Calculator{
		A:      getOr(qp, "a", "0"),
		B:      getOr(qp, "b", "0"),
		Op:     getOr(qp, "op", "add"),
		Symbol: "?",
	}

	a, errA := strconv.ParseFloat(strings.TrimSpace(c.A), 64)
	b, errB := strconv.ParseFloat(strings.TrimSpace(c.B), 64)
	if errA != nil || errB != nil {
		c.Error = ErrInvalidNumber
		return c
	}

	sym, ok := opSymbols[c.Op]
	if !ok {
		c.Error = "Unknown operation: " + c.Op
		return c
	}
	c.Symbol = sym

	var r float64
	switch c.Op {
	case "add":
		r = a + b
	case "sub":
		r = a - b
	case "mul":
		r = a * b
	case "div":
		if b == 0 {
			c.Error = ErrDivisionByZero
			return c
		}
		r = a / b
	case "mod":
		if b == 0 {
			c.Error = ErrDivisionByZero
			return c
		}
		r = floorMod(a, b)
	case "pow":
		r = math.Pow(a, b)
	}
	c.Result = formatNumber(r)
	return c
}

func getOr(l params.List, key, def string) string {
	if v, ok := l.Get(key); ok {
		return v
	}
	return def
}

// floorMod takes the sign of the divisor.
func floorMod(a, b float64) float64 {
	r := math.Mod(a, b)
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

// formatNumber prints v the way a float literal reads: integral values
// keep a trailing ".0", very large or small magnitudes use an exponent.
func formatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
