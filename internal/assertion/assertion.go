// Package assertion parses and evaluates the `identifier operator
// literal` expressions used by ASSERT steps.
//
// The evaluator is pure: the same expression and snapshot always yield
// the same verdict. Failures carry a typed cause so the runner can
// distinguish a false comparison from a missing variable or a type
// mismatch, but all three are diagnostic checkpoints, never fatal.
package assertion

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"frametest/internal/emu"
)

// Op is a comparison operator.
type Op string

// Supported operators.
const (
	OpEq Op = "=="
	OpNe Op = "!="
	OpLt Op = "<"
	OpGt Op = ">"
	OpLe Op = "<="
	OpGe Op = ">="
)

// Expr is a compiled assertion expression.
type Expr struct {
	Ident   string
	Op      Op
	Literal emu.Value

	src string
}

// String returns the original expression text.
func (e *Expr) String() string { return e.src }

// UnknownVariableError reports an identifier absent from the snapshot.
// Treated as assertion failure, not a crash.
type UnknownVariableError struct {
	Name string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("unknown state variable %q", e.Name)
}

// TypeMismatchError reports a comparison the operand types do not
// support. Treated as assertion failure, not a crash.
type TypeMismatchError struct {
	Expr   string
	Reason string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch in %q: %s", e.Expr, e.Reason)
}

// Parse compiles an expression of the form `identifier op literal`.
func Parse(src string) (*Expr, error) {
	s := strings.TrimSpace(src)

	ident, rest, err := scanIdent(s)
	if err != nil {
		return nil, fmt.Errorf("assertion %q: %w", src, err)
	}

	op, rest, err := scanOp(strings.TrimLeft(rest, " \t"))
	if err != nil {
		return nil, fmt.Errorf("assertion %q: %w", src, err)
	}

	lit, err := scanLiteral(strings.TrimSpace(rest))
	if err != nil {
		return nil, fmt.Errorf("assertion %q: %w", src, err)
	}

	return &Expr{Ident: ident, Op: op, Literal: lit, src: src}, nil
}

// Eval looks the identifier up in snap and applies the comparison.
// The returned error, when non-nil, is an UnknownVariableError or
// TypeMismatchError; the boolean is false in either case.
func (e *Expr) Eval(snap emu.Snapshot) (bool, error) {
	actual, ok := snap.Lookup(e.Ident)
	if !ok {
		return false, &UnknownVariableError{Name: e.Ident}
	}
	return compare(e, actual, e.Literal)
}

// Evaluate is the one-shot form: parse then eval.
func Evaluate(src string, snap emu.Snapshot) (bool, error) {
	expr, err := Parse(src)
	if err != nil {
		return false, err
	}
	return expr.Eval(snap)
}

func compare(e *Expr, actual, lit emu.Value) (bool, error) {
	// Numeric operands compare under natural ordering, mixing int and
	// float freely. Strings and bools support equality only.
	an, aIsNum := asFloat(actual)
	ln, lIsNum := asFloat(lit)
	if aIsNum && lIsNum {
		return ordered(e.Op, cmpFloat(an, ln)), nil
	}

	switch a := actual.(type) {
	case emu.StringValue:
		l, ok := lit.(emu.StringValue)
		if !ok {
			return false, &TypeMismatchError{Expr: e.src, Reason: fmt.Sprintf("string %s vs %s", a, lit)}
		}
		switch e.Op {
		case OpEq:
			return a == l, nil
		case OpNe:
			return a != l, nil
		default:
			return false, &TypeMismatchError{Expr: e.src, Reason: fmt.Sprintf("ordering operator %s is not defined for strings", e.Op)}
		}
	case emu.BoolValue:
		l, ok := lit.(emu.BoolValue)
		if !ok {
			return false, &TypeMismatchError{Expr: e.src, Reason: fmt.Sprintf("bool %s vs %s", a, lit)}
		}
		switch e.Op {
		case OpEq:
			return a == l, nil
		case OpNe:
			return a != l, nil
		default:
			return false, &TypeMismatchError{Expr: e.src, Reason: fmt.Sprintf("ordering operator %s is not defined for bools", e.Op)}
		}
	default:
		return false, &TypeMismatchError{Expr: e.src, Reason: fmt.Sprintf("cannot compare %s with %s", actual, lit)}
	}
}

func asFloat(v emu.Value) (float64, bool) {
	switch n := v.(type) {
	case emu.IntValue:
		return float64(n), true
	case emu.FloatValue:
		return float64(n), true
	default:
		return 0, false
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func ordered(op Op, c int) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpGt:
		return c > 0
	case OpLe:
		return c <= 0
	default: // OpGe
		return c >= 0
	}
}

func scanIdent(s string) (string, string, error) {
	if s == "" {
		return "", "", fmt.Errorf("empty expression")
	}
	i := 0
	for i < len(s) {
		r := rune(s[i])
		if unicode.IsLetter(r) || r == '_' || (i > 0 && (unicode.IsDigit(r) || r == '.')) {
			i++
			continue
		}
		break
	}
	if i == 0 {
		return "", "", fmt.Errorf("expected identifier, got %q", s)
	}
	return s[:i], s[i:], nil
}

func scanOp(s string) (Op, string, error) {
	// Two-character operators first, so "<=" is not read as "<".
	for _, op := range []Op{OpEq, OpNe, OpLe, OpGe, OpLt, OpGt} {
		if strings.HasPrefix(s, string(op)) {
			return op, s[len(op):], nil
		}
	}
	return "", "", fmt.Errorf("expected comparison operator, got %q", s)
}

func scanLiteral(s string) (emu.Value, error) {
	if s == "" {
		return nil, fmt.Errorf("missing literal")
	}

	if s[0] == '"' || s[0] == '\'' {
		quote := s[0]
		if len(s) < 2 || s[len(s)-1] != quote {
			return nil, fmt.Errorf("unterminated string literal %s", s)
		}
		return emu.StringValue(s[1 : len(s)-1]), nil
	}

	switch s {
	case "true":
		return emu.BoolValue(true), nil
	case "false":
		return emu.BoolValue(false), nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return emu.IntValue(n), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return emu.FloatValue(f), nil
	}
	return nil, fmt.Errorf("invalid literal %q", s)
}
