// Package formula compiles the restricted color formulas of escape-time rasters.
//
// A formula is a numeric expression over the escape count, bound as iters (or
// count). Only number literals, the bound variable, arithmetic, comparisons,
// the ternary operator and a handful of numeric builtins are accepted; any other
// syntax is rejected before compilation so callers can never reach arbitrary
// functions, members or collections.
package formula

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	fractal "github.com/marben/dist_fractal"
)

// MaxLength bounds the source length of a single formula.
const MaxLength = 256

var (
	// ErrForbidden is returned for syntax outside the restricted grammar.
	ErrForbidden = errors.New("forbidden formula construct")
	// ErrNotNumeric is returned when a formula evaluates to something other than a number.
	ErrNotNumeric = errors.New("formula result is not a number")
)

var variables = map[string]bool{"iters": true, "count": true}

var functions = map[string]bool{
	"abs":   true,
	"ceil":  true,
	"floor": true,
	"round": true,
	"min":   true,
	"max":   true,
}

var operators = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true, "**": true, "^": true,
	"<": true, "<=": true, ">": true, ">=": true, "==": true, "!=": true,
	"&&": true, "||": true, "and": true, "or": true, "!": true, "not": true,
}

// env is the only data visible to a formula.
type env struct {
	Iters int `expr:"iters"`
	Count int `expr:"count"`
}

// Formula is a compiled color formula. It is safe for concurrent use.
type Formula struct {
	src     string
	program *vm.Program
}

// Compile checks src against the restricted grammar and compiles it.
func Compile(src string) (*Formula, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("%w: empty formula", ErrForbidden)
	}
	if len(src) > MaxLength {
		return nil, fmt.Errorf("%w: formula longer than %d bytes", ErrForbidden, MaxLength)
	}
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse formula %q: %w", src, err)
	}
	check := &checker{}
	ast.Walk(&tree.Node, check)
	if check.err != nil {
		return nil, fmt.Errorf("formula %q: %w", src, check.err)
	}
	program, err := expr.Compile(src, expr.Env(env{}))
	if err != nil {
		return nil, fmt.Errorf("compile formula %q: %w", src, err)
	}
	return &Formula{src: src, program: program}, nil
}

// Eval evaluates the formula with the escape count bound.
func (f *Formula) Eval(count int) (float64, error) {
	out, err := expr.Run(f.program, env{Iters: count, Count: count})
	if err != nil {
		return 0, fmt.Errorf("formula %q at iters=%d: %w", f.src, count, err)
	}
	var v float64
	switch n := out.(type) {
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case float64:
		v = n
	case float32:
		v = float64(n)
	default:
		return 0, fmt.Errorf("formula %q at iters=%d: %w (%T)", f.src, count, ErrNotNumeric, out)
	}
	if math.IsNaN(v) {
		return 0, fmt.Errorf("formula %q at iters=%d: %w (NaN)", f.src, count, ErrNotNumeric)
	}
	return v, nil
}

// Byte evaluates the formula and clamps the result to a color byte.
func (f *Formula) Byte(count int) (uint8, error) {
	v, err := f.Eval(count)
	if err != nil {
		return 0, err
	}
	return ClampByte(v), nil
}

func (f *Formula) String() string { return f.src }

// ClampByte truncates v into [0, 255].
func ClampByte(v float64) uint8 {
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}

// Set holds one compiled formula per color channel; a nil entry selects the
// built-in formula of that channel.
type Set [3]*Formula

// CompileSet compiles every non-default channel of c.
func CompileSet(c fractal.ColorFormula) (Set, error) {
	var s Set
	for i, src := range c.Channels() {
		if fractal.IsDefaultFormula(src) {
			continue
		}
		f, err := Compile(src)
		if err != nil {
			return Set{}, fmt.Errorf("channel %c: %w", "RGB"[i], err)
		}
		s[i] = f
	}
	return s, nil
}

// checker rejects every node outside the restricted grammar.
type checker struct {
	err error
}

func (c *checker) Visit(node *ast.Node) {
	if c.err != nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.IntegerNode, *ast.FloatNode:
	case *ast.IdentifierNode:
		if !variables[n.Value] && !functions[n.Value] {
			c.err = fmt.Errorf("%w: unknown name %q", ErrForbidden, n.Value)
		}
	case *ast.UnaryNode:
		if !operators[n.Operator] {
			c.err = fmt.Errorf("%w: operator %q", ErrForbidden, n.Operator)
		}
	case *ast.BinaryNode:
		if !operators[n.Operator] {
			c.err = fmt.Errorf("%w: operator %q", ErrForbidden, n.Operator)
		}
	case *ast.ConditionalNode:
	case *ast.BuiltinNode:
		if !functions[n.Name] {
			c.err = fmt.Errorf("%w: function %q", ErrForbidden, n.Name)
		}
	case *ast.CallNode:
		id, ok := n.Callee.(*ast.IdentifierNode)
		if !ok || !functions[id.Value] {
			c.err = fmt.Errorf("%w: call", ErrForbidden)
		}
	default:
		c.err = fmt.Errorf("%w: %T", ErrForbidden, n)
	}
}
