// Package expression defines the evaluator contract used by the transform
// stage and a default implementation backed by expr-lang/expr.
package expression

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrCompile wraps every error returned by Compile.
var ErrCompile = errors.New("expression: compile")

// Context is what an expression can see.
type Context struct {
	Payload any
	Headers map[string]any
}

// Evaluator computes a result from a message context. Implementations must
// be safe for concurrent use.
type Evaluator interface {
	Evaluate(Context) (any, error)
}

// EvaluatorFunc adapts a plain function to Evaluator.
type EvaluatorFunc func(Context) (any, error)

func (f EvaluatorFunc) Evaluate(c Context) (any, error) { return f(c) }

// Identity returns the payload unchanged.
func Identity() Evaluator {
	return EvaluatorFunc(func(c Context) (any, error) { return c.Payload, nil })
}

type env struct {
	Payload any            `expr:"payload"`
	Headers map[string]any `expr:"headers"`
}

// Program is a compiled expr-lang program.
type Program struct {
	source  string
	program *vm.Program
}

// Compile parses and type-checks source. A blank source compiles to
// Identity.
func Compile(source string) (Evaluator, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return Identity(), nil
	}
	opts := append([]expr.Option{expr.Env(env{})}, functions()...)
	p, err := expr.Compile(source, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrCompile, source, err)
	}
	return &Program{source: source, program: p}, nil
}

// MustCompile is Compile for static sources; it panics on error.
func MustCompile(source string) Evaluator {
	e, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return e
}

func (p *Program) Evaluate(c Context) (any, error) {
	return expr.Run(p.program, env{Payload: c.Payload, Headers: c.Headers})
}

func (p *Program) String() string { return p.source }
