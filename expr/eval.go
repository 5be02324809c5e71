package expr

import (
	"fmt"
	"math"
)

// EvalFunc is a numeric function callable from expressions.
type EvalFunc func(args ...float64) (float64, error)

// Env holds symbol bindings and functions for evaluation.
type Env struct {
	Vars  map[string]float64
	Funcs map[string]EvalFunc
}

// NewEnv creates an empty evaluation environment.
func NewEnv() *Env {
	return &Env{
		Vars:  make(map[string]float64),
		Funcs: make(map[string]EvalFunc),
	}
}

// Eval evaluates an expression. Booleans are represented as 1 and 0, so
// conditions compose with arithmetic the way NMODL expects. Piecewise
// expressions return the value of the first piece whose guard holds.
func Eval(n Node, env *Env) (float64, error) {
	if env == nil {
		env = NewEnv()
	}
	switch t := n.(type) {
	case *Num:
		return t.Value, nil

	case *Bool:
		if t.Value {
			return 1, nil
		}
		return 0, nil

	case *Sym:
		v, ok := env.Vars[t.Name]
		if !ok {
			return 0, fmt.Errorf("expr: unbound symbol %q", t.Name)
		}
		return v, nil

	case *Unary:
		v, err := Eval(t.Operand, env)
		if err != nil {
			return 0, err
		}
		switch t.Op {
		case "-":
			return -v, nil
		case "!":
			if v == 0 {
				return 1, nil
			}
			return 0, nil
		}
		return 0, fmt.Errorf("expr: unknown unary operator %q", t.Op)

	case *Binary:
		// Short-circuit logic.
		if t.Op == "&&" || t.Op == "||" {
			left, err := Eval(t.Left, env)
			if err != nil {
				return 0, err
			}
			if t.Op == "&&" && left == 0 {
				return 0, nil
			}
			if t.Op == "||" && left != 0 {
				return 1, nil
			}
			right, err := Eval(t.Right, env)
			if err != nil {
				return 0, err
			}
			if right != 0 {
				return 1, nil
			}
			return 0, nil
		}
		left, err := Eval(t.Left, env)
		if err != nil {
			return 0, err
		}
		right, err := Eval(t.Right, env)
		if err != nil {
			return 0, err
		}
		switch t.Op {
		case "+":
			return left + right, nil
		case "-":
			return left - right, nil
		case "*":
			return left * right, nil
		case "/":
			if right == 0 {
				return 0, fmt.Errorf("expr: division by zero")
			}
			return left / right, nil
		case "^":
			return math.Pow(left, right), nil
		case "<":
			return boolVal(left < right), nil
		case "<=":
			return boolVal(left <= right), nil
		case ">":
			return boolVal(left > right), nil
		case ">=":
			return boolVal(left >= right), nil
		case "==":
			return boolVal(left == right), nil
		case "!=":
			return boolVal(left != right), nil
		}
		return 0, fmt.Errorf("expr: unknown operator %q", t.Op)

	case *Call:
		args := make([]float64, len(t.Args))
		for i, a := range t.Args {
			v, err := Eval(a, env)
			if err != nil {
				return 0, err
			}
			args[i] = v
		}
		if fn, ok := env.Funcs[t.Func]; ok {
			return fn(args...)
		}
		if fn, ok := builtinFuncs[t.Func]; ok {
			return fn(args...)
		}
		return 0, fmt.Errorf("expr: unknown function %q", t.Func)

	case *Piecewise:
		for _, p := range t.Pieces {
			cond, err := Eval(p.Cond, env)
			if err != nil {
				return 0, err
			}
			if cond != 0 {
				return Eval(p.Expr, env)
			}
		}
		return 0, fmt.Errorf("expr: no piecewise guard matched (missing otherwise)")
	}
	return 0, fmt.Errorf("expr: cannot evaluate %T", n)
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// IsBuiltinFunc reports whether name is one of the built-in math functions,
// which may appear in expressions without being user-defined.
func IsBuiltinFunc(name string) bool {
	_, ok := builtinFuncs[name]
	return ok
}

var builtinFuncs = map[string]EvalFunc{
	"exp":   unaryFn(math.Exp),
	"log":   unaryFn(math.Log),
	"log10": unaryFn(math.Log10),
	"sin":   unaryFn(math.Sin),
	"cos":   unaryFn(math.Cos),
	"tan":   unaryFn(math.Tan),
	"sqrt":  unaryFn(math.Sqrt),
	"abs":   unaryFn(math.Abs),
	"floor": unaryFn(math.Floor),
	"ceil":  unaryFn(math.Ceil),
	"pow": func(args ...float64) (float64, error) {
		if len(args) != 2 {
			return 0, fmt.Errorf("expr: pow takes 2 arguments, got %d", len(args))
		}
		return math.Pow(args[0], args[1]), nil
	},
	"min": func(args ...float64) (float64, error) {
		if len(args) == 0 {
			return 0, fmt.Errorf("expr: min requires at least 1 argument")
		}
		m := args[0]
		for _, a := range args[1:] {
			m = math.Min(m, a)
		}
		return m, nil
	},
	"max": func(args ...float64) (float64, error) {
		if len(args) == 0 {
			return 0, fmt.Errorf("expr: max requires at least 1 argument")
		}
		m := args[0]
		for _, a := range args[1:] {
			m = math.Max(m, a)
		}
		return m, nil
	},
}

func unaryFn(f func(float64) float64) EvalFunc {
	return func(args ...float64) (float64, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("expr: function takes 1 argument, got %d", len(args))
		}
		return f(args[0]), nil
	}
}
