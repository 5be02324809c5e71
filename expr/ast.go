// Package expr provides the expression trees used throughout the compiler:
// algebraic formulas over parameters, state variables and aliases, boolean
// trigger conditions, and piecewise expressions produced by flattening
// conditional blocks.
//
// Expressions are parsed once into an AST and manipulated by tree-rewriting
// passes. String-based substitution is deliberately absent: whole-identifier
// replacement and parenthesization are properties of the tree, not of any
// textual rendering.
package expr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Node is an expression tree node.
type Node interface {
	// String renders the canonical infix form with minimal parentheses.
	String() string
	isNode()
}

// Num is a numeric literal.
type Num struct {
	Value float64
}

// Sym is a symbol reference (parameter, state variable, alias or reserved
// name such as t).
type Sym struct {
	Name string
}

// Bool is a boolean literal. It appears almost exclusively as the otherwise
// guard of a piecewise expression.
type Bool struct {
	Value bool
}

// Unary is a prefix operator application: -x or !x.
type Unary struct {
	Op      string
	Operand Node
}

// Binary is an infix operator application.
// Arithmetic: + - * / ^. Comparison: < <= > >= == !=. Logic: && ||.
type Binary struct {
	Op    string
	Left  Node
	Right Node
}

// Call is a function application, e.g. exp(-v/kt).
type Call struct {
	Func string
	Args []Node
}

// Piece is one (value, guard) pair of a piecewise expression.
type Piece struct {
	Expr Node
	Cond Node
}

// Piecewise is an ordered list of (value, guard) pairs. Guards are tested in
// order and exactly one must hold at evaluation time; this is enforced by
// requiring the final piece's guard to be the literal true (the otherwise
// branch).
type Piecewise struct {
	Pieces []Piece
}

func (*Num) isNode()       {}
func (*Sym) isNode()       {}
func (*Bool) isNode()      {}
func (*Unary) isNode()     {}
func (*Binary) isNode()    {}
func (*Call) isNode()      {}
func (*Piecewise) isNode() {}

// NewPiecewise builds a piecewise expression from conditional pieces and a
// mandatory otherwise value. The otherwise piece is appended with a true
// guard.
func NewPiecewise(pieces []Piece, otherwise Node) (*Piecewise, error) {
	if otherwise == nil {
		return nil, fmt.Errorf("expr: piecewise requires an otherwise value")
	}
	for _, p := range pieces {
		if p.Cond == nil {
			return nil, fmt.Errorf("expr: piecewise piece missing guard")
		}
		if b, ok := p.Cond.(*Bool); ok && b.Value {
			return nil, fmt.Errorf("expr: multiple otherwise pieces")
		}
	}
	all := make([]Piece, 0, len(pieces)+1)
	all = append(all, pieces...)
	all = append(all, Piece{Expr: otherwise, Cond: &Bool{Value: true}})
	return &Piecewise{Pieces: all}, nil
}

// Otherwise returns the value of the final catch-all piece.
func (p *Piecewise) Otherwise() Node {
	if len(p.Pieces) == 0 {
		return nil
	}
	return p.Pieces[len(p.Pieces)-1].Expr
}

// HasOtherwise reports whether the final piece carries the literal-true guard.
func (p *Piecewise) HasOtherwise() bool {
	if len(p.Pieces) == 0 {
		return false
	}
	b, ok := p.Pieces[len(p.Pieces)-1].Cond.(*Bool)
	return ok && b.Value
}

// Operator precedence, loosest first. Used for minimal-parenthesis printing
// and by the parser's binding powers.
const (
	precLowest = iota
	precOr
	precAnd
	precCompare
	precAdd
	precMul
	precUnary
	precPower
	precCall
)

func precedenceOf(op string) int {
	switch op {
	case "||":
		return precOr
	case "&&":
		return precAnd
	case "<", "<=", ">", ">=", "==", "!=":
		return precCompare
	case "+", "-":
		return precAdd
	case "*", "/":
		return precMul
	case "^":
		return precPower
	}
	return precLowest
}

func (n *Num) String() string {
	return strconv.FormatFloat(n.Value, 'g', -1, 64)
}

func (n *Sym) String() string { return n.Name }

func (n *Bool) String() string {
	if n.Value {
		return "true"
	}
	return "false"
}

func (n *Unary) String() string {
	operand := n.Operand.String()
	if nodePrecedence(n.Operand) < precUnary {
		operand = "(" + operand + ")"
	}
	return n.Op + operand
}

func (n *Binary) String() string {
	prec := precedenceOf(n.Op)
	// The operand on the non-associating side binds one level tighter, so
	// a - (b - c) and (a^b)^c keep their parentheses. Power is
	// right-associative, everything else left-associative.
	leftPrec := prec
	rightPrec := prec
	if n.Op == "^" {
		leftPrec = prec + 1
	} else {
		rightPrec = prec + 1
	}
	left := n.Left.String()
	if nodePrecedence(n.Left) < leftPrec {
		left = "(" + left + ")"
	}
	right := n.Right.String()
	if nodePrecedence(n.Right) < rightPrec {
		right = "(" + right + ")"
	}
	// Multiplicative operators print tightly, everything else spaced.
	switch n.Op {
	case "*", "/", "^":
		return left + n.Op + right
	}
	return left + " " + n.Op + " " + right
}

func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return n.Func + "(" + strings.Join(args, ", ") + ")"
}

func (p *Piecewise) String() string {
	parts := make([]string, len(p.Pieces))
	for i, piece := range p.Pieces {
		if b, ok := piece.Cond.(*Bool); ok && b.Value {
			parts[i] = fmt.Sprintf("(%s otherwise)", piece.Expr)
		} else {
			parts[i] = fmt.Sprintf("(%s if %s)", piece.Expr, piece.Cond)
		}
	}
	return "piecewise" + "[" + strings.Join(parts, ", ") + "]"
}

func nodePrecedence(n Node) int {
	switch t := n.(type) {
	case *Binary:
		return precedenceOf(t.Op)
	case *Unary:
		return precUnary
	default:
		return precCall
	}
}

// Symbols returns the sorted set of free symbol names in the expression.
func Symbols(n Node) []string {
	set := map[string]struct{}{}
	collectSymbols(n, set)
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func collectSymbols(n Node, set map[string]struct{}) {
	switch t := n.(type) {
	case *Sym:
		set[t.Name] = struct{}{}
	case *Unary:
		collectSymbols(t.Operand, set)
	case *Binary:
		collectSymbols(t.Left, set)
		collectSymbols(t.Right, set)
	case *Call:
		for _, a := range t.Args {
			collectSymbols(a, set)
		}
	case *Piecewise:
		for _, p := range t.Pieces {
			collectSymbols(p.Expr, set)
			collectSymbols(p.Cond, set)
		}
	}
}

// Contains reports whether name occurs free in the expression.
func Contains(n Node, name string) bool {
	switch t := n.(type) {
	case *Sym:
		return t.Name == name
	case *Unary:
		return Contains(t.Operand, name)
	case *Binary:
		return Contains(t.Left, name) || Contains(t.Right, name)
	case *Call:
		for _, a := range t.Args {
			if Contains(a, name) {
				return true
			}
		}
	case *Piecewise:
		for _, p := range t.Pieces {
			if Contains(p.Expr, name) || Contains(p.Cond, name) {
				return true
			}
		}
	}
	return false
}

// Equal reports structural equality of two expressions.
func Equal(a, b Node) bool {
	switch x := a.(type) {
	case *Num:
		y, ok := b.(*Num)
		return ok && x.Value == y.Value
	case *Sym:
		y, ok := b.(*Sym)
		return ok && x.Name == y.Name
	case *Bool:
		y, ok := b.(*Bool)
		return ok && x.Value == y.Value
	case *Unary:
		y, ok := b.(*Unary)
		return ok && x.Op == y.Op && Equal(x.Operand, y.Operand)
	case *Binary:
		y, ok := b.(*Binary)
		return ok && x.Op == y.Op && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
	case *Call:
		y, ok := b.(*Call)
		if !ok || x.Func != y.Func || len(x.Args) != len(y.Args) {
			return false
		}
		for i := range x.Args {
			if !Equal(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return true
	case *Piecewise:
		y, ok := b.(*Piecewise)
		if !ok || len(x.Pieces) != len(y.Pieces) {
			return false
		}
		for i := range x.Pieces {
			if !Equal(x.Pieces[i].Expr, y.Pieces[i].Expr) ||
				!Equal(x.Pieces[i].Cond, y.Pieces[i].Cond) {
				return false
			}
		}
		return true
	}
	return false
}

// Clone returns a deep copy of the expression.
func Clone(n Node) Node {
	switch t := n.(type) {
	case *Num:
		c := *t
		return &c
	case *Sym:
		c := *t
		return &c
	case *Bool:
		c := *t
		return &c
	case *Unary:
		return &Unary{Op: t.Op, Operand: Clone(t.Operand)}
	case *Binary:
		return &Binary{Op: t.Op, Left: Clone(t.Left), Right: Clone(t.Right)}
	case *Call:
		args := make([]Node, len(t.Args))
		for i, a := range t.Args {
			args[i] = Clone(a)
		}
		return &Call{Func: t.Func, Args: args}
	case *Piecewise:
		pieces := make([]Piece, len(t.Pieces))
		for i, p := range t.Pieces {
			pieces[i] = Piece{Expr: Clone(p.Expr), Cond: Clone(p.Cond)}
		}
		return &Piecewise{Pieces: pieces}
	}
	return nil
}
