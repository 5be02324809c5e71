package expr

// Substitute replaces every free occurrence of the named symbol with a copy
// of the replacement expression. Only whole identifiers match; the structure
// of the replacement keeps its own grouping, so no parenthesization bugs are
// possible.
func Substitute(n Node, name string, repl Node) Node {
	switch t := n.(type) {
	case *Sym:
		if t.Name == name {
			return Clone(repl)
		}
		return t
	case *Unary:
		return &Unary{Op: t.Op, Operand: Substitute(t.Operand, name, repl)}
	case *Binary:
		return &Binary{
			Op:    t.Op,
			Left:  Substitute(t.Left, name, repl),
			Right: Substitute(t.Right, name, repl),
		}
	case *Call:
		args := make([]Node, len(t.Args))
		for i, a := range t.Args {
			args[i] = Substitute(a, name, repl)
		}
		return &Call{Func: t.Func, Args: args}
	case *Piecewise:
		pieces := make([]Piece, len(t.Pieces))
		for i, p := range t.Pieces {
			pieces[i] = Piece{
				Expr: Substitute(p.Expr, name, repl),
				Cond: Substitute(p.Cond, name, repl),
			}
		}
		return &Piecewise{Pieces: pieces}
	}
	return n
}

// Rename replaces a symbol with another symbol.
func Rename(n Node, old, new string) Node {
	return Substitute(n, old, &Sym{Name: new})
}

// SubstituteAll applies a set of symbol substitutions simultaneously: the
// replacements are not re-visited, so {a: b, b: a} swaps the two symbols.
func SubstituteAll(n Node, subs map[string]Node) Node {
	if len(subs) == 0 {
		return n
	}
	switch t := n.(type) {
	case *Sym:
		if repl, ok := subs[t.Name]; ok {
			return Clone(repl)
		}
		return t
	case *Unary:
		return &Unary{Op: t.Op, Operand: SubstituteAll(t.Operand, subs)}
	case *Binary:
		return &Binary{
			Op:    t.Op,
			Left:  SubstituteAll(t.Left, subs),
			Right: SubstituteAll(t.Right, subs),
		}
	case *Call:
		args := make([]Node, len(t.Args))
		for i, a := range t.Args {
			args[i] = SubstituteAll(a, subs)
		}
		return &Call{Func: t.Func, Args: args}
	case *Piecewise:
		pieces := make([]Piece, len(t.Pieces))
		for i, p := range t.Pieces {
			pieces[i] = Piece{
				Expr: SubstituteAll(p.Expr, subs),
				Cond: SubstituteAll(p.Cond, subs),
			}
		}
		return &Piecewise{Pieces: pieces}
	}
	return n
}

// Walk calls fn for every node in the tree, parents before children.
func Walk(n Node, fn func(Node)) {
	fn(n)
	switch t := n.(type) {
	case *Unary:
		Walk(t.Operand, fn)
	case *Binary:
		Walk(t.Left, fn)
		Walk(t.Right, fn)
	case *Call:
		for _, a := range t.Args {
			Walk(a, fn)
		}
	case *Piecewise:
		for _, p := range t.Pieces {
			Walk(p.Expr, fn)
			Walk(p.Cond, fn)
		}
	}
}

// RewriteCalls rebuilds the tree bottom-up, offering every Call node to fn.
// fn returns the replacement node, or nil to keep the call (with already
// rewritten arguments). Children are rewritten before their parents so the
// innermost calls are offered first.
func RewriteCalls(n Node, fn func(*Call) Node) Node {
	switch t := n.(type) {
	case *Unary:
		return &Unary{Op: t.Op, Operand: RewriteCalls(t.Operand, fn)}
	case *Binary:
		return &Binary{
			Op:    t.Op,
			Left:  RewriteCalls(t.Left, fn),
			Right: RewriteCalls(t.Right, fn),
		}
	case *Call:
		args := make([]Node, len(t.Args))
		for i, a := range t.Args {
			args[i] = RewriteCalls(a, fn)
		}
		rewritten := &Call{Func: t.Func, Args: args}
		if repl := fn(rewritten); repl != nil {
			return repl
		}
		return rewritten
	case *Piecewise:
		pieces := make([]Piece, len(t.Pieces))
		for i, p := range t.Pieces {
			pieces[i] = Piece{
				Expr: RewriteCalls(p.Expr, fn),
				Cond: RewriteCalls(p.Cond, fn),
			}
		}
		return &Piecewise{Pieces: pieces}
	}
	return n
}

// And conjoins two conditions, dropping literal-true operands.
func And(a, b Node) Node {
	if ab, ok := a.(*Bool); ok && ab.Value {
		return b
	}
	if bb, ok := b.(*Bool); ok && bb.Value {
		return a
	}
	return &Binary{Op: "&&", Left: a, Right: b}
}

// Not negates a condition.
func Not(c Node) Node {
	if b, ok := c.(*Bool); ok {
		return &Bool{Value: !b.Value}
	}
	return &Unary{Op: "!", Operand: c}
}

// IsTrue reports whether the node is the literal true.
func IsTrue(n Node) bool {
	b, ok := n.(*Bool)
	return ok && b.Value
}
