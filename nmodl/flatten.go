package nmodl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nineml-xyz/go-nineml/expr"
)

var (
	elemRe     = regexp.MustCompile(`(\w+)\[(\w+)\]`)
	tableRe    = regexp.MustCompile(`TABLE\s+[\w\s,]+\s+FROM\s+\S+\s+TO\s+\S+\s+WITH\s+\S+`)
	ifRe       = regexp.MustCompile(`^if\s*\(`)
	loopRe     = regexp.MustCompile(`^(for|while)\s*\(`)
	flagEqRe   = regexp.MustCompile(`flag\s*==`)
	elseRe     = regexp.MustCompile(`\belse\b`)
	callHeadRe = regexp.MustCompile(`^(\w+) *\(`)
)

// inbuiltProcs are the side-effecting event primitives recorded as reserved
// statements rather than inlined.
var inbuiltProcs = map[string]bool{
	"net_send":  true,
	"net_event": true,
	"WATCH":     true,
}

// flattenBlock reduces a statement block to an ordered map of single
// assignments, with conditionals unwrapped into piecewise expressions,
// function and procedure calls inlined, and event primitives recorded under
// reserved keys.
func (imp *Importer) flattenBlock(lines []string, subs map[string]expr.Node, suffix string) (*stmtMap, error) {
	stmts := newStmtMap()
	if err := imp.flattenInto(stmts, lines, subs, suffix); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (imp *Importer) flattenInto(stmts *stmtMap, lines []string, subs map[string]expr.Node, suffix string) error {
	if subs == nil {
		subs = map[string]expr.Node{}
	}
	it := newLineIter(cleanLines(lines))
	seenStmt := false
	for {
		line, ok := it.next()
		if !ok {
			return nil
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "LOCAL"):
			// Local declarations carry no information the flattener needs,
			// but they are only legal before the first statement.
			if seenStmt {
				return parseErrf(line, "LOCAL statements must appear at the start of the block")
			}
			continue
		case strings.HasPrefix(line, "TABLE"):
			for !tableRe.MatchString(line) {
				more, ok := it.next()
				if !ok {
					return parseErrf(line, "end of block while parsing TABLE statement")
				}
				line += " " + more
			}
			continue
		case line == "UNITSON", line == "UNITSOFF":
			continue
		case strings.HasPrefix(line, "VERBATIM"):
			return semanticErrf("cannot translate VERBATIM block")
		case strings.HasPrefix(line, "printf"):
			continue
		}
		seenStmt = true
		line = elemRe.ReplaceAllString(line, "${1}__elem${2}")
		lhs, rhs, isAssign := splitAssign(line)
		switch {
		case isAssign && !strings.Contains(line, "{"):
			node, err := imp.parseExpr(rhs, stmts, subs, suffix)
			if err != nil {
				return err
			}
			imp.assignStmt(stmts, lhs, node, subs, suffix)
		case ifRe.MatchString(line):
			var err error
			if flagEqRe.MatchString(line) {
				err = imp.flattenTransition(it, line, stmts, subs, suffix)
			} else {
				err = imp.flattenConditional(it, line, stmts, subs, suffix)
			}
			if err != nil {
				return err
			}
		case loopRe.MatchString(line):
			return semanticErrf("cannot represent %q loops declaratively",
				loopRe.FindStringSubmatch(line)[1])
		default:
			if err := imp.flattenCallStmt(stmts, line, subs, suffix); err != nil {
				return err
			}
		}
	}
}

// splitAssign splits a line at the first bare '=' (not part of ==, <=, >=,
// !=). ok is false for non-assignment lines.
func splitAssign(line string) (lhs, rhs string, ok bool) {
	for i := 0; i < len(line); i++ {
		if line[i] != '=' {
			continue
		}
		if i > 0 && strings.ContainsRune("<>!=", rune(line[i-1])) {
			continue
		}
		if i+1 < len(line) && line[i+1] == '=' {
			i++
			continue
		}
		return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
	}
	return "", "", false
}

// parseExpr parses a right-hand side or test expression: unit annotations
// are stripped, the active substitutions applied and user function calls
// inlined into statements.
func (imp *Importer) parseExpr(src string, stmts *stmtMap, subs map[string]expr.Node, suffix string) (expr.Node, error) {
	src = elemRe.ReplaceAllString(src, "${1}__elem${2}")
	src = imp.stripUnits(src)
	node, err := expr.Parse(src)
	if err != nil {
		return nil, &ParseError{Line: src, Msg: err.Error()}
	}
	node = expr.SubstituteAll(node, subs)
	return imp.inlineCalls(node, stmts)
}

// stripUnits removes inline unit annotations such as "42 (mV)" using the
// units declared by the mechanism.
func (imp *Importer) stripUnits(src string) string {
	for _, u := range imp.usedUnits {
		src = strings.ReplaceAll(src, "("+u+")", "")
	}
	return src
}

// inlineCalls replaces calls to user-defined functions with references to
// freshly inlined statements. Inner calls inline first, so the argument
// suffix of an outer call names fully expanded arguments.
func (imp *Importer) inlineCalls(n expr.Node, stmts *stmtMap) (expr.Node, error) {
	var firstErr error
	out := expr.RewriteCalls(n, func(c *expr.Call) expr.Node {
		if firstErr != nil {
			return nil
		}
		fn, ok := imp.functions[c.Func]
		if !ok {
			if !expr.IsBuiltinFunc(c.Func) {
				firstErr = semanticErrf("call to undefined function %q", c.Func)
			}
			return nil
		}
		if len(c.Args) != len(fn.args) {
			firstErr = semanticErrf("function %q called with %d arguments, declared with %d",
				c.Func, len(c.Args), len(fn.args))
			return nil
		}
		callSuffix := argsSuffix(c.Args)
		key := c.Func + callSuffix
		if !stmts.has(key) {
			bodySubs := map[string]expr.Node{}
			for i, p := range fn.args {
				bodySubs[p] = c.Args[i]
				// The _arg_ escape survives local shadowing inside the body
				// and recovers defaults for partially assigned locals.
				bodySubs[p+"_arg_"] = c.Args[i]
			}
			if err := imp.flattenInto(stmts, fn.body, bodySubs, callSuffix); err != nil {
				firstErr = err
				return nil
			}
			if !stmts.has(key) {
				firstErr = consistencyErrf("function %q never assigns its return value", c.Func)
				return nil
			}
		}
		return &expr.Sym{Name: key}
	})
	return out, firstErr
}

// assignStmt records lhs = rhs, applying the inline suffix and escaping
// names that collide with builtin functions.
func (imp *Importer) assignStmt(stmts *stmtMap, lhs string, rhs expr.Node, subs map[string]expr.Node, suffix string) {
	lhsW := lhs + suffix
	if expr.IsBuiltinFunc(lhsW) {
		lhsW += "_"
	}
	if suffix != "" || lhsW != lhs {
		subs[lhs] = &expr.Sym{Name: lhsW}
	}
	imp.addAssignment(stmts, lhsW, rhs)
}

// addAssignment records lhs = rhs. A previously recorded statement for the
// same variable is renamed to a __tmp name and back-substituted everywhere,
// so each key binds exactly one value and source order is preserved.
func (imp *Importer) addAssignment(stmts *stmtMap, lhs string, rhs expr.Node) {
	if prev, ok := stmts.get(lhs); ok && !prev.isProc() {
		tmp := lhs + "__tmp"
		for n := 1; stmts.has(tmp); n++ {
			tmp = lhs + "__tmp" + strconv.Itoa(n)
		}
		stmts.set(tmp, prev.clone())
		renameInStmts(stmts, lhs, tmp)
		rhs = expr.Rename(rhs, lhs, tmp)
	}
	stmts.set(lhs, exprStmt(rhs))
}

// renameInStmts rewrites every reference to old into new across all
// recorded statements.
func renameInStmts(stmts *stmtMap, old, new string) {
	stmts.each(func(key string, s statement) {
		if s.isProc() {
			for i, a := range s.proc.args {
				s.proc.args[i] = expr.Rename(a, old, new)
			}
			if s.proc.cond != nil {
				s.proc.cond = expr.Rename(s.proc.cond, old, new)
			}
			return
		}
		stmts.set(key, exprStmt(expr.Rename(s.node, old, new)))
	})
}

// flattenCallStmt handles a bare call statement: an inbuilt event
// primitive, a state discontinuity, or a user procedure to inline.
func (imp *Importer) flattenCallStmt(stmts *stmtMap, line string, subs map[string]expr.Node, suffix string) error {
	m := callHeadRe.FindStringSubmatch(line)
	if m == nil {
		return parseErrf(line, "unrecognised statement")
	}
	name := m[1]
	open := strings.Index(line, "(")
	parens, err := matchingParens(line[open:])
	if err != nil {
		return err
	}
	arglist := parens[1 : len(parens)-1]

	switch {
	case name == "WATCH":
		trigger, err := imp.parseExpr(arglist, stmts, subs, suffix)
		if err != nil {
			return err
		}
		fields := strings.Fields(line[open+len(parens):])
		if len(fields) != 1 {
			return parseErrf(line, "WATCH statement requires a trailing flag")
		}
		flag, err := strconv.Atoi(fields[0])
		if err != nil {
			return parseErrf(line, "WATCH flag must be an integer")
		}
		imp.recordProc(stmts, &procCall{
			name: "WATCH",
			args: []expr.Node{trigger, &expr.Num{Value: float64(flag)}},
		})
		return nil
	case inbuiltProcs[name]:
		rawArgs, _ := splitArgs(arglist)
		var args []expr.Node
		for _, a := range rawArgs {
			node, err := imp.parseExpr(a, stmts, subs, suffix)
			if err != nil {
				return err
			}
			args = append(args, node)
		}
		imp.recordProc(stmts, &procCall{name: name, args: args})
		return nil
	case name == "state_discontinuity":
		rawArgs, _ := splitArgs(arglist)
		if len(rawArgs) != 2 {
			return parseErrf(line, "state_discontinuity takes a state variable and a value")
		}
		node, err := imp.parseExpr(rawArgs[1], stmts, subs, suffix)
		if err != nil {
			return err
		}
		stmts.set(stateAssignPrefix+rawArgs[0], exprStmt(node))
		return nil
	}

	proc, ok := imp.procedures[name]
	if !ok {
		// A function called for its side effects has none worth keeping.
		if _, isFunc := imp.functions[name]; isFunc {
			return nil
		}
		return semanticErrf("unrecognised procedure %q", name)
	}
	rawArgs, _ := splitArgs(arglist)
	if len(rawArgs) != len(proc.args) {
		return semanticErrf("procedure %q called with %d arguments, declared with %d",
			name, len(rawArgs), len(proc.args))
	}
	bodySubs := map[string]expr.Node{}
	for i, p := range proc.args {
		node, err := imp.parseExpr(rawArgs[i], stmts, subs, suffix)
		if err != nil {
			return err
		}
		bodySubs[p] = node
		bodySubs[p+"_arg_"] = node
	}
	branch := newStmtMap()
	if err := imp.flattenInto(branch, proc.body, bodySubs, suffix); err != nil {
		return err
	}
	if suffix != "" {
		for _, k := range branch.userKeys() {
			subs[strings.TrimSuffix(k, suffix)] = &expr.Sym{Name: k}
		}
	}
	stmts.merge(branch)
	return nil
}

// recordProc stores a procedure call under a unique reserved key.
func (imp *Importer) recordProc(stmts *stmtMap, p *procCall) {
	base := inbuiltProcPrefix + p.name + argsSuffix(p.args)
	key := base
	for n := 2; stmts.has(key); n++ {
		key = base + "_" + strconv.Itoa(n)
	}
	stmts.set(key, procStmt(p))
}

// condClause is one branch of an if/else-if/else chain. test is nil for the
// final else branch.
type condClause struct {
	test  expr.Node
	stmts *stmtMap
}

// scanClauses reads the clauses of a conditional chain starting at first.
// The consumed trailing remainder, if any, is pushed back onto the line
// iterator.
func (imp *Importer) scanClauses(it *lineIter, first string, outer *stmtMap, subs map[string]expr.Node, suffix string) ([]condClause, error) {
	scanner := newBraceScanner(it, first)
	var clauses []condClause
	for {
		pre, body, ok, err := scanner.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		pre = strings.Join(strings.Fields(pre), " ")
		var test expr.Node
		if i := strings.Index(pre, "("); i >= 0 {
			parens, err := matchingParens(pre[i:])
			if err != nil {
				return nil, err
			}
			test, err = imp.parseExpr(parens[1:len(parens)-1], outer, subs, suffix)
			if err != nil {
				return nil, err
			}
		}
		branch := newStmtMap()
		if err := imp.flattenInto(branch, body, subs, suffix); err != nil {
			return nil, err
		}
		clauses = append(clauses, condClause{test: test, stmts: branch})
		rest, more := scanner.pending()
		if !more {
			if line, ok := it.next(); ok {
				rest = line
				more = true
			}
		}
		if !more {
			break
		}
		if !elseRe.MatchString(rest) {
			it.push(rest)
			break
		}
		scanner.line = rest
		scanner.havePending = true
	}
	return clauses, nil
}

// flattenConditional unwraps an if/else-if/else chain into piecewise
// assignments for the variables the branches assign, and guards any event
// primitives the branches fire with the branch condition.
func (imp *Importer) flattenConditional(it *lineIter, first string, stmts *stmtMap, subs map[string]expr.Node, suffix string) error {
	clauses, err := imp.scanClauses(it, first, stmts, subs, suffix)
	if err != nil {
		return err
	}
	if len(clauses) == 0 {
		return parseErrf(first, "empty conditional block")
	}
	hasElse := clauses[len(clauses)-1].test == nil

	// Variables assigned in every branch are merged into a single piecewise
	// statement. State variables assigned in any branch join them, with the
	// missing branches defaulting to the previous value.
	common := map[string]bool{}
	var commonOrder []string
	for _, k := range clauses[0].stmts.userKeys() {
		common[k] = true
		commonOrder = append(commonOrder, k)
	}
	for _, c := range clauses[1:] {
		have := map[string]bool{}
		for _, k := range c.stmts.userKeys() {
			have[k] = true
		}
		for k := range common {
			if !have[k] {
				delete(common, k)
			}
		}
	}
	for _, c := range clauses {
		for _, k := range c.stmts.userKeys() {
			if imp.isStateVariable(k) && !common[k] {
				common[k] = true
				commonOrder = append(commonOrder, k)
			}
		}
	}
	keptOrder := commonOrder[:0]
	for _, k := range commonOrder {
		if common[k] {
			keptOrder = append(keptOrder, k)
		}
	}

	for i, c := range clauses {
		test := c.test
		if test == nil {
			test = &expr.Bool{Value: true}
		}
		for _, k := range keptOrder {
			if imp.isStateVariable(k) && !c.stmts.has(k) {
				c.stmts.set(k, exprStmt(&expr.Sym{Name: k}))
			}
		}
		// Branch-local helpers escape under a branch-numbered name so the
		// same temporary can hold different values in different branches.
		branchSubs := map[string][2]string{}
		c.stmts.each(func(key string, s statement) {
			if s.isProc() || isReservedKey(key) || common[key] {
				return
			}
			base := strings.TrimSuffix(key, suffix)
			branchSubs[key] = [2]string{key, fmt.Sprintf("%s__branch%d%s", base, i, suffix)}
		})
		for _, sub := range branchSubs {
			renameInStmts(c.stmts, sub[0], sub[1])
			c.stmts.rename(sub[0], sub[1])
		}
		c.stmts.each(func(key string, s statement) {
			if s.isProc() {
				if s.proc.cond == nil {
					s.proc.cond = expr.Clone(test)
				} else {
					s.proc.cond = expr.And(s.proc.cond, expr.Clone(test))
				}
				imp.recordProc(stmts, s.proc)
				return
			}
			if strings.HasPrefix(key, transitionPrefix) {
				stmts.set(key, s)
				return
			}
			if strings.HasPrefix(key, stateAssignPrefix) {
				// A conditional state discontinuity becomes piecewise with
				// the state keeping its value otherwise.
				state := strings.TrimPrefix(key, stateAssignPrefix)
				pieces := []expr.Piece{{Expr: s.node, Cond: expr.Clone(test)}}
				if prev, ok := stmts.get(key); ok {
					if pw, isPW := prev.node.(*expr.Piecewise); isPW {
						pieces = append(pieces, pw.Pieces[:len(pw.Pieces)-1]...)
					}
				}
				pw, pwErr := expr.NewPiecewise(pieces, &expr.Sym{Name: state})
				if pwErr != nil {
					err = pwErr
					return
				}
				stmts.set(key, exprStmt(pw))
				return
			}
			if !common[key] {
				stmts.set(key, s)
			}
		})
		if err != nil {
			return err
		}
	}

	for _, lhs := range keptOrder {
		var pieces []expr.Piece
		var otherwise expr.Node
		for _, c := range clauses {
			s, _ := c.stmts.get(lhs)
			test := c.test
			if test == nil {
				test = &expr.Bool{Value: true}
			}
			unwrapPieces(s.node, test, &pieces, &otherwise)
		}
		key := lhs
		if !hasElse {
			switch {
			case stmts.has(lhs):
				otherwise = &expr.Sym{Name: lhs}
			case imp.isParameter(lhs):
				// The raw parameter keeps its name as the default; the
				// conditionally constrained value becomes a new alias.
				key = lhs + "_constrained"
				otherwise = &expr.Sym{Name: lhs}
				subs[lhs] = &expr.Sym{Name: key}
			case imp.isStateVariable(lhs):
				otherwise = &expr.Sym{Name: lhs}
			default:
				base := strings.TrimSuffix(lhs, suffix)
				if sub, ok := subs[base+"_arg_"]; ok {
					otherwise = sub
				} else if imp.hasDimension(lhs) {
					imp.warnf("no previous definition of %q for the otherwise branch, assuming it is a state variable", lhs)
					imp.promoteStateVariable(lhs)
					otherwise = &expr.Sym{Name: lhs}
				} else if len(clauses) == 1 {
					imp.warnf("no previous definition of %q, assuming it is not needed outside its branch", lhs)
					s, _ := clauses[0].stmts.get(lhs)
					imp.addAssignment(stmts, lhs, s.node)
					continue
				} else {
					return semanticErrf("could not find previous definition of %q to form the otherwise branch", lhs)
				}
			}
		}
		pw, err := expr.NewPiecewise(pieces, otherwise)
		if err != nil {
			return semanticErrf("merging conditional assignment to %q: %v", lhs, err)
		}
		imp.addAssignment(stmts, key, pw)
	}

	if suffix != "" {
		for _, lhs := range keptOrder {
			subs[strings.TrimSuffix(lhs, suffix)] = &expr.Sym{Name: lhs}
		}
	}
	return nil
}

// unwrapPieces flattens possibly nested piecewise values into a single
// piece list, conjoining guards along the way. A literal-true guard routes
// the value to the otherwise slot.
func unwrapPieces(val expr.Node, test expr.Node, pieces *[]expr.Piece, otherwise *expr.Node) {
	if pw, ok := val.(*expr.Piecewise); ok {
		for _, p := range pw.Pieces {
			combined := expr.And(expr.Clone(test), expr.Clone(p.Cond))
			unwrapPieces(p.Expr, combined, pieces, otherwise)
		}
		return
	}
	if expr.IsTrue(test) {
		*otherwise = val
		return
	}
	*pieces = append(*pieces, expr.Piece{Expr: val, Cond: test})
}

// flattenTransition handles the flag-dispatch chain of a NET_RECEIVE block.
// Each branch is keyed by its integer flag and kept separate for regime
// synthesis; the else branch handles external events (flag 0).
func (imp *Importer) flattenTransition(it *lineIter, first string, stmts *stmtMap, subs map[string]expr.Node, suffix string) error {
	clauses, err := imp.scanClauses(it, first, stmts, subs, suffix)
	if err != nil {
		return err
	}
	seen := map[int]bool{}
	for _, c := range clauses {
		flag := 0
		if c.test != nil {
			bin, ok := c.test.(*expr.Binary)
			if !ok || bin.Op != "==" {
				return semanticErrf("could not parse complex net-receive flag test %q", c.test)
			}
			sym, symOK := bin.Left.(*expr.Sym)
			num, numOK := bin.Right.(*expr.Num)
			if !symOK || !numOK || sym.Name != "flag" {
				return semanticErrf("could not parse complex net-receive flag test %q", c.test)
			}
			flag = int(num.Value)
		}
		if seen[flag] {
			return semanticErrf("duplicate net-receive branch for flag %d", flag)
		}
		seen[flag] = true
		prefix := transitionPrefix + strconv.Itoa(flag) + "_"
		c.stmts.each(func(key string, s statement) {
			stmts.set(prefix+key, s)
		})
	}
	return nil
}

// transitionFlag extracts the flag from a transition-prefixed key, along
// with the underlying key. ok is false for other keys.
func transitionFlag(key string) (flag int, rest string, ok bool) {
	if !strings.HasPrefix(key, transitionPrefix) {
		return 0, "", false
	}
	tail := strings.TrimPrefix(key, transitionPrefix)
	i := strings.Index(tail, "_")
	if i < 0 {
		return 0, "", false
	}
	flag, err := strconv.Atoi(tail[:i])
	if err != nil {
		return 0, "", false
	}
	return flag, tail[i+1:], true
}
