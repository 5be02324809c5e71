package nmodl

import (
	"strings"

	"github.com/nineml-xyz/go-nineml/expr"
)

// Reserved key prefixes in a statement map. Keys under these prefixes are
// not assignments to user variables; they carry side effects discovered
// during flattening through to regime synthesis.
const (
	inbuiltProcPrefix = "__INBUILT_PROC_"
	stateAssignPrefix = "__STATE_ASSIGNMENT_"
	transitionPrefix  = "__TRANSITION_"
	tmpPrefix         = "__tmp"
)

// procCall is a recorded call to an inbuilt side-effecting procedure
// (net_send, net_event, WATCH). cond is the guard under which the call
// fires, nil when unconditional.
type procCall struct {
	name string
	args []expr.Node
	cond expr.Node
}

func (p *procCall) String() string {
	var args []string
	for _, a := range p.args {
		args = append(args, a.String())
	}
	s := p.name + "(" + strings.Join(args, ", ") + ")"
	if p.cond != nil {
		s += " if " + p.cond.String()
	}
	return s
}

// clone deep-copies the call.
func (p *procCall) clone() *procCall {
	c := &procCall{name: p.name}
	for _, a := range p.args {
		c.args = append(c.args, expr.Clone(a))
	}
	if p.cond != nil {
		c.cond = expr.Clone(p.cond)
	}
	return c
}

// statement is one entry of a flattened block: either an expression bound
// to the key (possibly piecewise) or a recorded procedure call.
type statement struct {
	node expr.Node
	proc *procCall
}

func exprStmt(n expr.Node) statement { return statement{node: n} }
func procStmt(p *procCall) statement { return statement{proc: p} }
func (s statement) isProc() bool     { return s.proc != nil }
func (s statement) clone() statement {
	if s.proc != nil {
		return statement{proc: s.proc.clone()}
	}
	return statement{node: expr.Clone(s.node)}
}

// stmtMap is an insertion-ordered map from assignment targets (and reserved
// keys) to statements. Re-setting an existing key keeps its position, which
// preserves source order across the shadow-rename dance.
type stmtMap struct {
	keys []string
	vals map[string]statement
}

func newStmtMap() *stmtMap {
	return &stmtMap{vals: make(map[string]statement)}
}

func (m *stmtMap) set(key string, s statement) {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = s
}

func (m *stmtMap) get(key string) (statement, bool) {
	s, ok := m.vals[key]
	return s, ok
}

func (m *stmtMap) has(key string) bool {
	_, ok := m.vals[key]
	return ok
}

func (m *stmtMap) delete(key string) {
	if _, ok := m.vals[key]; !ok {
		return
	}
	delete(m.vals, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// rename moves the statement under oldKey to newKey, keeping its position.
func (m *stmtMap) rename(oldKey, newKey string) {
	s, ok := m.vals[oldKey]
	if !ok {
		return
	}
	delete(m.vals, oldKey)
	m.vals[newKey] = s
	for i, k := range m.keys {
		if k == oldKey {
			m.keys[i] = newKey
			break
		}
	}
}

func (m *stmtMap) len() int { return len(m.keys) }

// each visits statements in insertion order.
func (m *stmtMap) each(fn func(key string, s statement)) {
	for _, k := range m.keys {
		fn(k, m.vals[k])
	}
}

// copy returns a deep copy preserving order.
func (m *stmtMap) copy() *stmtMap {
	out := newStmtMap()
	for _, k := range m.keys {
		out.set(k, m.vals[k].clone())
	}
	return out
}

// merge appends or overwrites every entry of other into m.
func (m *stmtMap) merge(other *stmtMap) {
	other.each(func(key string, s statement) {
		m.set(key, s)
	})
}

// userKeys returns the keys that name user variables, skipping reserved
// side-effect keys.
func (m *stmtMap) userKeys() []string {
	var out []string
	for _, k := range m.keys {
		if !isReservedKey(k) {
			out = append(out, k)
		}
	}
	return out
}

func isReservedKey(key string) bool {
	return strings.HasPrefix(key, inbuiltProcPrefix) ||
		strings.HasPrefix(key, stateAssignPrefix) ||
		strings.HasPrefix(key, transitionPrefix)
}

// argsSuffix mangles a call's argument list into an identifier-safe suffix
// so that calls with distinct arguments inline to distinct local names.
var suffixMangle = strings.NewReplacer(
	"+", "__p__",
	"-", "__m__",
	"*", "__x__",
	"/", "__d__",
	"(", "__o__",
	")", "__c__",
	".", "_",
	" ", "_",
	",", "_",
)

func argsSuffix(args []expr.Node) string {
	if len(args) == 0 {
		return ""
	}
	var parts []string
	for _, a := range args {
		parts = append(parts, suffixMangle.Replace(a.String()))
	}
	return "_" + strings.Join(parts, "_")
}
