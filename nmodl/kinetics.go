package nmodl

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nineml-xyz/go-nineml/dynamics"
	"github.com/nineml-xyz/go-nineml/expr"
)

var (
	reactionRe    = regexp.MustCompile(`^~ *([\w\d +\-]+?) *<-> *([\w\d +\-]+?) *\( *([^,]+) *, *([^,]+) *\)`)
	influxRe      = regexp.MustCompile(`^~ *(\w+) *<< *(.+)$`)
	effluxRe      = regexp.MustCompile(`^~ *(.+?) *-> *(.+)$`)
	conserveRe    = regexp.MustCompile(`^CONSERVE +(.+?) *= *(.+)$`)
	kineticTermRe = regexp.MustCompile(`^ *(\d+)? *(\w+)$`)
)

// stateTerm is one participant of a reaction side with its stoichiometric
// coefficient (1 when unwritten).
type stateTerm struct {
	state string
	coeff int
}

// reaction is one bidirectional mass-action reaction `~ lhs <-> rhs (f, b)`.
type reaction struct {
	lhs   []stateTerm
	rhs   []stateTerm
	fRate expr.Node
	bRate expr.Node
}

// flow is a unidirectional source (`<<`) or sink (`->`) term on one state.
type flow struct {
	state string
	rate  expr.Node
}

// conservation is a CONSERVE constraint, recorded but not yet applied when
// the scheme is expanded.
type conservation struct {
	lhs string
	rhs string
}

// kineticScheme is one parsed KINETIC block.
type kineticScheme struct {
	name          string
	reactions     []reaction
	incoming      []flow
	outgoing      []flow
	conservations []conservation
	compartments  map[string][]string
}

func parseStateTerms(side string) ([]stateTerm, error) {
	var out []stateTerm
	for _, part := range strings.Split(side, "+") {
		m := kineticTermRe.FindStringSubmatch(part)
		if m == nil {
			return nil, parseErrf(side, "cannot parse reaction term %q", part)
		}
		coeff := 1
		if m[1] != "" {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, parseErrf(side, "bad stoichiometric coefficient %q", m[1])
			}
			coeff = n
		}
		out = append(out, stateTerm{state: m[2], coeff: coeff})
	}
	return out, nil
}

// extractKineticBlocks parses KINETIC blocks into reaction schemes. Rate
// expressions are function-inlined like any other expression; ordinary
// statements inside the block become aliases, with f_flux and b_flux bound
// to the fluxes of the most recent reaction.
func (imp *Importer) extractKineticBlocks() error {
	for name, body := range imp.blocks.popNamed("KINETIC") {
		ks := &kineticScheme{name: name, compartments: map[string][]string{}}
		stmts := newStmtMap()
		subs := map[string]expr.Node{}
		it := newLineIter(cleanLines(body))
		for {
			line, ok := it.next()
			if !ok {
				break
			}
			switch {
			case reactionRe.MatchString(line):
				m := reactionRe.FindStringSubmatch(line)
				lhs, err := parseStateTerms(m[1])
				if err != nil {
					return err
				}
				rhs, err := parseStateTerms(m[2])
				if err != nil {
					return err
				}
				fRate, err := imp.parseExpr(m[3], stmts, subs, "")
				if err != nil {
					return err
				}
				bRate, err := imp.parseExpr(m[4], stmts, subs, "")
				if err != nil {
					return err
				}
				ks.reactions = append(ks.reactions, reaction{
					lhs: lhs, rhs: rhs, fRate: fRate, bRate: bRate,
				})
			case influxRe.MatchString(line):
				m := influxRe.FindStringSubmatch(line)
				rate, err := imp.parseExpr(m[2], stmts, subs, "")
				if err != nil {
					return err
				}
				ks.incoming = append(ks.incoming, flow{state: m[1], rate: rate})
			case effluxRe.MatchString(line):
				m := effluxRe.FindStringSubmatch(line)
				rate, err := imp.parseExpr(m[2], stmts, subs, "")
				if err != nil {
					return err
				}
				ks.outgoing = append(ks.outgoing, flow{state: strings.TrimSpace(m[1]), rate: rate})
			case conserveRe.MatchString(line):
				m := conserveRe.FindStringSubmatch(line)
				ks.conservations = append(ks.conservations, conservation{lhs: m[1], rhs: m[2]})
			case strings.HasPrefix(line, "COMPARTMENT"):
				scanner := newBraceScanner(it, strings.TrimPrefix(line, "COMPARTMENT"))
				pre, states, ok, err := scanner.next()
				if err != nil {
					return err
				}
				if !ok {
					return parseErrf(line, "COMPARTMENT without a state list")
				}
				ks.compartments[strings.TrimSpace(pre)] = strings.Fields(strings.Join(states, " "))
				if rest, have := scanner.pending(); have {
					it.push(rest)
				}
			default:
				if err := imp.flattenKineticStmt(ks, stmts, subs, line); err != nil {
					return err
				}
			}
		}
		stmts.each(func(key string, s statement) {
			if !s.isProc() && !isReservedKey(key) {
				imp.setAlias(key, s.node)
			}
		})
		imp.kinetics[name] = ks
	}
	return nil
}

// flattenKineticStmt flattens one ordinary statement inside a KINETIC block,
// binding the reserved f_flux and b_flux names to the fluxes of the last
// reaction seen.
func (imp *Importer) flattenKineticStmt(ks *kineticScheme, stmts *stmtMap, subs map[string]expr.Node, line string) error {
	if len(ks.reactions) > 0 {
		last := ks.reactions[len(ks.reactions)-1]
		suffix := fluxSuffix(last)
		fName, bName := "f_flux_"+suffix, "b_flux_"+suffix
		if !stmts.has(fName) {
			stmts.set(fName, exprStmt(fluxExpr(last.fRate, last.lhs)))
			stmts.set(bName, exprStmt(fluxExpr(last.bRate, last.rhs)))
		}
		subs["f_flux"] = &expr.Sym{Name: fName}
		subs["b_flux"] = &expr.Sym{Name: bName}
	}
	return imp.flattenInto(stmts, []string{line}, subs, "")
}

func fluxSuffix(r reaction) string {
	side := func(terms []stateTerm) string {
		var parts []string
		for _, t := range terms {
			if t.coeff != 1 {
				parts = append(parts, fmt.Sprintf("%d%s", t.coeff, t.state))
			} else {
				parts = append(parts, t.state)
			}
		}
		return strings.Join(parts, "_")
	}
	return side(r.lhs) + "_to_" + side(r.rhs)
}

// fluxExpr is rate * Π state^coeff for one reaction side.
func fluxExpr(rate expr.Node, terms []stateTerm) expr.Node {
	out := expr.Clone(rate)
	for _, t := range terms {
		var factor expr.Node = &expr.Sym{Name: t.state}
		if t.coeff != 1 {
			factor = &expr.Binary{Op: "^", Left: factor, Right: &expr.Num{Value: float64(t.coeff)}}
		}
		out = &expr.Binary{Op: "*", Left: out, Right: factor}
	}
	return out
}

// flattenKinetics expands each reaction scheme into explicit mass-action
// rate equations and adds them to the default regime. CONSERVE constraints
// are recorded but not folded into the expansion.
func (imp *Importer) flattenKinetics() {
	if imp.defaultRegime == "" {
		imp.defaultRegime = "regime_0"
	}
	r, ok := imp.regimes[imp.defaultRegime]
	if !ok {
		r = &dynamics.Regime{Name: imp.defaultRegime}
		imp.regimes[imp.defaultRegime] = r
	}
	names := make([]string, 0, len(imp.kinetics))
	for name := range imp.kinetics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ks := imp.kinetics[name]
		for _, c := range ks.conservations {
			imp.warnf("kinetic scheme %s: CONSERVE %s = %s not applied during expansion",
				name, c.lhs, c.rhs)
		}
		for _, td := range expandKinetics(ks) {
			r.AddTimeDerivative(td)
		}
	}
	imp.kinetics = map[string]*kineticScheme{}
}

// expandKinetics converts a scheme's reactions and flows into one time
// derivative per participating state.
func expandKinetics(ks *kineticScheme) []dynamics.TimeDerivative {
	derivs := map[string]expr.Node{}
	var order []string
	addTerm := func(state string, coeff int, sign string, term expr.Node) {
		contrib := expr.Clone(term)
		if coeff != 1 {
			contrib = &expr.Binary{
				Op:   "*",
				Left: &expr.Num{Value: float64(coeff)}, Right: contrib,
			}
		}
		cur, ok := derivs[state]
		if !ok {
			order = append(order, state)
			if sign == "-" {
				derivs[state] = &expr.Unary{Op: "-", Operand: contrib}
			} else {
				derivs[state] = contrib
			}
			return
		}
		derivs[state] = &expr.Binary{Op: sign, Left: cur, Right: contrib}
	}
	for _, r := range ks.reactions {
		fFlux := fluxExpr(r.fRate, r.lhs)
		bFlux := fluxExpr(r.bRate, r.rhs)
		for _, t := range r.lhs {
			addTerm(t.state, t.coeff, "-", fFlux)
			addTerm(t.state, t.coeff, "+", bFlux)
		}
		for _, t := range r.rhs {
			addTerm(t.state, t.coeff, "-", bFlux)
			addTerm(t.state, t.coeff, "+", fFlux)
		}
	}
	for _, f := range ks.incoming {
		addTerm(f.state, 1, "+", f.rate)
	}
	for _, f := range ks.outgoing {
		addTerm(f.state, 1, "-", f.rate)
	}
	out := make([]dynamics.TimeDerivative, 0, len(order))
	for _, state := range order {
		out = append(out, dynamics.TimeDerivative{Variable: state, RHS: derivs[state]})
	}
	return out
}
