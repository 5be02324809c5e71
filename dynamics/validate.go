package dynamics

import (
	"errors"
	"fmt"

	"github.com/nineml-xyz/go-nineml/expr"
)

var (
	ErrEmptyName        = errors.New("dynamics: model has empty name")
	ErrNoDefaultRegime  = errors.New("dynamics: no default regime")
	ErrUnknownRegime    = errors.New("dynamics: transition targets unknown regime")
	ErrUnresolvedSymbol = errors.New("dynamics: expression references unresolved symbol")
	ErrNameCollision    = errors.New("dynamics: name declared in more than one namespace")
	ErrBadReduceOp      = errors.New("dynamics: unsupported reduce operator")
	ErrNoOtherwise      = errors.New("dynamics: piecewise expression lacks otherwise branch")
	ErrUnknownState     = errors.New("dynamics: assignment to undeclared state variable")
)

// reserved symbols always resolvable in expressions.
var reservedSymbols = map[string]struct{}{
	"t": {},
}

// Validate performs the post-assembly consistency checks: symbol
// completeness, namespace disjointness, regime-graph integrity and the
// piecewise otherwise invariant.
func (d *Dynamics) Validate() error {
	if d.Name == "" {
		return ErrEmptyName
	}
	if _, ok := d.Regimes[d.DefaultRegime]; !ok {
		return fmt.Errorf("%w: %q", ErrNoDefaultRegime, d.DefaultRegime)
	}
	if err := d.checkNamespaces(); err != nil {
		return err
	}
	if err := d.checkRegimes(); err != nil {
		return err
	}
	return d.checkSymbols()
}

func (d *Dynamics) checkNamespaces() error {
	seen := map[string]string{}
	claim := func(name, ns string) error {
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%w: %q in %s and %s", ErrNameCollision, name, prev, ns)
		}
		seen[name] = ns
		return nil
	}
	for name := range d.Parameters {
		if err := claim(name, "parameters"); err != nil {
			return err
		}
	}
	for name := range d.StateVariables {
		if err := claim(name, "state variables"); err != nil {
			return err
		}
	}
	for name := range d.Aliases {
		if err := claim(name, "aliases"); err != nil {
			return err
		}
	}
	for name := range d.Constants {
		if err := claim(name, "constants"); err != nil {
			return err
		}
	}
	for name, p := range d.AnalogPorts {
		if p.Mode == Reduce && p.ReduceOp != "+" {
			return fmt.Errorf("%w: %q on port %q", ErrBadReduceOp, p.ReduceOp, name)
		}
		// Send ports may expose an alias or state variable under the same
		// name; receive ports must not shadow an internal symbol.
		if p.Mode != Send {
			if err := claim(name, "analog ports"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Dynamics) checkRegimes() error {
	for _, regime := range d.Regimes {
		for _, oc := range regime.OnConditions {
			if _, ok := d.Regimes[oc.TargetRegime]; !ok {
				return fmt.Errorf("%w: %q from regime %q", ErrUnknownRegime,
					oc.TargetRegime, regime.Name)
			}
			if err := d.checkAssignments(oc.Assignments); err != nil {
				return err
			}
		}
		for _, oe := range regime.OnEvents {
			if _, ok := d.Regimes[oe.TargetRegime]; !ok {
				return fmt.Errorf("%w: %q from regime %q", ErrUnknownRegime,
					oe.TargetRegime, regime.Name)
			}
			if _, ok := d.EventPorts[oe.SrcPort]; !ok {
				return fmt.Errorf("dynamics: on-event references unknown event port %q", oe.SrcPort)
			}
			if err := d.checkAssignments(oe.Assignments); err != nil {
				return err
			}
		}
		for _, td := range regime.TimeDerivatives {
			if _, ok := d.StateVariables[td.Variable]; !ok {
				return fmt.Errorf("%w: %q' in regime %q", ErrUnknownState,
					td.Variable, regime.Name)
			}
		}
	}
	return nil
}

func (d *Dynamics) checkAssignments(assignments []StateAssignment) error {
	for _, sa := range assignments {
		if _, ok := d.StateVariables[sa.Variable]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownState, sa.Variable)
		}
	}
	return nil
}

func (d *Dynamics) checkSymbols() error {
	resolvable := func(name string) bool {
		if _, ok := reservedSymbols[name]; ok {
			return true
		}
		if _, ok := d.Parameters[name]; ok {
			return true
		}
		if _, ok := d.StateVariables[name]; ok {
			return true
		}
		if _, ok := d.Aliases[name]; ok {
			return true
		}
		if _, ok := d.Constants[name]; ok {
			return true
		}
		if p, ok := d.AnalogPorts[name]; ok && p.Mode != Send {
			return true
		}
		return false
	}
	check := func(n expr.Node, where string) error {
		if pw, ok := n.(*expr.Piecewise); ok && !pw.HasOtherwise() {
			return fmt.Errorf("%w: %s", ErrNoOtherwise, where)
		}
		for _, sym := range expr.Symbols(n) {
			if !resolvable(sym) {
				return fmt.Errorf("%w: %q in %s", ErrUnresolvedSymbol, sym, where)
			}
		}
		return nil
	}
	for name, a := range d.Aliases {
		if err := check(a.RHS, "alias "+name); err != nil {
			return err
		}
	}
	for _, regime := range d.Regimes {
		for _, td := range regime.TimeDerivatives {
			if err := check(td.RHS, fmt.Sprintf("d%s/dt in regime %s", td.Variable, regime.Name)); err != nil {
				return err
			}
		}
		for _, oc := range regime.OnConditions {
			if err := check(oc.Trigger, "trigger in regime "+regime.Name); err != nil {
				return err
			}
			for _, sa := range oc.Assignments {
				if err := check(sa.RHS, "assignment to "+sa.Variable); err != nil {
					return err
				}
			}
		}
		for _, oe := range regime.OnEvents {
			for _, sa := range oe.Assignments {
				if err := check(sa.RHS, "assignment to "+sa.Variable); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
