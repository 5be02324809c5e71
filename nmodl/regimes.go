package nmodl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nineml-xyz/go-nineml/dynamics"
	"github.com/nineml-xyz/go-nineml/expr"
	"github.com/nineml-xyz/go-nineml/units"
)

// createParametersAndPorts maps the declaration tables onto the model's
// parameter and analog-port namespaces: ion interfaces become ports,
// properties become parameters, leftover RANGE variables become receive
// ports and POINTERs become send ports.
func (imp *Importer) createParametersAndPorts() {
	for _, ionName := range imp.ionOrder {
		io := imp.usedIons[ionName]
		for _, n := range io.read {
			// A read element pinned to a fixed value in the PARAMETER block
			// stays a parameter instead of becoming a port.
			if p, ok := imp.properties[n]; ok && !isNaN(p.Value) {
				continue
			}
			var dim units.Dimension
			switch {
			case strings.HasPrefix(n, "e"):
				dim = units.Voltage
			case strings.HasPrefix(n, "i"):
				dim = imp.currentDimension()
			case strings.HasSuffix(n, "o"), strings.HasSuffix(n, "i"):
				dim = units.Concentration
			default:
				imp.warnf("unrecognised ion element %q, assuming dimensionless", n)
			}
			imp.analogPorts[n] = dynamics.AnalogPort{
				Name: n, Mode: dynamics.Receive, Dimension: dim,
			}
		}
		for _, n := range io.write {
			var dim units.Dimension
			switch {
			case strings.HasPrefix(n, "i"):
				dim = imp.currentDimension()
			case strings.HasSuffix(n, "o"), strings.HasSuffix(n, "i"):
				dim = units.Concentration
			default:
				imp.warnf("unrecognised ion element %q, assuming dimensionless", n)
			}
			imp.analogPorts[n] = dynamics.AnalogPort{
				Name: n, Mode: dynamics.Send, Dimension: dim,
			}
		}
	}
	for name, prop := range imp.properties {
		if _, isPort := imp.analogPorts[name]; isPort {
			continue
		}
		dim, _, err := imp.resolver.Resolve(prop.Units)
		if err != nil {
			imp.warnf("parameter %q: %v, assuming dimensionless", name, err)
			dim = units.Dimensionless
		}
		imp.parameters[name] = dynamics.Parameter{Name: name, Dimension: dim}
	}
	for name := range imp.rangeVars {
		if !imp.isInternalName(name) {
			imp.analogPorts[name] = dynamics.AnalogPort{
				Name: name, Mode: dynamics.Receive, Dimension: imp.dimensions[name],
			}
		}
	}
	for name := range imp.pointers {
		if _, isParam := imp.parameters[name]; isParam {
			continue
		}
		if _, isPort := imp.analogPorts[name]; isPort {
			continue
		}
		imp.analogPorts[name] = dynamics.AnalogPort{
			Name: name, Mode: dynamics.Send, Dimension: imp.dimensions[name],
		}
	}
}

func isNaN(f float64) bool { return f != f }

type transitionOrigin struct {
	flag  int
	delay expr.Node
}

// createRegimes synthesizes the hybrid automaton: one default regime plus
// one regime per delayed event handler, all sharing the single set of time
// derivatives, connected by the transitions recovered from NET_RECEIVE.
func (imp *Importer) createRegimes() error {
	if len(imp.regimeParts) > 1 {
		return fmt.Errorf("%w: %d DERIVATIVE blocks", ErrMultipleRegimeSets, len(imp.regimeParts))
	}
	var tds []dynamics.TimeDerivative
	if len(imp.regimeParts) == 1 {
		tds = imp.regimeParts[0].timeDerivatives
	}

	if imp.initialFlag != nil {
		if _, isTrigger := imp.triggers[*imp.initialFlag]; isTrigger {
			return consistencyErrf("initial event flag %d is also a WATCH flag", *imp.initialFlag)
		}
		nr, ok := imp.netReceives[*imp.initialFlag]
		if !ok {
			if len(imp.Warnings) > 0 {
				imp.warnf("initial statements skipped as their handler could not be imported")
			} else {
				return consistencyErrf("no handler found for initial event flag %d", *imp.initialFlag)
			}
		} else {
			if nr.target != -1 || nr.delay != nil || len(nr.outputEvents) > 0 || len(nr.args) > 0 {
				return consistencyErrf("handler for initial event flag %d must only initialise state", *imp.initialFlag)
			}
			delete(imp.netReceives, *imp.initialFlag)
			for v, sa := range nr.assignments {
				if !imp.isStateVariable(v) {
					imp.promoteStateVariable(v)
				}
				imp.initialState[v] = imp.escapePiecewise(v, sa.RHS)
			}
			for name, alias := range nr.aliases {
				imp.aliases[name] = alias
			}
		}
	}

	// Every flag reached by a delayed net_send spends time in its handler
	// state, so it becomes a regime of its own.
	regimeFlags := []int{-1}
	origins := map[int][]transitionOrigin{}
	flags := make([]int, 0, len(imp.netReceives))
	for flag := range imp.netReceives {
		flags = append(flags, flag)
	}
	sort.Ints(flags)
	for _, flag := range flags {
		nr := imp.netReceives[flag]
		origins[nr.target] = append(origins[nr.target], transitionOrigin{flag: flag, delay: nr.delay})
		if nr.delay != nil {
			regimeFlags = append(regimeFlags, flag)
		}
	}
	sort.Ints(regimeFlags)
	regimeIDs := map[int]int{}
	for i, f := range regimeFlags {
		regimeIDs[f] = i
	}
	imp.defaultRegime = "regime_0"

	onConditions := map[int][]dynamics.OnCondition{}
	onEvents := map[int][]dynamics.OnEvent{}
	for _, flag := range flags {
		nr := imp.netReceives[flag]
		assignments := sortedAssignments(nr.assignments)
		events := sortedEvents(nr.outputEvents)
		// Handler intermediates feeding a breakpoint alias must survive
		// between events, so they become state variables assigned by the
		// transition; the rest are ordinary aliases.
		aliasNames := make([]string, 0, len(nr.aliases))
		for name := range nr.aliases {
			aliasNames = append(aliasNames, name)
		}
		sort.Strings(aliasNames)
		for _, name := range aliasNames {
			alias := nr.aliases[name]
			if imp.referencedByBreakpoint(name) {
				if !imp.isStateVariable(name) {
					imp.promoteStateVariable(name)
				}
				assignments = append(assignments, dynamics.StateAssignment{
					Variable: name, RHS: alias.RHS,
				})
				delete(imp.aliases, name)
			} else {
				imp.aliases[name] = alias
			}
		}
		for _, a := range nr.args {
			if _, ok := imp.analogPorts[a.name]; !ok {
				imp.analogPorts[a.name] = dynamics.AnalogPort{
					Name: a.name, Mode: dynamics.Receive, Dimension: a.dim,
				}
			}
		}
		target := "regime_0"
		if nr.delay != nil {
			target = fmt.Sprintf("regime_%d", regimeIDs[flag])
		}
		// Delay-guarded entries from every handler that dispatches here.
		for _, origin := range origins[flag] {
			trigger := &expr.Binary{
				Op:   ">",
				Left: &expr.Sym{Name: "t"},
				Right: &expr.Binary{
					Op:    "+",
					Left:  &expr.Sym{Name: "last_transition"},
					Right: expr.Clone(origin.delay),
				},
			}
			onConditions[origin.flag] = append(onConditions[origin.flag], dynamics.OnCondition{
				Trigger:      trigger,
				Assignments:  cloneAssignments(assignments),
				OutputEvents: append([]dynamics.OutputEvent(nil), events...),
				TargetRegime: target,
			})
		}
		for _, trig := range imp.triggers[flag] {
			onConditions[-1] = append(onConditions[-1], dynamics.OnCondition{
				Trigger:      expr.Clone(trig),
				Assignments:  cloneAssignments(assignments),
				OutputEvents: append([]dynamics.OutputEvent(nil), events...),
				TargetRegime: target,
			})
		}
		if flag == 0 {
			if _, ok := imp.eventPorts["incoming_spike"]; !ok {
				imp.eventPorts["incoming_spike"] = dynamics.EventPort{
					Name: "incoming_spike", Mode: dynamics.Receive,
				}
			}
			onEvents[-1] = append(onEvents[-1], dynamics.OnEvent{
				SrcPort:      "incoming_spike",
				Assignments:  cloneAssignments(assignments),
				OutputEvents: append([]dynamics.OutputEvent(nil), events...),
				TargetRegime: target,
			})
		}
	}
	for _, flag := range regimeFlags {
		name := fmt.Sprintf("regime_%d", regimeIDs[flag])
		imp.regimes[name] = &dynamics.Regime{
			Name:            name,
			TimeDerivatives: cloneTimeDerivatives(tds),
			OnConditions:    onConditions[flag],
			OnEvents:        onEvents[flag],
		}
	}
	return nil
}

func (imp *Importer) referencedByBreakpoint(name string) bool {
	for _, alias := range imp.breakpointAliases {
		if expr.Contains(alias.RHS, name) {
			return true
		}
	}
	return false
}

func sortedAssignments(m map[string]dynamics.StateAssignment) []dynamics.StateAssignment {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]dynamics.StateAssignment, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func sortedEvents(m map[string]dynamics.OutputEvent) []dynamics.OutputEvent {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]dynamics.OutputEvent, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func cloneAssignments(in []dynamics.StateAssignment) []dynamics.StateAssignment {
	out := make([]dynamics.StateAssignment, len(in))
	for i, sa := range in {
		out[i] = dynamics.StateAssignment{Variable: sa.Variable, RHS: expr.Clone(sa.RHS)}
	}
	return out
}

func cloneTimeDerivatives(in []dynamics.TimeDerivative) []dynamics.TimeDerivative {
	out := make([]dynamics.TimeDerivative, len(in))
	for i, td := range in {
		out[i] = dynamics.TimeDerivative{Variable: td.Variable, RHS: expr.Clone(td.RHS)}
	}
	return out
}

// addReservedVariables wires in NEURON's implicit quantities: the membrane
// voltage equation when transitions assign v, and the read-only reserved
// names celsius and diam.
func (imp *Importer) addReservedVariables() {
	assigned := imp.allAssignedStates()
	rhsSyms := imp.allRHSSymbols()
	if assigned["v"] || imp.opts.AddMembraneVoltage {
		imp.stateVariables["v"] = dynamics.StateVariable{Name: "v", Dimension: units.Voltage}
		imp.parameters["cm"] = dynamics.Parameter{Name: "cm", Dimension: units.Capacitance}
		imp.properties["cm"] = Property{Value: 1.0, Units: "uF"}
		imp.analogPorts["iExt"] = dynamics.AnalogPort{
			Name: "iExt", Mode: dynamics.Reduce, ReduceOp: "+", Dimension: units.Current,
		}
		var numerator expr.Node = &expr.Sym{Name: "iExt"}
		for _, ionName := range imp.ionOrder {
			for _, current := range imp.usedIons[ionName].write {
				numerator = &expr.Binary{Op: "-", Left: numerator, Right: &expr.Sym{Name: current}}
			}
		}
		dvdt := dynamics.TimeDerivative{
			Variable: "v",
			RHS:      &expr.Binary{Op: "/", Left: numerator, Right: &expr.Sym{Name: "cm"}},
		}
		if r, ok := imp.regimes[imp.defaultRegime]; ok {
			r.AddTimeDerivative(dvdt)
		} else {
			for _, r := range imp.regimes {
				r.AddTimeDerivative(dvdt)
			}
		}
	} else if rhsSyms["v"] {
		imp.analogPorts["v"] = dynamics.AnalogPort{
			Name: "v", Mode: dynamics.Receive, Dimension: units.Voltage,
		}
	}
	if rhsSyms["celsius"] {
		if _, isParam := imp.parameters["celsius"]; !isParam {
			imp.analogPorts["celsius"] = dynamics.AnalogPort{
				Name: "celsius", Mode: dynamics.Receive, Dimension: units.Temperature,
			}
		}
	}
	if rhsSyms["diam"] {
		if _, isParam := imp.parameters["diam"]; !isParam {
			imp.parameters["diam"] = dynamics.Parameter{Name: "diam", Dimension: units.Length}
		}
	}
}

// allAssignedStates is the set of variables assigned by any transition.
func (imp *Importer) allAssignedStates() map[string]bool {
	out := map[string]bool{}
	for _, r := range imp.regimes {
		for _, oc := range r.OnConditions {
			for _, sa := range oc.Assignments {
				out[sa.Variable] = true
			}
		}
		for _, oe := range r.OnEvents {
			for _, sa := range oe.Assignments {
				out[sa.Variable] = true
			}
		}
	}
	return out
}

// allRHSSymbols is the set of symbols referenced by any expression in the
// model.
func (imp *Importer) allRHSSymbols() map[string]bool {
	out := map[string]bool{}
	add := func(n expr.Node) {
		if n == nil {
			return
		}
		for _, s := range expr.Symbols(n) {
			out[s] = true
		}
	}
	for _, r := range imp.regimes {
		for _, td := range r.TimeDerivatives {
			add(td.RHS)
		}
		for _, oc := range r.OnConditions {
			add(oc.Trigger)
			for _, sa := range oc.Assignments {
				add(sa.RHS)
			}
		}
		for _, oe := range r.OnEvents {
			for _, sa := range oe.Assignments {
				add(sa.RHS)
			}
		}
	}
	for _, a := range imp.aliases {
		add(a.RHS)
	}
	for _, rhs := range imp.initialState {
		add(rhs)
	}
	return out
}

// cleanInitParameters demotes parameters no expression reads to
// initialisation-only constants; they tune the initial state, not the
// dynamics.
func (imp *Importer) cleanInitParameters() {
	rhsSyms := imp.allRHSSymbols()
	for name := range imp.parameters {
		if rhsSyms[name] {
			continue
		}
		prop, ok := imp.properties[name]
		if !ok || isNaN(prop.Value) {
			continue
		}
		delete(imp.parameters, name)
		delete(imp.properties, name)
		imp.initConstants[name] = dynamics.Constant{
			Name:  name,
			Value: prop.Value,
			Units: prop.Units,
		}
	}
}

// Dynamics assembles and validates the final declarative model.
func (imp *Importer) Dynamics() (*dynamics.Dynamics, error) {
	if len(imp.kinetics) > 0 {
		if !imp.opts.FlattenKinetics {
			return nil, ErrKineticsUnsupported
		}
		imp.flattenKinetics()
	}
	d := dynamics.New(imp.Name)
	for name, p := range imp.parameters {
		if p.Dimension == "" {
			p.Dimension = units.Dimensionless
		}
		d.Parameters[name] = p
	}
	for name, sv := range imp.stateVariables {
		if sv.Dimension == "" {
			sv.Dimension = units.Dimensionless
		}
		d.StateVariables[name] = sv
	}
	for name, a := range imp.aliases {
		d.Aliases[name] = a
	}
	for name, c := range imp.constants {
		d.Constants[name] = c
	}
	for name, p := range imp.analogPorts {
		if p.Dimension == "" {
			p.Dimension = units.Dimensionless
		}
		d.AnalogPorts[name] = p
	}
	for name, p := range imp.eventPorts {
		d.EventPorts[name] = p
	}
	for name, r := range imp.regimes {
		d.Regimes[name] = r
	}
	d.DefaultRegime = imp.defaultRegime
	imp.promoteBreakpointSendPorts(d)
	imp.addSpikeSendPort(d)
	if err := d.Validate(); err != nil {
		if imp.IncompleteImport {
			return nil, fmt.Errorf("nmodl: assembly failed after incomplete import (%s): %w",
				strings.Join(imp.Warnings, "; "), err)
		}
		return nil, err
	}
	return d, nil
}

// promoteBreakpointSendPorts exposes the top-level quantities computed each
// step by BREAKPOINT as analog send ports. Inlining helpers (names carrying
// a mangled suffix) stay internal.
func (imp *Importer) promoteBreakpointSendPorts(d *dynamics.Dynamics) {
	for name := range imp.breakpointAliases {
		if strings.Contains(name, "__") {
			continue
		}
		if _, ok := d.AnalogPorts[name]; ok {
			continue
		}
		if _, ok := d.Parameters[name]; ok {
			continue
		}
		if _, ok := d.StateVariables[name]; ok {
			continue
		}
		dim := imp.dimensions[name]
		if dim == "" {
			// Undeclared quantities get their dimension composed from the
			// defining expression; currents keep the mechanism-kind default
			// when composition cannot settle it.
			if inferred, ok := imp.inferDimension(imp.breakpointAliases[name].RHS,
				map[string]bool{name: true}); ok {
				dim = inferred
			} else if strings.HasPrefix(name, "i") {
				dim = imp.currentDimension()
			} else {
				dim = units.Dimensionless
			}
		}
		d.AnalogPorts[name] = dynamics.AnalogPort{
			Name: name, Mode: dynamics.Send, Dimension: dim,
		}
	}
}

// addSpikeSendPort declares the outgoing spike port when any transition
// emits one.
func (imp *Importer) addSpikeSendPort(d *dynamics.Dynamics) {
	emits := false
	for _, r := range d.Regimes {
		for _, oc := range r.OnConditions {
			if len(oc.OutputEvents) > 0 {
				emits = true
			}
		}
		for _, oe := range r.OnEvents {
			if len(oe.OutputEvents) > 0 {
				emits = true
			}
		}
	}
	if emits {
		if _, ok := d.EventPorts["spike"]; !ok {
			d.EventPorts["spike"] = dynamics.EventPort{Name: "spike", Mode: dynamics.Send}
		}
	}
}
