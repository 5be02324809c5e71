// Package dynamics defines the declarative hybrid-dynamical-system model
// produced by the compiler: continuous-time regimes with guarded discrete
// transitions over a set of dimensioned parameters, state variables, aliases
// and ports. A Dynamics value is built once by the importer and treated as
// immutable by every downstream consumer.
package dynamics

import (
	"github.com/google/uuid"

	"github.com/nineml-xyz/go-nineml/expr"
	"github.com/nineml-xyz/go-nineml/units"
)

// PortMode is the direction of a port.
type PortMode string

const (
	Send    PortMode = "send"
	Receive PortMode = "recv"
	Reduce  PortMode = "reduce"
)

// Parameter is a constant supplied externally at model-instantiation time.
type Parameter struct {
	Name      string
	Dimension units.Dimension
}

// StateVariable is a quantity integrated or assigned at simulation time.
type StateVariable struct {
	Name      string
	Dimension units.Dimension
}

// Alias is a derived quantity: a pure function of parameters, state
// variables and other aliases. The right-hand side may be a piecewise
// expression.
type Alias struct {
	Name string
	RHS  expr.Node
}

// Constant is a named numeric constant with units, e.g. Faraday's constant.
type Constant struct {
	Name  string
	Value float64
	Units string
}

// AnalogPort carries a continuous quantity across the model boundary.
// Reduce ports combine multiple same-named inputs; only addition is
// supported as the reduce operator.
type AnalogPort struct {
	Name      string
	Mode      PortMode
	ReduceOp  string
	Dimension units.Dimension
}

// EventPort carries discrete events across the model boundary.
type EventPort struct {
	Name string
	Mode PortMode
}

// TimeDerivative is one continuous evolution equation: Variable' = RHS.
type TimeDerivative struct {
	Variable string
	RHS      expr.Node
}

// StateAssignment sets a state variable during a discrete transition.
type StateAssignment struct {
	Variable string
	RHS      expr.Node
}

// OutputEvent emits a discrete event on a send event port during a
// transition.
type OutputEvent struct {
	Port string
}

// OnCondition is a condition-triggered transition: when the trigger becomes
// true the assignments run, the output events fire and the model enters the
// target regime.
type OnCondition struct {
	Trigger      expr.Node
	Assignments  []StateAssignment
	OutputEvents []OutputEvent
	TargetRegime string
}

// OnEvent is an event-triggered transition bound to a receive event port.
type OnEvent struct {
	SrcPort      string
	Assignments  []StateAssignment
	OutputEvents []OutputEvent
	TargetRegime string
}

// Regime is one named state of the hybrid automaton: its continuous
// time-derivative equations plus the discrete transitions leaving it.
type Regime struct {
	Name            string
	TimeDerivatives []TimeDerivative
	OnConditions    []OnCondition
	OnEvents        []OnEvent
}

// AddTimeDerivative appends an evolution equation to the regime.
func (r *Regime) AddTimeDerivative(td TimeDerivative) {
	r.TimeDerivatives = append(r.TimeDerivatives, td)
}

// Dynamics is the assembled declarative model: the compiler's sole output
// artifact.
type Dynamics struct {
	ID             uuid.UUID
	Name           string
	Parameters     map[string]Parameter
	StateVariables map[string]StateVariable
	Aliases        map[string]Alias
	Constants      map[string]Constant
	AnalogPorts    map[string]AnalogPort
	EventPorts     map[string]EventPort
	Regimes        map[string]*Regime
	DefaultRegime  string
}

// New creates an empty Dynamics with a fresh artifact ID.
func New(name string) *Dynamics {
	return &Dynamics{
		ID:             uuid.New(),
		Name:           name,
		Parameters:     make(map[string]Parameter),
		StateVariables: make(map[string]StateVariable),
		Aliases:        make(map[string]Alias),
		Constants:      make(map[string]Constant),
		AnalogPorts:    make(map[string]AnalogPort),
		EventPorts:     make(map[string]EventPort),
		Regimes:        make(map[string]*Regime),
	}
}

// Regime returns the named regime, or nil.
func (d *Dynamics) Regime(name string) *Regime {
	return d.Regimes[name]
}

// Default returns the default (initial) regime, or nil.
func (d *Dynamics) Default() *Regime {
	return d.Regimes[d.DefaultRegime]
}

// ReceivePorts returns the names of analog receive and reduce ports.
func (d *Dynamics) ReceivePorts() []string {
	var out []string
	for name, p := range d.AnalogPorts {
		if p.Mode == Receive || p.Mode == Reduce {
			out = append(out, name)
		}
	}
	return out
}

// SendPorts returns the names of analog send ports.
func (d *Dynamics) SendPorts() []string {
	var out []string
	for name, p := range d.AnalogPorts {
		if p.Mode == Send {
			out = append(out, name)
		}
	}
	return out
}
