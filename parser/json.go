// Package parser handles JSON import/export for dynamics component classes.
// Expressions travel as canonical infix strings and are re-parsed on load,
// so a round-trip preserves expression equality and validation results.
package parser

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/iancoleman/strcase"

	"github.com/nineml-xyz/go-nineml/dynamics"
	"github.com/nineml-xyz/go-nineml/expr"
	"github.com/nineml-xyz/go-nineml/units"
)

// The document layout:
//
//	{
//	  "name": "NaChannel",
//	  "class": "NaChannelClass",
//	  "parameters": {"gbar": {"dimension": "conductanceDensity"}},
//	  "states": {"m": {"dimension": "dimensionless"}},
//	  "aliases": {"i": {"rhs": "gbar*m*(v - ena)"}},
//	  "constants": {"F": {"value": 96485.3, "units": "coulomb"}},
//	  "analogPorts": {"v": {"mode": "recv", "dimension": "voltage"}},
//	  "eventPorts": {"spike": {"mode": "send"}},
//	  "regimes": {"regime_0": {...}},
//	  "defaultRegime": "regime_0"
//	}
//
// A piecewise alias carries "pieces" instead of "rhs"; the final piece is
// the mandatory otherwise branch.

type document struct {
	ID            string                   `json:"id,omitempty"`
	Name          string                   `json:"name"`
	Class         string                   `json:"class"`
	Parameters    map[string]dimensioned   `json:"parameters,omitempty"`
	States        map[string]dimensioned   `json:"states,omitempty"`
	Aliases       map[string]aliasDoc      `json:"aliases,omitempty"`
	Constants     map[string]constantDoc   `json:"constants,omitempty"`
	AnalogPorts   map[string]analogPortDoc `json:"analogPorts,omitempty"`
	EventPorts    map[string]eventPortDoc  `json:"eventPorts,omitempty"`
	Regimes       map[string]regimeDoc     `json:"regimes,omitempty"`
	DefaultRegime string                   `json:"defaultRegime,omitempty"`
}

type dimensioned struct {
	Dimension string `json:"dimension"`
}

type aliasDoc struct {
	RHS    string     `json:"rhs,omitempty"`
	Pieces []pieceDoc `json:"pieces,omitempty"`
}

type pieceDoc struct {
	Expr string `json:"expr"`
	Cond string `json:"cond,omitempty"`
}

type constantDoc struct {
	Value float64 `json:"value"`
	Units string  `json:"units,omitempty"`
}

type analogPortDoc struct {
	Mode      string `json:"mode"`
	ReduceOp  string `json:"reduceOp,omitempty"`
	Dimension string `json:"dimension"`
}

type eventPortDoc struct {
	Mode string `json:"mode"`
}

type regimeDoc struct {
	TimeDerivatives map[string]string `json:"timeDerivatives,omitempty"`
	OnConditions    []onConditionDoc  `json:"onConditions,omitempty"`
	OnEvents        []onEventDoc      `json:"onEvents,omitempty"`
}

type onConditionDoc struct {
	Trigger      string            `json:"trigger"`
	Assignments  map[string]string `json:"assignments,omitempty"`
	OutputEvents []string          `json:"outputEvents,omitempty"`
	TargetRegime string            `json:"targetRegime,omitempty"`
}

type onEventDoc struct {
	SrcPort      string            `json:"srcPort"`
	Assignments  map[string]string `json:"assignments,omitempty"`
	OutputEvents []string          `json:"outputEvents,omitempty"`
	TargetRegime string            `json:"targetRegime,omitempty"`
}

// ToJSON serializes a component class.
func ToJSON(d *dynamics.Dynamics) ([]byte, error) {
	doc := document{
		ID:            d.ID.String(),
		Name:          d.Name,
		Class:         strcase.ToCamel(d.Name) + "Class",
		DefaultRegime: d.DefaultRegime,
	}
	if len(d.Parameters) > 0 {
		doc.Parameters = make(map[string]dimensioned, len(d.Parameters))
		for name, p := range d.Parameters {
			doc.Parameters[name] = dimensioned{Dimension: string(p.Dimension)}
		}
	}
	if len(d.StateVariables) > 0 {
		doc.States = make(map[string]dimensioned, len(d.StateVariables))
		for name, sv := range d.StateVariables {
			doc.States[name] = dimensioned{Dimension: string(sv.Dimension)}
		}
	}
	if len(d.Aliases) > 0 {
		doc.Aliases = make(map[string]aliasDoc, len(d.Aliases))
		for name, a := range d.Aliases {
			doc.Aliases[name] = encodeAlias(a)
		}
	}
	if len(d.Constants) > 0 {
		doc.Constants = make(map[string]constantDoc, len(d.Constants))
		for name, c := range d.Constants {
			doc.Constants[name] = constantDoc{Value: c.Value, Units: c.Units}
		}
	}
	if len(d.AnalogPorts) > 0 {
		doc.AnalogPorts = make(map[string]analogPortDoc, len(d.AnalogPorts))
		for name, p := range d.AnalogPorts {
			doc.AnalogPorts[name] = analogPortDoc{
				Mode:      string(p.Mode),
				ReduceOp:  p.ReduceOp,
				Dimension: string(p.Dimension),
			}
		}
	}
	if len(d.EventPorts) > 0 {
		doc.EventPorts = make(map[string]eventPortDoc, len(d.EventPorts))
		for name, p := range d.EventPorts {
			doc.EventPorts[name] = eventPortDoc{Mode: string(p.Mode)}
		}
	}
	if len(d.Regimes) > 0 {
		doc.Regimes = make(map[string]regimeDoc, len(d.Regimes))
		for name, r := range d.Regimes {
			doc.Regimes[name] = encodeRegime(r)
		}
	}
	return json.MarshalIndent(doc, "", "  ")
}

func encodeAlias(a dynamics.Alias) aliasDoc {
	pw, ok := a.RHS.(*expr.Piecewise)
	if !ok {
		return aliasDoc{RHS: a.RHS.String()}
	}
	out := aliasDoc{}
	for _, p := range pw.Pieces {
		pd := pieceDoc{Expr: p.Expr.String()}
		if b, isBool := p.Cond.(*expr.Bool); !isBool || !b.Value {
			pd.Cond = p.Cond.String()
		}
		out.Pieces = append(out.Pieces, pd)
	}
	return out
}

func encodeRegime(r *dynamics.Regime) regimeDoc {
	doc := regimeDoc{}
	if len(r.TimeDerivatives) > 0 {
		doc.TimeDerivatives = make(map[string]string, len(r.TimeDerivatives))
		for _, td := range r.TimeDerivatives {
			doc.TimeDerivatives[td.Variable] = td.RHS.String()
		}
	}
	for _, oc := range r.OnConditions {
		doc.OnConditions = append(doc.OnConditions, onConditionDoc{
			Trigger:      oc.Trigger.String(),
			Assignments:  encodeAssignments(oc.Assignments),
			OutputEvents: encodeEvents(oc.OutputEvents),
			TargetRegime: oc.TargetRegime,
		})
	}
	for _, oe := range r.OnEvents {
		doc.OnEvents = append(doc.OnEvents, onEventDoc{
			SrcPort:      oe.SrcPort,
			Assignments:  encodeAssignments(oe.Assignments),
			OutputEvents: encodeEvents(oe.OutputEvents),
			TargetRegime: oe.TargetRegime,
		})
	}
	return doc
}

func encodeAssignments(assignments []dynamics.StateAssignment) map[string]string {
	if len(assignments) == 0 {
		return nil
	}
	out := make(map[string]string, len(assignments))
	for _, sa := range assignments {
		out[sa.Variable] = sa.RHS.String()
	}
	return out
}

func encodeEvents(events []dynamics.OutputEvent) []string {
	var out []string
	for _, e := range events {
		out = append(out, e.Port)
	}
	return out
}

// FromJSON parses a component class from JSON bytes.
func FromJSON(data []byte) (*dynamics.Dynamics, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("document missing name")
	}
	d := dynamics.New(doc.Name)
	if doc.ID != "" {
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid artifact id %q: %w", doc.ID, err)
		}
		d.ID = id
	}
	for name, p := range doc.Parameters {
		d.Parameters[name] = dynamics.Parameter{
			Name: name, Dimension: units.Dimension(p.Dimension),
		}
	}
	for name, sv := range doc.States {
		d.StateVariables[name] = dynamics.StateVariable{
			Name: name, Dimension: units.Dimension(sv.Dimension),
		}
	}
	for name, a := range doc.Aliases {
		rhs, err := decodeAlias(a)
		if err != nil {
			return nil, fmt.Errorf("alias %s: %w", name, err)
		}
		d.Aliases[name] = dynamics.Alias{Name: name, RHS: rhs}
	}
	for name, c := range doc.Constants {
		d.Constants[name] = dynamics.Constant{Name: name, Value: c.Value, Units: c.Units}
	}
	for name, p := range doc.AnalogPorts {
		d.AnalogPorts[name] = dynamics.AnalogPort{
			Name:      name,
			Mode:      dynamics.PortMode(p.Mode),
			ReduceOp:  p.ReduceOp,
			Dimension: units.Dimension(p.Dimension),
		}
	}
	for name, p := range doc.EventPorts {
		d.EventPorts[name] = dynamics.EventPort{Name: name, Mode: dynamics.PortMode(p.Mode)}
	}
	for name, r := range doc.Regimes {
		regime, err := decodeRegime(name, r)
		if err != nil {
			return nil, fmt.Errorf("regime %s: %w", name, err)
		}
		d.Regimes[name] = regime
	}
	d.DefaultRegime = doc.DefaultRegime
	return d, nil
}

func decodeAlias(a aliasDoc) (expr.Node, error) {
	if len(a.Pieces) == 0 {
		return expr.Parse(a.RHS)
	}
	var pieces []expr.Piece
	var otherwise expr.Node
	for _, pd := range a.Pieces {
		val, err := expr.Parse(pd.Expr)
		if err != nil {
			return nil, err
		}
		if pd.Cond == "" {
			otherwise = val
			continue
		}
		cond, err := expr.Parse(pd.Cond)
		if err != nil {
			return nil, err
		}
		pieces = append(pieces, expr.Piece{Expr: val, Cond: cond})
	}
	return expr.NewPiecewise(pieces, otherwise)
}

func decodeRegime(name string, doc regimeDoc) (*dynamics.Regime, error) {
	r := &dynamics.Regime{Name: name}
	for variable, rhs := range doc.TimeDerivatives {
		node, err := expr.Parse(rhs)
		if err != nil {
			return nil, fmt.Errorf("d%s/dt: %w", variable, err)
		}
		r.TimeDerivatives = append(r.TimeDerivatives, dynamics.TimeDerivative{
			Variable: variable, RHS: node,
		})
	}
	for _, oc := range doc.OnConditions {
		trigger, err := expr.Parse(oc.Trigger)
		if err != nil {
			return nil, fmt.Errorf("trigger: %w", err)
		}
		assignments, err := decodeAssignments(oc.Assignments)
		if err != nil {
			return nil, err
		}
		r.OnConditions = append(r.OnConditions, dynamics.OnCondition{
			Trigger:      trigger,
			Assignments:  assignments,
			OutputEvents: decodeEvents(oc.OutputEvents),
			TargetRegime: oc.TargetRegime,
		})
	}
	for _, oe := range doc.OnEvents {
		assignments, err := decodeAssignments(oe.Assignments)
		if err != nil {
			return nil, err
		}
		r.OnEvents = append(r.OnEvents, dynamics.OnEvent{
			SrcPort:      oe.SrcPort,
			Assignments:  assignments,
			OutputEvents: decodeEvents(oe.OutputEvents),
			TargetRegime: oe.TargetRegime,
		})
	}
	return r, nil
}

func decodeAssignments(m map[string]string) ([]dynamics.StateAssignment, error) {
	var out []dynamics.StateAssignment
	for variable, rhs := range m {
		node, err := expr.Parse(rhs)
		if err != nil {
			return nil, fmt.Errorf("assignment to %s: %w", variable, err)
		}
		out = append(out, dynamics.StateAssignment{Variable: variable, RHS: node})
	}
	return out, nil
}

func decodeEvents(ports []string) []dynamics.OutputEvent {
	var out []dynamics.OutputEvent
	for _, p := range ports {
		out = append(out, dynamics.OutputEvent{Port: p})
	}
	return out
}
