// Package nmodl implements the NMODL importer: a source-to-source compiler
// that parses NEURON's procedural mechanism description language and
// re-expresses each mechanism as a declarative dynamics model (continuous
// regimes plus guarded discrete transitions).
package nmodl

import (
	"errors"
	"fmt"
)

var (
	// ErrMultipleRegimeSets is returned when a mechanism declares more than
	// one DERIVATIVE block. Synthesizing regimes from independent derivative
	// sets is a known restriction, not an approximation.
	ErrMultipleRegimeSets = errors.New("nmodl: cannot handle multiple sets of time-derivative equations")

	// ErrKineticsUnsupported is returned when a mechanism contains a KINETIC
	// scheme and kinetic flattening was not requested.
	ErrKineticsUnsupported = errors.New("nmodl: kinetic schemes are not supported without FlattenKinetics")
)

// ParseError reports malformed block syntax. Parse errors are always fatal
// and carry the offending line.
type ParseError struct {
	Line string
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line == "" {
		return "nmodl: parse error: " + e.Msg
	}
	return fmt.Sprintf("nmodl: parse error on line %q: %s", e.Line, e.Msg)
}

// SemanticError reports a construct the compiler understands syntactically
// but cannot translate (unsupported control flow, unresolvable units,
// ambiguous event flags).
type SemanticError struct {
	Msg string
}

func (e *SemanticError) Error() string {
	return "nmodl: " + e.Msg
}

// ConsistencyError reports importer incompleteness rather than bad input:
// an unconsumed block after extraction, or an internal invariant violated
// during assembly. Callers can distinguish it from ParseError/SemanticError
// to tell "bad file" from "importer gap".
type ConsistencyError struct {
	Msg string
}

func (e *ConsistencyError) Error() string {
	return "nmodl: consistency error: " + e.Msg
}

func parseErrf(line, format string, args ...any) error {
	return &ParseError{Line: line, Msg: fmt.Sprintf(format, args...)}
}

func semanticErrf(format string, args ...any) error {
	return &SemanticError{Msg: fmt.Sprintf(format, args...)}
}

func consistencyErrf(format string, args ...any) error {
	return &ConsistencyError{Msg: fmt.Sprintf(format, args...)}
}
