package units

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/nineml-xyz/go-nineml/expr"
)

// Quantity is a resolved unit: SI base-dimension exponents plus the
// multiplicative factor that converts one of the unit to SI.
type Quantity struct {
	Dims  baseDims
	Scale float64
}

func (q Quantity) mul(o Quantity) Quantity {
	return Quantity{Dims: q.Dims.mul(o.Dims), Scale: q.Scale * o.Scale}
}

func (q Quantity) div(o Quantity) Quantity {
	return Quantity{Dims: q.Dims.div(o.Dims), Scale: q.Scale / o.Scale}
}

func (q Quantity) pow(n int) Quantity {
	return Quantity{Dims: q.Dims.pow(n), Scale: math.Pow(q.Scale, float64(n))}
}

// Dimensionless is the unit quantity.
func DimensionlessQuantity() Quantity {
	return Quantity{Scale: 1}
}

// SameDims reports whether two quantities share a dimensionality.
func (q Quantity) SameDims(o Quantity) bool {
	return q.Dims == o.Dims
}

// Dimension maps the quantity onto the catalog.
func (q Quantity) Dimension() (Dimension, error) {
	return lookupDimension(q.Dims)
}

// Power returns the power-of-ten offset from the SI base unit.
func (q Quantity) Power() int {
	if q.Scale <= 0 {
		return 0
	}
	return int(math.Round(math.Log10(q.Scale)))
}

// inbuiltUnits maps unit symbols to quantities. SI prefixes are resolved
// separately, so only base symbols appear here.
var inbuiltUnits = map[string]Quantity{
	"m":             {Dims: dimsLength, Scale: 1},
	"metre":         {Dims: dimsLength, Scale: 1},
	"meter":         {Dims: dimsLength, Scale: 1},
	"g":             {Dims: dimsMass, Scale: 1e-3},
	"gram":          {Dims: dimsMass, Scale: 1e-3},
	"s":             {Dims: dimsTime, Scale: 1},
	"sec":           {Dims: dimsTime, Scale: 1},
	"second":        {Dims: dimsTime, Scale: 1},
	"A":             {Dims: dimsCurrent, Scale: 1},
	"amp":           {Dims: dimsCurrent, Scale: 1},
	"ampere":        {Dims: dimsCurrent, Scale: 1},
	"K":             {Dims: dimsTemperature, Scale: 1},
	"kelvin":        {Dims: dimsTemperature, Scale: 1},
	"degC":          {Dims: dimsTemperature, Scale: 1},
	"mol":           {Dims: dimsSubstance, Scale: 1},
	"mole":          {Dims: dimsSubstance, Scale: 1},
	"V":             {Dims: dimsVoltage, Scale: 1},
	"volt":          {Dims: dimsVoltage, Scale: 1},
	"S":             {Dims: dimsConductance, Scale: 1},
	"siemens":       {Dims: dimsConductance, Scale: 1},
	"mho":           {Dims: dimsConductance, Scale: 1},
	"F":             {Dims: dimsCapacitance, Scale: 1},
	"farad":         {Dims: dimsCapacitance, Scale: 1},
	"C":             {Dims: dimsCharge, Scale: 1},
	"coulomb":       {Dims: dimsCharge, Scale: 1},
	"Hz":            {Dims: dimsPerTime, Scale: 1},
	"J":             {Dims: dimsEnergy, Scale: 1},
	"joule":         {Dims: dimsEnergy, Scale: 1},
	"l":             {Dims: dimsVolume, Scale: 1e-3},
	"liter":         {Dims: dimsVolume, Scale: 1e-3},
	"litre":         {Dims: dimsVolume, Scale: 1e-3},
	"M":             {Dims: dimsConcentration, Scale: 1e3},
	"molar":         {Dims: dimsConcentration, Scale: 1e3},
	"dimensionless": {Scale: 1},
}

// siPrefixes in resolution order. Two-letter prefixes are not used by NMODL
// mechanism files in practice, so single letters suffice.
var siPrefixes = map[byte]float64{
	'f': 1e-15,
	'p': 1e-12,
	'n': 1e-9,
	'u': 1e-6,
	'm': 1e-3,
	'c': 1e-2,
	'd': 1e-1,
	'k': 1e3,
	'M': 1e6,
	'G': 1e9,
}

// Resolver resolves unit strings, including user-declared aliases from a
// UNITS block. Aliases must not collide with inbuilt unit names.
type Resolver struct {
	aliases map[string]Quantity
}

// NewResolver creates a resolver with only the inbuilt unit table.
func NewResolver() *Resolver {
	return &Resolver{aliases: make(map[string]Quantity)}
}

// RegisterAlias declares a user unit alias, e.g. (mV) = (millivolt).
func (r *Resolver) RegisterAlias(name, definition string) error {
	q, err := r.Quantity(definition)
	if err != nil {
		return fmt.Errorf("units: unrecognised unit %q", definition)
	}
	if known, lookupErr := r.lookup(name); lookupErr == nil {
		// Redeclaring an inbuilt name with its own meaning is harmless and
		// common in mod files (mV = (millivolt)); a conflicting meaning is
		// not.
		if !known.SameDims(q) {
			return fmt.Errorf("units: alias %q collides with inbuilt unit", name)
		}
		return nil
	}
	r.aliases[name] = q
	return nil
}

// Known reports whether the symbol resolves to a unit, either inbuilt,
// prefixed, or aliased.
func (r *Resolver) Known(name string) bool {
	_, err := r.lookup(name)
	return err == nil
}

// Aliases returns the registered alias names.
func (r *Resolver) Aliases() []string {
	out := make([]string, 0, len(r.aliases))
	for name := range r.aliases {
		out = append(out, name)
	}
	return out
}

func (r *Resolver) lookup(symbol string) (Quantity, error) {
	if q, ok := r.aliases[symbol]; ok {
		return q, nil
	}
	if q, ok := inbuiltUnits[symbol]; ok {
		return q, nil
	}
	// Long-form prefixes first (milli, micro, ...), then single letters.
	for prefix, factor := range longPrefixes {
		if rest, ok := strings.CutPrefix(symbol, prefix); ok && rest != "" {
			if q, ok := inbuiltUnits[rest]; ok {
				return Quantity{Dims: q.Dims, Scale: q.Scale * factor}, nil
			}
		}
	}
	if len(symbol) > 1 {
		if factor, ok := siPrefixes[symbol[0]]; ok {
			if q, ok := inbuiltUnits[symbol[1:]]; ok {
				return Quantity{Dims: q.Dims, Scale: q.Scale * factor}, nil
			}
			if q, ok := r.aliases[symbol[1:]]; ok {
				return Quantity{Dims: q.Dims, Scale: q.Scale * factor}, nil
			}
		}
	}
	return Quantity{}, fmt.Errorf("units: unrecognised unit %q", symbol)
}

var longPrefixes = map[string]float64{
	"femto": 1e-15,
	"pico":  1e-12,
	"nano":  1e-9,
	"micro": 1e-6,
	"milli": 1e-3,
	"centi": 1e-2,
	"kilo":  1e3,
	"mega":  1e6,
}

var (
	exponentRe  = regexp.MustCompile(`([a-zA-Z])([0-9]+(?:\.[0-9]+)?)`)
	numWordRe   = regexp.MustCompile(`(\d) +(\w)`)
	spaceJoinRe = regexp.MustCompile(`([a-zA-Z]) +([a-zA-Z])`)
)

// Sanitize normalizes the textual quirks of NMODL unit strings:
// "1" means dimensionless, "mv" is a common miscapitalization, a leading
// "/u" abbreviates "1/u", a digit following a letter is an exponent
// (cm2 -> cm^2), "-" is a division shorthand, and juxtaposition with spaces
// means multiplication.
func Sanitize(unitStr string) string {
	u := strings.TrimSpace(unitStr)
	if u == "" || u == "1" {
		return "dimensionless"
	}
	if u == "mv" {
		u = "mV"
	}
	if strings.HasPrefix(u, "/") {
		u = "1" + u
	}
	u = exponentRe.ReplaceAllString(u, "$1^$2")
	if strings.Contains(u, "-") {
		parts := strings.SplitN(u, "-", 2)
		u = "(" + parts[0] + ")/" + parts[1]
	}
	u = numWordRe.ReplaceAllString(u, "$1*$2")
	u = spaceJoinRe.ReplaceAllString(u, "$1*$2")
	return u
}

// Quantity resolves a (possibly compound) unit string to a Quantity.
func (r *Resolver) Quantity(unitStr string) (Quantity, error) {
	sanitized := Sanitize(unitStr)
	node, err := expr.Parse(sanitized)
	if err != nil {
		return Quantity{}, fmt.Errorf("units: cannot parse unit string %q: %w", unitStr, err)
	}
	q, err := r.fold(node)
	if err != nil {
		return Quantity{}, fmt.Errorf("units: %q: %w", unitStr, err)
	}
	return q, nil
}

// Resolve reduces a unit string to its catalog dimension and power of ten.
func (r *Resolver) Resolve(unitStr string) (Dimension, int, error) {
	q, err := r.Quantity(unitStr)
	if err != nil {
		return "", 0, err
	}
	dim, err := q.Dimension()
	if err != nil {
		return "", 0, fmt.Errorf("units: unrecognised dimension from units %q", unitStr)
	}
	return dim, q.Power(), nil
}

func (r *Resolver) fold(node expr.Node) (Quantity, error) {
	switch t := node.(type) {
	case *expr.Num:
		return Quantity{Scale: t.Value}, nil
	case *expr.Sym:
		return r.lookup(t.Name)
	case *expr.Binary:
		left, err := r.fold(t.Left)
		if err != nil {
			return Quantity{}, err
		}
		switch t.Op {
		case "*":
			right, err := r.fold(t.Right)
			if err != nil {
				return Quantity{}, err
			}
			return left.mul(right), nil
		case "/":
			right, err := r.fold(t.Right)
			if err != nil {
				return Quantity{}, err
			}
			return left.div(right), nil
		case "^":
			n, ok := t.Right.(*expr.Num)
			if !ok || n.Value != math.Trunc(n.Value) {
				return Quantity{}, fmt.Errorf("unit exponent must be an integer")
			}
			return left.pow(int(n.Value)), nil
		}
		return Quantity{}, fmt.Errorf("operator %q not valid in a unit string", t.Op)
	case *expr.Unary:
		if t.Op == "-" {
			q, err := r.fold(t.Operand)
			if err != nil {
				return Quantity{}, err
			}
			return Quantity{Dims: q.Dims, Scale: -q.Scale}, nil
		}
		return Quantity{}, fmt.Errorf("operator %q not valid in a unit string", t.Op)
	}
	return Quantity{}, fmt.Errorf("unexpected term %q in unit string", node)
}
