package units

import "math"

// InbuiltConstant is a physical constant that NMODL files may redeclare as a
// parameter. The importer reclassifies such parameters as constants.
type InbuiltConstant struct {
	Name  string
	Value float64
	Units string
}

// InbuiltConstants mirrors the constants NEURON makes available to mod
// files: Faraday's constant, the molar gas constant and pi.
var InbuiltConstants = map[string]InbuiltConstant{
	"faraday": {Name: "faraday", Value: 96485.3365, Units: "coulomb"},
	"k-mole":  {Name: "k-mole", Value: 8.3144621, Units: "J/K"},
	"pi":      {Name: "pi", Value: 3.14159265359, Units: "dimensionless"},
}

// constTolerance is the relative tolerance used to recognize a declared
// parameter value as an inbuilt physical constant.
const constTolerance = 1e-4

// MatchConstant reports whether the value, expressed in the given units,
// coincides with an inbuilt physical constant. Dimensions must agree and the
// relative difference must fall within tolerance.
func (r *Resolver) MatchConstant(value float64, unitStr string) (InbuiltConstant, bool) {
	q, err := r.Quantity(unitStr)
	if err != nil {
		return InbuiltConstant{}, false
	}
	for _, c := range InbuiltConstants {
		cq, err := r.Quantity(c.Units)
		if err != nil || !cq.SameDims(q) {
			continue
		}
		si := value * q.Scale
		csi := c.Value * cq.Scale
		if csi == 0 {
			continue
		}
		if math.Abs((si-csi)/csi) < constTolerance {
			return c, true
		}
	}
	return InbuiltConstant{}, false
}

// ConvertFactor returns the multiplier taking a value in fromUnits to
// toUnits. The dimensions must agree.
func (r *Resolver) ConvertFactor(fromUnits, toUnits string) (float64, error) {
	from, err := r.Quantity(fromUnits)
	if err != nil {
		return 0, err
	}
	to, err := r.Quantity(toUnits)
	if err != nil {
		return 0, err
	}
	return from.Scale / to.Scale, nil
}
