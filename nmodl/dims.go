package nmodl

import (
	"github.com/nineml-xyz/go-nineml/expr"
	"github.com/nineml-xyz/go-nineml/units"
)

// reservedDims are the dimensions of NEURON's reserved quantities.
var reservedDims = map[string]units.Dimension{
	"t":       units.Time,
	"v":       units.Voltage,
	"celsius": units.Temperature,
	"diam":    units.Length,
}

// symbolDimension resolves a name's declared dimension, following alias
// definitions. Declared quantities without units count as dimensionless,
// matching how they are assembled.
func (imp *Importer) symbolDimension(name string, visiting map[string]bool) (units.Dimension, bool) {
	if p, ok := imp.parameters[name]; ok {
		return orDimensionless(p.Dimension), true
	}
	if sv, ok := imp.stateVariables[name]; ok {
		return orDimensionless(sv.Dimension), true
	}
	if ap, ok := imp.analogPorts[name]; ok {
		return orDimensionless(ap.Dimension), true
	}
	if imp.hasDim[name] && imp.dimensions[name] != "" {
		return imp.dimensions[name], true
	}
	if c, ok := imp.constants[name]; ok {
		if dim, _, err := imp.resolver.Resolve(c.Units); err == nil {
			return dim, true
		}
	}
	if c, ok := imp.initConstants[name]; ok {
		if dim, _, err := imp.resolver.Resolve(c.Units); err == nil {
			return dim, true
		}
	}
	if dim, ok := reservedDims[name]; ok {
		return dim, true
	}
	if visiting[name] {
		return "", false
	}
	if a, ok := imp.aliases[name]; ok {
		visiting[name] = true
		defer delete(visiting, name)
		return imp.inferDimension(a.RHS, visiting)
	}
	if a, ok := imp.breakpointAliases[name]; ok {
		visiting[name] = true
		defer delete(visiting, name)
		return imp.inferDimension(a.RHS, visiting)
	}
	return "", false
}

func orDimensionless(d units.Dimension) units.Dimension {
	if d == "" {
		return units.Dimensionless
	}
	return d
}

// inferDimension composes an expression's dimension from its operands with
// the units algebra. ok is false when a symbol is unknown or the composite
// signature has no catalog name.
func (imp *Importer) inferDimension(n expr.Node, visiting map[string]bool) (units.Dimension, bool) {
	switch t := n.(type) {
	case *expr.Num, *expr.Bool:
		return units.Dimensionless, true
	case *expr.Sym:
		return imp.symbolDimension(t.Name, visiting)
	case *expr.Unary:
		if t.Op == "!" {
			return units.Dimensionless, true
		}
		return imp.inferDimension(t.Operand, visiting)
	case *expr.Binary:
		switch t.Op {
		case "+", "-":
			// Addition requires matching dimensions, so either side decides.
			if dim, ok := imp.inferDimension(t.Left, visiting); ok {
				return dim, true
			}
			return imp.inferDimension(t.Right, visiting)
		case "*", "/":
			ld, ok := imp.inferDimension(t.Left, visiting)
			if !ok {
				return "", false
			}
			rd, ok := imp.inferDimension(t.Right, visiting)
			if !ok {
				return "", false
			}
			if t.Op == "*" {
				return units.Mul(ld, rd)
			}
			return units.Div(ld, rd)
		case "^":
			return imp.inferPower(t.Left, t.Right, visiting)
		default:
			// Comparisons and boolean connectives.
			return units.Dimensionless, true
		}
	case *expr.Call:
		if t.Func == "pow" && len(t.Args) == 2 {
			return imp.inferPower(t.Args[0], t.Args[1], visiting)
		}
		switch t.Func {
		case "abs", "fabs", "floor", "ceil":
			if len(t.Args) == 1 {
				return imp.inferDimension(t.Args[0], visiting)
			}
		}
		// Transcendental functions take and yield dimensionless values.
		return units.Dimensionless, true
	case *expr.Piecewise:
		for _, p := range t.Pieces {
			if dim, ok := imp.inferDimension(p.Expr, visiting); ok {
				return dim, true
			}
		}
	}
	return "", false
}

func (imp *Importer) inferPower(base, exponent expr.Node, visiting map[string]bool) (units.Dimension, bool) {
	dim, ok := imp.inferDimension(base, visiting)
	if !ok {
		return "", false
	}
	num, isNum := exponent.(*expr.Num)
	if !isNum || num.Value != float64(int(num.Value)) {
		return "", false
	}
	return units.Pow(dim, int(num.Value))
}
