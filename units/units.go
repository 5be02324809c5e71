// Package units resolves NMODL unit strings onto a closed catalog of
// physical dimensions. A compound unit string such as "mA/cm2" reduces to a
// (Dimension, power-of-ten) pair; dimensionality signatures outside the
// catalog are import errors, because the compiler cannot guess a semantic
// name for a new physical quantity.
package units

import "fmt"

// Dimension names a physical dimension from the closed catalog.
type Dimension string

const (
	Dimensionless           Dimension = "dimensionless"
	Voltage                 Dimension = "voltage"
	VoltagePerTime          Dimension = "voltage_per_time"
	Current                 Dimension = "current"
	CurrentDensity          Dimension = "currentDensity"
	CurrentPerTime          Dimension = "current_per_time"
	Conductance             Dimension = "conductance"
	ConductanceDensity      Dimension = "conductanceDensity"
	Capacitance             Dimension = "capacitance"
	Concentration           Dimension = "concentration"
	Time                    Dimension = "time"
	TimeSquared             Dimension = "time2"
	Temperature             Dimension = "temperature"
	Charge                  Dimension = "charge"
	ChargeDensity           Dimension = "charge_density"
	Length                  Dimension = "length"
	Flux                    Dimension = "flux"
	MassPerCharge           Dimension = "mass_per_charge"
	PerTime                 Dimension = "per_time"
	PerVoltage              Dimension = "per_voltage"
	PerTimePerConcentration Dimension = "per_time_per_concentration"
	SubstancePerArea        Dimension = "substance_per_area"
	EnergyPerTemperature    Dimension = "energy_per_temperature"
)

// baseDims holds exponents of the SI base units, in the order
// metre, kilogram, second, ampere, kelvin, mole.
type baseDims [6]int

func (d baseDims) mul(o baseDims) baseDims {
	var out baseDims
	for i := range d {
		out[i] = d[i] + o[i]
	}
	return out
}

func (d baseDims) div(o baseDims) baseDims {
	var out baseDims
	for i := range d {
		out[i] = d[i] - o[i]
	}
	return out
}

func (d baseDims) pow(n int) baseDims {
	var out baseDims
	for i := range d {
		out[i] = d[i] * n
	}
	return out
}

func (d baseDims) isDimensionless() bool {
	return d == baseDims{}
}

var (
	dimsNone          = baseDims{}
	dimsLength        = baseDims{1, 0, 0, 0, 0, 0}
	dimsMass          = baseDims{0, 1, 0, 0, 0, 0}
	dimsTime          = baseDims{0, 0, 1, 0, 0, 0}
	dimsCurrent       = baseDims{0, 0, 0, 1, 0, 0}
	dimsTemperature   = baseDims{0, 0, 0, 0, 1, 0}
	dimsSubstance     = baseDims{0, 0, 0, 0, 0, 1}
	dimsVoltage       = baseDims{2, 1, -3, -1, 0, 0}
	dimsConductance   = baseDims{-2, -1, 3, 2, 0, 0}
	dimsCapacitance   = baseDims{-2, -1, 4, 2, 0, 0}
	dimsCharge        = baseDims{0, 0, 1, 1, 0, 0}
	dimsConcentration = baseDims{-3, 0, 0, 0, 0, 1}
	dimsEnergy        = baseDims{2, 1, -2, 0, 0, 0}
	dimsVolume        = baseDims{3, 0, 0, 0, 0, 0}

	dimsArea               = dimsLength.pow(2)
	dimsTimeSquared        = dimsTime.pow(2)
	dimsVoltagePerTime     = dimsVoltage.div(dimsTime)
	dimsConductanceDensity = dimsConductance.div(dimsArea)
	dimsCurrentDensity     = dimsCurrent.div(dimsArea)
	dimsCurrentPerTime     = dimsCurrent.div(dimsTime)
	dimsChargeDensity      = dimsCharge.div(dimsVolume)
	dimsPerTime            = dimsNone.div(dimsTime)
	dimsPerVoltage         = dimsNone.div(dimsVoltage)
	dimsFlux               = dimsMass.div(dimsVolume.mul(dimsTime))
	dimsMassPerCharge      = dimsNone.div(dimsCharge)
	dimsPerTimePerConc     = dimsVolume.div(dimsTime.mul(dimsSubstance))
	dimsSubstancePerArea   = dimsSubstance.div(dimsArea)
	dimsEnergyPerTemp      = dimsEnergy.div(dimsTemperature)
	dimsPermeability       = dimsLength.div(dimsTime)
)

// dimensionTable maps SI dimensionality signatures onto the catalog. The
// m/s entry is NEURON's permeability-as-conductance quirk and is kept
// deliberately.
var dimensionTable = map[baseDims]Dimension{
	dimsNone:               Dimensionless,
	dimsLength:             Length,
	dimsTime:               Time,
	dimsTimeSquared:        TimeSquared,
	dimsCurrent:            Current,
	dimsTemperature:        Temperature,
	dimsVoltage:            Voltage,
	dimsVoltagePerTime:     VoltagePerTime,
	dimsConductance:        Conductance,
	dimsConductanceDensity: ConductanceDensity,
	dimsCapacitance:        Capacitance,
	dimsCharge:             Charge,
	dimsChargeDensity:      ChargeDensity,
	dimsConcentration:      Concentration,
	dimsCurrentDensity:     CurrentDensity,
	dimsCurrentPerTime:     CurrentPerTime,
	dimsPerTime:            PerTime,
	dimsPerVoltage:         PerVoltage,
	dimsFlux:               Flux,
	dimsMassPerCharge:      MassPerCharge,
	dimsPerTimePerConc:     PerTimePerConcentration,
	dimsSubstancePerArea:   SubstancePerArea,
	dimsEnergyPerTemp:      EnergyPerTemperature,
	dimsPermeability:       Conductance,
}

// LookupDimension maps an SI signature onto the catalog.
func lookupDimension(d baseDims) (Dimension, error) {
	if dim, ok := dimensionTable[d]; ok {
		return dim, nil
	}
	return "", fmt.Errorf("units: unrecognised dimensionality %v", d)
}

// signatureTable is the reverse of dimensionTable. Conductance keeps the
// siemens signature, not the m/s quirk, so composing with it stays exact.
var signatureTable = make(map[Dimension]baseDims)

func init() {
	for sig, dim := range dimensionTable {
		if dim == Conductance && sig != dimsConductance {
			continue
		}
		signatureTable[dim] = sig
	}
}

// Mul composes the dimension of a product. ok is false when an operand is
// outside the catalog or the product has no catalog name.
func Mul(a, b Dimension) (Dimension, bool) { return combine(a, b, baseDims.mul) }

// Div composes the dimension of a quotient.
func Div(a, b Dimension) (Dimension, bool) { return combine(a, b, baseDims.div) }

// Pow composes the dimension of an integer power.
func Pow(a Dimension, n int) (Dimension, bool) {
	sig, ok := signatureTable[a]
	if !ok {
		return "", false
	}
	dim, err := lookupDimension(sig.pow(n))
	if err != nil {
		return "", false
	}
	return dim, true
}

func combine(a, b Dimension, op func(baseDims, baseDims) baseDims) (Dimension, bool) {
	sa, ok := signatureTable[a]
	if !ok {
		return "", false
	}
	sb, ok := signatureTable[b]
	if !ok {
		return "", false
	}
	dim, err := lookupDimension(op(sa, sb))
	if err != nil {
		return "", false
	}
	return dim, true
}
