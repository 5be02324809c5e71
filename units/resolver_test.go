package units

import (
	"math"
	"testing"
)

func TestResolve_InbuiltUnits(t *testing.T) {
	r := NewResolver()
	cases := []struct {
		unit  string
		dim   Dimension
		power int
	}{
		{"mV", Voltage, -3},
		{"millivolt", Voltage, -3},
		{"V", Voltage, 0},
		{"ms", Time, -3},
		{"S/cm2", ConductanceDensity, 4},
		{"siemens/cm2", ConductanceDensity, 4},
		{"mA/cm2", CurrentDensity, 1},
		{"nA", Current, -9},
		{"uF", Capacitance, -6},
		{"mM", Concentration, 0},
		{"degC", Temperature, 0},
		{"um", Length, -6},
		{"/ms", PerTime, 3},
		{"1", Dimensionless, 0},
		{"", Dimensionless, 0},
		{"coulomb", Charge, 0},
	}
	for _, tc := range cases {
		dim, power, err := r.Resolve(tc.unit)
		if err != nil {
			t.Errorf("Resolve(%q) failed: %v", tc.unit, err)
			continue
		}
		if dim != tc.dim {
			t.Errorf("Resolve(%q) dimension = %q, want %q", tc.unit, dim, tc.dim)
		}
		if power != tc.power {
			t.Errorf("Resolve(%q) power = %d, want %d", tc.unit, power, tc.power)
		}
	}
}

func TestResolve_Unrecognised(t *testing.T) {
	r := NewResolver()
	for _, unit := range []string{"frobnicate", "mfrobnicate", "S/frob"} {
		if _, _, err := r.Resolve(unit); err == nil {
			t.Errorf("Resolve(%q) should fail", unit)
		}
	}
}

func TestSanitize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1", "dimensionless"},
		{"", "dimensionless"},
		{"mv", "mV"},
		{"/ms", "1/ms"},
		{"cm2", "cm^2"},
		{"S/cm2", "S/cm^2"},
		{"mA-cm", "(mA)/cm"},
		{"mol ms", "mol*ms"},
	}
	for _, tc := range cases {
		if got := Sanitize(tc.in); got != tc.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRegisterAlias(t *testing.T) {
	r := NewResolver()
	if err := r.RegisterAlias("mV", "millivolt"); err != nil {
		t.Errorf("redeclaring mV with its own meaning should pass: %v", err)
	}
	if err := r.RegisterAlias("mV", "ampere"); err == nil {
		t.Error("redeclaring mV as a current should fail")
	}
	if err := r.RegisterAlias("FARADAY", "coulomb"); err != nil {
		t.Fatalf("RegisterAlias failed: %v", err)
	}
	dim, _, err := r.Resolve("FARADAY")
	if err != nil || dim != Charge {
		t.Errorf("Resolve(FARADAY) = %q, %v", dim, err)
	}
	if err := r.RegisterAlias("bogus", "frobnicate"); err == nil {
		t.Error("alias to an unknown unit should fail")
	}
}

func TestMatchConstant(t *testing.T) {
	r := NewResolver()
	if c, ok := r.MatchConstant(96485.3, "coulomb"); !ok || c.Name != "faraday" {
		t.Errorf("faraday not matched: %v %v", c, ok)
	}
	// Same value in a different magnitude of the same dimension.
	if c, ok := r.MatchConstant(96.4853, "kC"); !ok || c.Name != "faraday" {
		t.Errorf("faraday in kC not matched: %v %v", c, ok)
	}
	if c, ok := r.MatchConstant(8.3145, "J/K"); !ok || c.Name != "k-mole" {
		t.Errorf("gas constant not matched: %v %v", c, ok)
	}
	if c, ok := r.MatchConstant(3.14159265, "dimensionless"); !ok || c.Name != "pi" {
		t.Errorf("pi not matched: %v %v", c, ok)
	}
	if _, ok := r.MatchConstant(96485.3, "volt"); ok {
		t.Error("wrong dimension should not match")
	}
	if _, ok := r.MatchConstant(1234.5, "coulomb"); ok {
		t.Error("wrong value should not match")
	}
}

func TestDimensionAlgebra(t *testing.T) {
	mul := []struct {
		a, b Dimension
		want Dimension
	}{
		{Conductance, Voltage, Current},
		{ConductanceDensity, Voltage, CurrentDensity},
		{Dimensionless, Voltage, Voltage},
		{Current, Time, Charge},
		{PerTime, Time, Dimensionless},
	}
	for _, tc := range mul {
		got, ok := Mul(tc.a, tc.b)
		if !ok || got != tc.want {
			t.Errorf("Mul(%s, %s) = %q, %v, want %q", tc.a, tc.b, got, ok, tc.want)
		}
	}
	div := []struct {
		a, b Dimension
		want Dimension
	}{
		{Voltage, Time, VoltagePerTime},
		{Dimensionless, Time, PerTime},
		{Current, Voltage, Conductance},
		// NEURON's permeability-as-conductance quirk.
		{Length, Time, Conductance},
	}
	for _, tc := range div {
		got, ok := Div(tc.a, tc.b)
		if !ok || got != tc.want {
			t.Errorf("Div(%s, %s) = %q, %v, want %q", tc.a, tc.b, got, ok, tc.want)
		}
	}
	if got, ok := Pow(Time, 2); !ok || got != TimeSquared {
		t.Errorf("Pow(time, 2) = %q, %v", got, ok)
	}
	// Signatures outside the catalog and unknown operands do not compose.
	if _, ok := Mul(Voltage, Voltage); ok {
		t.Error("voltage squared has no catalog name")
	}
	if _, ok := Div(Voltage, Current); ok {
		t.Error("resistance has no catalog name")
	}
	if _, ok := Mul(Dimension("resistance"), Voltage); ok {
		t.Error("unknown operand should not compose")
	}
}

func TestConvertFactor(t *testing.T) {
	r := NewResolver()
	f, err := r.ConvertFactor("mV", "V")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(f-1e-3) > 1e-15 {
		t.Errorf("mV->V factor = %v, want 1e-3", f)
	}
	f, err = r.ConvertFactor("V", "mV")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(f-1e3) > 1e-9 {
		t.Errorf("V->mV factor = %v, want 1e3", f)
	}
}
