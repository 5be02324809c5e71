package nmodl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nineml-xyz/go-nineml/dynamics"
	"github.com/nineml-xyz/go-nineml/expr"
	"github.com/nineml-xyz/go-nineml/units"
)

// importAll parses and assembles a mechanism, failing the test on either
// stage.
func importAll(t *testing.T, src string, opts ImportOptions) (*Importer, *dynamics.Dynamics) {
	t.Helper()
	imp, err := Parse(src, opts)
	require.NoError(t, err)
	d, err := imp.Dynamics()
	require.NoError(t, err)
	return imp, d
}

const passiveSrc = `TITLE passive leak conductance

COMMENT
A linear leak current.
ENDCOMMENT

NEURON {
    SUFFIX pas
    NONSPECIFIC_CURRENT i
    RANGE g, e
}

UNITS {
    (mV) = (millivolt)
    (S) = (siemens)
}

PARAMETER {
    g = 0.001 (S/cm2)
    e = -70 (mV)
}

BREAKPOINT {
    i = g*(v - e)
}
`

func TestImport_PassiveMechanism(t *testing.T) {
	imp, d := importAll(t, passiveSrc, ImportOptions{})

	assert.Equal(t, "pas", d.Name)
	assert.Equal(t, "passive leak conductance", imp.Title)
	assert.Equal(t, "mechanism", imp.ModelKind)
	require.Len(t, imp.Comments, 1)
	assert.Contains(t, imp.Comments[0], "linear leak")

	require.Contains(t, d.Parameters, "g")
	assert.Equal(t, units.ConductanceDensity, d.Parameters["g"].Dimension)
	require.Contains(t, d.Parameters, "e")
	assert.Equal(t, units.Voltage, d.Parameters["e"].Dimension)

	require.Contains(t, d.Aliases, "i")
	want, err := expr.Parse("g*(v - e)")
	require.NoError(t, err)
	assert.True(t, expr.Equal(d.Aliases["i"].RHS, want), "i = %s", d.Aliases["i"].RHS)

	require.Contains(t, d.AnalogPorts, "i")
	assert.Equal(t, dynamics.Send, d.AnalogPorts["i"].Mode)
	assert.Equal(t, units.CurrentDensity, d.AnalogPorts["i"].Dimension)
	require.Contains(t, d.AnalogPorts, "v")
	assert.Equal(t, dynamics.Receive, d.AnalogPorts["v"].Mode)
	assert.Equal(t, units.Voltage, d.AnalogPorts["v"].Dimension)

	require.Equal(t, "regime_0", d.DefaultRegime)
	require.Len(t, d.Regimes, 1)
	assert.Empty(t, d.Regimes["regime_0"].TimeDerivatives)
	assert.Empty(t, imp.Warnings)
}

func TestImport_MembraneVoltage(t *testing.T) {
	imp, d := importAll(t, passiveSrc, ImportOptions{AddMembraneVoltage: true})

	require.Contains(t, d.StateVariables, "v")
	assert.Equal(t, units.Voltage, d.StateVariables["v"].Dimension)
	require.Contains(t, d.Parameters, "cm")
	assert.Equal(t, units.Capacitance, d.Parameters["cm"].Dimension)
	assert.Equal(t, Property{Value: 1.0, Units: "uF"}, imp.Properties()["cm"])

	require.Contains(t, d.AnalogPorts, "iExt")
	assert.Equal(t, dynamics.Reduce, d.AnalogPorts["iExt"].Mode)
	assert.Equal(t, "+", d.AnalogPorts["iExt"].ReduceOp)
	assert.Equal(t, units.Current, d.AnalogPorts["iExt"].Dimension)

	tds := d.Regimes["regime_0"].TimeDerivatives
	require.Len(t, tds, 1)
	assert.Equal(t, "v", tds[0].Variable)
	assert.Equal(t, "(iExt - i)/cm", tds[0].RHS.String())
}

func TestImport_GatedChannel(t *testing.T) {
	src := `
NEURON {
    SUFFIX kdr
    USEION k READ ek WRITE ik
    RANGE gbar
}

UNITS {
    (mV) = (millivolt)
    (S) = (siemens)
}

PARAMETER {
    gbar = 0.036 (S/cm2)
}

STATE {
    m
}

INITIAL {
    m = 0
}

BREAKPOINT {
    SOLVE states METHOD cnexp
    ik = gbar*m*(v - ek)
}

DERIVATIVE states {
    m' = (1 - m)/5
}
`
	imp, d := importAll(t, src, ImportOptions{})

	require.Contains(t, d.Parameters, "gbar")
	assert.Equal(t, units.ConductanceDensity, d.Parameters["gbar"].Dimension)
	require.Contains(t, d.StateVariables, "m")
	assert.Equal(t, units.Dimensionless, d.StateVariables["m"].Dimension)

	require.Contains(t, d.AnalogPorts, "ek")
	assert.Equal(t, dynamics.Receive, d.AnalogPorts["ek"].Mode)
	assert.Equal(t, units.Voltage, d.AnalogPorts["ek"].Dimension)
	require.Contains(t, d.AnalogPorts, "ik")
	assert.Equal(t, dynamics.Send, d.AnalogPorts["ik"].Mode)
	assert.Equal(t, units.CurrentDensity, d.AnalogPorts["ik"].Dimension)
	require.Contains(t, d.AnalogPorts, "v")
	assert.Equal(t, dynamics.Receive, d.AnalogPorts["v"].Mode)

	r := d.Regimes["regime_0"]
	require.Len(t, r.TimeDerivatives, 1)
	assert.Equal(t, "m", r.TimeDerivatives[0].Variable)
	want, err := expr.Parse("(1 - m)/5")
	require.NoError(t, err)
	assert.True(t, expr.Equal(r.TimeDerivatives[0].RHS, want),
		"m' = %s", r.TimeDerivatives[0].RHS)
	assert.Empty(t, r.OnConditions)
	assert.Empty(t, r.OnEvents)

	init := imp.InitialState()
	require.Contains(t, init, "m")
	assert.True(t, expr.Equal(init["m"], &expr.Num{Value: 0}))
}

func TestImport_ConditionalRateAlias(t *testing.T) {
	src := `
NEURON {
    SUFFIX condtau
}

PARAMETER {
    minf = 0.5
}

STATE {
    m
}

BREAKPOINT {
    SOLVE states METHOD cnexp
}

DERIVATIVE states {
    if (v < -50) {
        tau = 1
    } else {
        tau = 5
    }
    m' = (minf - m)/tau
}
`
	_, d := importAll(t, src, ImportOptions{})

	require.Contains(t, d.Aliases, "tau")
	pw, ok := d.Aliases["tau"].RHS.(*expr.Piecewise)
	require.True(t, ok, "tau = %s", d.Aliases["tau"].RHS)
	assert.Len(t, pw.Pieces, 2)
	assert.True(t, pw.HasOtherwise())

	// The trigger condition reads v, so it must surface as a receive port.
	require.Contains(t, d.AnalogPorts, "v")
	assert.Equal(t, dynamics.Receive, d.AnalogPorts["v"].Mode)
}

func TestImport_SendPortDimensionComposed(t *testing.T) {
	src := `
NEURON {
    SUFFIX composed
}

UNITS {
    (mV) = (millivolt)
    (uS) = (microsiemens)
    (ms) = (millisecond)
}

PARAMETER {
    gmax = 0.001 (uS)
    tref = 2 (ms)
}

ASSIGNED {
    v (mV)
}

BREAKPOINT {
    y = 2*v
    imax = gmax*v
    q = imax*tref
}
`
	_, d := importAll(t, src, ImportOptions{})

	// Undeclared breakpoint quantities get their dimension composed from
	// their defining expressions. Composition settles imax as a current
	// even though the i-prefix default for a density mechanism would be
	// current density.
	cases := map[string]units.Dimension{
		"y":    units.Voltage,
		"imax": units.Current,
		"q":    units.Charge,
	}
	for name, dim := range cases {
		require.Contains(t, d.AnalogPorts, name)
		assert.Equal(t, dynamics.Send, d.AnalogPorts[name].Mode, name)
		assert.Equal(t, dim, d.AnalogPorts[name].Dimension, name)
	}
}

func TestImport_ExpSyn(t *testing.T) {
	src := `
NEURON {
    POINT_PROCESS ExpSyn
    RANGE tau, e
}

UNITS {
    (mV) = (millivolt)
    (uS) = (microsiemens)
}

PARAMETER {
    tau = 2 (ms)
    e = 0 (mV)
}

STATE {
    g (uS)
}

INITIAL {
    g = 0
}

BREAKPOINT {
    SOLVE state METHOD cnexp
    i = g*(v - e)
}

DERIVATIVE state {
    g' = -g/tau
}

NET_RECEIVE (w (uS)) {
    g = g + w
}
`
	_, d := importAll(t, src, ImportOptions{})

	assert.Equal(t, "ExpSyn", d.Name)
	require.Contains(t, d.StateVariables, "g")
	assert.Equal(t, units.Conductance, d.StateVariables["g"].Dimension)

	// The event weight becomes a receive port, the breakpoint current a send
	// port with the point-process current dimension.
	require.Contains(t, d.AnalogPorts, "w")
	assert.Equal(t, dynamics.Receive, d.AnalogPorts["w"].Mode)
	assert.Equal(t, units.Conductance, d.AnalogPorts["w"].Dimension)
	require.Contains(t, d.AnalogPorts, "i")
	assert.Equal(t, dynamics.Send, d.AnalogPorts["i"].Mode)
	assert.Equal(t, units.Current, d.AnalogPorts["i"].Dimension)

	require.Contains(t, d.EventPorts, "incoming_spike")
	assert.Equal(t, dynamics.Receive, d.EventPorts["incoming_spike"].Mode)

	r := d.Regimes["regime_0"]
	require.Len(t, r.OnEvents, 1)
	oe := r.OnEvents[0]
	assert.Equal(t, "incoming_spike", oe.SrcPort)
	assert.Equal(t, "regime_0", oe.TargetRegime)
	require.Len(t, oe.Assignments, 1)
	assert.Equal(t, "g", oe.Assignments[0].Variable)
	want, err := expr.Parse("g + w")
	require.NoError(t, err)
	assert.True(t, expr.Equal(oe.Assignments[0].RHS, want))
}

func TestImport_DelayedNetSendRegimes(t *testing.T) {
	src := `
NEURON {
    POINT_PROCESS RefractoryCell
}

STATE {
    refrac
}

INITIAL {
    refrac = 0
}

NET_RECEIVE (w) {
    if (flag == 1) {
        refrac = 0
    } else {
        refrac = 1
        net_send(5, 1)
    }
}
`
	_, d := importAll(t, src, ImportOptions{})

	require.Len(t, d.Regimes, 2)
	require.Equal(t, "regime_0", d.DefaultRegime)

	// The external event drives the cell into the refractory regime.
	r0 := d.Regimes["regime_0"]
	require.Len(t, r0.OnEvents, 1)
	oe := r0.OnEvents[0]
	assert.Equal(t, "incoming_spike", oe.SrcPort)
	assert.Equal(t, "regime_1", oe.TargetRegime)
	vars := map[string]bool{}
	for _, sa := range oe.Assignments {
		vars[sa.Variable] = true
	}
	assert.True(t, vars["refrac"] && vars["last_transition"],
		"assignments = %v", oe.Assignments)

	// The delayed self-event returns to the default regime.
	r1 := d.Regimes["regime_1"]
	require.Len(t, r1.OnConditions, 1)
	oc := r1.OnConditions[0]
	assert.Equal(t, "t > last_transition + 5", oc.Trigger.String())
	assert.Equal(t, "regime_0", oc.TargetRegime)
	require.Len(t, oc.Assignments, 1)
	assert.Equal(t, "refrac", oc.Assignments[0].Variable)

	require.Contains(t, d.StateVariables, "last_transition")
	assert.Equal(t, units.Time, d.StateVariables["last_transition"].Dimension)

	// The unread weight argument must not surface as a port.
	assert.NotContains(t, d.AnalogPorts, "w")
}

func TestImport_WatchAndNetEvent(t *testing.T) {
	src := `
NEURON {
    POINT_PROCESS SpikeDetector
}

NET_RECEIVE (w) {
    if (flag == 0) {
        WATCH (v > 10) 2
    } else if (flag == 2) {
        net_event(t)
    }
}
`
	_, d := importAll(t, src, ImportOptions{})

	require.Len(t, d.Regimes, 1)
	r := d.Regimes["regime_0"]

	require.Len(t, r.OnConditions, 1)
	oc := r.OnConditions[0]
	assert.Equal(t, "v > 10", oc.Trigger.String())
	assert.Equal(t, "regime_0", oc.TargetRegime)
	require.Len(t, oc.OutputEvents, 1)
	assert.Equal(t, "spike", oc.OutputEvents[0].Port)

	require.Len(t, r.OnEvents, 1)
	assert.Equal(t, "incoming_spike", r.OnEvents[0].SrcPort)

	require.Contains(t, d.EventPorts, "spike")
	assert.Equal(t, dynamics.Send, d.EventPorts["spike"].Mode)
	require.Contains(t, d.AnalogPorts, "v")
	assert.Equal(t, dynamics.Receive, d.AnalogPorts["v"].Mode)
}

func TestImport_ConstantPromotion(t *testing.T) {
	src := `
NEURON {
    SUFFIX consts
}

UNITS {
    FARADAY = (faraday) (coulomb)
    (mV) = (millivolt)
}

PARAMETER {
    R = 8.3145 (J/K)
    amp = 2 (mV)
    scale = 4
}

ASSIGNED {
    q
}

INITIAL {
    q = scale*2
}
`
	imp, d := importAll(t, src, ImportOptions{})

	// Named inbuilt constants from the UNITS block.
	require.Contains(t, d.Constants, "FARADAY")
	assert.InDelta(t, 96485.33, d.Constants["FARADAY"].Value, 1.0)

	// A declared value matching a physical constant is a constant, not a
	// tunable parameter.
	require.Contains(t, d.Constants, "R")
	assert.NotContains(t, d.Parameters, "R")

	// Unreferenced valued parameters demote to initialisation constants.
	assert.NotContains(t, d.Parameters, "amp")
	require.Contains(t, imp.InitConstants(), "amp")
	assert.Equal(t, 2.0, imp.InitConstants()["amp"].Value)
	assert.Equal(t, "mV", imp.InitConstants()["amp"].Units)

	// Parameters the initial state reads survive.
	assert.Contains(t, d.Parameters, "scale")
}

func TestImport_UnresolvableAssignedUnit(t *testing.T) {
	src := `
NEURON {
    SUFFIX bad
}

ASSIGNED {
    foo (frobnicate)
}
`
	_, err := Parse(src, ImportOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frobnicate")
}

func TestImport_UnhandledBlock(t *testing.T) {
	src := `
NEURON {
    SUFFIX stray
}

BOGUS {
    q = 1
}
`
	_, err := Parse(src, ImportOptions{})
	require.Error(t, err)
	var cerr *ConsistencyError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, err.Error(), "BOGUS")
}

func TestImport_MultipleDerivativeBlocks(t *testing.T) {
	src := `
NEURON {
    SUFFIX multi
}

STATE {
    m
    h
}

DERIVATIVE one {
    m' = -m
}

DERIVATIVE two {
    h' = -h
}
`
	_, err := Parse(src, ImportOptions{})
	require.ErrorIs(t, err, ErrMultipleRegimeSets)
}

const kineticSrc = `
NEURON {
    SUFFIX kin
}

PARAMETER {
    kf = 2 (/ms)
    kb = 1 (/ms)
}

STATE {
    C
    O
}

INITIAL {
    C = 1
    O = 0
}

BREAKPOINT {
    SOLVE scheme METHOD sparse
}

KINETIC scheme {
    ~ C <-> O (kf, kb)
    CONSERVE C + O = 1
}
`

func TestImport_KineticsRejectedByDefault(t *testing.T) {
	imp, err := Parse(kineticSrc, ImportOptions{})
	require.NoError(t, err)
	_, err = imp.Dynamics()
	require.ErrorIs(t, err, ErrKineticsUnsupported)
}

func TestImport_KineticsFlattened(t *testing.T) {
	imp, d := importAll(t, kineticSrc, ImportOptions{FlattenKinetics: true})

	tds := d.Regimes["regime_0"].TimeDerivatives
	require.Len(t, tds, 2)
	byVar := map[string]expr.Node{}
	for _, td := range tds {
		byVar[td.Variable] = td.RHS
	}
	wantC, err := expr.Parse("-(kf*C) + kb*O")
	require.NoError(t, err)
	wantO, err := expr.Parse("-(kb*O) + kf*C")
	require.NoError(t, err)
	assert.True(t, expr.Equal(byVar["C"], wantC), "C' = %s", byVar["C"])
	assert.True(t, expr.Equal(byVar["O"], wantO), "O' = %s", byVar["O"])

	// Conservation constraints are recorded but not applied.
	require.NotEmpty(t, imp.Warnings)
	assert.Contains(t, strings.Join(imp.Warnings, "; "), "CONSERVE")
}

func TestImport_BreakpointFailureDowngrades(t *testing.T) {
	src := `
NEURON {
    SUFFIX brk
    NONSPECIFIC_CURRENT i
    RANGE g
}

PARAMETER {
    g = 0.001
}

BREAKPOINT {
    while (q < 10) {
        q = q + 1
    }
}
`
	imp, err := Parse(src, ImportOptions{})
	require.NoError(t, err)
	assert.True(t, imp.IncompleteImport)
	assert.Contains(t, strings.Join(imp.Warnings, "; "), "BREAKPOINT")

	// The model still assembles, minus the breakpoint aliases.
	d, err := imp.Dynamics()
	require.NoError(t, err)
	assert.Empty(t, d.Aliases)
}

func TestImport_IncompleteImportSurfacesOnValidate(t *testing.T) {
	src := `
NEURON {
    SUFFIX strictfail
}

STATE {
    m
}

BREAKPOINT {
    SOLVE states METHOD cnexp
    while (q < 10) {
        q = q + 1
    }
}

DERIVATIVE states {
    m' = -m*rate
}
`
	imp, err := Parse(src, ImportOptions{})
	require.NoError(t, err)
	require.True(t, imp.IncompleteImport)

	// rate was defined by the failed BREAKPOINT block, so assembly cannot
	// resolve it and the failure names the import gap.
	_, err = imp.Dynamics()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete import")
}

func TestImport_ComplexFlagTestDowngrades(t *testing.T) {
	src := `
NEURON {
    POINT_PROCESS cplx
}

STATE {
    m
}

NET_RECEIVE (w) {
    if (flag == 1 || flag == 2) {
        m = 0
    }
}
`
	imp, err := Parse(src, ImportOptions{})
	require.NoError(t, err)
	assert.True(t, imp.IncompleteImport)
	assert.Contains(t, strings.Join(imp.Warnings, "; "), "net-receive flag")
}

func TestImport_NetSendOutsideFlagBranch(t *testing.T) {
	src := `
NEURON {
    POINT_PROCESS leak
}

STATE {
    m
}

NET_RECEIVE (w) {
    net_send(5, 1)
    if (flag == 1) {
        m = 0
    }
}
`
	imp, err := Parse(src, ImportOptions{})
	require.NoError(t, err)
	assert.True(t, imp.IncompleteImport)
	assert.Contains(t, strings.Join(imp.Warnings, "; "), "net_send outside a flag branch")
}

func TestImport_VerbatimWarns(t *testing.T) {
	src := `
NEURON {
    SUFFIX vb
}

VERBATIM
    printf("side effects\n");
ENDVERBATIM
`
	imp, err := Parse(src, ImportOptions{})
	require.NoError(t, err)
	assert.Contains(t, strings.Join(imp.Warnings, "; "), "VERBATIM")
}

func TestImport_NameFallback(t *testing.T) {
	d, err := Import("PARAMETER {\n    g = 1\n}\n", ImportOptions{Name: "fragment"})
	require.NoError(t, err)
	assert.Equal(t, "fragment", d.Name)
}
