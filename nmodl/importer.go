package nmodl

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nineml-xyz/go-nineml/dynamics"
	"github.com/nineml-xyz/go-nineml/expr"
	"github.com/nineml-xyz/go-nineml/units"
)

// ImportOptions controls a single import.
type ImportOptions struct {
	// Name overrides the component name when the source declares none.
	Name string
	// AddMembraneVoltage forces synthesis of the membrane equation even
	// when no transition assigns to v.
	AddMembraneVoltage bool
	// FlattenKinetics expands KINETIC reaction schemes into explicit rate
	// equations instead of rejecting them.
	FlattenKinetics bool
	// Logger receives warnings as they are discovered. The zero value
	// discards them (they are still collected on the importer).
	Logger zerolog.Logger
}

// Property is a parameter's declared default value and unit string.
type Property struct {
	Value float64
	Units string
}

// subroutine is a FUNCTION or PROCEDURE definition awaiting inlining.
type subroutine struct {
	name     string
	args     []string
	argUnits []string
	body     []string
}

// ion is one USEION declaration.
type ion struct {
	name    string
	read    []string
	write   []string
	valence int
}

type linearEq struct {
	lhs, rhs string
}

type regimePart struct {
	name            string
	timeDerivatives []dynamics.TimeDerivative
}

type receiveArg struct {
	name string
	dim  units.Dimension
}

// netReceive is one flag-keyed event handler extracted from NET_RECEIVE.
// target is the flag a delayed net_send dispatches to, -1 for a return to
// the default regime.
type netReceive struct {
	target       int
	delay        expr.Node
	args         []receiveArg
	assignments  map[string]dynamics.StateAssignment
	aliases      map[string]dynamics.Alias
	outputEvents map[string]dynamics.OutputEvent
}

func newNetReceive() *netReceive {
	return &netReceive{
		target:       -1,
		assignments:  map[string]dynamics.StateAssignment{},
		aliases:      map[string]dynamics.Alias{},
		outputEvents: map[string]dynamics.OutputEvent{},
	}
}

// Importer holds every declaration extracted from one source file and
// assembles them into a Dynamics. Warnings accumulate in discovery order;
// IncompleteImport marks that a block failed to translate and its
// contributions were dropped.
type Importer struct {
	Title            string
	Comments         []string
	Name             string
	ModelKind        string
	Warnings         []string
	IncompleteImport bool

	opts ImportOptions
	log  zerolog.Logger

	resolver  *units.Resolver
	usedUnits []string
	blocks    *blockSet

	aliases        map[string]dynamics.Alias
	constants      map[string]dynamics.Constant
	properties     map[string]Property
	stateVariables map[string]dynamics.StateVariable
	parameters     map[string]dynamics.Parameter
	analogPorts    map[string]dynamics.AnalogPort
	eventPorts     map[string]dynamics.EventPort
	regimes        map[string]*dynamics.Regime
	defaultRegime  string

	kinetics         map[string]*kineticScheme
	usedIons         map[string]*ion
	ionOrder         []string
	initialState     map[string]expr.Node
	initStatements   *stmtMap
	initConstants    map[string]dynamics.Constant
	validParamRanges map[string][2]float64
	validStateRanges map[string][2]string
	globalVars       []string
	rangeVars        map[string]bool
	pointers         map[string]bool

	functions         map[string]*subroutine
	procedures        map[string]*subroutine
	dimensions        map[string]units.Dimension
	hasDim            map[string]bool
	linearEquations   map[string][]linearEq
	breakpointSolve   map[string]string
	initialSolve      map[string]string
	regimeParts       []regimePart
	initialFlag       *int
	netReceives       map[int]*netReceive
	triggers          map[int][]expr.Node
	breakpointAliases map[string]dynamics.Alias
}

// Import parses NMODL source and assembles the dynamics model.
func Import(src string, opts ImportOptions) (*dynamics.Dynamics, error) {
	imp, err := Parse(src, opts)
	if err != nil {
		return nil, err
	}
	return imp.Dynamics()
}

// ImportFile imports a mechanism from a .mod file. The file's base name is
// the fallback component name.
func ImportFile(path string, opts ImportOptions) (*dynamics.Dynamics, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nmodl: %w", err)
	}
	if opts.Name == "" {
		opts.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return Import(string(contents), opts)
}

// Parse runs the extraction pipeline without assembling the final model,
// giving access to warnings, properties and initial state.
func Parse(src string, opts ImportOptions) (*Importer, error) {
	imp := &Importer{
		opts:              opts,
		log:               opts.Logger,
		resolver:          units.NewResolver(),
		usedUnits:         []string{"degC", "kelvin"},
		aliases:           map[string]dynamics.Alias{},
		constants:         map[string]dynamics.Constant{},
		properties:        map[string]Property{},
		stateVariables:    map[string]dynamics.StateVariable{},
		parameters:        map[string]dynamics.Parameter{},
		analogPorts:       map[string]dynamics.AnalogPort{},
		eventPorts:        map[string]dynamics.EventPort{},
		regimes:           map[string]*dynamics.Regime{},
		kinetics:          map[string]*kineticScheme{},
		usedIons:          map[string]*ion{},
		initialState:      map[string]expr.Node{},
		initStatements:    newStmtMap(),
		initConstants:     map[string]dynamics.Constant{},
		validParamRanges:  map[string][2]float64{},
		validStateRanges:  map[string][2]string{},
		rangeVars:         map[string]bool{},
		pointers:          map[string]bool{},
		functions:         map[string]*subroutine{},
		procedures:        map[string]*subroutine{},
		dimensions:        map[string]units.Dimension{},
		hasDim:            map[string]bool{},
		linearEquations:   map[string][]linearEq{},
		breakpointSolve:   map[string]string{},
		initialSolve:      map[string]string{},
		netReceives:       map[int]*netReceive{},
		triggers:          map[int][]expr.Node{},
		breakpointAliases: map[string]dynamics.Alias{},
	}
	contents, comments := stripRegions(commentsRe, src)
	imp.Comments = comments
	contents, verbatims := stripRegions(verbatimRe, contents)
	if len(verbatims) > 0 {
		imp.warnf("VERBATIM segments have been ignored")
	}
	imp.Title = readTitle(contents)
	blocks, err := readBlocks(contents)
	if err != nil {
		return nil, err
	}
	imp.blocks = blocks

	if err := imp.extractDefines(contents); err != nil {
		return nil, err
	}
	if err := imp.extractNeuronBlock(); err != nil {
		return nil, err
	}
	if err := imp.extractUnitsBlock(); err != nil {
		return nil, err
	}
	if err := imp.extractAssignedBlock(); err != nil {
		return nil, err
	}
	if err := imp.extractSubroutines(); err != nil {
		return nil, err
	}
	if err := imp.extractParameterBlocks(); err != nil {
		return nil, err
	}
	// INITIAL comes before STATE so state dimensions can be read off the
	// initialisation statements.
	if err := imp.extractInitialBlock(); err != nil {
		return nil, err
	}
	if err := imp.extractStateBlock(); err != nil {
		return nil, err
	}
	imp.createStateVariables()
	if err := imp.extractLinearBlocks(); err != nil {
		return nil, err
	}
	if err := imp.extractKineticBlocks(); err != nil {
		return nil, err
	}
	if err := imp.extractDerivativeBlocks(); err != nil {
		return nil, err
	}
	if err := imp.extractBreakpointBlock(); err != nil {
		imp.IncompleteImport = true
		imp.warnf("could not import BREAKPOINT block (aliases will be omitted): %v", err)
	}
	if err := imp.extractNetReceiveBlock(); err != nil {
		imp.IncompleteImport = true
		imp.warnf("could not import NET_RECEIVE block (transitions will be omitted): %v", err)
	}
	imp.blocks.pop("INDEPENDENT")
	if left := imp.blocks.remaining(); len(left) > 0 {
		return nil, consistencyErrf("unhandled blocks after extraction: %s",
			strings.Join(left, ", "))
	}

	imp.createParametersAndPorts()
	if err := imp.createRegimes(); err != nil {
		return nil, err
	}
	imp.addReservedVariables()
	if len(imp.kinetics) == 0 {
		imp.cleanInitParameters()
	}
	return imp, nil
}

// Properties returns parameter default values declared in the source.
func (imp *Importer) Properties() map[string]Property {
	out := make(map[string]Property, len(imp.properties))
	for k, v := range imp.properties {
		out[k] = v
	}
	return out
}

// InitialState returns the state initialisation expressions.
func (imp *Importer) InitialState() map[string]expr.Node {
	out := make(map[string]expr.Node, len(imp.initialState))
	for k, v := range imp.initialState {
		out[k] = expr.Clone(v)
	}
	return out
}

// InitConstants returns parameters demoted to initialisation-only constants.
func (imp *Importer) InitConstants() map[string]dynamics.Constant {
	out := make(map[string]dynamics.Constant, len(imp.initConstants))
	for k, v := range imp.initConstants {
		out[k] = v
	}
	return out
}

func (imp *Importer) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	imp.Warnings = append(imp.Warnings, msg)
	imp.log.Warn().Str("component", imp.Name).Msg(msg)
}

func (imp *Importer) isStateVariable(name string) bool {
	_, ok := imp.stateVariables[name]
	return ok
}

func (imp *Importer) isParameter(name string) bool {
	_, ok := imp.properties[name]
	return ok
}

func (imp *Importer) hasDimension(name string) bool {
	return imp.hasDim[name]
}

func (imp *Importer) setDimension(name string, dim units.Dimension) {
	imp.dimensions[name] = dim
	imp.hasDim[name] = true
}

func (imp *Importer) promoteStateVariable(name string) {
	imp.stateVariables[name] = dynamics.StateVariable{
		Name:      name,
		Dimension: imp.dimensions[name],
	}
}

func (imp *Importer) setAlias(name string, rhs expr.Node) {
	imp.aliases[name] = dynamics.Alias{Name: name, RHS: rhs}
}

// escapePiecewise moves a piecewise right-hand side behind a named alias so
// time derivatives and state initialisations stay simple expressions.
func (imp *Importer) escapePiecewise(lhs string, rhs expr.Node) expr.Node {
	if _, ok := rhs.(*expr.Piecewise); ok {
		name := lhs + "__piecewise"
		imp.setAlias(name, rhs)
		return &expr.Sym{Name: name}
	}
	return rhs
}

// ---------------------------------------------------------------------------
// Block extractors, in pipeline order. Each pops the blocks it owns.
// ---------------------------------------------------------------------------

func (imp *Importer) extractDefines(contents string) error {
	for _, m := range defineRe.FindAllStringSubmatch(contents, -1) {
		name := m[1]
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return parseErrf(m[0], "cannot parse DEFINE value")
		}
		imp.parameters[name] = dynamics.Parameter{Name: name, Dimension: units.Dimensionless}
		imp.properties[name] = Property{Value: value, Units: "dimensionless"}
	}
	return nil
}

var (
	useionRe  = regexp.MustCompile(`USEION (\w+)`)
	readRe    = regexp.MustCompile(`READ ((?:\w+(?: *, *)?)+)`)
	writeRe   = regexp.MustCompile(`WRITE ((?:\w+(?: *, *)?)+)`)
	valenceRe = regexp.MustCompile(`VALENCE (-?\d+)`)
	nonspecRe = regexp.MustCompile(`NONSPECIFIC_CURRENT (\w+)`)
)

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (imp *Importer) extractNeuronBlock() error {
	lines, ok := imp.blocks.pop("NEURON")
	if !ok {
		// Bare mechanism fragments are importable; the component name then
		// comes from the options or the file name.
		imp.ModelKind = "mechanism"
		imp.Name = imp.opts.Name
		if imp.Name == "" {
			imp.Name = "unnamed"
		}
		return nil
	}
	lines = cleanLines(lines)
	// The model kind must be known before ion currents are dimensioned, so
	// scan for it first.
	imp.ModelKind = "mechanism"
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "SUFFIX"):
			imp.Name = strings.Fields(line)[1]
			imp.ModelKind = "mechanism"
		case strings.HasPrefix(line, "POINT_PROCESS"):
			imp.Name = strings.Fields(line)[1]
			imp.ModelKind = "point_process"
		case strings.HasPrefix(line, "ARTIFICIAL_CELL"):
			imp.Name = strings.Fields(line)[1]
			imp.ModelKind = "artificial"
		}
	}
	if imp.opts.Name != "" {
		imp.Name = imp.opts.Name
	}
	if imp.Name == "" {
		imp.Name = "unnamed"
	}
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "RANGE"):
			for _, v := range splitList(line[len("RANGE"):]) {
				imp.rangeVars[v] = true
			}
		case strings.HasPrefix(line, "POINTER"):
			for _, v := range splitList(line[len("POINTER"):]) {
				imp.pointers[v] = true
			}
		case strings.HasPrefix(line, "GLOBAL"):
			imp.globalVars = append(imp.globalVars, splitList(line[len("GLOBAL"):])...)
		case strings.HasPrefix(line, "USEION"):
			name := useionRe.FindStringSubmatch(line)[1]
			io := &ion{name: name}
			if m := readRe.FindStringSubmatch(line); m != nil {
				io.read = splitList(m[1])
			}
			if m := writeRe.FindStringSubmatch(line); m != nil {
				io.write = splitList(m[1])
			}
			if m := valenceRe.FindStringSubmatch(line); m != nil {
				io.valence, _ = strconv.Atoi(m[1])
			}
			for _, c := range append(append([]string{}, io.read...), io.write...) {
				if strings.HasPrefix(c, "i") {
					if strings.HasSuffix(c, "i") || strings.HasSuffix(c, "o") {
						return semanticErrf(
							"ambiguous ion element %q: a leading 'i' marks a current but a trailing 'i'/'o' marks a concentration", c)
					}
					imp.setDimension(c, imp.currentDimension())
				} else if strings.HasSuffix(c, "i") || strings.HasSuffix(c, "o") {
					imp.setDimension(c, units.Concentration)
				}
			}
			imp.usedIons[name] = io
			imp.ionOrder = append(imp.ionOrder, name)
		case strings.HasPrefix(line, "NONSPECIFIC_CURRENT"):
			write := nonspecRe.FindStringSubmatch(line)[1]
			imp.usedIons["__nonspecific__"] = &ion{name: "__nonspecific__", write: []string{write}}
			imp.ionOrder = append(imp.ionOrder, "__nonspecific__")
			imp.setDimension(write, imp.currentDimension())
		}
	}
	return nil
}

// currentDimension is the dimension of a written membrane current, which
// depends on whether the mechanism is distributed or a point process.
func (imp *Importer) currentDimension() units.Dimension {
	if imp.ModelKind == "mechanism" {
		return units.CurrentDensity
	}
	return units.Current
}

var unitsLineRe = regexp.MustCompile(
	`^\(?([\w-]+)\)? *= *\(([\w ./*-]+)\)(?: *\(([\w ./*\d-]+)\))?`)

func (imp *Importer) extractUnitsBlock() error {
	lines, _ := imp.blocks.pop("UNITS")
	for _, line := range cleanLines(lines) {
		m := unitsLineRe.FindStringSubmatch(line)
		if m == nil {
			return parseErrf(line, "cannot parse UNITS declaration")
		}
		if m[3] != "" {
			// A named physical constant, e.g. FARADAY = (faraday) (coulomb).
			name, inbuilt := m[1], m[2]
			c, ok := units.InbuiltConstants[inbuilt]
			if !ok {
				return semanticErrf("unrecognised inbuilt constant %q", inbuilt)
			}
			factor, err := imp.resolver.ConvertFactor(c.Units, m[3])
			if err != nil {
				return err
			}
			imp.constants[name] = dynamics.Constant{
				Name:  name,
				Value: c.Value * factor,
				Units: c.Units,
			}
			continue
		}
		alias, def := m[1], m[2]
		if err := imp.resolver.RegisterAlias(alias, def); err != nil {
			return err
		}
		imp.usedUnits = append(imp.usedUnits, alias)
	}
	return nil
}

func (imp *Importer) extractAssignedBlock() error {
	lines, _ := imp.blocks.pop("ASSIGNED")
	for _, line := range cleanLines(lines) {
		parts := strings.SplitN(line, "(", 2)
		name := strings.TrimSpace(parts[0])
		if strings.ContainsAny(name, " \t") {
			return parseErrf(line, "expected 'var (units)' in ASSIGNED block")
		}
		if len(parts) == 1 {
			imp.setDimension(name, "")
			continue
		}
		unitStr := strings.TrimSuffix(strings.TrimSpace(parts[1]), ")")
		dim, _, err := imp.resolver.Resolve(unitStr)
		if err != nil {
			return err
		}
		imp.setDimension(name, dim)
	}
	return nil
}

var argUnitRe = regexp.MustCompile(`^(\w+)\s*(?:\(([\w/*^ ]+)\))?$`)

func (imp *Importer) extractSubroutines() error {
	for _, kind := range []string{"FUNCTION", "PROCEDURE"} {
		dst := imp.functions
		if kind == "PROCEDURE" {
			dst = imp.procedures
		}
		for signature, body := range imp.blocks.popNamed(kind) {
			// Trailing return units on the signature are dropped; dimension
			// checking happens on the assembled expressions instead.
			if i := strings.Index(signature, "("); i >= 0 {
				head, err := matchingParens(signature[i:])
				if err != nil {
					return err
				}
				signature = signature[:i] + head
			}
			signature = imp.stripUnits(signature)
			m := callHeadRe.FindStringSubmatch(strings.TrimSpace(signature))
			if m == nil {
				return parseErrf(signature, "cannot parse %s signature", kind)
			}
			sub := &subroutine{name: m[1], body: body}
			open := strings.Index(signature, "(")
			arglist := strings.TrimSpace(signature[open+1 : strings.LastIndex(signature, ")")])
			if arglist != "" {
				for _, a := range splitList(arglist) {
					am := argUnitRe.FindStringSubmatch(a)
					if am == nil {
						return parseErrf(signature, "cannot parse %s argument %q", kind, a)
					}
					sub.args = append(sub.args, am[1])
					sub.argUnits = append(sub.argUnits, am[2])
				}
			}
			dst[sub.name] = sub
		}
	}
	return nil
}

var (
	paramNoValRe = regexp.MustCompile(`^(\w+) +\(([\w/*^]+)\)$`)
	paramValRe   = regexp.MustCompile(
		`^([-\d.eE+]+)\s*(?:\(([\w.*/^ ]+)\))?\s*(?:<([-\d.eE]+) *, *([-\d.eE]+)>)?`)
)

func (imp *Importer) extractParameterBlocks() error {
	lines, _ := imp.blocks.pop("PARAMETER")
	if extra, ok := imp.blocks.pop("CONSTANT"); ok {
		lines = append(lines, extra...)
	}
	for _, line := range cleanLines(lines) {
		name, rest, isAssign := splitAssign(line)
		if !isAssign {
			m := paramNoValRe.FindStringSubmatch(line)
			if m == nil {
				return parseErrf(line, "cannot parse parameter declaration")
			}
			// Declared without a default value. celsius and v are reserved
			// and handled separately.
			if m[1] != "celsius" && m[1] != "v" {
				imp.properties[m[1]] = Property{Value: math.NaN(), Units: units.Sanitize(m[2])}
			}
			continue
		}
		m := paramValRe.FindStringSubmatch(rest)
		if m == nil {
			return parseErrf(line, "cannot parse parameter value")
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return parseErrf(line, "cannot parse parameter value %q", m[1])
		}
		unitStr := "dimensionless"
		if m[2] != "" {
			unitStr = units.Sanitize(m[2])
		}
		// A declared value coinciding with an inbuilt physical constant is
		// a constant, not a tunable parameter.
		if _, ok := imp.resolver.MatchConstant(value, unitStr); ok {
			imp.constants[name] = dynamics.Constant{Name: name, Value: value, Units: unitStr}
			continue
		}
		imp.properties[name] = Property{Value: value, Units: unitStr}
		if m[3] != "" && m[4] != "" {
			lo, _ := strconv.ParseFloat(m[3], 64)
			hi, _ := strconv.ParseFloat(m[4], 64)
			imp.validParamRanges[name] = [2]float64{lo, hi}
		}
	}
	return nil
}

var (
	solveInitRe  = regexp.MustCompile(`^SOLVE (\w+) *(?:STEADYSTATE (\w+))?`)
	solveBreakRe = regexp.MustCompile(`^SOLVE (\w+) +METHOD +(\w+)`)
)

func (imp *Importer) extractInitialBlock() error {
	lines, _ := imp.blocks.pop("INITIAL")
	var reduced []string
	for _, line := range cleanLines(lines) {
		if strings.HasPrefix(line, "SOLVE") {
			m := solveInitRe.FindStringSubmatch(line)
			if m == nil {
				return parseErrf(line, "cannot parse SOLVE statement")
			}
			imp.initialSolve[m[1]] = m[2]
			continue
		}
		reduced = append(reduced, line)
	}
	stmts, err := imp.flattenBlock(reduced, nil, "")
	if err != nil {
		return err
	}
	imp.initStatements.merge(stmts)
	return nil
}

var stateLineRe = regexp.MustCompile(
	`^(\w+)(?: *\(([\w /*]+)\))?(?: *FROM *([-\d.]+) *TO *([-\d.]+))?`)

func (imp *Importer) extractStateBlock() error {
	lines, _ := imp.blocks.pop("STATE")
	lines = cleanLines(lines)
	// All states are sometimes listed on one line.
	if len(lines) == 1 && !strings.Contains(lines[0], "(") &&
		!strings.Contains(lines[0], "FROM") {
		lines = strings.Fields(lines[0])
	}
	for _, line := range lines {
		m := stateLineRe.FindStringSubmatch(line)
		if m == nil {
			return parseErrf(line, "cannot parse STATE declaration")
		}
		name := m[1]
		var dim units.Dimension
		if m[2] != "" {
			var err error
			dim, _, err = imp.resolver.Resolve(m[2])
			if err != nil {
				return err
			}
			imp.setDimension(name, dim)
		} else {
			// Infer the dimension from the initialisation when it simply
			// copies another quantity.
			if init, ok := imp.initStatements.get(name); ok && !init.isProc() {
				if sym, isSym := init.node.(*expr.Sym); isSym && imp.hasDim[sym.Name] {
					dim = imp.dimensions[sym.Name]
				}
			}
			imp.setDimension(name, dim)
		}
		if m[3] != "" {
			imp.validStateRanges[name] = [2]string{m[3], m[4]}
		}
		imp.stateVariables[name] = dynamics.StateVariable{Name: name, Dimension: dim}
	}
	return nil
}

// createStateVariables turns initialisation statements into state variables
// and initial values, and picks up the initial event flag from a net_send
// in the INITIAL block.
func (imp *Importer) createStateVariables() {
	imp.initStatements.each(func(lhs string, s statement) {
		if strings.HasPrefix(lhs, inbuiltProcPrefix+"net_send") && len(s.proc.args) == 2 {
			if num, ok := s.proc.args[1].(*expr.Num); ok {
				if imp.initialFlag == nil {
					flag := int(num.Value)
					imp.initialFlag = &flag
				} else {
					imp.warnf("multiple initial event flags found; keeping the first")
				}
			}
			return
		}
		if s.isProc() || isReservedKey(lhs) {
			return
		}
		// Initialised names that never appeared in ASSIGNED or STATE are
		// intermediates of the INITIAL block, not state variables.
		if !imp.hasDim[lhs] && !imp.isStateVariable(lhs) {
			return
		}
		if !imp.isStateVariable(lhs) {
			imp.promoteStateVariable(lhs)
		}
		imp.initialState[lhs] = imp.escapePiecewise(lhs, s.node)
	})
	for name := range imp.pointers {
		if imp.isInternalName(name) {
			continue
		}
		imp.stateVariables[name] = dynamics.StateVariable{
			Name:      name,
			Dimension: imp.dimensions[name],
		}
	}
}

func (imp *Importer) isInternalName(name string) bool {
	if _, ok := imp.parameters[name]; ok {
		return true
	}
	if _, ok := imp.analogPorts[name]; ok {
		return true
	}
	if _, ok := imp.stateVariables[name]; ok {
		return true
	}
	_, ok := imp.aliases[name]
	return ok
}

var linearRe = regexp.MustCompile(`^~ *(.*?) *= *(.*)$`)

func (imp *Importer) extractLinearBlocks() error {
	for name, body := range imp.blocks.popNamed("LINEAR") {
		var eqs []linearEq
		for _, line := range cleanLines(body) {
			m := linearRe.FindStringSubmatch(line)
			if m == nil {
				return parseErrf(line, "cannot parse LINEAR equation")
			}
			eqs = append(eqs, linearEq{lhs: m[1], rhs: m[2]})
		}
		imp.linearEquations[name] = eqs
	}
	return nil
}

func (imp *Importer) extractDerivativeBlocks() error {
	named := imp.blocks.popNamed("DERIVATIVE")
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stmts, err := imp.flattenBlock(named[name], nil, "")
		if err != nil {
			return err
		}
		var tds []dynamics.TimeDerivative
		var ferr error
		stmts.each(func(lhs string, s statement) {
			if ferr != nil || s.isProc() {
				return
			}
			if strings.HasSuffix(lhs, "'") {
				state := strings.TrimSuffix(lhs, "'")
				if !imp.isStateVariable(state) {
					ferr = semanticErrf("time derivative of unrecognised state variable %q", state)
					return
				}
				tds = append(tds, dynamics.TimeDerivative{
					Variable: state,
					RHS:      imp.escapePiecewise(lhs, s.node),
				})
				return
			}
			imp.setAlias(lhs, s.node)
		})
		if ferr != nil {
			return ferr
		}
		imp.regimeParts = append(imp.regimeParts, regimePart{name: name, timeDerivatives: tds})
	}
	return nil
}

func (imp *Importer) extractBreakpointBlock() error {
	lines, _ := imp.blocks.pop("BREAKPOINT")
	var reduced []string
	for _, line := range cleanLines(lines) {
		if strings.HasPrefix(line, "SOLVE") {
			m := solveBreakRe.FindStringSubmatch(line)
			if m == nil {
				return parseErrf(line, "cannot parse SOLVE statement")
			}
			imp.breakpointSolve[m[1]] = m[2]
			continue
		}
		reduced = append(reduced, line)
	}
	stmts, err := imp.flattenBlock(reduced, nil, "")
	if err != nil {
		return err
	}
	stmts.each(func(lhs string, s statement) {
		if s.isProc() || isReservedKey(lhs) {
			return
		}
		alias := dynamics.Alias{Name: lhs, RHS: s.node}
		imp.breakpointAliases[lhs] = alias
		imp.aliases[lhs] = alias
	})
	return nil
}

var receiveArgRe = regexp.MustCompile(`^(\w+)\s*(?:\((\w+)\))?$`)

func (imp *Importer) extractNetReceiveBlock() error {
	arglist, body, ok := imp.blocks.popSignature("NET_RECEIVE")
	if !ok {
		return nil
	}
	var allArgs []receiveArg
	rawArgs, _ := splitArgs(arglist)
	for _, a := range rawArgs {
		m := receiveArgRe.FindStringSubmatch(a)
		if m == nil {
			return parseErrf(a, "cannot parse NET_RECEIVE argument")
		}
		dim := units.Dimensionless
		if m[2] != "" {
			var err error
			dim, _, err = imp.resolver.Resolve(m[2])
			if err != nil {
				return err
			}
		}
		allArgs = append(allArgs, receiveArg{name: m[1], dim: dim})
	}
	stmts, err := imp.flattenBlock(body, nil, "")
	if err != nil {
		return err
	}
	// Group statements by transition flag; untagged statements are common
	// to every transition.
	groups := map[int]*stmtMap{}
	var flags []int
	commonStmts := newStmtMap()
	stmts.each(func(key string, s statement) {
		if flag, rest, ok := transitionFlag(key); ok {
			g := groups[flag]
			if g == nil {
				g = newStmtMap()
				groups[flag] = g
				flags = append(flags, flag)
			}
			g.set(rest, s)
			return
		}
		commonStmts.set(key, s)
	})
	sort.Ints(flags)
	common, err := imp.buildNetReceive(commonStmts, allArgs)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		// No flag dispatch: the whole block is the flag-0 handler.
		imp.netReceives[0] = common
		return nil
	}
	if common.target != -1 {
		return semanticErrf("net_send outside a flag branch cannot change regime")
	}
	for _, flag := range flags {
		nr, err := imp.buildNetReceive(groups[flag], allArgs)
		if err != nil {
			return err
		}
		for k, v := range common.assignments {
			if _, exists := nr.assignments[k]; !exists {
				nr.assignments[k] = v
			}
		}
		for k, v := range common.aliases {
			if _, exists := nr.aliases[k]; !exists {
				nr.aliases[k] = v
			}
		}
		for k, v := range common.outputEvents {
			nr.outputEvents[k] = v
		}
		imp.netReceives[flag] = nr
	}
	return nil
}

func (imp *Importer) buildNetReceive(stmts *stmtMap, allArgs []receiveArg) (*netReceive, error) {
	nr := newNetReceive()
	var ferr error
	stmts.each(func(key string, s statement) {
		if ferr != nil {
			return
		}
		switch {
		case strings.HasPrefix(key, stateAssignPrefix):
			v := strings.TrimPrefix(key, stateAssignPrefix)
			nr.assignments[v] = dynamics.StateAssignment{Variable: v, RHS: s.node}
		case strings.HasPrefix(key, inbuiltProcPrefix+"net_send"):
			if len(s.proc.args) != 2 {
				ferr = semanticErrf("net_send takes a delay and a flag")
				return
			}
			num, ok := s.proc.args[1].(*expr.Num)
			if !ok {
				ferr = semanticErrf("net_send flag must be an integer literal, got %q", s.proc.args[1])
				return
			}
			nr.target = int(num.Value)
			nr.delay = s.proc.args[0]
		case strings.HasPrefix(key, inbuiltProcPrefix+"net_event"):
			nr.outputEvents["spike"] = dynamics.OutputEvent{Port: "spike"}
		case strings.HasPrefix(key, inbuiltProcPrefix+"WATCH"):
			num, ok := s.proc.args[1].(*expr.Num)
			if !ok {
				ferr = semanticErrf("WATCH flag must be an integer literal")
				return
			}
			flag := int(num.Value)
			imp.triggers[flag] = append(imp.triggers[flag], s.proc.args[0])
		case imp.isStateVariable(key) || key == "v":
			nr.assignments[key] = dynamics.StateAssignment{Variable: key, RHS: s.node}
		default:
			nr.aliases[key] = dynamics.Alias{Name: key, RHS: s.node}
		}
	})
	if ferr != nil {
		return nil, ferr
	}
	// Only the event arguments that transitions actually read become ports.
	for _, a := range allArgs {
		used := false
		for _, sa := range nr.assignments {
			if expr.Contains(sa.RHS, a.name) {
				used = true
				break
			}
		}
		if used {
			nr.args = append(nr.args, a)
		}
	}
	if nr.target != -1 {
		if !imp.isStateVariable("last_transition") {
			imp.stateVariables["last_transition"] = dynamics.StateVariable{
				Name:      "last_transition",
				Dimension: units.Time,
			}
		}
		nr.assignments["last_transition"] = dynamics.StateAssignment{
			Variable: "last_transition",
			RHS:      &expr.Sym{Name: "t"},
		}
	}
	return nr, nil
}
