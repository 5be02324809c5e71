package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/nineml-xyz/go-nineml/nmodl"
)

func summaryCmd(args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	membraneVoltage := fs.Bool("membrane-voltage", false, "Synthesize the membrane voltage equation")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: nmodl2nineml summary <file.mod> [options]

Display a quick summary of the imported component class.

Examples:
  nmodl2nineml summary na.mod
`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("mechanism file required")
	}

	d, err := nmodl.ImportFile(fs.Arg(0), nmodl.ImportOptions{
		AddMembraneVoltage: *membraneVoltage,
		Logger:             stderrLogger(),
	})
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	fmt.Printf("Component: %s\n", d.Name)
	fmt.Printf("Artifact:  %s\n", d.ID)

	fmt.Printf("\nParameters (%d):\n", len(d.Parameters))
	for _, name := range sortedKeys(d.Parameters) {
		fmt.Printf("  %s (%s)\n", name, d.Parameters[name].Dimension)
	}

	fmt.Printf("\nState variables (%d):\n", len(d.StateVariables))
	for _, name := range sortedKeys(d.StateVariables) {
		fmt.Printf("  %s (%s)\n", name, d.StateVariables[name].Dimension)
	}

	fmt.Printf("\nAliases (%d):\n", len(d.Aliases))
	for _, name := range sortedKeys(d.Aliases) {
		fmt.Printf("  %s = %s\n", name, d.Aliases[name].RHS)
	}

	fmt.Printf("\nAnalog ports (%d):\n", len(d.AnalogPorts))
	for _, name := range sortedKeys(d.AnalogPorts) {
		p := d.AnalogPorts[name]
		fmt.Printf("  %s %s (%s)\n", p.Mode, name, p.Dimension)
	}
	if len(d.EventPorts) > 0 {
		fmt.Printf("\nEvent ports (%d):\n", len(d.EventPorts))
		for _, name := range sortedKeys(d.EventPorts) {
			fmt.Printf("  %s %s\n", d.EventPorts[name].Mode, name)
		}
	}

	fmt.Printf("\nRegimes (%d, default %s):\n", len(d.Regimes), d.DefaultRegime)
	for _, name := range sortedKeys(d.Regimes) {
		r := d.Regimes[name]
		fmt.Printf("  %s:\n", name)
		for _, td := range r.TimeDerivatives {
			fmt.Printf("    %s' = %s\n", td.Variable, td.RHS)
		}
		for _, oc := range r.OnConditions {
			fmt.Printf("    on %s -> %s\n", oc.Trigger, oc.TargetRegime)
		}
		for _, oe := range r.OnEvents {
			fmt.Printf("    on event %s -> %s\n", oe.SrcPort, oe.TargetRegime)
		}
	}
	return nil
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
