package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nineml-xyz/go-nineml/nmodl"
)

func validateCmd(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	membraneVoltage := fs.Bool("membrane-voltage", false, "Synthesize the membrane voltage equation")
	strict := fs.Bool("strict", false, "Treat an incomplete import as failure")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: nmodl2nineml validate <file.mod> [options]

Import an NMODL mechanism and report translation errors and warnings
without writing any output.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  nmodl2nineml validate na.mod
  nmodl2nineml validate synapse.mod --strict
`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("mechanism file required")
	}
	path := fs.Arg(0)

	contents, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	imp, err := nmodl.Parse(string(contents), nmodl.ImportOptions{
		Logger: stderrLogger(),
	})
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if _, err := imp.Dynamics(); err != nil {
		return fmt.Errorf("assemble: %w", err)
	}
	if *membraneVoltage {
		opts := nmodl.ImportOptions{AddMembraneVoltage: true, Logger: stderrLogger()}
		if _, err := nmodl.Import(string(contents), opts); err != nil {
			return fmt.Errorf("assemble with membrane voltage: %w", err)
		}
	}

	for _, w := range imp.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	if imp.IncompleteImport {
		if *strict {
			return fmt.Errorf("incomplete import of %s", path)
		}
		fmt.Printf("%s: OK (incomplete, %d warnings)\n", path, len(imp.Warnings))
		return nil
	}
	fmt.Printf("%s: OK (%d warnings)\n", path, len(imp.Warnings))
	return nil
}
