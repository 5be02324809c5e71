package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nineml-xyz/go-nineml/nmodl"
)

const passiveMod = `
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

func writeMod(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGetOrImport_Memoizes(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	path := writeMod(t, "pas.mod", passiveMod)

	first, err := r.GetOrImport("pas", path, nmodl.ImportOptions{})
	if err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	second, err := r.GetOrImport("pas", path, nmodl.ImportOptions{})
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	if first != second {
		t.Error("second lookup should return the cached artifact")
	}
	stats := r.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("stats = %+v, want 1 hit, 1 miss, size 1", stats)
	}
}

func TestGetOrImport_OptionsKeyedSeparately(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	path := writeMod(t, "pas.mod", passiveMod)

	plain, err := r.GetOrImport("pas", path, nmodl.ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	withV, err := r.GetOrImport("pas", path, nmodl.ImportOptions{AddMembraneVoltage: true})
	if err != nil {
		t.Fatal(err)
	}
	if plain == withV {
		t.Error("different options should not share a cache entry")
	}
	if _, ok := plain.StateVariables["v"]; ok {
		t.Error("plain import should not synthesize a voltage state")
	}
	if _, ok := withV.StateVariables["v"]; !ok {
		t.Error("membrane-voltage import should synthesize a voltage state")
	}
}

func TestInvalidateAndClear(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	path := writeMod(t, "pas.mod", passiveMod)

	if _, err := r.GetOrImport("pas", path, nmodl.ImportOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := r.Invalidate("pas"); err != nil {
		t.Fatal(err)
	}
	if stats := r.Stats(); stats.Size != 0 {
		t.Errorf("size after invalidate = %d, want 0", stats.Size)
	}
	if _, err := r.GetOrImport("pas", path, nmodl.ImportOptions{}); err != nil {
		t.Fatal(err)
	}
	r.Clear()
	stats := r.Stats()
	if stats.Size != 0 || stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("stats after clear = %+v, want zeroes", stats)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "artifacts.db")
	path := writeMod(t, "pas.mod", passiveMod)

	r1, err := New(WithStore(dsn))
	if err != nil {
		t.Fatal(err)
	}
	imported, err := r1.GetOrImport("pas", path, nmodl.ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := r1.Close(); err != nil {
		t.Fatal(err)
	}

	// A fresh registry on the same store must hit the persisted artifact,
	// even with the source file gone.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	r2, err := New(WithStore(dsn))
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()
	loaded, err := r2.GetOrImport("pas", path, nmodl.ImportOptions{})
	if err != nil {
		t.Fatalf("load from store failed: %v", err)
	}
	if loaded.ID != imported.ID {
		t.Errorf("artifact id changed across store round trip: %s != %s", loaded.ID, imported.ID)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("loaded artifact invalid: %v", err)
	}
}

func TestStoreInvalidate(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "artifacts.db")
	path := writeMod(t, "pas.mod", passiveMod)

	r, err := New(WithStore(dsn))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.GetOrImport("pas", path, nmodl.ImportOptions{}); err != nil {
		t.Fatal(err)
	}
	if n, err := r.store.Count(); err != nil || n != 1 {
		t.Fatalf("store count = %d (%v), want 1", n, err)
	}
	if err := r.Invalidate("pas"); err != nil {
		t.Fatal(err)
	}
	if n, err := r.store.Count(); err != nil || n != 0 {
		t.Fatalf("store count after invalidate = %d (%v), want 0", n, err)
	}
}
