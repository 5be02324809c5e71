package expr

import (
	"math"
	"testing"
)

func TestParseString_RoundTrip(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"1", "1"},
		{"-1.5", "-1.5"},
		{"a + b", "a + b"},
		{"a+b*c", "a + b*c"},
		{"(a+b)*c", "(a + b)*c"},
		{"a - (b - c)", "a - (b - c)"},
		{"a - b - c", "a - b - c"},
		{"a/b/c", "a/b/c"},
		{"a/(b*c)", "a/(b*c)"},
		{"2^3^2", "2^3^2"},
		{"(2^3)^2", "(2^3)^2"},
		{"exp(-v/kt)", "exp(-v/kt)"},
		{"pow(a, 2)", "pow(a, 2)"},
		{"a > b && c <= d", "a > b && c <= d"},
		{"!(a == b)", "!(a == b)"},
		{"1e-3*tau", "0.001*tau"},
	}
	for _, tc := range cases {
		node, err := Parse(tc.input)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", tc.input, err)
			continue
		}
		if got := node.String(); got != tc.want {
			t.Errorf("Parse(%q).String() = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestParse_Reparse(t *testing.T) {
	// Printing and re-parsing must yield an equal tree.
	inputs := []string{
		"gbar*m^3*h*(v - ena)",
		"(alpha*(1 - m) - beta*m)/tau",
		"exp((v + 65)/10) - 1",
		"a && (b || !c)",
		"(2^3)^2",
		"2^(3^2)",
	}
	for _, input := range inputs {
		first, err := Parse(input)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", input, err)
		}
		second, err := Parse(first.String())
		if err != nil {
			t.Fatalf("re-Parse(%q) failed: %v", first.String(), err)
		}
		if !Equal(first, second) {
			t.Errorf("%q: re-parsed tree differs: %q vs %q", input, first, second)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	inputs := []string{"", "1 +", "(a", "a b", "1..2", ")("}
	for _, input := range inputs {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) should fail", input)
		}
	}
}

func TestSubstitute_WholeIdentifiersOnly(t *testing.T) {
	// Substituting m must not touch m2 or tau_m.
	node, err := Parse("m + m2*tau_m")
	if err != nil {
		t.Fatal(err)
	}
	got := Substitute(node, "m", &Num{Value: 0.5})
	if got.String() != "0.5 + m2*tau_m" {
		t.Errorf("got %q", got)
	}
}

func TestSubstitute_KeepsGrouping(t *testing.T) {
	node, err := Parse("a*x")
	if err != nil {
		t.Fatal(err)
	}
	repl, err := Parse("b + c")
	if err != nil {
		t.Fatal(err)
	}
	got := Substitute(node, "x", repl)
	if got.String() != "a*(b + c)" {
		t.Errorf("substitution lost grouping: %q", got)
	}
}

func TestSubstituteAll_Simultaneous(t *testing.T) {
	node, err := Parse("a + b")
	if err != nil {
		t.Fatal(err)
	}
	got := SubstituteAll(node, map[string]Node{
		"a": &Sym{Name: "b"},
		"b": &Sym{Name: "a"},
	})
	if got.String() != "b + a" {
		t.Errorf("swap failed: %q", got)
	}
}

func TestEval(t *testing.T) {
	env := NewEnv()
	env.Vars["v"] = -65
	env.Vars["m"] = 0.5

	cases := []struct {
		input string
		want  float64
	}{
		{"2 + 3*4", 14},
		{"m*(v + 65)", 0},
		{"2^10", 1024},
		{"(2^3)^2", 64},
		{"2^3^2", 512},
		{"v < 0", 1},
		{"v > 0 || m == 0.5", 1},
		{"exp(0)", 1},
		{"max(v, m, 3)", 3},
		{"abs(v)", 65},
	}
	for _, tc := range cases {
		node, err := Parse(tc.input)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", tc.input, err)
		}
		got, err := Eval(node, env)
		if err != nil {
			t.Errorf("Eval(%q) failed: %v", tc.input, err)
			continue
		}
		if math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("Eval(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestEval_Errors(t *testing.T) {
	cases := []string{"undefined + 1", "1/0", "nosuchfn(1)"}
	for _, input := range cases {
		node, err := Parse(input)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", input, err)
		}
		if _, err := Eval(node, NewEnv()); err == nil {
			t.Errorf("Eval(%q) should fail", input)
		}
	}
}

func TestNewPiecewise_RequiresOtherwise(t *testing.T) {
	cond, _ := Parse("v < 0")
	val, _ := Parse("v/10")
	if _, err := NewPiecewise([]Piece{{Expr: val, Cond: cond}}, nil); err == nil {
		t.Error("piecewise without otherwise should fail")
	}
	pw, err := NewPiecewise([]Piece{{Expr: val, Cond: cond}}, &Num{Value: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !pw.HasOtherwise() {
		t.Error("HasOtherwise should hold after NewPiecewise")
	}
	if pw.Otherwise().String() != "1" {
		t.Errorf("Otherwise() = %q", pw.Otherwise())
	}
}

func TestPiecewise_EvalFirstMatch(t *testing.T) {
	lo, _ := Parse("v/10")
	cond, _ := Parse("v < 0")
	pw, err := NewPiecewise([]Piece{{Expr: lo, Cond: cond}}, &Num{Value: 1})
	if err != nil {
		t.Fatal(err)
	}
	env := NewEnv()
	env.Vars["v"] = -20
	got, err := Eval(pw, env)
	if err != nil {
		t.Fatal(err)
	}
	if got != -2 {
		t.Errorf("piecewise eval = %v, want -2", got)
	}
	env.Vars["v"] = 30
	got, err = Eval(pw, env)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("otherwise eval = %v, want 1", got)
	}
}

func TestRewriteCalls_InnermostFirst(t *testing.T) {
	node, err := Parse("f(g(x)) + g(y)")
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	RewriteCalls(node, func(c *Call) Node {
		order = append(order, c.Func)
		return nil
	})
	if len(order) != 3 || order[0] != "g" || order[1] != "f" || order[2] != "g" {
		t.Errorf("visit order = %v, want [g f g]", order)
	}
}

func TestSymbols(t *testing.T) {
	node, err := Parse("gbar*m^3*h*(v - ena) + exp(v/kt)")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"gbar": true, "m": true, "h": true, "v": true, "ena": true, "kt": true}
	syms := Symbols(node)
	if len(syms) != len(want) {
		t.Fatalf("Symbols = %v", syms)
	}
	for _, s := range syms {
		if !want[s] {
			t.Errorf("unexpected symbol %q", s)
		}
	}
}

func TestAndNot(t *testing.T) {
	a, _ := Parse("x > 0")
	if got := And(&Bool{Value: true}, a); !Equal(got, a) {
		t.Errorf("And(true, a) = %q", got)
	}
	if got := And(a, &Bool{Value: true}); !Equal(got, a) {
		t.Errorf("And(a, true) = %q", got)
	}
	if got := And(a, a).String(); got != "x > 0 && x > 0" {
		t.Errorf("And(a, a) = %q", got)
	}
	if got := Not(&Bool{Value: true}); IsTrue(got) {
		t.Error("Not(true) should be false")
	}
	if got := Not(a).String(); got != "!(x > 0)" {
		t.Errorf("Not(a) = %q", got)
	}
}
