package dynamics

import (
	"errors"
	"testing"

	"github.com/nineml-xyz/go-nineml/expr"
	"github.com/nineml-xyz/go-nineml/units"
)

func parse(t *testing.T, src string) expr.Node {
	t.Helper()
	n, err := expr.Parse(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return n
}

// minimal returns a valid single-regime model to mutate in the failure
// cases.
func minimal(t *testing.T) *Dynamics {
	t.Helper()
	d := New("leak")
	d.Parameters["g"] = Parameter{Name: "g", Dimension: units.Conductance}
	d.StateVariables["m"] = StateVariable{Name: "m", Dimension: units.Dimensionless}
	d.Aliases["rate"] = Alias{Name: "rate", RHS: parse(t, "g*m")}
	d.Regimes["regime_0"] = &Regime{
		Name: "regime_0",
		TimeDerivatives: []TimeDerivative{
			{Variable: "m", RHS: parse(t, "1 - m")},
		},
	}
	d.DefaultRegime = "regime_0"
	return d
}

func TestValidate_OK(t *testing.T) {
	if err := minimal(t).Validate(); err != nil {
		t.Fatalf("valid model rejected: %v", err)
	}
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*testing.T, *Dynamics)
		want   error
	}{
		{
			"empty name",
			func(t *testing.T, d *Dynamics) { d.Name = "" },
			ErrEmptyName,
		},
		{
			"missing default regime",
			func(t *testing.T, d *Dynamics) { d.DefaultRegime = "regime_9" },
			ErrNoDefaultRegime,
		},
		{
			"transition to unknown regime",
			func(t *testing.T, d *Dynamics) {
				r := d.Regimes["regime_0"]
				r.OnConditions = append(r.OnConditions, OnCondition{
					Trigger:      parse(t, "m > 1"),
					TargetRegime: "nowhere",
				})
			},
			ErrUnknownRegime,
		},
		{
			"unresolved symbol in alias",
			func(t *testing.T, d *Dynamics) {
				d.Aliases["bad"] = Alias{Name: "bad", RHS: parse(t, "g*phantom")}
			},
			ErrUnresolvedSymbol,
		},
		{
			"name in two namespaces",
			func(t *testing.T, d *Dynamics) {
				d.Parameters["m"] = Parameter{Name: "m", Dimension: units.Dimensionless}
			},
			ErrNameCollision,
		},
		{
			"bad reduce operator",
			func(t *testing.T, d *Dynamics) {
				d.AnalogPorts["iExt"] = AnalogPort{
					Name: "iExt", Mode: Reduce, ReduceOp: "*", Dimension: units.Current,
				}
			},
			ErrBadReduceOp,
		},
		{
			"assignment to undeclared state",
			func(t *testing.T, d *Dynamics) {
				r := d.Regimes["regime_0"]
				r.OnConditions = append(r.OnConditions, OnCondition{
					Trigger:      parse(t, "m > 1"),
					Assignments:  []StateAssignment{{Variable: "q", RHS: parse(t, "0")}},
					TargetRegime: "regime_0",
				})
			},
			ErrUnknownState,
		},
		{
			"time derivative of undeclared state",
			func(t *testing.T, d *Dynamics) {
				r := d.Regimes["regime_0"]
				r.TimeDerivatives = append(r.TimeDerivatives, TimeDerivative{
					Variable: "q", RHS: parse(t, "0"),
				})
			},
			ErrUnknownState,
		},
		{
			"piecewise without otherwise",
			func(t *testing.T, d *Dynamics) {
				d.Aliases["pw"] = Alias{Name: "pw", RHS: &expr.Piecewise{
					Pieces: []expr.Piece{{Expr: parse(t, "1"), Cond: parse(t, "m > 0")}},
				}}
			},
			ErrNoOtherwise,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := minimal(t)
			tc.mutate(t, d)
			err := d.Validate()
			if err == nil {
				t.Fatal("expected validation failure")
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestValidate_SendPortMayShadowAlias(t *testing.T) {
	d := minimal(t)
	d.AnalogPorts["rate"] = AnalogPort{
		Name: "rate", Mode: Send, Dimension: units.Conductance,
	}
	if err := d.Validate(); err != nil {
		t.Errorf("send port sharing an alias name should validate: %v", err)
	}
}

func TestValidate_ReservedTime(t *testing.T) {
	d := minimal(t)
	r := d.Regimes["regime_0"]
	r.OnConditions = append(r.OnConditions, OnCondition{
		Trigger:      parse(t, "t > 10"),
		TargetRegime: "regime_0",
	})
	if err := d.Validate(); err != nil {
		t.Errorf("t should always resolve: %v", err)
	}
}

func TestPortAccessors(t *testing.T) {
	d := minimal(t)
	d.AnalogPorts["v"] = AnalogPort{Name: "v", Mode: Receive, Dimension: units.Voltage}
	d.AnalogPorts["iExt"] = AnalogPort{Name: "iExt", Mode: Reduce, ReduceOp: "+", Dimension: units.Current}
	d.AnalogPorts["rate"] = AnalogPort{Name: "rate", Mode: Send, Dimension: units.Conductance}

	recv := d.ReceivePorts()
	if len(recv) != 2 {
		t.Errorf("ReceivePorts = %v, want v and iExt", recv)
	}
	send := d.SendPorts()
	if len(send) != 1 || send[0] != "rate" {
		t.Errorf("SendPorts = %v, want [rate]", send)
	}
	if d.Default() != d.Regimes["regime_0"] {
		t.Error("Default() should return regime_0")
	}
}
