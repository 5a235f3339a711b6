package fingerprint

import (
	"testing"

	"github.com/setevik/errtrack/internal/report"
)

func makeReport(appID, errType, msg string, backtrace []string) report.Report {
	return report.Report{
		ApplicationID: appID,
		Type:          errType,
		Message:       msg,
		Backtrace:     backtrace,
		Context: report.Context{
			Controller: "users",
			Action:     "show",
		},
	}
}

func TestComputeDeterministic(t *testing.T) {
	e := New(nil)
	r := makeReport("app1", "NoMethodError", "undefined method 'foo' for nil", []string{
		"app/models/user.rb:42:in `foo'",
		"app/controllers/users_controller.rb:10:in `show'",
	})

	fp1 := e.Compute(r)
	fp2 := e.Compute(r)
	if fp1 != fp2 {
		t.Errorf("fingerprint not deterministic: %q vs %q", fp1, fp2)
	}
	if len(fp1) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(fp1))
	}
}

func TestComputeNormalizesNumericLiterals(t *testing.T) {
	e := New(nil)
	bt := []string{"app/models/order.rb:12:in `find'"}

	a := e.Compute(makeReport("app1", "ActiveRecord::RecordNotFound", "Couldn't find Order with id=12345", bt))
	b := e.Compute(makeReport("app1", "ActiveRecord::RecordNotFound", "Couldn't find Order with id=99999", bt))
	if a != b {
		t.Errorf("numeric literals should not change fingerprint: %q vs %q", a, b)
	}
}

func TestComputeIgnoresLineNumbers(t *testing.T) {
	e := New(nil)
	a := e.Compute(makeReport("app1", "TypeError", "no implicit conversion", []string{
		"app/models/user.rb:10:in `save'",
	}))
	b := e.Compute(makeReport("app1", "TypeError", "no implicit conversion", []string{
		"app/models/user.rb:99:in `save'",
	}))
	if a != b {
		t.Errorf("line numbers should not change fingerprint: %q vs %q", a, b)
	}
}

func TestComputeIgnoresFrameOrder(t *testing.T) {
	e := New(nil)
	a := e.Compute(makeReport("app1", "TypeError", "boom", []string{
		"app/a.rb:1:in `x'",
		"app/b.rb:2:in `y'",
	}))
	b := e.Compute(makeReport("app1", "TypeError", "boom", []string{
		"app/b.rb:7:in `y'",
		"app/a.rb:3:in `x'",
	}))
	if a != b {
		t.Errorf("frame order should not change fingerprint: %q vs %q", a, b)
	}
}

func TestComputeTenantIsolation(t *testing.T) {
	e := New(nil)
	bt := []string{"app/models/user.rb:42:in `foo'"}

	a := e.Compute(makeReport("app1", "NoMethodError", "boom", bt))
	b := e.Compute(makeReport("app2", "NoMethodError", "boom", bt))
	if a == b {
		t.Error("different tenants must get different fingerprints")
	}
}

func TestComputeEmptyInputs(t *testing.T) {
	e := New(nil)
	fp := e.Compute(report.Report{})
	if len(fp) != 16 {
		t.Errorf("empty report fingerprint length = %d, want 16", len(fp))
	}
}

func TestComputeUnrecognizableBacktrace(t *testing.T) {
	e := New(nil)
	a := e.Compute(makeReport("app1", "TypeError", "boom", []string{"garbage", "???"}))
	b := e.Compute(makeReport("app1", "TypeError", "boom", nil))
	if a != b {
		t.Errorf("unrecognizable backtrace should contribute nothing: %q vs %q", a, b)
	}
}

func TestCustomStrategy(t *testing.T) {
	forced := StrategyFunc(func(r report.Report) (string, bool) {
		return "everything-is-one-error", true
	})
	e := New(forced)

	a := e.Compute(makeReport("app1", "TypeError", "boom", nil))
	b := e.Compute(makeReport("app1", "NoMethodError", "completely different", nil))
	if a != b {
		t.Errorf("strategy should force grouping: %q vs %q", a, b)
	}

	// Tenant isolation survives custom strategies.
	c := e.Compute(makeReport("app2", "TypeError", "boom", nil))
	if a == c {
		t.Error("custom strategy must not break tenant isolation")
	}
}

func TestNormalizeMessage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Couldn't find User with id=123", "Couldn't find User with id=N"},
		{`undefined method 'foo' for nil`, `undefined method '' for nil`},
		{`invalid value "bar" for setting`, `invalid value "" for setting`},
		{"pointer at 0xdeadbeef", "pointer at 0xADDR"},
		{"no method for #<User:0x00007f9>", "no method for #<OBJECT>"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeMessage(tt.in); got != tt.want {
			t.Errorf("NormalizeMessage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
