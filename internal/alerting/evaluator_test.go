package alerting

import (
	"testing"

	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
)

func TestSeverityBoundaries(t *testing.T) {
	th := types.Thresholds{Min: types.Float(0), Max: types.Float(80)}

	tests := []struct {
		value float64
		want  types.Severity
	}{
		{84, types.SeverityLow},      // +5%
		{88, types.SeverityLow},      // +10%
		{88.01, types.SeverityMedium},
		{100, types.SeverityMedium},  // +25%
		{100.01, types.SeverityHigh},
		{120, types.SeverityHigh},    // +50%
		{120.01, types.SeverityCritical},
		{128, types.SeverityCritical}, // +60%
		{-8, types.SeverityLow},
		{-40.01, types.SeverityCritical},
	}
	for _, tt := range tests {
		d := Evaluate(th, tt.value, OpenState{})
		if d.Action != ActionRaise {
			t.Errorf("value %v: Expected raise", tt.value)
			continue
		}
		if d.Severity != tt.want {
			t.Errorf("value %v: Expected %s, got %s", tt.value, tt.want, d.Severity)
		}
	}
}

func TestSeverityMaxOnly(t *testing.T) {
	th := types.Thresholds{Max: types.Float(80)}
	if got := Evaluate(th, 84, OpenState{}).Severity; got != types.SeverityLow {
		t.Errorf("Expected low, got %s", got)
	}
	if got := Evaluate(th, 128, OpenState{}).Severity; got != types.SeverityCritical {
		t.Errorf("Expected critical, got %s", got)
	}
}

func TestSeverityZeroBound(t *testing.T) {
	th := types.Thresholds{Min: types.Float(0)}
	if got := Evaluate(th, -0.05, OpenState{}).Severity; got != types.SeverityLow {
		t.Errorf("Expected low, got %s", got)
	}
}

func TestEvaluateInRangeAndDisabledBounds(t *testing.T) {
	th := types.Thresholds{Min: types.Float(20), Max: types.Float(80)}
	for _, v := range []float64{20, 50, 80} {
		if d := Evaluate(th, v, OpenState{}); d.Action != ActionNone {
			t.Errorf("value %v: Expected no-op at or inside bounds", v)
		}
	}

	if d := Evaluate(types.Thresholds{}, 1e9, OpenState{}); d.Action != ActionNone {
		t.Error("Expected no-op without thresholds")
	}
}

func TestEvaluateRespectsOpenState(t *testing.T) {
	th := types.Thresholds{Min: types.Float(20), Max: types.Float(80)}

	if d := Evaluate(th, 95, OpenState{High: true}); d.Action != ActionNone {
		t.Error("Expected no-op while high alert open")
	}
	d := Evaluate(th, 10, OpenState{High: true})
	if d.Action != ActionRaise || d.Direction != types.DirectionLow || d.Threshold != 20 {
		t.Errorf("Expected low raise at 20, got %+v", d)
	}
}

func TestMessage(t *testing.T) {
	p := types.Parameter{Name: "Temperature", Unit: "°C"}
	if got := Message(p, 95, types.DirectionHigh); got != "Temperature value (95.00 °C) exceeds maximum threshold" {
		t.Errorf("Unexpected message %q", got)
	}
	if got := Message(p, 12.5, types.DirectionLow); got != "Temperature value (12.50 °C) is below minimum threshold" {
		t.Errorf("Unexpected message %q", got)
	}
}
