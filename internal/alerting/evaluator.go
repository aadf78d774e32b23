package alerting

import (
	"fmt"

	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"github.com/shopspring/decimal"
)

type Action int

const (
	ActionNone Action = iota
	ActionRaise
)

// OpenState tells which directions of a parameter already carry an unacknowledged alert.
type OpenState struct {
	Low  bool
	High bool
}

type Decision struct {
	Action    Action
	Direction types.Direction
	Threshold float64
	Severity  types.Severity
}

// Severity cut points as a fraction of the threshold span.
var (
	cutLow    = decimal.RequireFromString("0.10")
	cutMedium = decimal.RequireFromString("0.25")
	cutHigh   = decimal.RequireFromString("0.50")
)

// Evaluate decides whether value raises an alert. It has no side effects.
func Evaluate(th types.Thresholds, value float64, open OpenState) Decision {
	if th.Min != nil && value < *th.Min {
		if open.Low {
			return Decision{}
		}
		return Decision{
			Action:    ActionRaise,
			Direction: types.DirectionLow,
			Threshold: *th.Min,
			Severity:  Severity(th, value, *th.Min),
		}
	}

	if th.Max != nil && value > *th.Max {
		if open.High {
			return Decision{}
		}
		return Decision{
			Action:    ActionRaise,
			Direction: types.DirectionHigh,
			Threshold: *th.Max,
			Severity:  Severity(th, value, *th.Max),
		}
	}

	return Decision{}
}

// Severity grades the breach |value-bound| relative to the span max-min.
// Without both bounds the span is |bound|, or 1 when the bound is zero.
//
//	<= 10% low, <= 25% medium, <= 50% high, above critical
func Severity(th types.Thresholds, value, bound float64) types.Severity {
	excess := decimal.NewFromFloat(value).Sub(decimal.NewFromFloat(bound)).Abs()

	span := decimal.Zero
	if th.Min != nil && th.Max != nil {
		span = decimal.NewFromFloat(*th.Max).Sub(decimal.NewFromFloat(*th.Min))
	}
	if !span.IsPositive() {
		span = decimal.NewFromFloat(bound).Abs()
	}
	if span.IsZero() {
		span = decimal.NewFromInt(1)
	}

	ratio := excess.Div(span)
	switch {
	case ratio.LessThanOrEqual(cutLow):
		return types.SeverityLow
	case ratio.LessThanOrEqual(cutMedium):
		return types.SeverityMedium
	case ratio.LessThanOrEqual(cutHigh):
		return types.SeverityHigh
	default:
		return types.SeverityCritical
	}
}

// Message builds the alert text for p.
func Message(p types.Parameter, value float64, dir types.Direction) string {
	reading := fmt.Sprintf("%.2f", value)
	if p.Unit != "" {
		reading += " " + p.Unit
	}
	if dir == types.DirectionLow {
		return fmt.Sprintf("%s value (%s) is below minimum threshold", p.Name, reading)
	}
	return fmt.Sprintf("%s value (%s) exceeds maximum threshold", p.Name, reading)
}
