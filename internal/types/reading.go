package types

import (
	"time"

	"github.com/google/uuid"
)

// Quality tags a reading. Numeric values match the persisted quality_code.
type Quality int

const (
	QualityGood Quality = iota
	QualityUncertain
	QualityBad
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityUncertain:
		return "uncertain"
	case QualityBad:
		return "bad"
	default:
		return "unknown"
	}
}

// Reading is one read attempt for one parameter. Value and Raw are nil for bad readings.
type Reading struct {
	ParameterID int64     `json:"parameter_id"`
	Value       *float64  `json:"value"`
	Raw         *uint16   `json:"raw,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Quality     Quality   `json:"quality_code"`
}

func GoodReading(parameterID int64, raw uint16, value float64, ts time.Time) Reading {
	return Reading{
		ParameterID: parameterID,
		Value:       &value,
		Raw:         &raw,
		Timestamp:   ts,
		Quality:     QualityGood,
	}
}

func BadReading(parameterID int64, ts time.Time) Reading {
	return Reading{
		ParameterID: parameterID,
		Timestamp:   ts,
		Quality:     QualityBad,
	}
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Direction is the side of the range a value left.
type Direction string

const (
	DirectionLow  Direction = "low"
	DirectionHigh Direction = "high"
)

type Alert struct {
	ID             uuid.UUID  `json:"alert_id"`
	ParameterID    int64      `json:"parameter_id"`
	ParameterName  string     `json:"parameter_name"`
	Direction      Direction  `json:"direction"`
	Severity       Severity   `json:"severity"`
	ThresholdValue float64    `json:"threshold_value"`
	ActualValue    float64    `json:"actual_value"`
	Message        string     `json:"message"`
	CreatedAt      time.Time  `json:"created_at"`
	Acknowledged   bool       `json:"is_acknowledged"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}
