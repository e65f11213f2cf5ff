package model

import (
	"fmt"
	"time"
)

// IntervalUnit is the unit part of a check interval
type IntervalUnit string

const (
	UnitSeconds IntervalUnit = "seconds"
	UnitMinutes IntervalUnit = "minutes"
	UnitHours   IntervalUnit = "hours"
)

// Interval is the check cadence of a task
type Interval struct {
	Value int          `json:"value"`
	Unit  IntervalUnit `json:"unit"`
}

// Duration resolves the interval, rejecting unknown units and non-positive values
func (i Interval) Duration() (time.Duration, error) {
	var unit time.Duration
	switch i.Unit {
	case UnitSeconds:
		unit = time.Second
	case UnitMinutes:
		unit = time.Minute
	case UnitHours:
		unit = time.Hour
	default:
		return 0, invalid("interval.unit", fmt.Errorf("%w: %q", ErrInvalidIntervalUnit, i.Unit))
	}
	if i.Value <= 0 {
		return 0, invalid("interval.value", fmt.Errorf("%w: %d", ErrInvalidIntervalValue, i.Value))
	}
	return time.Duration(i.Value) * unit, nil
}

func (i Interval) String() string {
	return fmt.Sprintf("%d %s", i.Value, i.Unit)
}
