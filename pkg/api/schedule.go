package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ScheduleKind names the shape of a Schedule.
type ScheduleKind string

const (
	ScheduleKindManual   ScheduleKind = "manual"
	ScheduleKindInterval ScheduleKind = "interval"
	ScheduleKindCron     ScheduleKind = "cron"
	ScheduleKindOneTime  ScheduleKind = "one_time"
)

// Schedule is one of ScheduleManual, ScheduleInterval, ScheduleCron or
// ScheduleOneTime.
type Schedule interface {
	Kind() ScheduleKind
	isSchedule()
}

// ScheduleManual registers no trigger; runs are started explicitly.
type ScheduleManual struct{}

// ScheduleInterval fires every named interval (e.g. "hourly").
type ScheduleInterval struct {
	Interval string
}

// ScheduleCron fires on a cron expression.
type ScheduleCron struct {
	Expression string
}

// ScheduleOneTime fires once at At.
type ScheduleOneTime struct {
	At time.Time
}

func (ScheduleManual) Kind() ScheduleKind   { return ScheduleKindManual }
func (ScheduleInterval) Kind() ScheduleKind { return ScheduleKindInterval }
func (ScheduleCron) Kind() ScheduleKind     { return ScheduleKindCron }
func (ScheduleOneTime) Kind() ScheduleKind  { return ScheduleKindOneTime }

func (ScheduleManual) isSchedule()   {}
func (ScheduleInterval) isSchedule() {}
func (ScheduleCron) isSchedule()     {}
func (ScheduleOneTime) isSchedule()  {}

// ScheduleSpec is the flat wire form of a Schedule.
type ScheduleSpec struct {
	Kind     ScheduleKind `json:"kind" yaml:"kind"`
	Interval string       `json:"interval,omitempty" yaml:"interval,omitempty"`
	Cron     string       `json:"cron,omitempty" yaml:"cron,omitempty"`
	At       *time.Time   `json:"at,omitempty" yaml:"at,omitempty"`
}

// SpecOf converts a Schedule to its wire form. A nil schedule is manual.
func SpecOf(s Schedule) ScheduleSpec {
	switch v := s.(type) {
	case ScheduleInterval:
		return ScheduleSpec{Kind: ScheduleKindInterval, Interval: v.Interval}
	case ScheduleCron:
		return ScheduleSpec{Kind: ScheduleKindCron, Cron: v.Expression}
	case ScheduleOneTime:
		at := v.At
		return ScheduleSpec{Kind: ScheduleKindOneTime, At: &at}
	default:
		return ScheduleSpec{Kind: ScheduleKindManual}
	}
}

// Schedule validates the spec and returns the matching Schedule.
// Exactly the fields of the named kind may be set.
func (s ScheduleSpec) Schedule() (Schedule, error) {
	switch s.Kind {
	case "", ScheduleKindManual:
		if s.Interval != "" || s.Cron != "" || s.At != nil {
			return nil, fmt.Errorf("%w: manual schedule takes no parameters", ErrValidation)
		}
		return ScheduleManual{}, nil
	case ScheduleKindInterval:
		if s.Cron != "" || s.At != nil {
			return nil, fmt.Errorf("%w: interval schedule takes only an interval", ErrValidation)
		}
		if strings.TrimSpace(s.Interval) == "" {
			return nil, fmt.Errorf("%w: interval name is required", ErrValidation)
		}
		return ScheduleInterval{Interval: strings.TrimSpace(s.Interval)}, nil
	case ScheduleKindCron:
		if s.Interval != "" || s.At != nil {
			return nil, fmt.Errorf("%w: cron schedule takes only an expression", ErrValidation)
		}
		if strings.TrimSpace(s.Cron) == "" {
			return nil, fmt.Errorf("%w: cron expression is required", ErrValidation)
		}
		return ScheduleCron{Expression: strings.TrimSpace(s.Cron)}, nil
	case ScheduleKindOneTime:
		if s.Interval != "" || s.Cron != "" {
			return nil, fmt.Errorf("%w: one-time schedule takes only a timestamp", ErrValidation)
		}
		if s.At == nil || s.At.IsZero() {
			return nil, fmt.Errorf("%w: one-time schedule requires a timestamp", ErrValidation)
		}
		return ScheduleOneTime{At: s.At.UTC()}, nil
	default:
		return nil, fmt.Errorf("%w: unknown schedule kind %q", ErrValidation, s.Kind)
	}
}

// IsManual reports whether s registers no triggers.
func IsManual(s Schedule) bool {
	return s == nil || s.Kind() == ScheduleKindManual
}

type instanceJSON struct {
	*instanceAlias
	Schedule ScheduleSpec `json:"schedule"`
}

type instanceAlias Instance

// MarshalJSON encodes the schedule through its wire form.
func (i Instance) MarshalJSON() ([]byte, error) {
	alias := instanceAlias(i)
	return json.Marshal(instanceJSON{
		instanceAlias: &alias,
		Schedule:      SpecOf(i.Schedule),
	})
}

// UnmarshalJSON decodes the schedule through its wire form.
func (i *Instance) UnmarshalJSON(data []byte) error {
	aux := instanceJSON{instanceAlias: (*instanceAlias)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s, err := aux.Schedule.Schedule()
	if err != nil {
		return err
	}
	i.Schedule = s
	return nil
}
