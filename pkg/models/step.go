package models

import "time"

// Step type discriminators the engine itself interprets. Every other type
// is resolved through the handler registry.
const (
	StepTypeDelay     = "delay"
	StepTypeCondition = "condition"
)

// Branch tags for steps that hang off a condition step.
const (
	BranchIfTrue  = "if_true"
	BranchIfFalse = "if_false"
)

// Step is one configured unit of work inside a workflow. Steps are stored
// inline on the workflow and are positionally ordered; order is the only
// control-flow structure besides branch skipping.
type Step struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"   validate:"required"`
	Name   string         `json:"name"`
	Config map[string]any `json:"config"`

	// Delay gates this step and every step after it, converted to an
	// absolute timestamp at run time.
	Delay *Delay `json:"delay,omitempty"`

	// Branch plus ParentConditionID mark a step as conditionally
	// skippable: when the referenced condition step resolves, the
	// opposite branch is skipped for the remainder of the run.
	Branch            string `json:"branch,omitempty"            validate:"omitempty,oneof=if_true if_false"`
	ParentConditionID string `json:"parent_condition_id,omitempty"`
}

func (s *Step) IsDelay() bool     { return s.Type == StepTypeDelay }
func (s *Step) IsCondition() bool { return s.Type == StepTypeCondition }

// Delay expresses a step's wait in whole minutes, hours and days.
type Delay struct {
	Minutes int `json:"minutes,omitempty" validate:"min=0"`
	Hours   int `json:"hours,omitempty"   validate:"min=0"`
	Days    int `json:"days,omitempty"    validate:"min=0"`
}

// Duration converts the delay to a time.Duration.
func (d *Delay) Duration() time.Duration {
	if d == nil {
		return 0
	}

	return time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Days)*24*time.Hour
}

// DelayDuration returns the wait that gates this step: the Delay field when
// set, otherwise the minutes/hours/days of a delay-type step's config.
func (s *Step) DelayDuration() time.Duration {
	if s.Delay != nil {
		return s.Delay.Duration()
	}

	if s.Type != StepTypeDelay {
		return 0
	}

	d := Delay{
		Minutes: configInt(s.Config, "minutes"),
		Hours:   configInt(s.Config, "hours"),
		Days:    configInt(s.Config, "days"),
	}

	return d.Duration()
}

// configInt reads an integer config value, tolerating the float64 that JSON
// decoding produces.
func configInt(config map[string]any, key string) int {
	switch v := config[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
