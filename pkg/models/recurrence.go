package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrMalformedRecurrence is returned when a recurrence rule cannot produce
// a next run time. Callers are expected to fail soft (see scheduler).
var ErrMalformedRecurrence = errors.New("malformed recurrence rule")

// cronParser accepts the standard 5-field format
// (minute hour day-of-month month day-of-week).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Recurrence is a time-based workflow's rule for computing its next run.
type Recurrence struct {
	Kind            TriggerType
	CronExpression  string
	IntervalMinutes int
	RunAt           *time.Time
}

// Next computes the next run instant after now. For specific_date rules it
// returns the configured instant once; a nil result with nil error means
// the rule has no further runs and the workflow should be disabled.
func (r Recurrence) Next(now time.Time) (*time.Time, error) {
	switch r.Kind {
	case TriggerCron, TriggerScheduled:
		if r.CronExpression == "" {
			return nil, ErrMalformedRecurrence
		}

		schedule, err := cronParser.Parse(r.CronExpression)
		if err != nil {
			return nil, ErrMalformedRecurrence
		}

		next := schedule.Next(now)

		return &next, nil

	case TriggerInterval:
		if r.IntervalMinutes <= 0 {
			return nil, ErrMalformedRecurrence
		}

		next := now.Add(time.Duration(r.IntervalMinutes) * time.Minute)

		return &next, nil

	case TriggerSpecificDate:
		if r.RunAt == nil {
			return nil, ErrMalformedRecurrence
		}

		if r.RunAt.After(now) {
			at := *r.RunAt

			return &at, nil
		}

		// Already fired, no further runs.
		return nil, nil

	default:
		return nil, ErrMalformedRecurrence
	}
}

// Validate checks that the rule can produce run times at all.
func (r Recurrence) Validate() error {
	switch r.Kind {
	case TriggerCron, TriggerScheduled:
		_, err := cronParser.Parse(r.CronExpression)
		if err != nil {
			return ErrMalformedRecurrence
		}

		return nil
	case TriggerInterval:
		if r.IntervalMinutes <= 0 {
			return ErrMalformedRecurrence
		}

		return nil
	case TriggerSpecificDate:
		if r.RunAt == nil {
			return ErrMalformedRecurrence
		}

		return nil
	default:
		return ErrMalformedRecurrence
	}
}
