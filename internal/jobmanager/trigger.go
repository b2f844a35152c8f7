package jobmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

// ErrInvalidTrigger is returned for triggers that cannot be scheduled.
var ErrInvalidTrigger = errors.New("invalid trigger")

// Standard five-field cron plus @hourly style descriptors.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseTrigger turns a trigger into a cron schedule. Exactly one of Cron and
// Every must be set; intervals are rounded to whole seconds.
func ParseTrigger(t types.Trigger) (cron.Schedule, error) {
	switch {
	case t.Cron != "" && t.Every > 0:
		return nil, fmt.Errorf("%w: both cron and interval set", ErrInvalidTrigger)
	case t.Cron != "":
		s, err := cronParser.Parse(t.Cron)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTrigger, t.Cron, err)
		}
		return s, nil
	case t.Every >= time.Second:
		return cron.Every(t.Every), nil
	case t.Every > 0:
		return nil, fmt.Errorf("%w: interval %s is below one second", ErrInvalidTrigger, t.Every)
	default:
		return nil, fmt.Errorf("%w: empty", ErrInvalidTrigger)
	}
}

// NextRun returns the first activation strictly after from.
func NextRun(t types.Trigger, from time.Time) (time.Time, error) {
	s, err := ParseTrigger(t)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(from), nil
}
