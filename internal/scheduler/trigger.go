package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/teambition/rrule-go"
)

// Trigger yields the next fire time strictly after a given instant. A zero time
// means the trigger will never fire again.
type Trigger interface {
	Next(after time.Time) time.Time
	String() string
}

type IntervalTrigger struct {
	Every time.Duration
}

func (t IntervalTrigger) Next(after time.Time) time.Time {
	return after.Add(t.Every)
}

func (t IntervalTrigger) String() string {
	return "every " + t.Every.String()
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronTrigger fires on a five-field cron expression or a descriptor such as
// @daily or @every 1h, evaluated in its time zone.
type CronTrigger struct {
	expr  string
	sched cron.Schedule
	loc   *time.Location
}

func NewCronTrigger(expr, timezone string) (*CronTrigger, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	return &CronTrigger{expr: expr, sched: sched, loc: loc}, nil
}

func (t *CronTrigger) Next(after time.Time) time.Time {
	return t.sched.Next(after.In(t.loc))
}

func (t *CronTrigger) String() string {
	return "cron " + t.expr + " " + t.loc.String()
}

// RRuleTrigger fires on the occurrences of an RFC 5545 recurrence rule, e.g.
// "FREQ=HOURLY;INTERVAL=6;DTSTART=20240101T000000Z".
type RRuleTrigger struct {
	src  string
	rule *rrule.RRule
}

func NewRRuleTrigger(src string) (*RRuleTrigger, error) {
	rule, err := rrule.StrToRRule(src)
	if err != nil {
		return nil, fmt.Errorf("parse rrule: %w", err)
	}
	return &RRuleTrigger{src: src, rule: rule}, nil
}

func (t *RRuleTrigger) Next(after time.Time) time.Time {
	return t.rule.After(after, false)
}

func (t *RRuleTrigger) String() string {
	return "rrule " + t.src
}

// TriggerSpec is the configured form of a trigger; exactly one of Interval, Cron
// or RRule must be set.
type TriggerSpec struct {
	Interval time.Duration
	Cron     string
	RRule    string
	Timezone string
}

func ParseTrigger(spec TriggerSpec) (Trigger, error) {
	set := 0
	for _, ok := range []bool{spec.Interval != 0, spec.Cron != "", spec.RRule != ""} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("exactly one of interval, cron or rrule must be set")
	}

	switch {
	case spec.Interval != 0:
		if spec.Interval < time.Second {
			return nil, fmt.Errorf("interval %s is shorter than one second", spec.Interval)
		}
		return IntervalTrigger{Every: spec.Interval}, nil
	case spec.Cron != "":
		return NewCronTrigger(spec.Cron, spec.Timezone)
	default:
		return NewRRuleTrigger(spec.RRule)
	}
}
