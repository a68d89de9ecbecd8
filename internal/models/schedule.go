package models

import (
	"errors"
	"fmt"
	"time"
)

type DateRange struct {
	Begin time.Time `json:"begin"`
	End   time.Time `json:"end"`
}

func (r DateRange) Validate() error {
	if r.Begin.IsZero() || r.End.IsZero() {
		return errors.New("date range has a zero bound")
	}
	if r.Begin.After(r.End) {
		return fmt.Errorf("date range begin %s is after end %s",
			r.Begin.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	return nil
}

// Seconds is the length of the range in seconds.
func (r DateRange) Seconds() float64 {
	return r.End.Sub(r.Begin).Seconds()
}

// Position is an equatorial sky position in degrees.
type Position struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

func (p Position) Validate() error {
	if p.RA < 0 || p.RA >= 360 {
		return fmt.Errorf("ra %g out of range [0, 360)", p.RA)
	}
	if p.Dec < -90 || p.Dec > 90 {
		return fmt.Errorf("dec %g out of range [-90, 90]", p.Dec)
	}
	return nil
}

type Schedule struct {
	TelescopeID  int            `json:"telescope_id"`
	Name         string         `json:"name"`
	DateRange    DateRange      `json:"date_range"`
	Status       ScheduleStatus `json:"status"`
	Fidelity     Fidelity       `json:"fidelity"`
	Observations []Observation  `json:"observations"`
}

// Span returns the min begin and max end over the observations. ok is false when
// there are none.
func Span(observations []Observation) (DateRange, bool) {
	if len(observations) == 0 {
		return DateRange{}, false
	}
	span := observations[0].DateRange
	for _, o := range observations[1:] {
		if o.DateRange.Begin.Before(span.Begin) {
			span.Begin = o.DateRange.Begin
		}
		if o.DateRange.End.After(span.End) {
			span.End = o.DateRange.End
		}
	}
	return span, true
}

// Validate reports every broken invariant of the schedule and its observations.
func (s Schedule) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("schedule name is empty"))
	}
	if !s.Status.Valid() {
		errs = append(errs, fmt.Errorf("invalid schedule status %q", s.Status))
	}
	if !s.Fidelity.Valid() {
		errs = append(errs, fmt.Errorf("invalid fidelity %q", s.Fidelity))
	}
	if err := s.DateRange.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("schedule: %w", err))
	}
	for i, o := range s.Observations {
		if err := o.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("observation %d (%s): %w", i, o.ExternalObservationID, err))
		}
	}
	if span, ok := Span(s.Observations); ok {
		if !span.Begin.Equal(s.DateRange.Begin) || !span.End.Equal(s.DateRange.End) {
			errs = append(errs, errors.New("schedule date range does not match its observations"))
		}
	}
	return errors.Join(errs...)
}
