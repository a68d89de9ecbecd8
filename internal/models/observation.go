package models

import (
	"errors"
	"fmt"
	"math"
)

type Observation struct {
	InstrumentID          int               `json:"instrument_id"`
	ObjectName            string            `json:"object_name"`
	ExternalObservationID string            `json:"external_observation_id"`
	PointingPosition      Position          `json:"pointing_position"`
	ObjectPosition        *Position         `json:"object_position,omitempty"`
	DateRange             DateRange         `json:"date_range"`
	ExposureTime          float64           `json:"exposure_time"`
	Status                ObservationStatus `json:"status"`
	Type                  ObservationType   `json:"type"`
	PointingAngle         float64           `json:"pointing_angle"`
	Bandpass              Bandpass          `json:"bandpass"`
}

func (o Observation) Validate() error {
	var errs []error
	if o.ExternalObservationID == "" {
		errs = append(errs, errors.New("external observation id is empty"))
	}
	if err := o.DateRange.Validate(); err != nil {
		errs = append(errs, err)
	}
	if o.ExposureTime < 0 || math.IsNaN(o.ExposureTime) || math.IsInf(o.ExposureTime, 0) {
		errs = append(errs, fmt.Errorf("exposure time %g is not a non-negative number of seconds", o.ExposureTime))
	}
	if !o.Status.Valid() {
		errs = append(errs, fmt.Errorf("invalid observation status %q", o.Status))
	}
	if !o.Type.Valid() {
		errs = append(errs, fmt.Errorf("invalid observation type %q", o.Type))
	}
	if err := o.PointingPosition.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pointing position: %w", err))
	}
	if o.ObjectPosition != nil {
		if err := o.ObjectPosition.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("object position: %w", err))
		}
	}
	if err := o.Bandpass.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
