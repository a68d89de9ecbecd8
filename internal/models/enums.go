package models

import (
	"fmt"
	"strings"
)

type ScheduleStatus string

const (
	ScheduleStatusPlanned   ScheduleStatus = "planned"
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusPerformed ScheduleStatus = "performed"
)

func (s ScheduleStatus) Valid() bool {
	switch s {
	case ScheduleStatusPlanned, ScheduleStatusScheduled, ScheduleStatusPerformed:
		return true
	}
	return false
}

type Fidelity string

const (
	FidelityLow  Fidelity = "low"
	FidelityHigh Fidelity = "high"
)

func (f Fidelity) Valid() bool {
	return f == FidelityLow || f == FidelityHigh
}

type ObservationStatus string

const (
	ObservationStatusPlanned     ObservationStatus = "planned"
	ObservationStatusScheduled   ObservationStatus = "scheduled"
	ObservationStatusUnscheduled ObservationStatus = "unscheduled"
	ObservationStatusPerformed   ObservationStatus = "performed"
	ObservationStatusAborted     ObservationStatus = "aborted"
)

func (s ObservationStatus) Valid() bool {
	switch s {
	case ObservationStatusPlanned, ObservationStatusScheduled, ObservationStatusUnscheduled,
		ObservationStatusPerformed, ObservationStatusAborted:
		return true
	}
	return false
}

type ObservationType string

const (
	ObservationTypeImaging      ObservationType = "imaging"
	ObservationTypeSpectroscopy ObservationType = "spectroscopy"
	ObservationTypeTiming       ObservationType = "timing"
)

func (t ObservationType) Valid() bool {
	switch t {
	case ObservationTypeImaging, ObservationTypeSpectroscopy, ObservationTypeTiming:
		return true
	}
	return false
}

// ParseScheduleStatus accepts the canonical values case-insensitively, as they appear in config files.
func ParseScheduleStatus(s string) (ScheduleStatus, error) {
	v := ScheduleStatus(strings.ToLower(s))
	if !v.Valid() {
		return "", fmt.Errorf("unknown schedule status %q", s)
	}
	return v, nil
}

func ParseFidelity(s string) (Fidelity, error) {
	v := Fidelity(strings.ToLower(s))
	if !v.Valid() {
		return "", fmt.Errorf("unknown fidelity %q", s)
	}
	return v, nil
}

func ParseObservationType(s string) (ObservationType, error) {
	v := ObservationType(strings.ToLower(s))
	if !v.Valid() {
		return "", fmt.Errorf("unknown observation type %q", s)
	}
	return v, nil
}
