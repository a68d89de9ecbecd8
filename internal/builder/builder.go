// Package builder assembles canonical schedules from adapter rows.
//
// A schedule's date range is always derived from its observations. Rows whose
// instrument or filter cannot be resolved are logged and skipped; the rest of the
// batch is kept.
package builder

import (
	"errors"
	"fmt"

	"github.com/cankoe/obs-schedule-ingest/internal/models"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNoObservations = errors.New("schedule has no observations and no coarse window")

// RowKey identifies a raw row for band resolution and for skip logs.
type RowKey struct {
	ExternalID string
	Instrument string
	Grating    string
	Mode       string
	Filter     string
}

// DataQualityError is a row that cannot be turned into an observation.
type DataQualityError struct {
	Key    RowKey
	Reason string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("row %q (instrument=%q grating=%q mode=%q filter=%q): %s",
		e.Key.ExternalID, e.Key.Instrument, e.Key.Grating, e.Key.Mode, e.Key.Filter, e.Reason)
}

// Resolver maps a row's instrument metadata to the bands it was observed in.
type Resolver interface {
	Resolve(key RowKey) ([]Band, error)
}

type Header struct {
	TelescopeID int
	Name        string
	Status      models.ScheduleStatus
	Fidelity    models.Fidelity
}

type ScheduleBuilder struct {
	header       Header
	resolver     Resolver
	logger       zerolog.Logger
	observations []models.Observation
	placeholder  *models.Observation
	skipped      int
}

func NewScheduleBuilder(header Header) *ScheduleBuilder {
	return &ScheduleBuilder{header: header, logger: log.Logger}
}

func (b *ScheduleBuilder) WithResolver(r Resolver) *ScheduleBuilder {
	b.resolver = r
	return b
}

func (b *ScheduleBuilder) WithLogger(logger zerolog.Logger) *ScheduleBuilder {
	b.logger = logger
	return b
}

// AddObservation appends an already-built observation. Invalid ones are skipped.
func (b *ScheduleBuilder) AddObservation(o models.Observation) bool {
	if err := o.Validate(); err != nil {
		b.skip(&DataQualityError{Key: RowKey{ExternalID: o.ExternalObservationID}, Reason: err.Error()})
		return false
	}
	b.observations = append(b.observations, o)
	return true
}

// AddPointing resolves the row's bands, expands the pointing and appends the
// results. It returns how many observations were added; zero means the row was
// skipped and logged.
func (b *ScheduleBuilder) AddPointing(p Pointing, key RowKey) int {
	if key.ExternalID == "" {
		key.ExternalID = p.ExternalID
	}
	if b.resolver == nil {
		b.skip(&DataQualityError{Key: key, Reason: "no band resolver configured"})
		return 0
	}
	bands, err := b.resolver.Resolve(key)
	if err != nil {
		b.skip(asDataQuality(key, err))
		return 0
	}
	return b.AddExpanded(p, key, bands)
}

// AddExpanded expands a pointing over bands the caller resolved itself.
func (b *ScheduleBuilder) AddExpanded(p Pointing, key RowKey, bands []Band) int {
	if key.ExternalID == "" {
		key.ExternalID = p.ExternalID
	}
	obs, err := Expand(p, bands)
	if err != nil {
		b.skip(asDataQuality(key, err))
		return 0
	}
	for _, o := range obs {
		if err := o.Validate(); err != nil {
			b.skip(&DataQualityError{Key: key, Reason: err.Error()})
			return 0
		}
	}
	b.observations = append(b.observations, obs...)
	return len(obs)
}

// CoarseWindow registers the source's own window, used as a single placeholder
// observation if no discrete observation is added.
func (b *ScheduleBuilder) CoarseWindow(p Pointing, band Band) {
	o := Placeholder(p, band)
	b.placeholder = &o
}

func (b *ScheduleBuilder) Len() int {
	return len(b.observations)
}

func (b *ScheduleBuilder) Skipped() int {
	return b.skipped
}

// Build derives the schedule span and validates the result.
func (b *ScheduleBuilder) Build() (models.Schedule, error) {
	obs := make([]models.Observation, len(b.observations))
	copy(obs, b.observations)
	if len(obs) == 0 {
		if b.placeholder == nil {
			return models.Schedule{}, ErrNoObservations
		}
		obs = append(obs, *b.placeholder)
	}

	span, _ := models.Span(obs)
	s := models.Schedule{
		TelescopeID:  b.header.TelescopeID,
		Name:         b.header.Name,
		DateRange:    span,
		Status:       b.header.Status,
		Fidelity:     b.header.Fidelity,
		Observations: obs,
	}
	if err := s.Validate(); err != nil {
		return models.Schedule{}, fmt.Errorf("build schedule %q: %w", s.Name, err)
	}
	return s, nil
}

// Skip logs a row the caller could not interpret and counts it.
func (b *ScheduleBuilder) Skip(key RowKey, reason string) {
	b.skip(&DataQualityError{Key: key, Reason: reason})
}

func (b *ScheduleBuilder) skip(e *DataQualityError) {
	b.skipped++
	b.logger.Warn().
		Str("schedule", b.header.Name).
		Str("external_observation_id", e.Key.ExternalID).
		Str("instrument", e.Key.Instrument).
		Str("grating", e.Key.Grating).
		Str("mode", e.Key.Mode).
		Str("filter", e.Key.Filter).
		Str("reason", e.Reason).
		Msg("Skipping row that cannot be mapped to an observation")
}

func asDataQuality(key RowKey, err error) *DataQualityError {
	var dq *DataQualityError
	if errors.As(err, &dq) {
		return dq
	}
	return &DataQualityError{Key: key, Reason: err.Error()}
}
