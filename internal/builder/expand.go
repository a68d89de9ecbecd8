package builder

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/cankoe/obs-schedule-ingest/internal/models"
)

// ErrInvalidWeights is returned when filter weights are negative, not numbers, or
// do not sum to a positive value.
var ErrInvalidWeights = errors.New("filter weights must be non-negative with a positive sum")

// Pointing is one source-level observation before bandpass resolution. Exposure is
// the total for the pointing, already in seconds.
type Pointing struct {
	ExternalID     string
	ObjectName     string
	Position       models.Position
	ObjectPosition *models.Position
	Window         models.DateRange
	Exposure       float64
	Status         models.ObservationStatus
	Type           models.ObservationType
	PointingAngle  float64
}

// Band is one resolved sub-detector or filter a pointing is observed with.
type Band struct {
	InstrumentID int
	Bandpass     models.Bandpass
	Weight       float64
	// Type overrides the pointing's observation type when set.
	Type models.ObservationType
}

// SplitExposure shares total between co-observing filters in proportion to weights.
func SplitExposure(total float64, weights []float64) ([]float64, error) {
	var sum float64
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, ErrInvalidWeights
		}
		sum += w
	}
	if sum <= 0 {
		return nil, ErrInvalidWeights
	}
	out := make([]float64, len(weights))
	for i, w := range weights {
		out[i] = total * (w / sum)
	}
	return out, nil
}

// Expand turns a pointing into one observation per band. With several bands the
// exposure is split by weight and each external id gets a per-band suffix, so ids
// stay unique within the pointing and stable between runs.
func Expand(p Pointing, bands []Band) ([]models.Observation, error) {
	if len(bands) == 0 {
		return nil, errors.New("no bands to expand")
	}
	weights := make([]float64, len(bands))
	for i, b := range bands {
		weights[i] = b.Weight
	}
	exposures, err := SplitExposure(p.Exposure, weights)
	if err != nil {
		return nil, err
	}

	names := make(map[string]int, len(bands))
	for _, b := range bands {
		names[b.Bandpass.FilterName()]++
	}

	out := make([]models.Observation, 0, len(bands))
	for i, b := range bands {
		id := p.ExternalID
		if len(bands) > 1 {
			id = fmt.Sprintf("%s_%s", p.ExternalID, bandSuffix(b, i, names))
		}
		out = append(out, observation(p, b, id, exposures[i]))
	}
	return out, nil
}

// bandSuffix is the filter name, or the band index when the name is empty or
// shared with another band of the same pointing.
func bandSuffix(b Band, i int, names map[string]int) string {
	name := b.Bandpass.FilterName()
	switch {
	case name == "":
		return strconv.Itoa(i)
	case names[name] > 1:
		return fmt.Sprintf("%s_%d", name, i)
	}
	return name
}

// Placeholder synthesizes the single observation standing in for a coarse window
// with no discrete sub-intervals. It spans the window verbatim.
func Placeholder(p Pointing, b Band) models.Observation {
	return observation(p, b, p.ExternalID, p.Window.Seconds())
}

func observation(p Pointing, b Band, id string, exposure float64) models.Observation {
	typ := p.Type
	if b.Type != "" {
		typ = b.Type
	}
	return models.Observation{
		InstrumentID:          b.InstrumentID,
		ObjectName:            p.ObjectName,
		ExternalObservationID: id,
		PointingPosition:      p.Position,
		ObjectPosition:        p.ObjectPosition,
		DateRange: models.DateRange{
			Begin: p.Window.Begin.UTC(),
			End:   p.Window.End.UTC(),
		},
		ExposureTime:  exposure,
		Status:        p.Status,
		Type:          typ,
		PointingAngle: p.PointingAngle,
		Bandpass:      b.Bandpass,
	}
}
