package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func testObservation(id string, begin, end time.Time) Observation {
	return Observation{
		InstrumentID:          7,
		ObjectName:            "Crab",
		ExternalObservationID: id,
		PointingPosition:      Position{RA: 83.63, Dec: 22.01},
		DateRange:             DateRange{Begin: begin, End: end},
		ExposureTime:          end.Sub(begin).Seconds(),
		Status:                ObservationStatusPlanned,
		Type:                  ObservationTypeImaging,
		Bandpass:              NewEnergyBandpass(Energy{Min: 0.3, Max: 10, Unit: EnergyUnitKeV, FilterName: "XRT"}),
	}
}

func TestDateRangeValidate(t *testing.T) {
	assert.NoError(t, DateRange{Begin: t0, End: t0}.Validate())
	assert.NoError(t, DateRange{Begin: t0, End: t0.Add(time.Hour)}.Validate())
	assert.Error(t, DateRange{Begin: t0.Add(time.Hour), End: t0}.Validate())
	assert.Error(t, DateRange{End: t0}.Validate())
}

func TestSpan(t *testing.T) {
	obs := []Observation{
		testObservation("b", t0.Add(2*time.Hour), t0.Add(3*time.Hour)),
		testObservation("a", t0, t0.Add(30*time.Minute)),
		testObservation("c", t0.Add(time.Hour), t0.Add(5*time.Hour)),
	}
	span, ok := Span(obs)
	require.True(t, ok)
	assert.Equal(t, t0, span.Begin)
	assert.Equal(t, t0.Add(5*time.Hour), span.End)

	_, ok = Span(nil)
	assert.False(t, ok)
}

func TestScheduleValidate(t *testing.T) {
	obs := []Observation{
		testObservation("a", t0, t0.Add(time.Hour)),
		testObservation("b", t0.Add(2*time.Hour), t0.Add(3*time.Hour)),
	}
	s := Schedule{
		TelescopeID:  3,
		Name:         "swift_2024-03-01",
		DateRange:    DateRange{Begin: t0, End: t0.Add(3 * time.Hour)},
		Status:       ScheduleStatusPlanned,
		Fidelity:     FidelityHigh,
		Observations: obs,
	}
	require.NoError(t, s.Validate())

	s.DateRange.End = t0.Add(4 * time.Hour)
	assert.ErrorContains(t, s.Validate(), "does not match")
}

func TestObservationValidate(t *testing.T) {
	o := testObservation("a", t0, t0.Add(time.Hour))
	require.NoError(t, o.Validate())

	bad := o
	bad.ExposureTime = -1
	assert.ErrorContains(t, bad.Validate(), "exposure time")

	bad = o
	bad.Bandpass = Bandpass{}
	assert.ErrorContains(t, bad.Validate(), "neither")

	bad = o
	bad.PointingPosition.Dec = 91
	assert.ErrorContains(t, bad.Validate(), "dec")

	bad = o
	bad.DateRange = DateRange{Begin: t0.Add(time.Hour), End: t0}
	assert.ErrorContains(t, bad.Validate(), "after end")
}

func TestBandpassVariants(t *testing.T) {
	e := NewEnergyBandpass(Energy{Min: 15, Max: 150, Unit: EnergyUnitKeV, FilterName: "BAT"})
	_, isWave := e.Wavelength()
	en, isEnergy := e.Energy()
	assert.False(t, isWave)
	assert.True(t, isEnergy)
	assert.Equal(t, "BAT", en.FilterName)
	assert.Equal(t, "BAT", e.FilterName())

	w := NewWavelengthBandpass(Wavelength{Min: 500, Max: 600, Unit: WavelengthUnitNM, FilterName: "V"})
	assert.NoError(t, w.Validate())

	assert.True(t, Bandpass{}.IsZero())
	assert.Error(t, NewEnergyBandpass(Energy{Min: 2, Max: 1, Unit: EnergyUnitKeV}).Validate())
	assert.Error(t, NewWavelengthBandpass(Wavelength{Min: 1, Max: 2, Unit: "furlong"}).Validate())
}

func TestBandpassJSON(t *testing.T) {
	b := NewWavelengthBandpass(Wavelength{Min: 170, Max: 650, Unit: WavelengthUnitNM, FilterName: "white"})
	data, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, `{"filter_name":"white","min":170,"max":650,"unit":"nm"}`, string(data))

	var decoded Bandpass
	require.NoError(t, json.Unmarshal([]byte(`{"filter_name":"LAT","min":0.02,"max":300,"unit":"GeV"}`), &decoded))
	en, ok := decoded.Energy()
	require.True(t, ok)
	assert.Equal(t, EnergyUnitGeV, en.Unit)

	assert.Error(t, json.Unmarshal([]byte(`{"min":1,"max":2,"unit":"parsec"}`), &decoded))

	_, err = json.Marshal(Bandpass{})
	assert.Error(t, err)
}

func TestScheduleJSONShape(t *testing.T) {
	o := testObservation("obs-1", t0, t0.Add(time.Hour))
	s := Schedule{
		TelescopeID:  3,
		Name:         "swift",
		DateRange:    o.DateRange,
		Status:       ScheduleStatusScheduled,
		Fidelity:     FidelityLow,
		Observations: []Observation{o},
	}
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Equal(t, "scheduled", generic["status"])
	assert.Equal(t, "low", generic["fidelity"])
	dr := generic["date_range"].(map[string]any)
	assert.Equal(t, "2024-03-01T00:00:00Z", dr["begin"])

	obs := generic["observations"].([]any)[0].(map[string]any)
	assert.Equal(t, "obs-1", obs["external_observation_id"])
	assert.Equal(t, 3600.0, obs["exposure_time"])
	assert.NotContains(t, obs, "object_position")
}

func TestParseEnums(t *testing.T) {
	st, err := ParseScheduleStatus("PLANNED")
	require.NoError(t, err)
	assert.Equal(t, ScheduleStatusPlanned, st)

	f, err := ParseFidelity("High")
	require.NoError(t, err)
	assert.Equal(t, FidelityHigh, f)

	_, err = ParseObservationType("radio")
	assert.Error(t, err)
}
