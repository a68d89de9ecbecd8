package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

type EnergyUnit string

const (
	EnergyUnitKeV EnergyUnit = "keV"
	EnergyUnitGeV EnergyUnit = "GeV"
)

type WavelengthUnit string

const (
	WavelengthUnitNM       WavelengthUnit = "nm"
	WavelengthUnitAngstrom WavelengthUnit = "angstrom"
)

type Energy struct {
	Min        float64
	Max        float64
	Unit       EnergyUnit
	FilterName string
}

type Wavelength struct {
	Min        float64
	Max        float64
	Unit       WavelengthUnit
	FilterName string
}

// Bandpass holds exactly one of an Energy or a Wavelength band. The zero value is
// invalid; build one with NewEnergyBandpass or NewWavelengthBandpass.
type Bandpass struct {
	energy     *Energy
	wavelength *Wavelength
}

func NewEnergyBandpass(e Energy) Bandpass {
	return Bandpass{energy: &e}
}

func NewWavelengthBandpass(w Wavelength) Bandpass {
	return Bandpass{wavelength: &w}
}

// Energy returns the energy variant and whether it is the populated one.
func (b Bandpass) Energy() (Energy, bool) {
	if b.energy == nil {
		return Energy{}, false
	}
	return *b.energy, true
}

// Wavelength returns the wavelength variant and whether it is the populated one.
func (b Bandpass) Wavelength() (Wavelength, bool) {
	if b.wavelength == nil {
		return Wavelength{}, false
	}
	return *b.wavelength, true
}

func (b Bandpass) IsZero() bool {
	return b.energy == nil && b.wavelength == nil
}

func (b Bandpass) FilterName() string {
	switch {
	case b.energy != nil:
		return b.energy.FilterName
	case b.wavelength != nil:
		return b.wavelength.FilterName
	}
	return ""
}

func (b Bandpass) Validate() error {
	switch {
	case b.energy != nil && b.wavelength != nil:
		return errors.New("bandpass has both energy and wavelength set")
	case b.energy != nil:
		e := b.energy
		if e.Unit != EnergyUnitKeV && e.Unit != EnergyUnitGeV {
			return fmt.Errorf("bandpass: invalid energy unit %q", e.Unit)
		}
		return validateRange(e.Min, e.Max)
	case b.wavelength != nil:
		w := b.wavelength
		if w.Unit != WavelengthUnitNM && w.Unit != WavelengthUnitAngstrom {
			return fmt.Errorf("bandpass: invalid wavelength unit %q", w.Unit)
		}
		return validateRange(w.Min, w.Max)
	}
	return errors.New("bandpass has neither energy nor wavelength set")
}

func validateRange(min, max float64) error {
	if min < 0 {
		return fmt.Errorf("bandpass: min %g is negative", min)
	}
	if min > max {
		return fmt.Errorf("bandpass: min %g exceeds max %g", min, max)
	}
	return nil
}

// bandpassJSON is the wire shape; the unit tells the variants apart.
type bandpassJSON struct {
	FilterName string  `json:"filter_name"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Unit       string  `json:"unit"`
}

func (b Bandpass) MarshalJSON() ([]byte, error) {
	switch {
	case b.energy != nil && b.wavelength == nil:
		return json.Marshal(bandpassJSON{
			FilterName: b.energy.FilterName,
			Min:        b.energy.Min,
			Max:        b.energy.Max,
			Unit:       string(b.energy.Unit),
		})
	case b.wavelength != nil && b.energy == nil:
		return json.Marshal(bandpassJSON{
			FilterName: b.wavelength.FilterName,
			Min:        b.wavelength.Min,
			Max:        b.wavelength.Max,
			Unit:       string(b.wavelength.Unit),
		})
	}
	return nil, b.Validate()
}

func (b *Bandpass) UnmarshalJSON(data []byte) error {
	var raw bandpassJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch u := raw.Unit; u {
	case string(EnergyUnitKeV), string(EnergyUnitGeV):
		*b = NewEnergyBandpass(Energy{Min: raw.Min, Max: raw.Max, Unit: EnergyUnit(u), FilterName: raw.FilterName})
	case string(WavelengthUnitNM), string(WavelengthUnitAngstrom):
		*b = NewWavelengthBandpass(Wavelength{Min: raw.Min, Max: raw.Max, Unit: WavelengthUnit(u), FilterName: raw.FilterName})
	default:
		return fmt.Errorf("bandpass: unknown unit %q", u)
	}
	return nil
}
