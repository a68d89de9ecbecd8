// Package catalog loads the instrument and filter mapping rules that resolve raw
// rows to bandpasses.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cankoe/obs-schedule-ingest/internal/builder"
	"github.com/cankoe/obs-schedule-ingest/internal/models"

	"gopkg.in/yaml.v3"
)

const wildcard = "*"

type BandpassRule struct {
	Kind       string  `yaml:"kind"`
	Min        float64 `yaml:"min"`
	Max        float64 `yaml:"max"`
	Unit       string  `yaml:"unit"`
	FilterName string  `yaml:"filter_name"`
}

// Rule matches rows on instrument, grating, mode and filter. An empty or "*"
// field matches anything; comparisons ignore case.
type Rule struct {
	Instrument   string       `yaml:"instrument"`
	Grating      string       `yaml:"grating"`
	Mode         string       `yaml:"mode"`
	Filter       string       `yaml:"filter"`
	InstrumentID int          `yaml:"instrument_id"`
	Type         string       `yaml:"type"`
	Weight       *float64     `yaml:"weight"`
	Bandpass     BandpassRule `yaml:"bandpass"`

	band builder.Band
}

type Catalog struct {
	Name  string
	rules []Rule
}

type file struct {
	Catalogs map[string][]Rule `yaml:"catalogs"`
}

// Set is every catalog defined in one mapping file, keyed by name.
type Set map[string]*Catalog

func LoadFile(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Set, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog file: %w", err)
	}
	set := make(Set, len(f.Catalogs))
	var errs []error
	for name, rules := range f.Catalogs {
		c, err := New(name, rules)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		set[name] = c
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return set, nil
}

func (s Set) Get(name string) (*Catalog, error) {
	c, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("catalog %q is not defined", name)
	}
	return c, nil
}

// New validates rules and compiles their bands.
func New(name string, rules []Rule) (*Catalog, error) {
	c := &Catalog{Name: name, rules: make([]Rule, 0, len(rules))}
	for i, r := range rules {
		band, err := r.compile()
		if err != nil {
			return nil, fmt.Errorf("catalog %s rule %d: %w", name, i, err)
		}
		r.band = band
		c.rules = append(c.rules, r)
	}
	return c, nil
}

func (r Rule) compile() (builder.Band, error) {
	b := builder.Band{InstrumentID: r.InstrumentID, Weight: 1}
	if r.Weight != nil {
		if *r.Weight < 0 {
			return builder.Band{}, fmt.Errorf("weight %g is negative", *r.Weight)
		}
		b.Weight = *r.Weight
	}
	if r.Type != "" {
		typ, err := models.ParseObservationType(r.Type)
		if err != nil {
			return builder.Band{}, err
		}
		b.Type = typ
	}

	bp := r.Bandpass
	switch strings.ToLower(bp.Kind) {
	case "energy":
		b.Bandpass = models.NewEnergyBandpass(models.Energy{
			Min: bp.Min, Max: bp.Max, Unit: models.EnergyUnit(bp.Unit), FilterName: bp.FilterName,
		})
	case "wavelength":
		b.Bandpass = models.NewWavelengthBandpass(models.Wavelength{
			Min: bp.Min, Max: bp.Max, Unit: models.WavelengthUnit(bp.Unit), FilterName: bp.FilterName,
		})
	default:
		return builder.Band{}, fmt.Errorf("bandpass kind %q must be energy or wavelength", bp.Kind)
	}
	if err := b.Bandpass.Validate(); err != nil {
		return builder.Band{}, err
	}
	return b, nil
}

func (r Rule) matches(key builder.RowKey) bool {
	return fieldMatches(r.Instrument, key.Instrument) &&
		fieldMatches(r.Grating, key.Grating) &&
		fieldMatches(r.Mode, key.Mode) &&
		fieldMatches(r.Filter, key.Filter)
}

func fieldMatches(pattern, value string) bool {
	if pattern == "" || pattern == wildcard {
		return true
	}
	return strings.EqualFold(pattern, strings.TrimSpace(value))
}

// Resolve returns the bands of every rule matching key, in file order. Several
// matches describe co-observing sub-detectors.
func (c *Catalog) Resolve(key builder.RowKey) ([]builder.Band, error) {
	var bands []builder.Band
	for _, r := range c.rules {
		if r.matches(key) {
			bands = append(bands, r.band)
		}
	}
	if len(bands) == 0 {
		return nil, &builder.DataQualityError{Key: key, Reason: fmt.Sprintf("no %s mapping rule matches", c.Name)}
	}
	return bands, nil
}

func (c *Catalog) Len() int {
	return len(c.rules)
}
