// Package obscore ingests observation plans published in an IVOA ObsCore table
// behind a TAP service.
package obscore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cankoe/obs-schedule-ingest/internal/builder"
	"github.com/cankoe/obs-schedule-ingest/internal/models"
	"github.com/cankoe/obs-schedule-ingest/internal/source"
	"github.com/cankoe/obs-schedule-ingest/internal/tap"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const DefaultTable = "ivoa.obscore"

const (
	// hcKeVNM is Planck's constant times c, in keV·nm.
	hcKeVNM = 1.23984193
	// Bands entirely below this wavelength are reported as energies.
	xrayLimitNM = 10.0
	gevInKeV    = 1e6
)

var mjdEpoch = time.Date(1858, time.November, 17, 0, 0, 0, 0, time.UTC)

var columns = []string{
	"obs_id", "target_name", "s_ra", "s_dec", "t_min", "t_max", "t_exptime",
	"instrument_name", "energy_bandpassname", "dataproduct_type", "em_min", "em_max",
}

// Querier runs one ADQL query; a nil table means no data this cycle.
type Querier interface {
	Query(ctx context.Context, adql string) (*tap.Table, error)
}

type Config struct {
	Name        string
	TelescopeID int
	// InstrumentID is assigned to bands derived from em_min/em_max when no
	// catalog rule matches. Zero disables the fallback.
	InstrumentID      int
	Table             string
	Collection        string
	LookBack          time.Duration
	LookAhead         time.Duration
	Status            models.ScheduleStatus
	Fidelity          models.Fidelity
	MaxRows           int
	RequestsPerSecond float64
}

// Result is one fetch: the window the query covered and its rows.
type Result struct {
	Window models.DateRange
	Table  *tap.Table
}

type Adapter struct {
	*source.Base
	cfg      Config
	tap      Querier
	resolver builder.Resolver
	clock    func() time.Time
	logger   zerolog.Logger
	skipped  int
}

// New returns an adapter. resolver may be nil, in which case every band comes
// from the row's physical em_min/em_max.
func New(cfg Config, q Querier, resolver builder.Resolver) (*Adapter, error) {
	if cfg.Name == "" {
		return nil, errors.New("obscore: name is required")
	}
	if cfg.TelescopeID <= 0 {
		return nil, fmt.Errorf("obscore %s: telescope_id must be positive", cfg.Name)
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.LookBack < 0 || cfg.LookAhead < 0 {
		return nil, fmt.Errorf("obscore %s: look_back and look_ahead must not be negative", cfg.Name)
	}
	if cfg.LookBack+cfg.LookAhead == 0 {
		cfg.LookAhead = 24 * time.Hour
	}
	if cfg.Status == "" {
		cfg.Status = models.ScheduleStatusPlanned
	}
	if cfg.Fidelity == "" {
		cfg.Fidelity = models.FidelityLow
	}
	if !cfg.Status.Valid() || !cfg.Fidelity.Valid() {
		return nil, fmt.Errorf("obscore %s: invalid schedule status %q or fidelity %q", cfg.Name, cfg.Status, cfg.Fidelity)
	}
	if resolver == nil && cfg.InstrumentID <= 0 {
		return nil, fmt.Errorf("obscore %s: needs a catalog or an instrument_id", cfg.Name)
	}
	return &Adapter{
		Base:     source.NewBase(cfg.Name, rate.Limit(cfg.RequestsPerSecond), 1),
		cfg:      cfg,
		tap:      q,
		resolver: resolver,
		clock:    time.Now,
		logger:   log.Logger,
	}, nil
}

func (a *Adapter) WithClock(clock func() time.Time) *Adapter {
	a.clock = clock
	return a
}

func (a *Adapter) WithLogger(logger zerolog.Logger) *Adapter {
	a.logger = logger
	return a
}

// Window is the UTC day-aligned range a run covers. Runs on the same day cover
// the same window, so they build the same schedule name.
func (a *Adapter) Window() models.DateRange {
	day := a.clock().UTC().Truncate(24 * time.Hour)
	return models.DateRange{Begin: day.Add(-a.cfg.LookBack), End: day.Add(a.cfg.LookAhead)}
}

// ADQL builds the query for window.
func (a *Adapter) ADQL(window models.DateRange) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if a.cfg.MaxRows > 0 {
		fmt.Fprintf(&sb, "TOP %d ", a.cfg.MaxRows)
	}
	sb.WriteString(strings.Join(columns, ", "))
	fmt.Fprintf(&sb, " FROM %s WHERE t_max >= %.6f AND t_min < %.6f",
		a.cfg.Table, toMJD(window.Begin), toMJD(window.End))
	if a.cfg.Collection != "" {
		fmt.Fprintf(&sb, " AND obs_collection = '%s'", strings.ReplaceAll(a.cfg.Collection, "'", "''"))
	}
	sb.WriteString(" ORDER BY t_min")
	return sb.String()
}

// Fetch starts a new run, so it also clears the previous run's skip count.
func (a *Adapter) Fetch(ctx context.Context) (Result, error) {
	a.skipped = 0
	window := a.Window()
	if err := a.Wait(ctx); err != nil {
		return Result{}, err
	}
	table, err := a.tap.Query(ctx, a.ADQL(window))
	if err != nil {
		return Result{}, err
	}
	return Result{Window: window, Table: table}, nil
}

func (a *Adapter) Transform(ctx context.Context, res Result) ([]models.Schedule, error) {
	a.skipped = 0
	if res.Table == nil {
		return nil, nil
	}
	for _, col := range []string{"obs_id", "s_ra", "s_dec", "t_min", "t_max"} {
		if _, ok := res.Table.Column(col); !ok {
			return nil, &tap.ProtocolError{Op: "results", URL: a.cfg.Table, Err: fmt.Errorf("missing column %s", col)}
		}
	}

	name := fmt.Sprintf("%s_%s_%s", a.cfg.Name, res.Window.Begin.Format("20060102"), res.Window.End.Format("20060102"))
	b := builder.NewScheduleBuilder(builder.Header{
		TelescopeID: a.cfg.TelescopeID,
		Name:        name,
		Status:      a.cfg.Status,
		Fidelity:    a.cfg.Fidelity,
	}).WithLogger(a.logger)

	now := a.clock().UTC()
	for i := 0; i < res.Table.Len(); i++ {
		a.addRow(b, res.Table.Record(i), now)
	}
	a.skipped = b.Skipped()

	if b.Len() == 0 {
		a.logger.Info().Str("schedule", name).Int("rows", res.Table.Len()).Int("skipped", a.skipped).
			Msg("No usable ObsCore rows in window")
		return nil, nil
	}
	s, err := b.Build()
	if err != nil {
		return nil, err
	}
	return []models.Schedule{s}, nil
}

// Skipped reports the rows dropped in the current run.
func (a *Adapter) Skipped() int {
	return a.skipped
}

func (a *Adapter) addRow(b *builder.ScheduleBuilder, r tap.Record, now time.Time) {
	key := builder.RowKey{
		ExternalID: r.String("obs_id"),
		Instrument: r.String("instrument_name"),
		Filter:     r.String("energy_bandpassname"),
	}
	if key.ExternalID == "" {
		b.Skip(key, "missing obs_id")
		return
	}
	ra, okRA := r.Float("s_ra")
	dec, okDec := r.Float("s_dec")
	if !okRA || !okDec {
		b.Skip(key, "missing pointing position")
		return
	}
	tmin, okMin := r.Float("t_min")
	tmax, okMax := r.Float("t_max")
	if !okMin || !okMax {
		b.Skip(key, "missing time bounds")
		return
	}
	window := models.DateRange{Begin: fromMJD(tmin), End: fromMJD(tmax)}

	exposure, ok := r.Float("t_exptime")
	if !ok || exposure < 0 {
		exposure = window.Seconds()
	}

	p := builder.Pointing{
		ExternalID: key.ExternalID,
		ObjectName: r.String("target_name"),
		Position:   models.Position{RA: ra, Dec: dec},
		Window:     window,
		Exposure:   exposure,
		Status:     observationStatus(window, now),
		Type:       observationType(r.String("dataproduct_type")),
	}

	bands, reason := a.bands(key, r)
	if bands == nil {
		b.Skip(key, reason)
		return
	}
	b.AddExpanded(p, key, bands)
}

// bands resolves through the catalog first and falls back to the row's own
// spectral coverage.
func (a *Adapter) bands(key builder.RowKey, r tap.Record) ([]builder.Band, string) {
	reason := "no catalog configured"
	if a.resolver != nil {
		bands, err := a.resolver.Resolve(key)
		if err == nil {
			return bands, ""
		}
		reason = err.Error()
	}
	if a.cfg.InstrumentID <= 0 {
		return nil, reason
	}
	emMin, okMin := r.Float("em_min")
	emMax, okMax := r.Float("em_max")
	if !okMin || !okMax {
		return nil, reason + "; no em_min/em_max to derive a band from"
	}
	bp, err := PhysicalBandpass(emMin, emMax, key.Filter)
	if err != nil {
		return nil, err.Error()
	}
	return []builder.Band{{InstrumentID: a.cfg.InstrumentID, Bandpass: bp, Weight: 1}}, ""
}

// PhysicalBandpass converts an ObsCore em_min/em_max pair in metres. Bands
// shorter than 10 nm become keV energies, or GeV once the lower edge passes
// 10^6 keV.
func PhysicalBandpass(emMin, emMax float64, filter string) (models.Bandpass, error) {
	if emMin <= 0 || emMax <= 0 || emMin >= emMax {
		return models.Bandpass{}, fmt.Errorf("invalid spectral range em_min=%g em_max=%g", emMin, emMax)
	}
	minNM, maxNM := emMin*1e9, emMax*1e9

	var bp models.Bandpass
	if maxNM >= xrayLimitNM {
		bp = models.NewWavelengthBandpass(models.Wavelength{
			Min: minNM, Max: maxNM, Unit: models.WavelengthUnitNM, FilterName: filter,
		})
	} else {
		lo, hi := hcKeVNM/maxNM, hcKeVNM/minNM
		unit := models.EnergyUnitKeV
		if lo >= gevInKeV {
			lo, hi, unit = lo/gevInKeV, hi/gevInKeV, models.EnergyUnitGeV
		}
		bp = models.NewEnergyBandpass(models.Energy{Min: lo, Max: hi, Unit: unit, FilterName: filter})
	}
	return bp, bp.Validate()
}

func observationStatus(window models.DateRange, now time.Time) models.ObservationStatus {
	if window.End.Before(now) {
		return models.ObservationStatusPerformed
	}
	return models.ObservationStatusScheduled
}

func observationType(dataproduct string) models.ObservationType {
	switch strings.ToLower(dataproduct) {
	case "spectrum", "cube", "visibility":
		return models.ObservationTypeSpectroscopy
	case "timeseries", "event":
		return models.ObservationTypeTiming
	default:
		return models.ObservationTypeImaging
	}
}

func fromMJD(mjd float64) time.Time {
	ms := math.Round(mjd * 86400e3)
	return mjdEpoch.Add(time.Duration(ms) * time.Millisecond)
}

func toMJD(t time.Time) float64 {
	return t.UTC().Sub(mjdEpoch).Hours() / 24
}
