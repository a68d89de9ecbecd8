package helpers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cankoe/obs-schedule-ingest/internal/builder"
	"github.com/cankoe/obs-schedule-ingest/internal/config"
	"github.com/cankoe/obs-schedule-ingest/internal/models"
	"github.com/cankoe/obs-schedule-ingest/internal/scheduler"
	"github.com/cankoe/obs-schedule-ingest/internal/source"
	"github.com/cankoe/obs-schedule-ingest/internal/source/obscore"
	"github.com/cankoe/obs-schedule-ingest/internal/tap"
)

// BuildTasks turns every configured task into a scheduler task running its
// source through one shared runner.
func (c *AppComponents) BuildTasks() ([]scheduler.Task, error) {
	runner := source.NewRunner(c.Publisher).
		WithRecorder(c.Recorder).
		WithMetrics(c.Metrics)

	tasks := make([]scheduler.Task, 0, len(c.Config.Tasks))
	for _, tc := range c.Config.Tasks {
		src, err := c.NewSource(tc)
		if err != nil {
			return nil, err
		}
		trigger, err := scheduler.ParseTrigger(tc.TriggerSpec())
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", tc.Name, err)
		}
		tasks = append(tasks, scheduler.Task{
			Name:       tc.Name,
			Trigger:    trigger,
			RunAtStart: tc.RunAtStart,
			Run: func(ctx context.Context) {
				runner.Run(ctx, src)
			},
		})
	}
	return tasks, nil
}

// NewSource builds the adapter a task config names.
func (c *AppComponents) NewSource(tc config.TaskConfig) (source.Source, error) {
	var resolver builder.Resolver
	if tc.Catalog != "" {
		cat, err := c.Catalogs.Get(tc.Catalog)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", tc.Name, err)
		}
		resolver = cat
	}

	switch tc.Source {
	case "obscore":
		tapClient := tap.NewClient(tc.TAPURL, c.HTTPClient).
			WithWait(c.Config.TAPWait()).
			WithPhaseRecorder(c.Metrics)
		adapter, err := obscore.New(obscore.Config{
			Name:              tc.Name,
			TelescopeID:       tc.TelescopeID,
			InstrumentID:      tc.InstrumentID,
			Table:             tc.Table,
			Collection:        tc.Collection,
			LookBack:          time.Duration(tc.LookBackHours) * time.Hour,
			LookAhead:         time.Duration(tc.LookAheadHours) * time.Hour,
			Status:            models.ScheduleStatus(strings.ToLower(tc.Status)),
			Fidelity:          models.Fidelity(strings.ToLower(tc.Fidelity)),
			MaxRows:           tc.MaxRows,
			RequestsPerSecond: tc.RequestsPerSecond,
		}, tapClient, resolver)
		if err != nil {
			return nil, err
		}
		return source.FromAdapter[obscore.Result](adapter), nil
	default:
		return nil, fmt.Errorf("task %s: unknown source %q", tc.Name, tc.Source)
	}
}
