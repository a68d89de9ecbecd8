package source

import (
	"context"
	"errors"
	"time"

	"github.com/cankoe/obs-schedule-ingest/internal/metrics"
	"github.com/cankoe/obs-schedule-ingest/internal/models"
	"github.com/cankoe/obs-schedule-ingest/internal/publish"
	"github.com/cankoe/obs-schedule-ingest/internal/tap"
	"github.com/cankoe/obs-schedule-ingest/internal/transport"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Publisher interface {
	Publish(ctx context.Context, s models.Schedule) (publish.Result, error)
}

// Recorder stores the summary of a finished run.
type Recorder interface {
	Record(ctx context.Context, rec models.RunRecord) error
}

// Runner executes one collect-and-publish cycle for a source. Runs do not share
// state; the record it returns is the only trace a run leaves.
type Runner struct {
	publisher Publisher
	recorder  Recorder
	metrics   metrics.Sink
	logger    zerolog.Logger
	clock     func() time.Time
}

func NewRunner(p Publisher) *Runner {
	return &Runner{
		publisher: p,
		metrics:   metrics.NewNoopSink(),
		logger:    log.Logger,
		clock:     time.Now,
	}
}

func (r *Runner) WithRecorder(rec Recorder) *Runner {
	r.recorder = rec
	return r
}

func (r *Runner) WithMetrics(m metrics.Sink) *Runner {
	r.metrics = m
	return r
}

func (r *Runner) WithLogger(logger zerolog.Logger) *Runner {
	r.logger = logger
	return r
}

// WithClock overrides the clock for testing.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// Run collects from src and publishes each schedule in order. It stops at the
// first publish failure. Errors never escape: they are logged and reflected in
// the returned record's outcome.
func (r *Runner) Run(ctx context.Context, src Source) (rec models.RunRecord) {
	rec = models.RunRecord{
		RunID:     uuid.NewString(),
		Task:      src.Name(),
		StartedAt: r.clock().UTC(),
	}
	logger := r.logger.With().Str("task", rec.Task).Str("run_id", rec.RunID).Logger()
	logger.Info().Msg("Task run started")

	defer func() {
		rec.FinishedAt = r.clock().UTC()
		r.metrics.RunCompleted(rec.Task, string(rec.Outcome), rec.Duration())
		if r.recorder != nil {
			if err := r.recorder.Record(ctx, rec); err != nil {
				logger.Warn().Err(err).Msg("Failed to record run")
			}
		}
	}()

	schedules, err := src.Collect(ctx)
	if sr, ok := src.(SkipReporter); ok {
		rec.Skipped = sr.Skipped()
		for i := 0; i < rec.Skipped; i++ {
			r.metrics.RowSkipped(rec.Task)
		}
	}
	if err != nil {
		rec.Outcome, rec.Error = classify(logger, err)
		return rec
	}

	rec.Schedules = len(schedules)
	if len(schedules) == 0 {
		logger.Info().Int("skipped", rec.Skipped).Msg("No schedules this cycle")
		rec.Outcome = models.RunOutcomeNoData
		return rec
	}

	for _, s := range schedules {
		if err := s.Validate(); err != nil {
			logger.Warn().Err(err).Str("schedule", s.Name).Msg("Dropping invalid schedule")
			rec.Skipped++
			continue
		}

		result, err := r.publisher.Publish(ctx, s)
		if err != nil {
			var serr *publish.StatusError
			if errors.As(err, &serr) {
				logger.Error().Int("status", serr.StatusCode).Str("body", serr.Body).
					Str("schedule", s.Name).Msg("Aggregation server rejected schedule")
			} else {
				logger.Error().Err(err).Str("schedule", s.Name).Msg("Failed to publish schedule")
			}
			rec.Outcome = models.RunOutcomeFailed
			rec.Error = err.Error()
			return rec
		}

		r.metrics.SchedulePublished(rec.Task, string(result))
		switch result {
		case publish.ResultAlreadyExists:
			rec.AlreadyExisted++
		default:
			rec.Published++
		}
	}

	if rec.Published+rec.AlreadyExisted == 0 {
		rec.Outcome = models.RunOutcomeNoData
	} else {
		rec.Outcome = models.RunOutcomeSuccess
	}
	logger.Info().Int("published", rec.Published).Int("already_existed", rec.AlreadyExisted).
		Int("skipped", rec.Skipped).Msg("Task run finished")
	return rec
}

// classify logs a collect failure and maps it to a run outcome.
func classify(logger zerolog.Logger, err error) (models.RunOutcome, string) {
	var (
		terr *transport.Error
		perr *tap.ProtocolError
	)
	switch {
	case errors.As(err, &terr):
		logger.Error().Err(err).Str("op", terr.Op).Str("url", terr.URL).
			Msg("Upstream unreachable, waiting for next trigger")
		return models.RunOutcomeFailed, err.Error()
	case errors.As(err, &perr):
		logger.Warn().Err(err).Str("op", perr.Op).Str("url", perr.URL).
			Msg("Malformed upstream response, no data this cycle")
		return models.RunOutcomeNoData, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Warn().Err(err).Msg("Task run interrupted")
		return models.RunOutcomeFailed, err.Error()
	default:
		logger.Error().Err(err).Msg("Task run failed")
		return models.RunOutcomeFailed, err.Error()
	}
}
