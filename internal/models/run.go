package models

import "time"

type RunOutcome string

const (
	RunOutcomeSuccess RunOutcome = "success"
	RunOutcomeNoData  RunOutcome = "no_data"
	RunOutcomeFailed  RunOutcome = "failed"
)

// RunRecord summarises one execution of an ingest task.
type RunRecord struct {
	RunID          string     `bson:"run_id" json:"run_id"`
	Task           string     `bson:"task" json:"task"`
	StartedAt      time.Time  `bson:"started_at" json:"started_at"`
	FinishedAt     time.Time  `bson:"finished_at" json:"finished_at"`
	Outcome        RunOutcome `bson:"outcome" json:"outcome"`
	Schedules      int        `bson:"schedules" json:"schedules"`
	Published      int        `bson:"published" json:"published"`
	AlreadyExisted int        `bson:"already_existed" json:"already_existed"`
	Skipped        int        `bson:"skipped" json:"skipped"`
	Error          string     `bson:"error,omitempty" json:"error,omitempty"`
}

func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
