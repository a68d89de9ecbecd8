// Package metrics records ingest activity. Every Sink method is fire-and-forget:
// implementations never block a run or return errors.
package metrics

import "time"

type Sink interface {
	// RunCompleted is called once per task run with its outcome.
	RunCompleted(task, outcome string, duration time.Duration)
	// SchedulePublished is called for every schedule the server accepted or
	// already held.
	SchedulePublished(task, result string)
	TAPPhase(phase string)
	RowSkipped(task string)
}
