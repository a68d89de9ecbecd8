// Package source defines the contract ingest adapters satisfy and runs them:
// fetch, transform, then publish every resulting schedule.
package source

import (
	"context"
	"fmt"

	"github.com/cankoe/obs-schedule-ingest/internal/models"

	"golang.org/x/time/rate"
)

// Adapter is one upstream source. R is whatever raw form Fetch produces; the
// runner never looks inside it.
type Adapter[R any] interface {
	Name() string
	Fetch(ctx context.Context) (R, error)
	Transform(ctx context.Context, raw R) ([]models.Schedule, error)
}

// Source is an adapter with its raw type erased.
type Source interface {
	Name() string
	Collect(ctx context.Context) ([]models.Schedule, error)
}

// SkipReporter is implemented by sources that count rows dropped during the
// last Collect.
type SkipReporter interface {
	Skipped() int
}

type adapted[R any] struct {
	adapter Adapter[R]
}

func FromAdapter[R any](a Adapter[R]) Source {
	return &adapted[R]{adapter: a}
}

func (s *adapted[R]) Name() string {
	return s.adapter.Name()
}

func (s *adapted[R]) Collect(ctx context.Context) ([]models.Schedule, error) {
	raw, err := s.adapter.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch: %w", s.adapter.Name(), err)
	}
	schedules, err := s.adapter.Transform(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: transform: %w", s.adapter.Name(), err)
	}
	return schedules, nil
}

func (s *adapted[R]) Skipped() int {
	if r, ok := s.adapter.(SkipReporter); ok {
		return r.Skipped()
	}
	return 0
}

// Base holds what every adapter shares: its name and a limiter on upstream
// requests.
type Base struct {
	name    string
	limiter *rate.Limiter
}

// NewBase allows r requests per second with bursts of b. A zero r disables
// limiting.
func NewBase(name string, r rate.Limit, b int) *Base {
	if r <= 0 {
		r = rate.Inf
	}
	if b < 1 {
		b = 1
	}
	return &Base{name: name, limiter: rate.NewLimiter(r, b)}
}

func (b *Base) Name() string {
	return b.name
}

// Wait blocks until the limiter allows another upstream request.
func (b *Base) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}
