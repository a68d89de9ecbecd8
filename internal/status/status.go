// Package status keeps the records of finished task runs. Records are written
// for operators and the status API; runs never read them back.
package status

import (
	"context"
	"errors"
	"sync"

	"github.com/cankoe/obs-schedule-ingest/internal/models"
)

type Recorder interface {
	Record(ctx context.Context, rec models.RunRecord) error
}

// Reader serves the latest record of each task.
type Reader interface {
	Latest(ctx context.Context, task string) (models.RunRecord, bool, error)
}

// MemoryStore keeps the latest record per task in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	latest map[string]models.RunRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{latest: make(map[string]models.RunRecord)}
}

func (m *MemoryStore) Record(_ context.Context, rec models.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[rec.Task] = rec
	return nil
}

func (m *MemoryStore) Latest(_ context.Context, task string) (models.RunRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.latest[task]
	return rec, ok, nil
}

// Chain reads from each reader in turn and returns the first record found. A
// process that just restarted has an empty MemoryStore; a Redis snapshot behind
// it still answers.
type Chain []Reader

func (c Chain) Latest(ctx context.Context, task string) (models.RunRecord, bool, error) {
	var errs []error
	for _, r := range c {
		rec, ok, err := r.Latest(ctx, task)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return rec, true, nil
		}
	}
	return models.RunRecord{}, false, errors.Join(errs...)
}

// Multi records to every recorder, continuing past failures.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, rec models.RunRecord) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
