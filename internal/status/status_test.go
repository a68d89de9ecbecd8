package status

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/cankoe/obs-schedule-ingest/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func record(task string, outcome models.RunOutcome) models.RunRecord {
	start := time.Date(2024, 4, 2, 8, 0, 0, 123000000, time.UTC)
	return models.RunRecord{
		RunID:          "run-" + task,
		Task:           task,
		StartedAt:      start,
		FinishedAt:     start.Add(12 * time.Second),
		Outcome:        outcome,
		Schedules:      2,
		Published:      1,
		AlreadyExisted: 1,
		Skipped:        3,
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, ok, err := m.Latest(ctx, "swift")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Record(ctx, record("swift", models.RunOutcomeFailed)))
	require.NoError(t, m.Record(ctx, record("chandra", models.RunOutcomeSuccess)))
	require.NoError(t, m.Record(ctx, record("swift", models.RunOutcomeNoData)))

	rec, ok, err := m.Latest(ctx, "swift")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RunOutcomeNoData, rec.Outcome)

	rec, ok, err = m.Latest(ctx, "chandra")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RunOutcomeSuccess, rec.Outcome)
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, models.RunRecord) error {
	return errors.New("down")
}

func TestMulti_ContinuesPastFailures(t *testing.T) {
	mem := NewMemoryStore()
	multi := Multi{failingRecorder{}, mem}

	err := multi.Record(context.Background(), record("hst", models.RunOutcomeSuccess))
	assert.ErrorContains(t, err, "down")

	_, ok, _ := mem.Latest(context.Background(), "hst")
	assert.True(t, ok)
	assert.NoError(t, Multi{mem}.Record(context.Background(), record("hst", models.RunOutcomeSuccess)))
}

type failingReader struct{}

func (failingReader) Latest(context.Context, string) (models.RunRecord, bool, error) {
	return models.RunRecord{}, false, errors.New("redis down")
}

func TestChain_FallsBackToLaterReaders(t *testing.T) {
	ctx := context.Background()
	fresh := NewMemoryStore()
	snapshot := NewMemoryStore()
	require.NoError(t, snapshot.Record(ctx, record("swift", models.RunOutcomeNoData)))

	rec, ok, err := Chain{fresh, snapshot}.Latest(ctx, "swift")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-swift", rec.RunID)

	require.NoError(t, fresh.Record(ctx, record("swift", models.RunOutcomeSuccess)))
	rec, _, err = Chain{fresh, snapshot}.Latest(ctx, "swift")
	require.NoError(t, err)
	assert.Equal(t, models.RunOutcomeSuccess, rec.Outcome)

	_, ok, err = Chain{failingReader{}, snapshot}.Latest(ctx, "swift")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = Chain{fresh, failingReader{}}.Latest(ctx, "chandra")
	assert.False(t, ok)
	assert.ErrorContains(t, err, "redis down")
}

func TestRedisRecordEncoding(t *testing.T) {
	rec := record("nustar", models.RunOutcomeFailed)
	rec.Error = "tap submit: connection refused"

	fields := map[string]string{}
	for k, v := range encodeRecord(rec) {
		switch v := v.(type) {
		case string:
			fields[k] = v
		case int:
			fields[k] = strconv.Itoa(v)
		}
	}
	got, err := decodeRecord(fields)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, "obsingest:run:nustar", redisKey("nustar"))

	delete(fields, "published")
	_, err = decodeRecord(fields)
	assert.ErrorContains(t, err, "published")
}

func TestMongoHistoryQuery(t *testing.T) {
	assert.Equal(t, bson.M{"task": "xmm"}, historyFilter("xmm"))
	assert.Equal(t, bson.D{{Key: "started_at", Value: -1}}, historySort())

	raw, err := bson.Marshal(record("xmm", models.RunOutcomeSuccess))
	require.NoError(t, err)
	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, "xmm", doc["task"])
	assert.Equal(t, "success", doc["outcome"])
	assert.Contains(t, doc, "already_existed")
	assert.NotContains(t, doc, "error")
}
