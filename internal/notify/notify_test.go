package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yourorg/fitment-ingest/internal/jobs"
)

func event(tenantID, jobID, status string) jobs.Event {
	return jobs.Event{
		TenantID:   tenantID,
		JobID:      jobID,
		JobType:    jobs.TypeFitments,
		Previous:   jobs.StatusPending,
		Current:    status,
		Result:     jobs.FitmentsResult{Failed: 3},
		Message:    &jobs.Message{Level: jobs.LevelError, Text: "Import failed: 3 duplicate fitments already exist"},
		ObservedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

type countSink struct {
	n   int
	err error
}

func (c *countSink) Notify(context.Context, jobs.Event) error {
	c.n++
	return c.err
}

func TestLedgerDeliversOnce(t *testing.T) {
	next := &countSink{}
	l, err := OpenLedger("", next)
	require.NoError(t, err)
	defer l.Close()
	ctx := context.Background()

	ev := event("acme", "j1", jobs.StatusFailed)
	require.NoError(t, l.Notify(ctx, ev))
	require.NoError(t, l.Notify(ctx, ev))
	assert.Equal(t, 1, next.n)

	// same job, another status or tenant is a new delivery
	require.NoError(t, l.Notify(ctx, event("acme", "j1", jobs.StatusCompleted)))
	require.NoError(t, l.Notify(ctx, event("globex", "j1", jobs.StatusFailed)))
	assert.Equal(t, 3, next.n)
}

func TestLedgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ev := event("acme", "j1", jobs.StatusFailed)

	first := &countSink{}
	l, err := OpenLedger(dir, first)
	require.NoError(t, err)
	require.NoError(t, l.Notify(context.Background(), ev))
	require.NoError(t, l.Close())

	second := &countSink{}
	l, err = OpenLedger(dir, second)
	require.NoError(t, err)
	defer l.Close()
	require.NoError(t, l.Notify(context.Background(), ev))
	assert.Equal(t, 1, first.n)
	assert.Zero(t, second.n)
}

func TestLedgerFailedDeliveryIsRetried(t *testing.T) {
	next := &countSink{err: errors.New("broker down")}
	l, err := OpenLedger("", next)
	require.NoError(t, err)
	defer l.Close()
	ev := event("acme", "j1", jobs.StatusFailed)

	assert.Error(t, l.Notify(context.Background(), ev))
	done, err := l.Delivered(ev)
	require.NoError(t, err)
	assert.False(t, done)

	next.err = nil
	require.NoError(t, l.Notify(context.Background(), ev))
	assert.Equal(t, 2, next.n)
}

func TestFeed(t *testing.T) {
	f := NewFeed(2)
	ch, cancel := f.Subscribe(4)
	defer cancel()
	ctx := context.Background()

	require.NoError(t, f.Notify(ctx, event("acme", "j1", jobs.StatusFailed)))
	require.NoError(t, f.Notify(ctx, event("globex", "j2", jobs.StatusCompleted)))
	require.NoError(t, f.Notify(ctx, event("acme", "j3", jobs.StatusCompleted)))

	all := f.Recent("")
	require.Len(t, all, 2)
	assert.Equal(t, "j3", all[0].JobID)
	assert.Len(t, f.Recent("acme"), 1)

	got := <-ch
	assert.Equal(t, "j1", got.JobID)
}

func TestFanoutJoinsErrors(t *testing.T) {
	a, b := &countSink{err: errors.New("a")}, &countSink{}
	err := Fanout{a, b}.Notify(context.Background(), event("acme", "j1", jobs.StatusFailed))
	assert.EqualError(t, err, "a")
	assert.Equal(t, 1, b.n)
}

func TestLogSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := LogSink{Log: zap.New(core)}

	require.NoError(t, s.Notify(context.Background(), event("acme", "j1", jobs.StatusFailed)))
	settled := event("acme", "j2", jobs.StatusCompleted)
	settled.Message = nil
	require.NoError(t, s.Notify(context.Background(), settled))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "job settled", entries[1].Message)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	s := &KafkaSink{w: w, topic: "job-events", log: zap.NewNop()}

	require.NoError(t, s.Notify(context.Background(), event("acme", "j1", jobs.StatusFailed)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "acme/j1", string(w.msgs[0].Key))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &body))
	assert.Equal(t, "fitments", body["result_type"])
	assert.Equal(t, "failed", body["current"])
	assert.Equal(t, float64(3), body["result"].(map[string]any)["fitments_failed"])

	w.err = errors.New("leader not available")
	assert.Error(t, s.Notify(context.Background(), event("acme", "j2", jobs.StatusFailed)))
}
