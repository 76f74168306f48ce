// Package notify delivers job transition events to the console feed, the log
// and Kafka, with a badger ledger that keeps delivery one-shot across restarts.
package notify

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/yourorg/fitment-ingest/internal/jobs"
)

// LogSink writes every event to a zap logger.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Notify(_ context.Context, ev jobs.Event) error {
	fields := []zap.Field{
		zap.String("tenant", ev.TenantID),
		zap.String("job_id", ev.JobID),
		zap.String("job_type", ev.JobType),
		zap.String("from", ev.Previous),
		zap.String("to", ev.Current),
	}
	if ev.Message == nil {
		s.Log.Info("job settled", fields...)
		return nil
	}
	fields = append(fields, zap.String("message", ev.Message.Text))
	switch ev.Message.Level {
	case jobs.LevelError:
		s.Log.Error("job failed", fields...)
	case jobs.LevelWarning:
		s.Log.Warn("job finished with warnings", fields...)
	default:
		s.Log.Info("job finished", fields...)
	}
	return nil
}

// Fanout delivers to every sink and joins their errors.
type Fanout []jobs.Sink

func (f Fanout) Notify(ctx context.Context, ev jobs.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Feed keeps the most recent events in memory for the console.
type Feed struct {
	mu    sync.Mutex
	limit int
	items []jobs.Event
	seq   uint64
	subs  map[uint64]chan jobs.Event
}

func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = 100
	}
	return &Feed{limit: limit, subs: map[uint64]chan jobs.Event{}}
}

func (f *Feed) Notify(_ context.Context, ev jobs.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, ev)
	if over := len(f.items) - f.limit; over > 0 {
		f.items = append([]jobs.Event(nil), f.items[over:]...)
	}
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Recent returns events for tenantID, newest first. An empty tenantID matches all.
func (f *Feed) Recent(tenantID string) []jobs.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]jobs.Event, 0, len(f.items))
	for i := len(f.items) - 1; i >= 0; i-- {
		if tenantID == "" || f.items[i].TenantID == tenantID {
			out = append(out, f.items[i])
		}
	}
	return out
}

// Subscribe returns a channel of new events and a cancel func. Slow readers miss events.
func (f *Feed) Subscribe(buf int) (<-chan jobs.Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := f.seq
	ch := make(chan jobs.Event, buf)
	f.subs[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
}
