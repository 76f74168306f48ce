// Package jobs watches the job collection of the active tenant and turns
// meaningful status transitions into one-shot events.
package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/fitment-ingest/internal/metrics"
	"github.com/yourorg/fitment-ingest/internal/normalize"
	"github.com/yourorg/fitment-ingest/internal/tenant"
	"github.com/yourorg/fitment-ingest/internal/types"
)

const (
	DefaultInterval = 3 * time.Second
	DefaultPages    = 1
)

var ErrPollInFlight = errors.New("jobs: poll already in flight")

// Lister lists jobs of one tenant.
type Lister interface {
	Jobs(ctx context.Context, f types.JobFilter) (*types.JobPage, error)
}

// ListerFunc returns a lister scoped to tenantID.
type ListerFunc func(tenantID string) Lister

// Event is a status transition of one job.
type Event struct {
	TenantID   string    `json:"tenant_id"`
	JobID      string    `json:"job_id"`
	JobType    string    `json:"job_type"`
	Previous   string    `json:"previous"`
	Current    string    `json:"current"`
	Result     Result    `json:"result"`
	Message    *Message  `json:"message,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// Sink receives events.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// BaselineStore persists the last known-good statuses per tenant.
// Load returns an empty map, not an error, for an unknown tenant.
type BaselineStore interface {
	LoadBaseline(ctx context.Context, tenantID string) (map[string]string, error)
	SaveBaseline(ctx context.Context, tenantID string, statuses map[string]string) error
}

type Config struct {
	Tenants  *tenant.Context
	Lister   ListerFunc
	Sink     Sink
	Store    BaselineStore
	Interval time.Duration
	Filter   types.JobFilter
	// Pages is how many pages of the listing make up one snapshot.
	Pages int
	Log   *zap.Logger
	Now   func() time.Time
}

// Reconciler polls on a timer that is re-armed only after the previous poll settled.
type Reconciler struct {
	cfg Config
	log *zap.Logger

	inflight atomic.Bool

	mu        sync.Mutex
	baselines map[string]map[string]string
	token     uint64
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Pages <= 0 {
		cfg.Pages = DefaultPages
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{cfg: cfg, log: cfg.Log, baselines: map[string]map[string]string{}}
}

// Start begins polling until Stop or ctx is done. Calling Start while running is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.token++
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.token, r.done)
	r.log.Info("job history watch started", zap.Duration("interval", r.cfg.Interval))
}

// Stop cancels polling and waits for the loop to exit. Results of a poll
// still in flight are discarded.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.token++
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.log.Info("job history watch stopped")
}

func (r *Reconciler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

func (r *Reconciler) loop(ctx context.Context, token uint64, done chan struct{}) {
	defer close(done)
	t := time.NewTimer(r.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.poll(ctx, token)
			t.Reset(r.cfg.Interval)
		}
	}
}

// PollOnce runs a single poll outside the timer and returns the events it delivered.
func (r *Reconciler) PollOnce(ctx context.Context) ([]Event, error) {
	r.mu.Lock()
	token := r.token
	r.mu.Unlock()
	return r.poll(ctx, token)
}

func (r *Reconciler) poll(ctx context.Context, token uint64) ([]Event, error) {
	if !r.inflight.CompareAndSwap(false, true) {
		return nil, ErrPollInFlight
	}
	defer r.inflight.Store(false)

	tag, err := r.cfg.Tenants.Current()
	if err != nil {
		return nil, nil
	}
	metrics.Polls.Inc()

	prev, err := r.baseline(ctx, tag.ID)
	if err != nil {
		metrics.PollFailures.Inc()
		r.log.Warn("load job baseline", zap.String("tenant", tag.ID), zap.Error(err))
		return nil, nil
	}
	jobs, err := r.fetch(ctx, tag.ID)
	if err != nil {
		metrics.PollFailures.Inc()
		r.log.Warn("job poll failed", zap.String("tenant", tag.ID), zap.Error(err))
		return nil, nil
	}

	now := r.cfg.Now()
	next := make(map[string]string, len(jobs))
	var events []Event
	for _, j := range jobs {
		cur := normalize.Status(j.Status)
		next[j.ID] = cur
		p, seen := prev[j.ID]
		if !seen || !Transition(p, cur) {
			continue
		}
		ev := Event{
			TenantID:   tag.ID,
			JobID:      j.ID,
			JobType:    j.JobType,
			Previous:   p,
			Current:    cur,
			Result:     ParseResult(j.JobType, j.Result),
			ObservedAt: now,
		}
		if msg, ok := SelectMessage(cur, ev.Result); ok {
			ev.Message = &msg
		}
		events = append(events, ev)
	}

	if !r.live(token, tag) {
		r.log.Debug("job poll discarded", zap.String("tenant", tag.ID))
		return nil, nil
	}

	// A job whose event could not be delivered keeps its previous status,
	// so the same transition is observed again on the next poll.
	delivered := events[:0]
	for _, ev := range events {
		if r.cfg.Sink != nil {
			if err := r.cfg.Sink.Notify(ctx, ev); err != nil {
				r.log.Warn("deliver job event", zap.String("job_id", ev.JobID), zap.Error(err))
				next[ev.JobID] = ev.Previous
				continue
			}
		}
		metrics.Notifications.WithLabelValues(ev.Current).Inc()
		delivered = append(delivered, ev)
	}

	r.mu.Lock()
	if token != r.token || !r.cfg.Tenants.Valid(tag) {
		r.mu.Unlock()
		r.log.Debug("job baseline discarded", zap.String("tenant", tag.ID))
		return delivered, nil
	}
	r.baselines[tag.ID] = next
	r.mu.Unlock()

	if r.cfg.Store != nil {
		if err := r.cfg.Store.SaveBaseline(ctx, tag.ID, next); err != nil {
			r.log.Warn("save job baseline", zap.String("tenant", tag.ID), zap.Error(err))
		}
	}
	return delivered, nil
}

func (r *Reconciler) live(token uint64, tag tenant.Tag) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return token == r.token && r.cfg.Tenants.Valid(tag)
}

// baseline returns the last known-good statuses for tenantID, loading them from the store once.
func (r *Reconciler) baseline(ctx context.Context, tenantID string) (map[string]string, error) {
	r.mu.Lock()
	b, ok := r.baselines[tenantID]
	r.mu.Unlock()
	if ok || r.cfg.Store == nil {
		return b, nil
	}
	b, err := r.cfg.Store.LoadBaseline(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if _, raced := r.baselines[tenantID]; !raced {
		r.baselines[tenantID] = b
	}
	r.mu.Unlock()
	return b, nil
}

func (r *Reconciler) fetch(ctx context.Context, tenantID string) ([]types.Job, error) {
	l := r.cfg.Lister(tenantID)
	var out []types.Job
	for page := 1; page <= r.cfg.Pages; page++ {
		f := r.cfg.Filter
		f.Page = page
		p, err := l.Jobs(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Items...)
		if page >= p.TotalPages {
			break
		}
	}
	return out, nil
}
