package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/yourorg/fitment-ingest/internal/jobs"
)

// DefaultRetention is how long a delivery is remembered.
const DefaultRetention = 30 * 24 * time.Hour

// Ledger forwards each (tenant, job, status) event to its sink at most once,
// remembering deliveries in badger so a restarted watcher does not repeat them.
type Ledger struct {
	db        *badger.DB
	next      jobs.Sink
	retention time.Duration
}

// OpenLedger opens a ledger under dir. An empty dir keeps the ledger in memory.
func OpenLedger(dir string, next jobs.Sink) (*Ledger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open notification ledger: %w", err)
	}
	return &Ledger{db: db, next: next, retention: DefaultRetention}, nil
}

func ledgerKey(ev jobs.Event) []byte {
	return []byte("delivered/" + ev.TenantID + "/" + ev.JobID + "/" + ev.Current)
}

// Delivered reports whether ev was already forwarded.
func (l *Ledger) Delivered(ev jobs.Event) (bool, error) {
	var found bool
	err := l.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(ledgerKey(ev))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Notify forwards ev unless it was delivered before. A failed delivery is not recorded.
func (l *Ledger) Notify(ctx context.Context, ev jobs.Event) error {
	done, err := l.Delivered(ev)
	if err != nil {
		return fmt.Errorf("read notification ledger: %w", err)
	}
	if done {
		return nil
	}
	if err := l.next.Notify(ctx, ev); err != nil {
		return err
	}
	return l.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(ledgerKey(ev), []byte(ev.ObservedAt.UTC().Format(time.RFC3339)))
		if l.retention > 0 {
			e = e.WithTTL(l.retention)
		}
		return txn.SetEntry(e)
	})
}

func (l *Ledger) Close() error { return l.db.Close() }
