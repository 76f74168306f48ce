package recommend

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/fitment-ingest/internal/types"
)

const (
	DefaultLimit       = 5
	DefaultConcurrency = 4
	Strategy           = "similarity"
)

// Source lists candidates for one part.
type Source interface {
	PotentialFitments(ctx context.Context, partID, strategy string) ([]types.Candidate, error)
}

// Cache stores candidate lists per tenant and part. Implementations must treat a miss as (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, tenantID, partID string) ([]types.Candidate, bool, error)
	Set(ctx context.Context, tenantID, partID string, cands []types.Candidate) error
}

// Fetcher loads recommendations for many parts with bounded concurrency.
type Fetcher struct {
	Limit       int
	Concurrency int
	Cache       Cache
	Log         *zap.Logger
}

// Fetch returns up to Limit candidates per part, best relevance first.
// A part whose lookup fails is left out; only context cancellation aborts the whole fetch.
func (f *Fetcher) Fetch(ctx context.Context, src Source, tenantID string, partIDs []string) (map[string][]types.Candidate, error) {
	limit, conc := f.Limit, f.Concurrency
	if limit <= 0 {
		limit = DefaultLimit
	}
	if conc <= 0 {
		conc = DefaultConcurrency
	}
	log := f.Log
	if log == nil {
		log = zap.NewNop()
	}

	var mu sync.Mutex
	out := make(map[string][]types.Candidate, len(partIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conc)
	seen := make(map[string]bool, len(partIDs))
	for _, id := range partIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		id := id
		g.Go(func() error {
			cands, err := f.one(gctx, src, tenantID, id, log)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("recommendations unavailable", zap.String("part_id", id), zap.Error(err))
				return nil
			}
			if len(cands) == 0 {
				return nil
			}
			mu.Lock()
			out[id] = Top(cands, limit)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Fetcher) one(ctx context.Context, src Source, tenantID, partID string, log *zap.Logger) ([]types.Candidate, error) {
	if f.Cache != nil {
		cands, ok, err := f.Cache.Get(ctx, tenantID, partID)
		if err != nil {
			log.Debug("recommendation cache read failed", zap.String("part_id", partID), zap.Error(err))
		} else if ok {
			return cands, nil
		}
	}
	cands, err := src.PotentialFitments(ctx, partID, Strategy)
	if err != nil {
		return nil, err
	}
	if f.Cache != nil {
		if err := f.Cache.Set(ctx, tenantID, partID, cands); err != nil {
			log.Debug("recommendation cache write failed", zap.String("part_id", partID), zap.Error(err))
		}
	}
	return cands, nil
}

// Top returns the n most relevant candidates. Ties keep server order.
func Top(cands []types.Candidate, n int) []types.Candidate {
	cp := append([]types.Candidate(nil), cands...)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Relevance > cp[j].Relevance })
	if n > 0 && len(cp) > n {
		cp = cp[:n]
	}
	return cp
}
