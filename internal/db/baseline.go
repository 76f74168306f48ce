package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// BaselineRepository stores the reconciler's last known-good job statuses per tenant.
type BaselineRepository struct{ p *Pool }

func NewBaselineRepo(p *Pool) *BaselineRepository { return &BaselineRepository{p: p} }

func (r *BaselineRepository) LoadBaseline(ctx context.Context, tenantID string) (map[string]string, error) {
	rows, err := r.p.Query(ctx, `select job_id, status from job_baseline where tenant_id=$1`, tenantID)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		out[id] = status
	}
	return out, rows.Err()
}

// SaveBaseline replaces the tenant's baseline in one transaction using COPY.
func (r *BaselineRepository) SaveBaseline(ctx context.Context, tenantID string, statuses map[string]string) error {
	tx, err := r.p.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `delete from job_baseline where tenant_id=$1`, tenantID); err != nil {
		return mapPgErr(err)
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(statuses))
	for id, st := range statuses {
		rows = append(rows, []any{tenantID, id, st, now})
	}
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"job_baseline"},
			[]string{"tenant_id", "job_id", "status", "observed_at"}, pgx.CopyFromRows(rows)); err != nil {
			return mapPgErr(err)
		}
	}
	return tx.Commit(ctx)
}
