package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yourorg/fitment-ingest/internal/pipeline"
)

// Run is a persisted pipeline session snapshot.
type Run struct {
	ID        string
	TenantID  string
	Filename  string
	DataKind  string
	UploadID  *string
	Stage     string
	Status    string
	Snapshot  []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

type RunRepository interface {
	// Save upserts a run by id.
	Save(ctx context.Context, r Run) error
	Get(ctx context.Context, id string) (Run, error)
	// ListByTenant returns the most recently updated runs first.
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]Run, error)
}

func NewRunRepo(p *Pool) RunRepository { return &runRepo{p: p} }

type runRepo struct{ p *Pool }

func (r *runRepo) Save(ctx context.Context, run Run) error {
	const q = `insert into pipeline_run (id, tenant_id, filename, data_kind, upload_id, stage, status, snapshot, created_at, updated_at)
               values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
               on conflict (id) do update set upload_id=excluded.upload_id, stage=excluded.stage, status=excluded.status,
                   snapshot=excluded.snapshot, updated_at=excluded.updated_at
               where pipeline_run.updated_at <= excluded.updated_at`
	_, err := r.p.Exec(ctx, q, run.ID, run.TenantID, run.Filename, run.DataKind, run.UploadID,
		run.Stage, run.Status, run.Snapshot, run.CreatedAt, run.UpdatedAt)
	return mapPgErr(err)
}

func (r *runRepo) Get(ctx context.Context, id string) (Run, error) {
	const q = `select id, tenant_id, filename, data_kind, upload_id, stage, status, snapshot, created_at, updated_at
               from pipeline_run where id=$1`
	var run Run
	err := r.p.QueryRow(ctx, q, id).Scan(&run.ID, &run.TenantID, &run.Filename, &run.DataKind, &run.UploadID,
		&run.Stage, &run.Status, &run.Snapshot, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return Run{}, mapPgErr(err)
	}
	return run, nil
}

func (r *runRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	const q = `select id, tenant_id, filename, data_kind, upload_id, stage, status, snapshot, created_at, updated_at
               from pipeline_run where tenant_id=$1 order by updated_at desc limit $2`
	rows, err := r.p.Query(ctx, q, tenantID, limit)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.TenantID, &run.Filename, &run.DataKind, &run.UploadID,
			&run.Stage, &run.Status, &run.Snapshot, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// RunRecorder stores pipeline snapshots through a RunRepository.
type RunRecorder struct {
	Repo RunRepository
}

func (rr RunRecorder) RecordRun(ctx context.Context, snap pipeline.Snapshot) error {
	run, err := RunFromSnapshot(snap)
	if err != nil {
		return err
	}
	return rr.Repo.Save(ctx, run)
}

// RunFromSnapshot flattens a snapshot. Stage and Status describe the furthest stage that has left pending.
func RunFromSnapshot(snap pipeline.Snapshot) (Run, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return Run{}, fmt.Errorf("encode snapshot: %w", err)
	}
	run := Run{
		ID:        snap.ID,
		TenantID:  snap.TenantID,
		Filename:  snap.Filename,
		DataKind:  string(snap.DataKind),
		Stage:     pipeline.StageUpload.String(),
		Status:    string(pipeline.StatusPending),
		Snapshot:  b,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}
	if snap.Upload != nil && snap.Upload.ID != "" {
		id := snap.Upload.ID
		run.UploadID = &id
	}
	for _, st := range snap.Stages {
		if st.Status == pipeline.StatusInProgress {
			run.Stage, run.Status = st.Name, string(st.Status)
			break
		}
		if st.Status != pipeline.StatusPending {
			run.Stage, run.Status = st.Name, string(st.Status)
		}
	}
	if snap.Published != nil {
		run.Status = "published"
	}
	return run, nil
}
