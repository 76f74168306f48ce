package activities

import (
	"context"
	"fmt"
	"io"

	"go.temporal.io/sdk/activity"

	"github.com/yourorg/fitment-ingest/internal/apperr"
	"github.com/yourorg/fitment-ingest/internal/mapping"
	"github.com/yourorg/fitment-ingest/internal/pipeline"
	"github.com/yourorg/fitment-ingest/internal/storage"
	"github.com/yourorg/fitment-ingest/internal/types"
	"github.com/yourorg/fitment-ingest/internal/upload"
)

const heartbeatEvery = 8 << 20

// Upload reads the source file from the object store, pre-validates it and sends it to the service.
func (a *Activities) Upload(ctx context.Context, p types.PipelineParams) (UploadResult, error) {
	activity.GetLogger(ctx).Info("Uploading source file", "fileURI", p.FileURI, "tenant", p.TenantID)

	f, err := storage.OpenFile(ctx, a.cfg.Store, p.FileURI, p.DataKind)
	if err != nil {
		return UploadResult{}, err
	}
	if err := upload.Check(f, a.cfg.MaxUploadBytes); err != nil {
		return UploadResult{}, nonRetryable(err)
	}
	rc, err := f.Open()
	if err != nil {
		return UploadResult{}, fmt.Errorf("open %s: %w", p.FileURI, err)
	}
	defer rc.Close()

	defer keepAlive(ctx, "upload")()
	up, err := a.cfg.Client(p.TenantID).Upload(ctx, f.Name, &heartbeatReader{ctx: ctx, r: rc}, p.DataKind)
	if err != nil {
		return UploadResult{}, nonRetryable(err)
	}
	return UploadResult{Upload: *up, Message: pipeline.UploadMessage(up.Filename, f.Size)}, nil
}

// heartbeatReader records progress while a large file streams out.
type heartbeatReader struct {
	ctx       context.Context
	r         io.Reader
	n, lastHB int64
}

func (h *heartbeatReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	h.n += int64(n)
	if h.n-h.lastHB >= heartbeatEvery {
		recordHeartbeat(h.ctx, map[string]any{"bytes": h.n})
		h.lastHB = h.n
	}
	return n, err
}

func (a *Activities) AIMap(ctx context.Context, in StageInput) (AIMapResult, error) {
	defer keepAlive(ctx, "ai_mapping")()
	resp, err := a.cfg.Client(in.TenantID).AIMap(ctx, in.UploadID, in.DataKind)
	if err != nil {
		return AIMapResult{}, nonRetryable(err)
	}
	set := mapping.NewSet(resp.Suggestions.ColumnMappings)
	return AIMapResult{Suggestions: set.Suggestions(), Message: pipeline.MappingMessage(set)}, nil
}

func (a *Activities) Transform(ctx context.Context, in TransformInput) (TransformResult, error) {
	defer keepAlive(ctx, "transform")()
	res, err := a.cfg.Client(in.TenantID).Transform(ctx, in.UploadID, in.Mappings)
	if err != nil {
		return TransformResult{}, nonRetryable(err)
	}
	return TransformResult{Result: *res, Message: pipeline.TransformMessage(res)}, nil
}

func (a *Activities) Validate(ctx context.Context, in StageInput) (ValidateResult, error) {
	defer keepAlive(ctx, "validate")()
	res, err := a.cfg.Client(in.TenantID).Validate(ctx, in.UploadID)
	if err != nil {
		return ValidateResult{}, nonRetryable(err)
	}
	return ValidateResult{Result: *res, Message: pipeline.ValidateMessage(res)}, nil
}

// Review loads recommendations for fitment uploads and assembles the review data.
func (a *Activities) Review(ctx context.Context, in ReviewInput) (ReviewResult, error) {
	var recs map[string][]types.Candidate
	if in.DataKind == types.DataFitments && len(in.Validation.UniquePartIDs) > 0 {
		stop := keepAlive(ctx, "review")
		var err error
		recs, err = a.cfg.Recommend.Fetch(ctx, a.cfg.Client(in.TenantID), in.TenantID, in.Validation.UniquePartIDs)
		stop()
		if err != nil {
			return ReviewResult{}, apperr.Remote(0, "recommendations could not be loaded", err)
		}
	}
	rd := pipeline.BuildReview(&in.Validation, recs)
	return ReviewResult{Review: *rd, Message: pipeline.ReviewMessage(in.DataKind, rd)}, nil
}
