// Package workflow runs the ingestion pipeline headless on Temporal.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yourorg/fitment-ingest/internal/activities"
	"github.com/yourorg/fitment-ingest/internal/pipeline"
	"github.com/yourorg/fitment-ingest/internal/types"
)

const (
	StagesQuery   = "stages"
	PublishSignal = "publish"
)

// State is returned by the stages query.
type State struct {
	Stages          []pipeline.StageState  `json:"stages"`
	UploadID        string                 `json:"upload_id,omitempty"`
	Review          *types.ReviewData      `json:"review,omitempty"`
	AwaitingPublish bool                   `json:"awaiting_publish"`
	PublishBlocker  string                 `json:"publish_blocker,omitempty"`
	PublishError    string                 `json:"publish_error,omitempty"`
	Published       *types.PublishResponse `json:"published,omitempty"`
	ArchiveURI      string                 `json:"archive_uri,omitempty"`
}

// PipelineWorkflow runs Upload through Review, then waits for a publish signal. A publish
// that is blocked or fails leaves the review in place and waits for the next signal.
func PipelineWorkflow(ctx workflow.Context, p types.PipelineParams) (types.PublishResponse, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	log := workflow.GetLogger(ctx)

	// Upload and publish create records on the service; a retry would duplicate them.
	once := ao
	once.RetryPolicy = &temporal.RetryPolicy{MaximumAttempts: 1}
	onceCtx := workflow.WithActivityOptions(ctx, once)

	m := pipeline.NewMachine(func() time.Time { return workflow.Now(ctx) })
	st := &State{}
	refresh := func() { st.Stages, st.UploadID = m.Snapshot(), m.UploadID() }
	refresh()
	if err := workflow.SetQueryHandler(ctx, StagesQuery, func() (State, error) { return *st, nil }); err != nil {
		return types.PublishResponse{}, err
	}

	// run enters s, executes the activity and records the outcome on the machine.
	run := func(actx workflow.Context, s pipeline.Stage, name string, in, out any, message func() string) error {
		if err := m.Enter(s); err != nil {
			return err
		}
		refresh()
		err := workflow.ExecuteActivity(actx, name, in).Get(ctx, out)
		if err != nil {
			_ = m.Advance(s, pipeline.Outcome{Err: err, Message: failureMessage(err)})
			refresh()
			log.Info("Stage failed", "stage", s.String(), "error", err)
			return fmt.Errorf("%s: %w", s, err)
		}
		_ = m.Advance(s, pipeline.Outcome{Message: message()})
		refresh()
		return nil
	}

	var up activities.UploadResult
	if err := run(onceCtx, pipeline.StageUpload, activities.UploadName, p, &up, func() string { return up.Message }); err != nil {
		return types.PublishResponse{}, err
	}
	m.SetUploadID(up.Upload.ID)
	in := activities.StageInput{TenantID: p.TenantID, UploadID: up.Upload.ID, DataKind: p.DataKind}

	var mp activities.AIMapResult
	if err := run(ctx, pipeline.StageAIMapping, activities.AIMapName, in, &mp, func() string { return mp.Message }); err != nil {
		return types.PublishResponse{}, err
	}
	var tr activities.TransformResult
	tin := activities.TransformInput{StageInput: in, Mappings: mp.Suggestions}
	if err := run(ctx, pipeline.StageTransform, activities.TransformName, tin, &tr, func() string { return tr.Message }); err != nil {
		return types.PublishResponse{}, err
	}
	var vr activities.ValidateResult
	if err := run(ctx, pipeline.StageValidate, activities.ValidateName, in, &vr, func() string { return vr.Message }); err != nil {
		return types.PublishResponse{}, err
	}
	var rr activities.ReviewResult
	rin := activities.ReviewInput{StageInput: in, Validation: vr.Result}
	if err := run(ctx, pipeline.StageReview, activities.ReviewName, rin, &rr, func() string { return rr.Message }); err != nil {
		return types.PublishResponse{}, err
	}
	st.Review = &rr.Review

	sig := workflow.GetSignalChannel(ctx, PublishSignal)
	for {
		st.AwaitingPublish = true
		var req types.PublishSignal
		cancelled := false
		sel := workflow.NewSelector(ctx)
		sel.AddReceive(sig, func(c workflow.ReceiveChannel, _ bool) { c.Receive(ctx, &req) })
		sel.AddReceive(ctx.Done(), func(workflow.ReceiveChannel, bool) { cancelled = true })
		sel.Select(ctx)
		if cancelled {
			return types.PublishResponse{}, ctx.Err()
		}

		if n := len(rr.Review.Errors); n > 0 && !req.Force {
			st.PublishBlocker = fmt.Sprintf("%d validation errors must be resolved before publishing", n)
			log.Info("Publish blocked", "errors", n)
			continue
		}
		st.PublishBlocker = ""
		st.AwaitingPublish = false

		var pr activities.PublishResult
		pin := activities.PublishInput{StageInput: in, ArchiveURI: p.ArchiveURI}
		if err := workflow.ExecuteActivity(onceCtx, activities.PublishName, pin).Get(ctx, &pr); err != nil {
			st.PublishError = failureMessage(err)
			log.Info("Publish failed", "error", err)
			continue
		}
		st.PublishError = ""
		st.Published = &pr.Response
		st.ArchiveURI = pr.ArchiveURI
		return pr.Response, nil
	}
}

// failureMessage extracts the message an activity failed with.
func failureMessage(err error) string {
	var ae *temporal.ApplicationError
	if errors.As(err, &ae) && ae.Message() != "" {
		return ae.Message()
	}
	return err.Error()
}
