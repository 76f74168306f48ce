// Package activities holds the Temporal activities behind the headless pipeline workflow.
package activities

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/yourorg/fitment-ingest/internal/apperr"
	"github.com/yourorg/fitment-ingest/internal/pipeline"
	"github.com/yourorg/fitment-ingest/internal/recommend"
	"github.com/yourorg/fitment-ingest/internal/storage"
	"github.com/yourorg/fitment-ingest/internal/types"
	"github.com/yourorg/fitment-ingest/internal/upload"
)

// Registered activity names, shared by the worker and the workflow.
const (
	UploadName    = "Activities.Upload"
	AIMapName     = "Activities.AIMap"
	TransformName = "Activities.Transform"
	ValidateName  = "Activities.Validate"
	ReviewName    = "Activities.Review"
	PublishName   = "Activities.Publish"
)

type Config struct {
	Client         pipeline.ClientFunc
	Store          storage.ObjectStore
	Recommend      *recommend.Fetcher
	MaxUploadBytes int64
}

type Activities struct {
	cfg Config
}

func New(cfg Config) *Activities {
	if cfg.Recommend == nil {
		cfg.Recommend = &recommend.Fetcher{}
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = upload.DefaultMaxBytes
	}
	return &Activities{cfg: cfg}
}

// StageInput identifies the upload a stage activity works on.
type StageInput struct {
	TenantID string         `json:"tenant_id"`
	UploadID string         `json:"upload_id"`
	DataKind types.DataKind `json:"data_kind"`
}

type UploadResult struct {
	Upload  types.Upload `json:"upload"`
	Message string       `json:"message"`
}

type AIMapResult struct {
	Suggestions []types.MappingSuggestion `json:"suggestions"`
	Message     string                    `json:"message"`
}

type TransformInput struct {
	StageInput
	Mappings []types.MappingSuggestion `json:"mappings"`
}

type TransformResult struct {
	Result  types.TransformationResult `json:"result"`
	Message string                     `json:"message"`
}

type ValidateResult struct {
	Result  types.ValidationResult `json:"result"`
	Message string                 `json:"message"`
}

type ReviewInput struct {
	StageInput
	Validation types.ValidationResult `json:"validation"`
}

type ReviewResult struct {
	Review  types.ReviewData `json:"review"`
	Message string           `json:"message"`
}

type PublishInput struct {
	StageInput
	ArchiveURI string `json:"archive_uri,omitempty"`
}

type PublishResult struct {
	Response   types.PublishResponse `json:"response"`
	ArchiveURI string                `json:"archive_uri,omitempty"`
}

// nonRetryable marks failures that another attempt cannot fix. Transport failures and 5xx stay retryable.
func nonRetryable(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return err
	}
	if ae.Kind == apperr.KindRemote && (ae.Status == 0 || ae.Status >= 500 || ae.Status == 429) {
		return err
	}
	return temporal.NewNonRetryableApplicationError(ae.Message, string(ae.Kind), err)
}

// heartbeatInterval must stay below the workflow's HeartbeatTimeout.
var heartbeatInterval = 20 * time.Second

var recordHeartbeat = activity.RecordHeartbeat

// keepAlive heartbeats on a ticker until the returned stop func is called.
func keepAlive(ctx context.Context, stage string) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(heartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				recordHeartbeat(ctx, map[string]any{"stage": stage})
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// Registrar is satisfied by worker.Worker and the Temporal test environment.
type Registrar interface {
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register registers every activity under the names the workflow executes.
func (a *Activities) Register(r Registrar) {
	r.RegisterActivityWithOptions(a.Upload, activity.RegisterOptions{Name: UploadName})
	r.RegisterActivityWithOptions(a.AIMap, activity.RegisterOptions{Name: AIMapName})
	r.RegisterActivityWithOptions(a.Transform, activity.RegisterOptions{Name: TransformName})
	r.RegisterActivityWithOptions(a.Validate, activity.RegisterOptions{Name: ValidateName})
	r.RegisterActivityWithOptions(a.Review, activity.RegisterOptions{Name: ReviewName})
	r.RegisterActivityWithOptions(a.Publish, activity.RegisterOptions{Name: PublishName})
}
