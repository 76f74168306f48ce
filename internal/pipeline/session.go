// Package pipeline drives an upload through the ordered ingestion stages.
//
// A Session runs one file through Upload, AIMapping, Transform, Validate and
// Review. Each stage is entered under the session lock, its network call runs
// unlocked, and its result is committed only if the session is still open and
// the tenant it was started under is still current.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/fitment-ingest/internal/apperr"
	"github.com/yourorg/fitment-ingest/internal/mapping"
	"github.com/yourorg/fitment-ingest/internal/metrics"
	"github.com/yourorg/fitment-ingest/internal/recommend"
	"github.com/yourorg/fitment-ingest/internal/tenant"
	"github.com/yourorg/fitment-ingest/internal/types"
	"github.com/yourorg/fitment-ingest/internal/upload"
)

var (
	ErrStaleTenant   = errors.New("pipeline: tenant changed, result discarded")
	ErrSessionClosed = errors.New("pipeline: session closed")
)

// Client is the part of the ingestion service a session calls.
type Client interface {
	Upload(ctx context.Context, filename string, r io.Reader, kind types.DataKind) (*types.Upload, error)
	AIMap(ctx context.Context, uploadID string, kind types.DataKind) (*types.AIMapResponse, error)
	Transform(ctx context.Context, uploadID string, mappings []types.MappingSuggestion) (*types.TransformationResult, error)
	Validate(ctx context.Context, uploadID string) (*types.ValidationResult, error)
	PotentialFitments(ctx context.Context, partID, strategy string) ([]types.Candidate, error)
	Publish(ctx context.Context, uploadID string) (*types.PublishResponse, error)
	Download(ctx context.Context, uploadID string) ([]byte, string, error)
}

// ClientFunc returns a client whose requests are scoped to tenantID.
type ClientFunc func(tenantID string) Client

// RunRecorder persists session snapshots after committed transitions.
type RunRecorder interface {
	RecordRun(ctx context.Context, snap Snapshot) error
}

// Archive stores published output. storage.ObjectStore satisfies it.
type Archive interface {
	Put(ctx context.Context, uri string, body io.Reader) (string, error)
}

type Config struct {
	Tenants   *tenant.Context
	Client    ClientFunc
	Recommend *recommend.Fetcher
	// Archive and ArchivePrefix enable archiving of the publish download.
	Archive        Archive
	ArchivePrefix  string
	Recorder       RunRecorder
	MaxUploadBytes int64
	PreviewRows    int
	Log            *zap.Logger
	Now            func() time.Time
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID              string                      `json:"id"`
	TenantID        string                      `json:"tenant_id"`
	DataKind        types.DataKind              `json:"data_kind"`
	Filename        string                      `json:"filename"`
	Stages          []StageState                `json:"stages"`
	Upload          *types.Upload               `json:"upload,omitempty"`
	Preview         *upload.Preview             `json:"preview,omitempty"`
	Mappings        []mapping.Mapping           `json:"mappings,omitempty"`
	Transform       *types.TransformationResult `json:"transform,omitempty"`
	Review          *types.ReviewData           `json:"review,omitempty"`
	Published       *types.PublishResponse      `json:"published,omitempty"`
	ArchiveURI      string                      `json:"archive_uri,omitempty"`
	CanPublish      bool                        `json:"can_publish"`
	PublishBlocker  string                      `json:"publish_blocker,omitempty"`
	PublishError    string                      `json:"publish_error,omitempty"`
	Closed          bool                        `json:"closed"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
	Recommendations map[string][]recommend.View `json:"recommendations,omitempty"`
}

// PublishOptions controls Publish.
type PublishOptions struct {
	// Force publishes even when validation reported errors.
	Force bool
	// Download fetches the published file and writes it to the archive.
	Download bool
}

type Session struct {
	id  string
	cfg Config
	log *zap.Logger
	tag tenant.Tag

	mu         sync.Mutex
	m          *Machine
	file       upload.File
	upload     *types.Upload
	preview    *upload.Preview
	mappings   *mapping.Set
	transform  *types.TransformationResult
	validation *types.ValidationResult
	review     *types.ReviewData
	published  *types.PublishResponse
	archiveURI string
	publishing bool
	publishErr string
	closed     bool
	createdAt  time.Time
	updatedAt  time.Time
}

// NewSession binds a session for f to the current tenant.
func NewSession(cfg Config, f upload.File) (*Session, error) {
	if cfg.Tenants == nil || cfg.Client == nil {
		return nil, errors.New("pipeline: tenants and client are required")
	}
	tag, err := cfg.Tenants.Current()
	if err != nil {
		return nil, apperr.Validation("select a tenant before uploading")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Recommend == nil {
		cfg.Recommend = &recommend.Fetcher{Log: cfg.Log}
	}
	id := uuid.NewString()
	now := cfg.Now()
	return &Session{
		id:        id,
		cfg:       cfg,
		log:       cfg.Log.With(zap.String("session", id), zap.String("tenant", tag.ID)),
		tag:       tag,
		m:         NewMachine(cfg.Now),
		file:      f,
		createdAt: now,
		updatedAt: now,
	}, nil
}

func (s *Session) ID() string { return s.id }

// Tag is the tenant selection the session belongs to.
func (s *Session) Tag() tenant.Tag { return s.tag }

// Close discards any result still in flight. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Start runs Upload and, if it completes, AIMapping.
// Stage failures are recorded on the stage, not returned.
func (s *Session) Start(ctx context.Context) error {
	ok, err := s.run(ctx, StageUpload, s.execUpload)
	if err != nil || !ok {
		return err
	}
	_, err = s.run(ctx, StageAIMapping, s.execAIMapping)
	return err
}

// Continue runs Transform, Validate and Review, stopping at the first stage that fails.
func (s *Session) Continue(ctx context.Context) error {
	for _, st := range []Stage{StageTransform, StageValidate, StageReview} {
		ok, err := s.run(ctx, st, s.exec(st))
		if err != nil || !ok {
			return err
		}
	}
	return nil
}

// RunStage re-enters a single stage. Downstream stages are left as they are.
func (s *Session) RunStage(ctx context.Context, st Stage) error {
	if !st.Valid() {
		return apperr.Sequence("unknown stage %d", int(st))
	}
	_, err := s.run(ctx, st, s.exec(st))
	return err
}

type stageInput struct {
	tenantID   string
	file       upload.File
	uploadID   string
	kind       types.DataKind
	mappings   []types.MappingSuggestion
	validation *types.ValidationResult
}

// applyFunc commits a stage result under the session lock and returns the stage message.
type applyFunc func() string

type execFunc func(ctx context.Context, c Client, in stageInput) (applyFunc, error)

func (s *Session) exec(st Stage) execFunc {
	switch st {
	case StageUpload:
		return s.execUpload
	case StageAIMapping:
		return s.execAIMapping
	case StageTransform:
		return s.execTransform
	case StageValidate:
		return s.execValidate
	default:
		return s.execReview
	}
}

func (s *Session) liveLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.cfg.Tenants.Valid(s.tag) {
		return ErrStaleTenant
	}
	return nil
}

// finalLocked rejects any change once the upload is published.
func (s *Session) finalLocked() error {
	if s.published != nil {
		return apperr.Sequence("upload %s is already published", s.m.UploadID())
	}
	return nil
}

// run enters st, executes it without holding the lock and commits the outcome.
// It reports whether the stage completed. Errors are only returned for calls
// that could not enter the stage or whose result was discarded.
func (s *Session) run(ctx context.Context, st Stage, exec execFunc) (bool, error) {
	s.mu.Lock()
	if err := s.liveLocked(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if err := s.finalLocked(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	prev := s.m.State(st)
	if err := s.m.Enter(st); err != nil {
		s.mu.Unlock()
		return false, err
	}
	in := stageInput{
		tenantID:   s.tag.ID,
		file:       s.file,
		uploadID:   s.m.UploadID(),
		kind:       s.file.Kind,
		mappings:   s.mappings.Suggestions(),
		validation: s.validation,
	}
	s.touchLocked(st)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.record(ctx, snap)

	apply, err := exec(ctx, s.cfg.Client(in.tenantID), in)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		metrics.DiscardedResults.WithLabelValues("closed").Inc()
		s.log.Debug("result discarded, session closed", zap.Stringer("stage", st))
		return false, ErrSessionClosed
	}
	if !s.cfg.Tenants.Valid(s.tag) {
		_ = s.m.Revert(st, prev)
		s.mu.Unlock()
		metrics.DiscardedResults.WithLabelValues("stale_tenant").Inc()
		s.log.Debug("result discarded, tenant changed", zap.Stringer("stage", st))
		return false, ErrStaleTenant
	}
	o := Outcome{Err: err}
	if err == nil {
		o.Message = apply()
	}
	if aerr := s.m.Advance(st, o); aerr != nil {
		s.mu.Unlock()
		return false, aerr
	}
	s.touchLocked(st)
	snap = s.snapshotLocked()
	s.mu.Unlock()

	if err != nil {
		s.log.Info("stage failed", zap.Stringer("stage", st), zap.String("message", apperr.Message(err)),
			zap.String("kind", string(apperr.KindOf(err))))
	}
	s.record(ctx, snap)
	return err == nil, nil
}

func (s *Session) touchLocked(st Stage) {
	s.updatedAt = s.cfg.Now()
	metrics.StageTransitions.WithLabelValues(st.String(), string(s.m.Status(st))).Inc()
}

func (s *Session) record(ctx context.Context, snap Snapshot) {
	if s.cfg.Recorder == nil {
		return
	}
	if err := s.cfg.Recorder.RecordRun(ctx, snap); err != nil {
		s.log.Warn("record run failed", zap.Error(err))
	}
}

func (s *Session) execUpload(ctx context.Context, c Client, in stageInput) (applyFunc, error) {
	if err := upload.Check(in.file, s.cfg.MaxUploadBytes); err != nil {
		return nil, err
	}
	pv, err := upload.Inspect(in.file, s.cfg.PreviewRows)
	if err != nil {
		return nil, err
	}
	rc, err := in.file.Open()
	if err != nil {
		return nil, apperr.UploadRejected("%s could not be opened: %v", in.file.Name, err)
	}
	defer rc.Close()
	up, err := c.Upload(ctx, in.file.Name, rc, in.kind)
	if err != nil {
		return nil, err
	}
	return func() string {
		s.upload = up
		s.preview = pv
		s.m.SetUploadID(up.ID)
		return UploadMessage(up.Filename, in.file.Size)
	}, nil
}

func (s *Session) execAIMapping(ctx context.Context, c Client, in stageInput) (applyFunc, error) {
	resp, err := c.AIMap(ctx, in.uploadID, in.kind)
	if err != nil {
		return nil, err
	}
	set := mapping.NewSet(resp.Suggestions.ColumnMappings)
	return func() string {
		s.mappings = set
		return MappingMessage(set)
	}, nil
}

func (s *Session) execTransform(ctx context.Context, c Client, in stageInput) (applyFunc, error) {
	res, err := c.Transform(ctx, in.uploadID, in.mappings)
	if err != nil {
		return nil, err
	}
	return func() string {
		s.transform = res
		return TransformMessage(res)
	}, nil
}

func (s *Session) execValidate(ctx context.Context, c Client, in stageInput) (applyFunc, error) {
	res, err := c.Validate(ctx, in.uploadID)
	if err != nil {
		return nil, err
	}
	return func() string {
		s.validation = res
		return ValidateMessage(res)
	}, nil
}

func (s *Session) execReview(ctx context.Context, c Client, in stageInput) (applyFunc, error) {
	if in.validation == nil {
		return nil, fmt.Errorf("%w: review requires validation output", ErrPrecondition)
	}
	var recs map[string][]types.Candidate
	if in.kind == types.DataFitments && len(in.validation.UniquePartIDs) > 0 {
		var err error
		recs, err = s.cfg.Recommend.Fetch(ctx, c, in.tenantID, in.validation.UniquePartIDs)
		if err != nil {
			return nil, apperr.Remote(0, "recommendations could not be loaded", err)
		}
	}
	rd := BuildReview(in.validation, recs)
	return func() string {
		s.review = rd
		return ReviewMessage(in.kind, rd)
	}, nil
}

// AcceptMapping forces a column mapping to auto.
func (s *Session) AcceptMapping(ctx context.Context, source string) (mapping.Mapping, error) {
	return s.editMapping(ctx, func(set *mapping.Set) (mapping.Mapping, error) { return set.Accept(source) })
}

// RejectMapping sends a column mapping back to pending.
func (s *Session) RejectMapping(ctx context.Context, source string) (mapping.Mapping, error) {
	return s.editMapping(ctx, func(set *mapping.Set) (mapping.Mapping, error) { return set.Reject(source) })
}

// RetargetMapping points a column at another field and marks it manual.
func (s *Session) RetargetMapping(ctx context.Context, source, target string) (mapping.Mapping, error) {
	return s.editMapping(ctx, func(set *mapping.Set) (mapping.Mapping, error) { return set.Retarget(source, target) })
}

func (s *Session) editMapping(ctx context.Context, edit func(*mapping.Set) (mapping.Mapping, error)) (mapping.Mapping, error) {
	s.mu.Lock()
	if err := s.liveLocked(); err != nil {
		s.mu.Unlock()
		return mapping.Mapping{}, err
	}
	if err := s.finalLocked(); err != nil {
		s.mu.Unlock()
		return mapping.Mapping{}, err
	}
	if s.m.Status(StageTransform) == StatusInProgress {
		s.mu.Unlock()
		return mapping.Mapping{}, apperr.Validation("column mappings are locked while the transform runs")
	}
	if s.mappings == nil || s.m.Status(StageAIMapping) != StatusCompleted {
		s.mu.Unlock()
		return mapping.Mapping{}, apperr.Validation("there are no column mappings to edit yet")
	}
	m, err := edit(s.mappings)
	if err != nil {
		s.mu.Unlock()
		return mapping.Mapping{}, err
	}
	s.updatedAt = s.cfg.Now()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.record(ctx, snap)
	return m, nil
}

func (s *Session) publishBlockerLocked(force bool) error {
	if err := s.finalLocked(); err != nil {
		return err
	}
	if active, ok := s.m.Active(); ok {
		return apperr.Sequence("cannot publish while %s is in progress", active)
	}
	if !s.m.Completed(StageReview) || s.review == nil {
		return apperr.Sequence("publish requires a completed review")
	}
	if s.publishing {
		return apperr.Sequence("publish is already in progress")
	}
	if n := len(s.review.Errors); n > 0 && !force {
		return apperr.Validation("%d validation errors must be resolved before publishing", n)
	}
	return nil
}

// CanPublish reports whether a non-forced publish would be attempted, and why not.
func (s *Session) CanPublish() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.publishBlockerLocked(false); err != nil {
		return false, apperr.Message(err)
	}
	return true, ""
}

// Publish sends the reviewed upload to the service. Review data is kept on failure so the
// caller can retry without validating again.
func (s *Session) Publish(ctx context.Context, opts PublishOptions) (*types.PublishResponse, error) {
	s.mu.Lock()
	if err := s.liveLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := s.publishBlockerLocked(opts.Force); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.publishing = true
	uploadID, tenantID := s.m.UploadID(), s.tag.ID
	s.mu.Unlock()

	c := s.cfg.Client(tenantID)
	resp, err := c.Publish(ctx, uploadID)
	var archived string
	if err == nil && opts.Download {
		archived = s.archive(ctx, c, tenantID, uploadID, resp)
	}

	s.mu.Lock()
	s.publishing = false
	if lerr := s.liveLocked(); lerr != nil {
		s.mu.Unlock()
		metrics.DiscardedResults.WithLabelValues("publish").Inc()
		return nil, lerr
	}
	if err != nil {
		s.publishErr = apperr.Message(err)
		s.mu.Unlock()
		s.log.Info("publish failed", zap.String("message", apperr.Message(err)))
		return nil, err
	}
	s.published = resp
	s.archiveURI = archived
	s.publishErr = ""
	s.updatedAt = s.cfg.Now()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info("published", zap.String("upload_id", uploadID), zap.Int("created", resp.CreatedCount),
		zap.Int("errors", resp.ErrorCount), zap.String("job_id", resp.JobID))
	s.record(ctx, snap)
	return resp, nil
}

// archive downloads the published file and writes it under ArchivePrefix. Failures are logged only.
func (s *Session) archive(ctx context.Context, c Client, tenantID, uploadID string, resp *types.PublishResponse) string {
	if s.cfg.Archive == nil || s.cfg.ArchivePrefix == "" {
		return ""
	}
	body, name, err := c.Download(ctx, uploadID)
	if err != nil {
		s.log.Warn("download published file", zap.Error(err))
		return ""
	}
	uri := ArchiveURI(s.cfg.ArchivePrefix, tenantID, uploadID, firstNonEmpty(name, resp.Filename, uploadID+".csv"))
	out, err := s.cfg.Archive.Put(ctx, uri, bytes.NewReader(body))
	if err != nil {
		s.log.Warn("archive published file", zap.String("uri", uri), zap.Error(err))
		return ""
	}
	return out
}

// ArchiveURI is where the publish output of an upload is stored.
func ArchiveURI(prefix, tenantID, uploadID, filename string) string {
	return strings.TrimRight(prefix, "/") + "/" + path.Join(tenantID, uploadID, path.Base(filename))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:         s.id,
		TenantID:   s.tag.ID,
		DataKind:   s.file.Kind,
		Filename:   s.file.Name,
		Stages:     s.m.Snapshot(),
		Upload:     s.upload,
		Preview:    s.preview,
		Mappings:   s.mappings.All(),
		Transform:  s.transform,
		Review:     s.review,
		Published:  s.published,
		ArchiveURI: s.archiveURI,
		Closed:     s.closed,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
	if err := s.publishBlockerLocked(false); err != nil {
		snap.PublishBlocker = apperr.Message(err)
	} else {
		snap.CanPublish = true
	}
	snap.PublishError = s.publishErr
	if s.review != nil && len(s.review.Recommendations) > 0 {
		snap.Recommendations = recommend.PresentAll(s.review.Recommendations)
	}
	return snap
}
