package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/fitment-ingest/internal/apperr"
	"github.com/yourorg/fitment-ingest/internal/mapping"
	"github.com/yourorg/fitment-ingest/internal/tenant"
	"github.com/yourorg/fitment-ingest/internal/types"
	"github.com/yourorg/fitment-ingest/internal/upload"
)

func intp(v int) *int { return &v }

type fakeClient struct {
	mu      sync.Mutex
	calls   map[string]int
	tenants []string

	mappings   []types.MappingSuggestion
	transform  *types.TransformationResult
	validation *types.ValidationResult
	publishErr error

	// transformGate, when set, holds Transform until closed; transformIn is signalled on entry.
	transformGate chan struct{}
	transformIn   chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		calls: map[string]int{},
		mappings: []types.MappingSuggestion{
			{Source: "Part", Target: "part_id", Confidence: 0.99},
			{Source: "Make", Target: "make", Confidence: 0.93},
			{Source: "Model", Target: "model", Confidence: 0.90},
			{Source: "Yr", Target: "year", Confidence: 0.61},
			{Source: "Eng", Target: "engine", Confidence: 0.2},
		},
		transform:  &types.TransformationResult{OriginalRows: intp(200), TransformedRows: intp(210), TransformationsApplied: 12},
		validation: &types.ValidationResult{TotalRows: intp(210), ValidRows: intp(210), UniquePartIDs: []string{"P1", "P2"}},
	}
}

func (f *fakeClient) hit(name, tenantID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	f.tenants = append(f.tenants, tenantID)
}

func (f *fakeClient) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

type scoped struct {
	*fakeClient
	tenantID string
}

func (s scoped) Upload(_ context.Context, name string, r io.Reader, kind types.DataKind) (*types.Upload, error) {
	s.hit("upload", s.tenantID)
	_, _ = io.Copy(io.Discard, r)
	return &types.Upload{ID: "up-1", Filename: name, DataKind: kind}, nil
}

func (s scoped) AIMap(_ context.Context, uploadID string, _ types.DataKind) (*types.AIMapResponse, error) {
	s.hit("aimap", s.tenantID)
	if uploadID != "up-1" {
		return nil, fmt.Errorf("unexpected upload %q", uploadID)
	}
	var resp types.AIMapResponse
	resp.Suggestions.ColumnMappings = s.mappings
	return &resp, nil
}

func (s scoped) Transform(_ context.Context, _ string, _ []types.MappingSuggestion) (*types.TransformationResult, error) {
	s.hit("transform", s.tenantID)
	if s.transformIn != nil {
		s.transformIn <- struct{}{}
	}
	if s.transformGate != nil {
		<-s.transformGate
	}
	return s.transform, nil
}

func (s scoped) Validate(context.Context, string) (*types.ValidationResult, error) {
	s.hit("validate", s.tenantID)
	return s.validation, nil
}

func (s scoped) PotentialFitments(_ context.Context, partID, _ string) ([]types.Candidate, error) {
	s.hit("potential", s.tenantID)
	return []types.Candidate{{ID: partID + "-c1", Relevance: 0.8}}, nil
}

func (s scoped) Publish(context.Context, string) (*types.PublishResponse, error) {
	s.hit("publish", s.tenantID)
	if s.publishErr != nil {
		return nil, s.publishErr
	}
	resp := &types.PublishResponse{CreatedCount: 210, JobID: "job-9", Filename: "out.csv"}
	resp.Result.PublishedCount = 210
	return resp, nil
}

func (s scoped) Download(context.Context, string) ([]byte, string, error) {
	s.hit("download", s.tenantID)
	return []byte("part_id\nP1\n"), "", nil
}

type memArchive struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (a *memArchive) Put(_ context.Context, uri string, body io.Reader) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objs[uri] = b
	return uri, nil
}

type countingRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *countingRecorder) RecordRun(_ context.Context, snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return nil
}

func csvFile(rows int) upload.File {
	var b strings.Builder
	b.WriteString("Part,Make,Model,Yr,Eng\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "P%d,Ford,F-150,2010-2012,5.0L\n", i)
	}
	data := []byte(b.String())
	return upload.File{
		Name: "fitments.csv",
		Size: int64(len(data)),
		Kind: types.DataFitments,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

type harness struct {
	tenants  *tenant.Context
	client   *fakeClient
	archive  *memArchive
	recorder *countingRecorder
	session  *Session
}

func newHarness(t *testing.T, f upload.File) *harness {
	t.Helper()
	h := &harness{
		tenants:  tenant.New("acme"),
		client:   newFakeClient(),
		archive:  &memArchive{objs: map[string][]byte{}},
		recorder: &countingRecorder{},
	}
	s, err := NewSession(Config{
		Tenants:       h.tenants,
		Client:        func(id string) Client { return scoped{h.client, id} },
		Archive:       h.archive,
		ArchivePrefix: "file:///archive",
		Recorder:      h.recorder,
		PreviewRows:   10,
		Now:           fixedClock(),
	}, f)
	require.NoError(t, err)
	h.session = s
	return h
}

func TestScenarioMappingClassification(t *testing.T) {
	h := newHarness(t, csvFile(200))
	require.NoError(t, h.session.Start(context.Background()))

	snap := h.session.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Stages[StageUpload].Status)
	assert.True(t, strings.HasPrefix(snap.Stages[StageUpload].Message, "Uploaded fitments.csv ("))
	assert.Equal(t, StatusCompleted, snap.Stages[StageAIMapping].Status)
	assert.Equal(t, "5 columns mapped, 3 auto, 2 need review", snap.Stages[StageAIMapping].Message)
	assert.Equal(t, 200, snap.Preview.RowCount)

	auto, pending := 0, 0
	for _, m := range snap.Mappings {
		assert.Equal(t, m.Confidence >= mapping.AutoThreshold, m.Status == mapping.StatusAuto)
		switch m.Status {
		case mapping.StatusAuto:
			auto++
		case mapping.StatusPending:
			pending++
		}
	}
	assert.Equal(t, 3, auto)
	assert.Equal(t, 2, pending)
	// the chain stops for mapping review
	assert.Equal(t, StatusPending, snap.Stages[StageTransform].Status)
	assert.Zero(t, h.client.count("transform"))
}

func TestScenarioTransformMessage(t *testing.T) {
	h := newHarness(t, csvFile(200))
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Continue(ctx))

	st := h.session.Snapshot().Stages[StageTransform]
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Contains(t, st.Message, "200")
	assert.Contains(t, st.Message, "210")
	assert.Equal(t, "Transformed 200 rows into 210 rows (12 transformations applied)", st.Message)
}

func TestScenarioPublishGate(t *testing.T) {
	h := newHarness(t, csvFile(20))
	h.client.validation.Errors = []types.Issue{{Row: 5, Message: "bad year"}}
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Continue(ctx))

	snap := h.session.Snapshot()
	require.Equal(t, StatusCompleted, snap.Stages[StageReview].Status)
	assert.False(t, snap.CanPublish)
	assert.Contains(t, snap.PublishBlocker, "1 validation errors")

	_, err := h.session.Publish(ctx, PublishOptions{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, h.client.count("publish"))

	resp, err := h.session.Publish(ctx, PublishOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 210, resp.Result.PublishedCount)
}

func TestPublishIsTerminal(t *testing.T) {
	h := newHarness(t, csvFile(5))
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Continue(ctx))

	_, err := h.session.Publish(ctx, PublishOptions{})
	require.NoError(t, err)

	ok, reason := h.session.CanPublish()
	assert.False(t, ok)
	assert.Contains(t, reason, "already published")
	assert.False(t, h.session.Snapshot().CanPublish)

	_, err = h.session.Publish(ctx, PublishOptions{Force: true})
	assert.ErrorIs(t, err, apperr.ErrSequenceViolation)
	assert.Equal(t, 1, h.client.count("publish"))

	_, err = h.session.RejectMapping(ctx, "Part")
	assert.ErrorIs(t, err, apperr.ErrSequenceViolation)
}

func TestPendingMappingsDoNotBlockPublish(t *testing.T) {
	h := newHarness(t, csvFile(5))
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	_, err := h.session.RejectMapping(ctx, "Part")
	require.NoError(t, err)
	require.NoError(t, h.session.Continue(ctx))

	ok, reason := h.session.CanPublish()
	assert.True(t, ok, reason)
}

func TestReviewRecommendations(t *testing.T) {
	h := newHarness(t, csvFile(5))
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Continue(ctx))

	snap := h.session.Snapshot()
	assert.Equal(t, "2 parts with recommendations", snap.Stages[StageReview].Message)
	assert.Len(t, snap.Recommendations["P1"], 1)
	assert.Equal(t, 2, h.client.count("potential"))
}

func TestProductsReviewSkipsRecommendations(t *testing.T) {
	f := csvFile(5)
	f.Kind = types.DataProducts
	h := newHarness(t, f)
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Continue(ctx))

	assert.Equal(t, "ready to publish", h.session.Snapshot().Stages[StageReview].Message)
	assert.Zero(t, h.client.count("potential"))
}

func TestUploadRejectionIsStageError(t *testing.T) {
	f := csvFile(1)
	f.Name = "fitments.pdf"
	h := newHarness(t, f)

	require.NoError(t, h.session.Start(context.Background()))
	st := h.session.Snapshot().Stages[StageUpload]
	assert.Equal(t, StatusError, st.Status)
	assert.Contains(t, st.Message, "unsupported file type")
	assert.Zero(t, h.client.count("upload"))
	assert.Equal(t, StatusPending, h.session.Snapshot().Stages[StageAIMapping].Status)
}

func TestContinueBeforeMappingIsSequenceViolation(t *testing.T) {
	h := newHarness(t, csvFile(1))
	err := h.session.Continue(context.Background())
	assert.ErrorIs(t, err, apperr.ErrSequenceViolation)
}

func startTransform(t *testing.T, h *harness) <-chan error {
	t.Helper()
	require.NoError(t, h.session.Start(context.Background()))
	h.client.transformGate = make(chan struct{})
	h.client.transformIn = make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- h.session.Continue(context.Background()) }()
	select {
	case <-h.client.transformIn:
	case <-time.After(2 * time.Second):
		t.Fatal("transform was not called")
	}
	return done
}

func TestInFlightStageBlocksReentryAndMappingEdits(t *testing.T) {
	h := newHarness(t, csvFile(3))
	done := startTransform(t, h)

	assert.Equal(t, StatusInProgress, h.session.Snapshot().Stages[StageTransform].Status)
	assert.ErrorIs(t, h.session.RunStage(context.Background(), StageTransform), apperr.ErrSequenceViolation)
	_, err := h.session.AcceptMapping(context.Background(), "Eng")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	close(h.client.transformGate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.client.count("transform"))
	assert.Equal(t, StatusCompleted, h.session.Snapshot().Stages[StageReview].Status)

	// edits are allowed again once the transform settled
	m, err := h.session.AcceptMapping(context.Background(), "Eng")
	require.NoError(t, err)
	assert.Equal(t, 0.2, m.Confidence)
}

func TestTenantSwitchDiscardsInFlightResult(t *testing.T) {
	h := newHarness(t, csvFile(3))
	done := startTransform(t, h)

	h.tenants.Switch("globex")
	close(h.client.transformGate)

	assert.ErrorIs(t, <-done, ErrStaleTenant)
	snap := h.session.Snapshot()
	assert.Equal(t, StatusPending, snap.Stages[StageTransform].Status)
	assert.Nil(t, snap.Transform)
	assert.Zero(t, h.client.count("validate"))

	_, err := h.session.Publish(context.Background(), PublishOptions{})
	assert.ErrorIs(t, err, ErrStaleTenant)
	for _, id := range h.client.tenants {
		assert.Equal(t, "acme", id)
	}
}

func TestClosedSessionDiscardsResult(t *testing.T) {
	h := newHarness(t, csvFile(3))
	done := startTransform(t, h)

	h.session.Close()
	close(h.client.transformGate)

	assert.ErrorIs(t, <-done, ErrSessionClosed)
	assert.Nil(t, h.session.Snapshot().Transform)
}

func TestRerunTransformLeavesDownstream(t *testing.T) {
	h := newHarness(t, csvFile(3))
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Continue(ctx))
	before := h.session.Snapshot().Stages

	_, err := h.session.RetargetMapping(ctx, "Yr", "year_range")
	require.NoError(t, err)
	require.NoError(t, h.session.RunStage(ctx, StageTransform))

	after := h.session.Snapshot().Stages
	assert.Equal(t, before[StageValidate], after[StageValidate])
	assert.Equal(t, before[StageReview], after[StageReview])
	assert.Equal(t, 2, h.client.count("transform"))
	assert.Equal(t, 1, h.client.count("validate"))
}

func TestPublishFailureKeepsReview(t *testing.T) {
	h := newHarness(t, csvFile(3))
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Continue(ctx))
	h.client.publishErr = apperr.Remote(503, "publisher unavailable", errors.New("503"))

	_, err := h.session.Publish(ctx, PublishOptions{})
	require.ErrorIs(t, err, apperr.ErrRemoteFailure)

	snap := h.session.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Stages[StageReview].Status)
	assert.NotNil(t, snap.Review)
	assert.Equal(t, "publisher unavailable", snap.PublishError)
	assert.True(t, snap.CanPublish)

	h.client.publishErr = nil
	_, err = h.session.Publish(ctx, PublishOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.client.count("validate"))
	assert.Empty(t, h.session.Snapshot().PublishError)
}

func TestPublishArchivesDownload(t *testing.T) {
	h := newHarness(t, csvFile(3))
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Continue(ctx))

	_, err := h.session.Publish(ctx, PublishOptions{Download: true})
	require.NoError(t, err)

	want := "file:///archive/acme/up-1/out.csv"
	assert.Equal(t, want, h.session.Snapshot().ArchiveURI)
	assert.Equal(t, "part_id\nP1\n", string(h.archive.objs[want]))
}

func TestRecorderSeesEveryTransition(t *testing.T) {
	h := newHarness(t, csvFile(3))
	require.NoError(t, h.session.Start(context.Background()))

	// enter and commit for upload and mapping
	require.Len(t, h.recorder.snaps, 4)
	assert.Equal(t, StatusInProgress, h.recorder.snaps[0].Stages[StageUpload].Status)
	assert.Equal(t, StatusCompleted, h.recorder.snaps[3].Stages[StageAIMapping].Status)
}

func TestNewSessionNeedsTenant(t *testing.T) {
	_, err := NewSession(Config{Tenants: tenant.New(""), Client: func(string) Client { return nil }}, csvFile(1))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRegistryDropsStaleSessions(t *testing.T) {
	h := newHarness(t, csvFile(1))
	reg := NewRegistry(h.tenants)
	reg.Add(h.session)
	_, ok := reg.Get(h.session.ID())
	require.True(t, ok)

	h.tenants.Switch("globex")
	_, ok = reg.Get(h.session.ID())
	assert.False(t, ok)
	assert.True(t, h.session.Snapshot().Closed)
}
