// Package api is the console HTTP surface over pipeline sessions, job history and review.
package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourorg/fitment-ingest/internal/apperr"
	"github.com/yourorg/fitment-ingest/internal/db"
	"github.com/yourorg/fitment-ingest/internal/jobs"
	"github.com/yourorg/fitment-ingest/internal/ledger"
	"github.com/yourorg/fitment-ingest/internal/metrics"
	"github.com/yourorg/fitment-ingest/internal/notify"
	"github.com/yourorg/fitment-ingest/internal/pipeline"
	"github.com/yourorg/fitment-ingest/internal/tenant"
	"github.com/yourorg/fitment-ingest/internal/types"
)

// JobsAPI is the job service as seen by the console, scoped to one tenant.
type JobsAPI interface {
	jobs.Lister
	ledger.Approver
	JobReviewData(ctx context.Context, jobID string) (*types.JobReviewData, error)
}

type JobsFunc func(tenantID string) JobsAPI

type Config struct {
	Tenants  *tenant.Context
	Sessions *pipeline.Registry
	// Pipeline is the template for new sessions. Its Tenants must be the same context.
	Pipeline  pipeline.Config
	Jobs      JobsFunc
	Watch     *jobs.Reconciler
	Feed      *notify.Feed
	Runs      db.RunRepository
	Workflows WorkflowClient
	TaskQueue string
	// ScratchDir keeps uploaded files so the Upload stage can be re-run. Empty reads from the request only.
	ScratchDir string
	Window     int
	// Context bounds background work such as the history watch.
	Context context.Context
	Log     *zap.Logger
}

type Handler struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	reviews map[string]*jobReview
	files   map[string]string
}

func NewHandler(cfg Config) *Handler {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Window <= 0 {
		cfg.Window = ledger.DefaultWindow
	}
	cfg.Pipeline.Tenants = cfg.Tenants
	h := &Handler{cfg: cfg, log: cfg.Log, reviews: map[string]*jobReview{}, files: map[string]string{}}
	if cfg.Tenants != nil {
		cfg.Tenants.OnSwitch(func(tenant.Tag) { h.dropStale() })
	}
	return h
}

// Register mounts every console route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/tenant", h.GetTenant)
	r.PUT("/tenant", h.SwitchTenant)

	r.POST("/pipelines", h.CreatePipeline)
	r.GET("/pipelines", h.ListPipelines)
	r.GET("/pipelines/:id", h.GetPipeline)
	r.DELETE("/pipelines/:id", h.DeletePipeline)
	r.POST("/pipelines/:id/continue", h.ContinuePipeline)
	r.POST("/pipelines/:id/stages/:stage", h.RunStage)
	r.POST("/pipelines/:id/mappings/:source/accept", h.AcceptMapping)
	r.POST("/pipelines/:id/mappings/:source/reject", h.RejectMapping)
	r.PUT("/pipelines/:id/mappings/:source", h.RetargetMapping)
	r.POST("/pipelines/:id/publish", h.Publish)

	r.GET("/runs", h.ListRuns)

	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/:id/review", h.GetJobReview)
	r.POST("/jobs/:id/selection", h.ToggleRow)
	r.POST("/jobs/:id/selection/window", h.ToggleWindow)
	r.DELETE("/jobs/:id/selection", h.ClearSelection)
	r.POST("/jobs/:id/approve", h.ApproveRows)

	r.GET("/history/watch", h.WatchStatus)
	r.POST("/history/watch", h.StartWatch)
	r.DELETE("/history/watch", h.StopWatch)
	r.GET("/notifications", h.Notifications)

	if h.cfg.Workflows != nil {
		r.POST("/workflows/pipelines", h.StartPipelineWorkflow)
		r.GET("/workflows/:id/stages", h.GetWorkflowStages)
		r.POST("/workflows/:id/publish", h.SignalPublish)
	}
}

// Metrics observes request latency by route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ConsoleRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func (h *Handler) GetTenant(c *gin.Context) {
	tag, err := h.cfg.Tenants.Current()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"tenant_id": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tag.ID, "generation": tag.Generation})
}

type switchTenantRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
}

// SwitchTenant selects a tenant. Open sessions and review views of the previous tenant are dropped.
func (h *Handler) SwitchTenant(c *gin.Context) {
	var req switchTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tag := h.cfg.Tenants.Switch(req.TenantID)
	h.log.Info("tenant switched", zap.String("tenant", tag.ID), zap.Uint64("generation", tag.Generation))
	c.JSON(http.StatusOK, gin.H{"tenant_id": tag.ID, "generation": tag.Generation})
}

// dropStale forgets review views and scratch files that no longer belong to a live session or tenant.
func (h *Handler) dropStale() {
	current := h.cfg.Tenants.ID()
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, rv := range h.reviews {
		if rv.tenantID != current {
			delete(h.reviews, k)
		}
	}
	for id, path := range h.files {
		if _, ok := h.cfg.Sessions.Get(id); !ok {
			_ = os.Remove(path)
			delete(h.files, id)
		}
	}
}

// statusFor maps an error to the console's HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrStaleTenant):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, tenant.ErrNoTenant):
		return http.StatusPreconditionRequired
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrPrecondition):
		return http.StatusConflict
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUploadRejected:
		return http.StatusUnprocessableEntity
	case apperr.KindSequence:
		return http.StatusConflict
	case apperr.KindServerContract, apperr.KindRemote:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.log.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	body := gin.H{"error": apperr.Message(err)}
	if k := apperr.KindOf(err); k != "" {
		body["kind"] = k
	}
	c.JSON(status, body)
}

// currentTenant aborts with 428 when no tenant is selected.
func (h *Handler) currentTenant(c *gin.Context) (tenant.Tag, bool) {
	tag, err := h.cfg.Tenants.Current()
	if err != nil {
		h.fail(c, err)
		return tenant.Tag{}, false
	}
	return tag, true
}
