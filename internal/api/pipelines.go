package api

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/fitment-ingest/internal/mapping"
	"github.com/yourorg/fitment-ingest/internal/pipeline"
)

func (h *Handler) session(c *gin.Context) (*pipeline.Session, bool) {
	s, ok := h.cfg.Sessions.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pipeline not found"})
		return nil, false
	}
	return s, true
}

func (h *Handler) ListPipelines(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.cfg.Sessions.List()})
}

func (h *Handler) GetPipeline(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

func (h *Handler) DeletePipeline(c *gin.Context) {
	id := c.Param("id")
	if !h.cfg.Sessions.Remove(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pipeline not found"})
		return
	}
	h.mu.Lock()
	if path, ok := h.files[id]; ok {
		_ = os.Remove(path)
		delete(h.files, id)
	}
	h.mu.Unlock()
	c.Status(http.StatusNoContent)
}

// ContinuePipeline runs Transform, Validate and Review with the current mappings.
func (h *Handler) ContinuePipeline(c *gin.Context) {
	h.drive(c, func(ctx context.Context, s *pipeline.Session) error { return s.Continue(ctx) })
}

// RunStage re-enters one stage by name or index.
func (h *Handler) RunStage(c *gin.Context) {
	st, err := pipeline.ParseStage(c.Param("stage"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.drive(c, func(ctx context.Context, s *pipeline.Session) error { return s.RunStage(ctx, st) })
}

// drive runs stage work and replies with the resulting snapshot. Stage failures are part of the snapshot.
func (h *Handler) drive(c *gin.Context, fn func(context.Context, *pipeline.Session) error) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := fn(context.WithoutCancel(c.Request.Context()), s); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

func (h *Handler) AcceptMapping(c *gin.Context) {
	h.editMapping(c, func(ctx context.Context, s *pipeline.Session, source string) (mapping.Mapping, error) {
		return s.AcceptMapping(ctx, source)
	})
}

func (h *Handler) RejectMapping(c *gin.Context) {
	h.editMapping(c, func(ctx context.Context, s *pipeline.Session, source string) (mapping.Mapping, error) {
		return s.RejectMapping(ctx, source)
	})
}

type retargetRequest struct {
	Target string `json:"target" binding:"required"`
}

func (h *Handler) RetargetMapping(c *gin.Context) {
	var req retargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.editMapping(c, func(ctx context.Context, s *pipeline.Session, source string) (mapping.Mapping, error) {
		return s.RetargetMapping(ctx, source, req.Target)
	})
}

func (h *Handler) editMapping(c *gin.Context, edit func(context.Context, *pipeline.Session, string) (mapping.Mapping, error)) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	m, err := edit(c.Request.Context(), s, c.Param("source"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type publishRequest struct {
	Force    bool `json:"force"`
	Download bool `json:"download"`
}

func (h *Handler) Publish(c *gin.Context) {
	var req publishRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	resp, err := s.Publish(context.WithoutCancel(c.Request.Context()), pipeline.PublishOptions{Force: req.Force, Download: req.Download})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"published": resp, "pipeline": s.Snapshot()})
}

// ListRuns returns persisted runs of the current tenant.
func (h *Handler) ListRuns(c *gin.Context) {
	if h.cfg.Runs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "run history is not configured"})
		return
	}
	tag, ok := h.currentTenant(c)
	if !ok {
		return
	}
	runs, err := h.cfg.Runs.ListByTenant(c.Request.Context(), tag.ID, queryInt(c, "limit", 50))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(runs))
	for _, r := range runs {
		out = append(out, gin.H{
			"id": r.ID, "filename": r.Filename, "data_kind": r.DataKind, "upload_id": r.UploadID,
			"stage": r.Stage, "status": r.Status, "created_at": r.CreatedAt, "updated_at": r.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}
