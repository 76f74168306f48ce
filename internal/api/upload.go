package api

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/fitment-ingest/internal/pipeline"
	"github.com/yourorg/fitment-ingest/internal/types"
	"github.com/yourorg/fitment-ingest/internal/upload"
)

type createPipelineRequest struct {
	DataType string `form:"data_type" binding:"required"`
}

// CreatePipeline accepts a multipart file and runs Upload and AIMapping for it.
func (h *Handler) CreatePipeline(c *gin.Context) {
	var req createPipelineRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload error: " + err.Error()})
		return
	}

	f := upload.File{
		Name: header.Filename,
		Size: header.Size,
		Kind: types.DataKind(req.DataType),
		Open: func() (io.ReadCloser, error) { return header.Open() },
	}
	var scratch string
	if h.cfg.ScratchDir != "" {
		scratch = filepath.Join(h.cfg.ScratchDir, uuid.NewString()+upload.Ext(header.Filename))
		if err := c.SaveUploadedFile(header, scratch); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store upload: " + err.Error()})
			return
		}
		f.Open = func() (io.ReadCloser, error) { return os.Open(scratch) }
	}

	s, err := pipeline.NewSession(h.cfg.Pipeline, f)
	if err != nil {
		if scratch != "" {
			_ = os.Remove(scratch)
		}
		h.fail(c, err)
		return
	}
	h.cfg.Sessions.Add(s)
	if scratch != "" {
		h.mu.Lock()
		h.files[s.ID()] = scratch
		h.mu.Unlock()
	}

	// Stage work outlives a disconnected client; results land on the session.
	ctx := context.WithoutCancel(c.Request.Context())
	if err := s.Start(ctx); err != nil {
		h.log.Info("pipeline start", zap.String("session", s.ID()), zap.Error(err))
	}
	c.JSON(http.StatusCreated, s.Snapshot())
}
