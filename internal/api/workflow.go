package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"

	"github.com/yourorg/fitment-ingest/internal/types"
	"github.com/yourorg/fitment-ingest/internal/workflow"
)

// WorkflowClient is the part of client.Client the console uses.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
	SignalWorkflow(ctx context.Context, workflowID string, runID string, signalName string, arg interface{}) error
}

type startWorkflowRequest struct {
	FileURI    string `json:"file_uri" binding:"required"`
	DataType   string `json:"data_type" binding:"required,oneof=fitments products"`
	ArchiveURI string `json:"archive_uri"`
}

type startWorkflowResponse struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// StartPipelineWorkflow runs a stored file through the pipeline headless for the current tenant.
func (h *Handler) StartPipelineWorkflow(c *gin.Context) {
	var req startWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tag, ok := h.currentTenant(c)
	if !ok {
		return
	}
	params := types.PipelineParams{
		TenantID:   tag.ID,
		FileURI:    req.FileURI,
		DataKind:   types.DataKind(req.DataType),
		ArchiveURI: req.ArchiveURI,
	}
	options := client.StartWorkflowOptions{
		ID:        "pipeline-" + tag.ID + "-" + uuid.NewString(),
		TaskQueue: h.cfg.TaskQueue,
	}
	run, err := h.cfg.Workflows.ExecuteWorkflow(c.Request.Context(), options, workflow.PipelineWorkflow, params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start workflow: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, startWorkflowResponse{WorkflowID: run.GetID(), RunID: run.GetRunID()})
}

// GetWorkflowStages queries the stage states of a running or finished pipeline workflow.
func (h *Handler) GetWorkflowStages(c *gin.Context) {
	v, err := h.cfg.Workflows.QueryWorkflow(c.Request.Context(), c.Param("id"), c.Query("run_id"), workflow.StagesQuery)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found: " + err.Error()})
		return
	}
	var st workflow.State
	if err := v.Get(&st); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

// SignalPublish asks a workflow waiting at Review to publish.
func (h *Handler) SignalPublish(c *gin.Context) {
	var sig types.PublishSignal
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&sig); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := h.cfg.Workflows.SignalWorkflow(c.Request.Context(), c.Param("id"), c.Query("run_id"), workflow.PublishSignal, sig); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"signalled": true, "force": sig.Force})
}
