package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/fitment-ingest/internal/apperr"
	"github.com/yourorg/fitment-ingest/internal/ledger"
	"github.com/yourorg/fitment-ingest/internal/normalize"
	"github.com/yourorg/fitment-ingest/internal/types"
)

// jobReview is the rendered review of one job and its selection ledger.
type jobReview struct {
	tenantID   string
	data       *types.JobReviewData
	generation uint64
	ledger     *ledger.Ledger
}

func (rv jobReview) rows(c ledger.Collection) []types.Row {
	switch c {
	case ledger.Original:
		return rv.data.OriginalRows
	case ledger.AIGenerated:
		return rv.data.AIGeneratedRows
	}
	return nil
}

func queryInt(c *gin.Context, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func (h *Handler) ListJobs(c *gin.Context) {
	tag, ok := h.currentTenant(c)
	if !ok {
		return
	}
	f := types.JobFilter{
		JobType: c.Query("job_type"),
		Page:    queryInt(c, "page", 1),
		PerPage: queryInt(c, "per_page", 20),
	}
	if st := c.Query("status"); st != "" {
		f.Status = normalize.Status(st)
	}
	page, err := h.cfg.Jobs(tag.ID).Jobs(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type renderedRow struct {
	RowID    string    `json:"row_id"`
	Index    int       `json:"index"`
	Selected bool      `json:"selected"`
	Row      types.Row `json:"row"`
}

// GetJobReview fetches the review rows of a job and starts a new render generation of its ledger.
// Only the first Window rows of each collection are rendered.
func (h *Handler) GetJobReview(c *gin.Context) {
	tag, ok := h.currentTenant(c)
	if !ok {
		return
	}
	jobID := c.Param("id")
	data, err := h.cfg.Jobs(tag.ID).JobReviewData(c.Request.Context(), jobID)
	if err != nil {
		h.fail(c, err)
		return
	}

	key := tag.ID + "/" + jobID
	h.mu.Lock()
	rv, exists := h.reviews[key]
	if !exists {
		rv = &jobReview{tenantID: tag.ID, ledger: ledger.New(h.cfg.Window)}
		h.reviews[key] = rv
	} else {
		rv.ledger.Rebind()
	}
	rv.data = data
	rv.generation = rv.ledger.Generation()
	gen := rv.generation
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"job_id":        jobID,
		"data_type":     data.DataType,
		"total_rows":    data.TotalRows,
		"generation":    gen,
		"window":        rv.ledger.Window(),
		"original":      render(rv.ledger, ledger.Original, data.OriginalRows),
		"ai_generated":  render(rv.ledger, ledger.AIGenerated, data.AIGeneratedRows),
		"error_rows":    data.ErrorRows,
		"original_rows": len(data.OriginalRows),
		"ai_rows":       len(data.AIGeneratedRows),
		"selected":      rv.ledger.Selected(),
	})
}

func render(l *ledger.Ledger, col ledger.Collection, rows []types.Row) []renderedRow {
	ids := l.WindowIDs(col, rows)
	out := make([]renderedRow, len(ids))
	for i, id := range ids {
		out[i] = renderedRow{RowID: id.String(), Index: i, Selected: l.IsSelected(id), Row: rows[i]}
	}
	return out
}

// review returns a copy of the rendered review of the path job, or replies 409 when it was never loaded.
// The copy shares the ledger but pins the data of the last load.
func (h *Handler) review(c *gin.Context) (jobReview, bool) {
	tag, ok := h.currentTenant(c)
	if !ok {
		return jobReview{}, false
	}
	h.mu.Lock()
	rv, ok := h.reviews[tag.ID+"/"+c.Param("id")]
	var view jobReview
	if ok {
		view = *rv
	}
	h.mu.Unlock()
	if !ok {
		h.fail(c, apperr.Sequence("load the review rows of job %s first", c.Param("id")))
		return jobReview{}, false
	}
	return view, true
}

type toggleRowRequest struct {
	Collection ledger.Collection `json:"collection" binding:"required,oneof=original ai"`
	Index      *int              `json:"index" binding:"required,min=0"`
	Generation uint64            `json:"generation" binding:"required"`
}

func (h *Handler) ToggleRow(c *gin.Context) {
	var req toggleRowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rv, ok := h.review(c)
	if !ok {
		return
	}
	if req.Generation != rv.generation {
		h.fail(c, apperr.Validation("row %d belongs to an earlier view, reload the rows", *req.Index))
		return
	}
	rows := rv.rows(req.Collection)
	if *req.Index >= len(rows) || *req.Index >= rv.ledger.Window() {
		h.fail(c, apperr.Validation("row %d is not rendered", *req.Index))
		return
	}
	id, on, err := rv.ledger.ToggleAt(req.Collection, *req.Index, rows[*req.Index], req.Generation)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"row_id": id.String(), "selected": on, "count": rv.ledger.Len()})
}

type toggleWindowRequest struct {
	Collection ledger.Collection `json:"collection" binding:"required,oneof=original ai"`
}

// ToggleWindow selects or clears every rendered row of one collection.
func (h *Handler) ToggleWindow(c *gin.Context) {
	var req toggleWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rv, ok := h.review(c)
	if !ok {
		return
	}
	on := rv.ledger.ToggleWindow(req.Collection, rv.rows(req.Collection))
	c.JSON(http.StatusOK, gin.H{"selected": on, "count": rv.ledger.Len()})
}

func (h *Handler) ClearSelection(c *gin.Context) {
	rv, ok := h.review(c)
	if !ok {
		return
	}
	rv.ledger.DeselectAll()
	c.Status(http.StatusNoContent)
}

// ApproveRows persists the selected rows of the job in one request.
func (h *Handler) ApproveRows(c *gin.Context) {
	rv, ok := h.review(c)
	if !ok {
		return
	}
	resp, err := rv.ledger.Approve(c.Request.Context(), h.cfg.Jobs(rv.tenantID), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
