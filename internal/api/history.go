package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) WatchStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": h.cfg.Watch != nil && h.cfg.Watch.Running()})
}

// StartWatch begins polling job history for the current tenant.
func (h *Handler) StartWatch(c *gin.Context) {
	if h.cfg.Watch == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "job history watch is not configured"})
		return
	}
	if _, ok := h.currentTenant(c); !ok {
		return
	}
	h.cfg.Watch.Start(h.cfg.Context)
	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (h *Handler) StopWatch(c *gin.Context) {
	if h.cfg.Watch != nil {
		h.cfg.Watch.Stop()
	}
	c.JSON(http.StatusOK, gin.H{"running": false})
}

// Notifications returns recent job events of the current tenant, newest first.
func (h *Handler) Notifications(c *gin.Context) {
	if h.cfg.Feed == nil {
		c.JSON(http.StatusOK, gin.H{"items": []any{}})
		return
	}
	tag, ok := h.currentTenant(c)
	if !ok {
		return
	}
	items := h.cfg.Feed.Recent(tag.ID)
	if n := queryInt(c, "limit", 0); n > 0 && n < len(items) {
		items = items[:n]
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
