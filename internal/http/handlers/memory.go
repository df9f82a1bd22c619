package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/seatutor/mariner-backend/internal/http/response"
	"github.com/seatutor/mariner-backend/internal/memory"
	"github.com/seatutor/mariner-backend/internal/platform/apierr"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

type MemoryHandler struct {
	log *logger.Logger
	mem *memory.Service
}

func NewMemoryHandler(log *logger.Logger, mem *memory.Service) *MemoryHandler {
	return &MemoryHandler{log: log.With("handler", "MemoryHandler"), mem: mem}
}

// ListMemories handles GET /api/v1/memories/:user_id.
func (h *MemoryHandler) ListMemories(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		response.RespondAPIError(c, apierr.Validation("user_id is required"))
		return
	}
	facts, err := h.mem.GetFacts(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("list memories failed", "user_id", userID, "error", err.Error())
		response.RespondAPIError(c, err)
		return
	}
	items := make([]gin.H, 0, len(facts))
	for _, f := range facts {
		items = append(items, gin.H{
			"id":         f.ID,
			"type":       f.FactType,
			"value":      f.Value,
			"created_at": f.CreatedAt,
		})
	}
	response.RespondOK(c, gin.H{"data": items, "total": len(items)})
}

// ListInsights handles GET /api/v1/insights/:user_id.
func (h *MemoryHandler) ListInsights(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		response.RespondAPIError(c, apierr.Validation("user_id is required"))
		return
	}
	insights, err := h.mem.ListInsights(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("list insights failed", "user_id", userID, "error", err.Error())
		response.RespondAPIError(c, err)
		return
	}
	items := make([]gin.H, 0, len(insights))
	for _, ins := range insights {
		items = append(items, gin.H{
			"id":            ins.ID,
			"category":      ins.Category,
			"content":       ins.Content,
			"sub_topic":     ins.SubTopic,
			"confidence":    ins.Confidence,
			"created_at":    ins.CreatedAt,
			"last_accessed": ins.LastAccessed,
		})
	}
	response.RespondOK(c, gin.H{"data": items, "total": len(items)})
}
