package handlers

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	chatrepo "github.com/seatutor/mariner-backend/internal/data/repos/chat"
	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/http/response"
	"github.com/seatutor/mariner-backend/internal/pkg/dbctx"
	"github.com/seatutor/mariner-backend/internal/platform/apierr"
	"github.com/seatutor/mariner-backend/internal/platform/ctxutil"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

type HistoryHandler struct {
	log      *logger.Logger
	messages chatrepo.MessageRepo
}

func NewHistoryHandler(log *logger.Logger, messages chatrepo.MessageRepo) *HistoryHandler {
	return &HistoryHandler{log: log.With("handler", "HistoryHandler"), messages: messages}
}

// List handles GET /api/v1/history/:user_id?limit&offset.
func (h *HistoryHandler) List(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		response.RespondAPIError(c, apierr.Validation("user_id is required"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	rows, total, err := h.messages.ListByUser(dbctx.New(c.Request.Context()), userID, limit, offset)
	if err != nil {
		h.log.Error("list history failed", "user_id", userID, "error", err.Error())
		response.RespondAPIError(c, err)
		return
	}
	items := make([]gin.H, 0, len(rows))
	for _, m := range rows {
		items = append(items, gin.H{
			"id":         m.ID,
			"session_id": m.SessionID,
			"role":       m.Role,
			"content":    m.Content,
			"is_blocked": m.IsBlocked,
			"created_at": m.CreatedAt,
		})
	}
	response.RespondOK(c, gin.H{"data": items, "total": total, "limit": limit, "offset": offset})
}

// Delete handles DELETE /api/v1/history/:user_id. Only the user themselves
// or an admin may wipe a history.
func (h *HistoryHandler) Delete(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		response.RespondAPIError(c, apierr.Validation("user_id is required"))
		return
	}
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || (rd.UserID != userID && rd.Role != types.RoleAdmin) {
		response.RespondAPIError(c, apierr.Forbidden(fmt.Errorf("cannot delete another user's history")))
		return
	}
	if err := h.messages.DeleteByUser(dbctx.New(c.Request.Context()), userID); err != nil {
		h.log.Error("delete history failed", "user_id", userID, "error", err.Error())
		response.RespondAPIError(c, err)
		return
	}
	h.log.Info("history deleted", "user_id", userID, "by_role", rd.Role)
	response.RespondOK(c, gin.H{"deleted": true})
}
