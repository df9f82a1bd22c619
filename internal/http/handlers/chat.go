package handlers

import (
	"errors"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/http/response"
	"github.com/seatutor/mariner-backend/internal/orchestrator"
	"github.com/seatutor/mariner-backend/internal/platform/apierr"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

type ChatHandler struct {
	log  *logger.Logger
	orch *orchestrator.Orchestrator
}

func NewChatHandler(log *logger.Logger, orch *orchestrator.Orchestrator) *ChatHandler {
	return &ChatHandler{log: log.With("handler", "ChatHandler"), orch: orch}
}

func bindChatRequest(c *gin.Context) (types.ChatRequest, []string) {
	var req types.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return req, []string{"body must be valid JSON"}
	}
	var details []string
	if strings.TrimSpace(req.UserID) == "" {
		details = append(details, "user_id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		details = append(details, "message is required")
	}
	if req.Role != "" && !types.ValidRole(req.Role) {
		details = append(details, "role must be one of student, teacher, admin")
	}
	return req, details
}

// Chat handles POST /api/v1/chat.
func (h *ChatHandler) Chat(c *gin.Context) {
	req, details := bindChatRequest(c)
	if len(details) > 0 {
		response.RespondAPIError(c, apierr.Validation(details...))
		return
	}

	resp, err := h.orch.Process(c.Request.Context(), req, nil)
	if err != nil {
		h.log.Error("chat request failed", "user_id", req.UserID, "error", err.Error())
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"answer":              resp.Answer,
		"sources":             resp.Sources,
		"suggested_questions": resp.SuggestedQuestions,
		"evidence_images":     resp.EvidenceImages,
		"metadata":            resp.Metadata,
	})
}

// sseEmitter serializes orchestrator progress events onto one SSE stream.
type sseEmitter struct {
	mu sync.Mutex
	c  *gin.Context
}

func (e *sseEmitter) Event(name string, payload map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.c.SSEvent(name, payload)
	e.c.Writer.Flush()
}

const answerChunkSize = 160

// ChatStream handles POST /api/v1/chat/stream. Event order: thinking_start,
// thinking*, thinking_end, answer*, sources, suggested_questions, metadata,
// done. Errors mid-stream emit a terminal error event.
func (h *ChatHandler) ChatStream(c *gin.Context) {
	req, details := bindChatRequest(c)
	if len(details) > 0 {
		response.RespondAPIError(c, apierr.Validation(details...))
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	emit := &sseEmitter{c: c}
	resp, err := h.orch.Process(c.Request.Context(), req, emit)
	if err != nil {
		h.log.Error("chat stream failed", "user_id", req.UserID, "error", err.Error())
		emit.Event("error", map[string]any{"message": publicMessage(err)})
		return
	}

	for _, chunk := range splitAnswer(resp.Answer, answerChunkSize) {
		emit.Event("answer", map[string]any{"content": chunk})
	}
	emit.Event("sources", map[string]any{"sources": resp.Sources})
	if len(resp.SuggestedQuestions) > 0 {
		emit.Event("suggested_questions", map[string]any{"questions": resp.SuggestedQuestions})
	}
	emit.Event("metadata", map[string]any{
		"processing_time":  resp.Metadata.ProcessingTimeMS,
		"confidence_score": resp.Metadata.ConfidenceScore,
		"query_type":       resp.Metadata.QueryType,
		"agent":            resp.Metadata.Agent,
		"from_cache":       resp.Metadata.FromCache,
		"warning":          resp.Metadata.Warning,
		"block_reason":     resp.Metadata.BlockReason,
	})
	emit.Event("done", map[string]any{"status": "complete"})
}

// splitAnswer chunks on rune boundaries so multi-byte Vietnamese text never
// splits mid-character.
func splitAnswer(answer string, size int) []string {
	runes := []rune(answer)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

func publicMessage(err error) string {
	var ae *apierr.Error
	if errors.As(err, &ae) && ae.Status < 500 {
		return ae.Err.Error()
	}
	return "internal error"
}
