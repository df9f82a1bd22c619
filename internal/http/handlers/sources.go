package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/seatutor/mariner-backend/internal/data/repos/corpus"
	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/http/response"
	"github.com/seatutor/mariner-backend/internal/pkg/dbctx"
	"github.com/seatutor/mariner-backend/internal/platform/apierr"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

type SourceHandler struct {
	log    *logger.Logger
	chunks corpus.ChunkRepo
}

func NewSourceHandler(log *logger.Logger, chunks corpus.ChunkRepo) *SourceHandler {
	return &SourceHandler{log: log.With("handler", "SourceHandler"), chunks: chunks}
}

// Get handles GET /api/v1/sources/:id with full bounding box detail.
func (h *SourceHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, apierr.Validation("id must be a UUID"))
		return
	}
	chunk, err := h.chunks.GetByID(dbctx.New(c.Request.Context()), id)
	if err != nil {
		h.log.Error("source lookup failed", "chunk_id", id.String(), "error", err.Error())
		response.RespondAPIError(c, err)
		return
	}
	if chunk == nil {
		response.RespondAPIError(c, apierr.New(404, "not_found", fmt.Errorf("source not found")))
		return
	}

	var boxes []types.BoundingBox
	if len(chunk.BoundingBoxes) > 0 {
		_ = json.Unmarshal(chunk.BoundingBoxes, &boxes)
	}
	response.RespondOK(c, gin.H{
		"id":             chunk.ID,
		"document_id":    chunk.DocumentID,
		"page_number":    chunk.PageNumber,
		"chunk_index":    chunk.ChunkIndex,
		"content":        chunk.Content,
		"content_type":   chunk.ContentType,
		"title":          chunk.Title,
		"confidence":     chunk.Confidence,
		"image_url":      chunk.ImageURL,
		"bounding_boxes": boxes,
	})
}
