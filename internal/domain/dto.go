package domain

import "github.com/google/uuid"

// UserContext is the optional LMS-provided snapshot of the learner.
type UserContext struct {
	DisplayName string  `json:"display_name,omitempty"`
	CourseID    string  `json:"course_id,omitempty"`
	ModuleID    string  `json:"module_id,omitempty"`
	Progress    float64 `json:"progress,omitempty"`
	Language    string  `json:"language,omitempty"`
}

// ChatRequest is the inbound chat payload.
type ChatRequest struct {
	UserID      string       `json:"user_id"`
	Message     string       `json:"message"`
	Role        string       `json:"role"`
	SessionID   string       `json:"session_id,omitempty"`
	UserContext *UserContext `json:"user_context,omitempty"`
}

// Citation points at a corpus chunk backing part of an answer.
type Citation struct {
	ChunkID       uuid.UUID     `json:"chunk_id"`
	DocumentID    uuid.UUID     `json:"document_id"`
	Page          int           `json:"page"`
	Snippet       string        `json:"snippet"`
	BoundingBoxes []BoundingBox `json:"bounding_boxes,omitempty"`
	ImageURL      string        `json:"image_url,omitempty"`
}

// ResponseMetadata is the per-response diagnostics block.
type ResponseMetadata struct {
	Agent            string   `json:"agent"`
	ProcessingTimeMS int64    `json:"processing_time_ms"`
	ConfidenceScore  float64  `json:"confidence_score"`
	QueryType        string   `json:"query_type,omitempty"`
	TopicsAccessed   []string `json:"topics_accessed,omitempty"`
	DocumentIDsUsed  []string `json:"document_ids_used,omitempty"`
	ToolsUsed        []string `json:"tools_used,omitempty"`
	ReasoningTrace   []string `json:"reasoning_trace,omitempty"`
	FromCache        bool     `json:"from_cache,omitempty"`
	BlockReason      string   `json:"block_reason,omitempty"`
	Warning          string   `json:"warning,omitempty"`
}

// ChatResponse is the outbound chat payload.
type ChatResponse struct {
	Answer             string           `json:"answer"`
	Sources            []Citation       `json:"sources"`
	SuggestedQuestions []string         `json:"suggested_questions"`
	EvidenceImages     []string         `json:"evidence_images,omitempty"`
	Metadata           ResponseMetadata `json:"metadata"`
}
