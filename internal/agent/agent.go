package agent

import (
	"context"

	"github.com/seatutor/mariner-backend/internal/agent/tool"
	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/platform/openai"
)

// Request is the common input to either agent path.
type Request struct {
	SystemPrompt string
	Message      string
	History      []openai.Message
	Call         tool.CallContext
}

// Response is the common output shape of both agent paths.
type Response struct {
	Answer         string
	Citations      []types.Citation
	ToolsUsed      []string
	ReasoningTrace []string
	Confidence     float64
	QueryType      string
	DocumentIDs    []string
	FromCache      bool
	Warning        string
}

// Agent is implemented by both the unified ReAct loop and the supervisor graph.
type Agent interface {
	Name() string
	Run(ctx context.Context, req Request) (Response, error)
}
