package react

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/seatutor/mariner-backend/internal/agent"
	"github.com/seatutor/mariner-backend/internal/agent/tool"
	"github.com/seatutor/mariner-backend/internal/platform/apierr"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
	"github.com/seatutor/mariner-backend/internal/platform/openai"
)

const defaultMaxIterations = 5

type ChatLLM interface {
	Chat(ctx context.Context, system string, msgs []openai.Message, tools []openai.ToolDef) (openai.Completion, error)
	GenerateText(ctx context.Context, system, user string) (string, error)
}

type Config struct {
	MaxIterations int
}

// Agent drives a single LLM through a bounded tool-calling loop.
type Agent struct {
	log      *logger.Logger
	llm      ChatLLM
	registry *tool.Registry
	tools    []*tool.Tool
	cfg      Config
}

func New(log *logger.Logger, llm ChatLLM, registry *tool.Registry, tools []*tool.Tool, cfg Config) (*Agent, error) {
	if log == nil || llm == nil || registry == nil {
		return nil, fmt.Errorf("react: missing deps")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if len(tools) == 0 {
		tools = registry.All()
	}
	return &Agent{
		log:      log.With("agent", "ReActAgent"),
		llm:      llm,
		registry: registry,
		tools:    tools,
		cfg:      cfg,
	}, nil
}

func (a *Agent) Name() string { return "react" }

func (a *Agent) Run(ctx context.Context, req agent.Request) (agent.Response, error) {
	defs := make([]openai.ToolDef, 0, len(a.tools))
	for _, t := range a.tools {
		defs = append(defs, openai.ToolDef{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}

	msgs := append([]openai.Message{}, req.History...)
	msgs = append(msgs, openai.Message{Role: "user", Content: req.Message})

	var res agent.Response
	for iter := 0; iter < a.cfg.MaxIterations; iter++ {
		completion, err := a.llm.Chat(ctx, req.SystemPrompt, msgs, defs)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return res, apierr.DeadlineExceeded(err)
			}
			return res, err
		}
		if completion.Thinking != "" {
			res.ReasoningTrace = append(res.ReasoningTrace, completion.Thinking)
		}

		if len(completion.ToolCalls) == 0 {
			res.Answer = strings.TrimSpace(completion.Text)
			return res, nil
		}

		msgs = append(msgs, openai.Message{
			Role:      "assistant",
			Content:   completion.Text,
			ToolCalls: completion.ToolCalls,
		})
		// tool calls within one turn are independent; run them in order
		for _, tc := range completion.ToolCalls {
			observation := a.execute(ctx, tc, req.Call, &res)
			msgs = append(msgs, openai.Message{
				Role:       "tool",
				ToolCallID: tc.ID,
				Content:    observation,
			})
			if err := ctx.Err(); err != nil {
				return res, apierr.DeadlineExceeded(err)
			}
		}
	}

	return a.synthesize(ctx, req, msgs, res)
}

// execute runs one tool call and folds its result into the response. The
// observation string goes back to the model either way: a failed tool is
// something the model can route around.
func (a *Agent) execute(ctx context.Context, tc openai.ToolCall, call tool.CallContext, res *agent.Response) string {
	res.ToolsUsed = append(res.ToolsUsed, tc.Name)
	res.ReasoningTrace = append(res.ReasoningTrace, "tool: "+tc.Name)

	out, err := a.registry.Invoke(ctx, tc.Name, tc.Args, call)
	if err != nil {
		a.log.Warn("tool call failed", "tool", tc.Name, "error", err.Error())
		return fmt.Sprintf("tool error: %v", err)
	}

	if sr, ok := out.(tool.SearchResult); ok {
		res.Citations = append(res.Citations, sr.Citations...)
		res.DocumentIDs = append(res.DocumentIDs, sr.DocumentIDs...)
		res.ReasoningTrace = append(res.ReasoningTrace, sr.ReasoningTrace...)
		if sr.Confidence > res.Confidence {
			res.Confidence = sr.Confidence
		}
		if res.QueryType == "" {
			res.QueryType = sr.QueryType
		}
		if sr.FromCache {
			res.FromCache = true
		}
		if sr.Warning != "" {
			res.Warning = sr.Warning
		}
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("tool error: unencodable result: %v", err)
	}
	return string(encoded)
}

// synthesize produces a best-effort answer from the scratchpad when the
// iteration cap fires before the model committed to a final answer.
func (a *Agent) synthesize(ctx context.Context, req agent.Request, msgs []openai.Message, res agent.Response) (agent.Response, error) {
	a.log.Warn("iteration cap reached, synthesizing from scratchpad", "iterations", a.cfg.MaxIterations)
	var sb strings.Builder
	sb.WriteString("Question:\n" + req.Message + "\n\nWhat was found so far:\n")
	for _, m := range msgs {
		if m.Role == "tool" && m.Content != "" {
			sb.WriteString(snippet(m.Content, 1000) + "\n")
		}
	}
	sb.WriteString("\nWrite the best answer supported by the findings above. If they are insufficient, say what is known and what is not.")

	text, err := a.llm.GenerateText(ctx, req.SystemPrompt, sb.String())
	if err != nil {
		if len(res.ReasoningTrace) > 0 {
			res.Answer = "I wasn't able to finish working through this. Please try rephrasing the question."
			res.Warning = "incomplete reasoning"
			return res, nil
		}
		return res, err
	}
	res.Answer = strings.TrimSpace(text)
	res.Warning = "answer synthesized after reasoning limit"
	res.ReasoningTrace = append(res.ReasoningTrace, "synthesized best-effort answer at iteration cap")
	return res, nil
}

// snippet truncates on rune boundaries; Vietnamese text must never be cut
// mid-character.
func snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
