package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/seatutor/mariner-backend/internal/agent"
	"github.com/seatutor/mariner-backend/internal/agent/tool"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

// Graph nodes. One request visits SUPERVISOR → specialist → GRADER
// (→ specialist once more on a failing grade) → SYNTHESIZER.
type node string

const (
	nodeSupervisor  node = "SUPERVISOR"
	nodeRAG         node = "RAG"
	nodeTutor       node = "TUTOR"
	nodeMemory      node = "MEMORY"
	nodeGrader      node = "GRADER"
	nodeSynthesizer node = "SYNTHESIZER"
)

const (
	gradePass    = 6.0
	rerouteLimit = 1
)

type GraphLLM interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
	GenerateText(ctx context.Context, system, user string) (string, error)
}

type Config struct {
	// DeepReasoning enables the grade/re-route cycle. When off, the first
	// specialist's draft goes straight to synthesis.
	DeepReasoning bool
}

// Agent is the multi-specialist alternative to the unified ReAct loop. It
// consumes the same tool registry and produces the same response shape.
type Agent struct {
	log      *logger.Logger
	llm      GraphLLM
	registry *tool.Registry
	cfg      Config
}

func New(log *logger.Logger, llm GraphLLM, registry *tool.Registry, cfg Config) (*Agent, error) {
	if log == nil || llm == nil || registry == nil {
		return nil, fmt.Errorf("supervisor: missing deps")
	}
	return &Agent{log: log.With("agent", "SupervisorGraph"), llm: llm, registry: registry, cfg: cfg}, nil
}

func (a *Agent) Name() string { return "multi_agent" }

// candidate is a specialist's draft moving through the graph.
type candidate struct {
	answer string
	from   node
	res    agent.Response
}

func (a *Agent) Run(ctx context.Context, req agent.Request) (agent.Response, error) {
	var res agent.Response
	target := a.route(ctx, req.Message)
	res.ReasoningTrace = append(res.ReasoningTrace, "route: "+string(target))

	visited := map[node]bool{}
	var cand candidate
	for attempt := 0; ; attempt++ {
		visited[target] = true
		var err error
		cand, err = a.runSpecialist(ctx, target, req, &res)
		if err != nil {
			return res, err
		}

		if !a.cfg.DeepReasoning {
			res.ReasoningTrace = append(res.ReasoningTrace, "grading skipped")
			break
		}
		score := a.gradeCandidate(ctx, req.Message, cand.answer)
		res.ReasoningTrace = append(res.ReasoningTrace, fmt.Sprintf("grade: %.1f from %s", score, cand.from))
		if score >= gradePass || attempt >= rerouteLimit {
			if score < gradePass {
				res.Warning = "answer quality below threshold after re-route"
			}
			break
		}
		target = a.reroute(target, visited)
		res.ReasoningTrace = append(res.ReasoningTrace, "re-route: "+string(target))
	}

	return a.synthesize(ctx, req, cand, res)
}

var routeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"specialist": map[string]any{
			"type": "string",
			"enum": []string{string(nodeRAG), string(nodeTutor), string(nodeMemory)},
		},
	},
	"required":             []string{"specialist"},
	"additionalProperties": false,
}

// route classifies intent to exactly one specialist. RAG is the fallback:
// a wrong route still produces a graded, re-routable answer.
func (a *Agent) route(ctx context.Context, message string) node {
	res, err := a.llm.GenerateJSON(ctx,
		`Route a maritime student's message to one specialist.
RAG: questions about regulations, rules, procedures, ship operations.
TUTOR: requests to be quizzed, study plans, exam strategy.
MEMORY: messages about the student themselves, their name, goals or past sessions.`,
		message, "route_decision", routeSchema)
	if err != nil {
		a.log.Warn("routing failed, defaulting to RAG", "error", err.Error())
		return nodeRAG
	}
	s, _ := res["specialist"].(string)
	switch node(s) {
	case nodeRAG, nodeTutor, nodeMemory:
		return node(s)
	default:
		return nodeRAG
	}
}

func (a *Agent) reroute(current node, visited map[node]bool) node {
	for _, n := range []node{nodeRAG, nodeTutor, nodeMemory} {
		if n != current && !visited[n] {
			return n
		}
	}
	return nodeRAG
}

// runSpecialist executes one specialist node through the shared tool registry.
func (a *Agent) runSpecialist(ctx context.Context, n node, req agent.Request, res *agent.Response) (candidate, error) {
	switch n {
	case nodeRAG:
		return a.runRAG(ctx, req, res)
	case nodeTutor:
		return a.runTutor(ctx, req, res)
	case nodeMemory:
		return a.runMemory(ctx, req, res)
	default:
		return candidate{}, fmt.Errorf("supervisor: no specialist for node %s", n)
	}
}

func (a *Agent) runRAG(ctx context.Context, req agent.Request, res *agent.Response) (candidate, error) {
	out, err := a.registry.Invoke(ctx, "search_regulations",
		map[string]any{"query": req.Message}, req.Call)
	if err != nil {
		return candidate{}, err
	}
	res.ToolsUsed = append(res.ToolsUsed, "search_regulations")
	sr, ok := out.(tool.SearchResult)
	if !ok {
		return candidate{}, fmt.Errorf("supervisor: unexpected search result type %T", out)
	}
	res.Citations = append(res.Citations, sr.Citations...)
	res.DocumentIDs = append(res.DocumentIDs, sr.DocumentIDs...)
	res.ReasoningTrace = append(res.ReasoningTrace, sr.ReasoningTrace...)
	res.Confidence = sr.Confidence
	res.QueryType = sr.QueryType
	res.FromCache = sr.FromCache
	if sr.Warning != "" {
		res.Warning = sr.Warning
	}
	return candidate{answer: sr.Answer, from: nodeRAG}, nil
}

func (a *Agent) runTutor(ctx context.Context, req agent.Request, res *agent.Response) (candidate, error) {
	out, err := a.registry.Invoke(ctx, "practice_question",
		map[string]any{"topic": req.Message}, req.Call)
	if err != nil {
		return candidate{}, err
	}
	res.ToolsUsed = append(res.ToolsUsed, "practice_question")
	m, _ := out.(map[string]any)
	q, _ := m["question"].(string)
	return candidate{answer: q, from: nodeTutor}, nil
}

func (a *Agent) runMemory(ctx context.Context, req agent.Request, res *agent.Response) (candidate, error) {
	out, err := a.registry.Invoke(ctx, "get_student_memory", map[string]any{}, req.Call)
	if err != nil {
		return candidate{}, err
	}
	res.ToolsUsed = append(res.ToolsUsed, "get_student_memory")

	text, err := a.llm.GenerateText(ctx, req.SystemPrompt,
		fmt.Sprintf("The student asked:\n%s\n\nStored memory about them:\n%v\n\nAnswer using only this memory. If it does not contain the answer, say so.",
			req.Message, out))
	if err != nil {
		return candidate{}, err
	}
	return candidate{answer: strings.TrimSpace(text), from: nodeMemory}, nil
}

var candidateGradeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"score": map[string]any{"type": "number"},
	},
	"required":             []string{"score"},
	"additionalProperties": false,
}

// gradeCandidate scores a specialist's draft 0-10. Grading failures count as
// passing: re-routing on a broken grader would loop for nothing.
func (a *Agent) gradeCandidate(ctx context.Context, question, answer string) float64 {
	if strings.TrimSpace(answer) == "" {
		return 0
	}
	res, err := a.llm.GenerateJSON(ctx,
		"Score 0-10 how well the answer addresses the student's message. 6 means adequate.",
		fmt.Sprintf("Message:\n%s\n\nAnswer:\n%s", question, answer),
		"candidate_score", candidateGradeSchema)
	if err != nil {
		a.log.Warn("candidate grading failed, accepting answer", "error", err.Error())
		return gradePass
	}
	score, _ := res["score"].(float64)
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// synthesize formats the surviving candidate in the request persona.
func (a *Agent) synthesize(ctx context.Context, req agent.Request, cand candidate, res agent.Response) (agent.Response, error) {
	if strings.TrimSpace(cand.answer) == "" {
		res.Answer = "I couldn't find a good answer to that. Could you rephrase or narrow the question?"
		res.Warning = "no specialist produced an answer"
		return res, nil
	}
	text, err := a.llm.GenerateText(ctx, req.SystemPrompt,
		fmt.Sprintf("The student said:\n%s\n\nDraft answer:\n%s\n\nRewrite the draft in your voice for this student. Keep every factual claim and citation reference unchanged.",
			req.Message, cand.answer))
	if err != nil || strings.TrimSpace(text) == "" {
		res.Answer = cand.answer
		return res, nil
	}
	res.Answer = strings.TrimSpace(text)
	res.ReasoningTrace = append(res.ReasoningTrace, "synthesized final answer")
	return res, nil
}
