package supervisor

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/seatutor/mariner-backend/internal/agent"
	"github.com/seatutor/mariner-backend/internal/agent/tool"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

// graphLLM answers routing, grading and synthesis from canned values.
type graphLLM struct {
	routeTo    string
	routeErr   error
	scores     []float64
	scoreIdx   int
	synthesize string
}

func (g *graphLLM) GenerateJSON(_ context.Context, _, _ string, schemaName string, _ map[string]any) (map[string]any, error) {
	switch schemaName {
	case "route_decision":
		if g.routeErr != nil {
			return nil, g.routeErr
		}
		return map[string]any{"specialist": g.routeTo}, nil
	case "candidate_score":
		score := 10.0
		if g.scoreIdx < len(g.scores) {
			score = g.scores[g.scoreIdx]
		}
		g.scoreIdx++
		return map[string]any{"score": score}, nil
	}
	return nil, fmt.Errorf("unexpected schema %s", schemaName)
}

func (g *graphLLM) GenerateText(context.Context, string, string) (string, error) {
	return g.synthesize, nil
}

func registryWith(t *testing.T, answers map[string]any) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	register := func(name, category string) {
		err := r.Register(&tool.Tool{
			Name:     name,
			Category: category,
			Access:   tool.AccessRead,
			Handler: func(context.Context, map[string]any, tool.CallContext) (any, error) {
				if out, ok := answers[name]; ok {
					return out, nil
				}
				return nil, fmt.Errorf("%s unavailable", name)
			},
		})
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	register("search_regulations", tool.CategoryRAG)
	register("practice_question", tool.CategoryTutor)
	register("get_student_memory", tool.CategoryMemory)
	return r
}

func newGraph(t *testing.T, llm GraphLLM, r *tool.Registry) *Agent {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	a, err := New(log, llm, r, Config{DeepReasoning: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestRunShallowModeSkipsGrading(t *testing.T) {
	llm := &graphLLM{routeTo: "RAG", scores: []float64{3}, synthesize: "final"}
	r := registryWith(t, map[string]any{
		"search_regulations": tool.SearchResult{Answer: "Rule 15 applies."},
	})
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	a, err := New(log, llm, r, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := a.Run(context.Background(), agent.Request{Message: "crossing situation?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if llm.scoreIdx != 0 {
		t.Fatalf("candidate grading ran %d times, shallow mode must skip it", llm.scoreIdx)
	}
	if len(res.ToolsUsed) != 1 {
		t.Fatalf("tools used = %v, want the first specialist only", res.ToolsUsed)
	}
	joined := strings.Join(res.ReasoningTrace, "\n")
	if !strings.Contains(joined, "grading skipped") {
		t.Fatalf("trace missing the skip marker:\n%s", joined)
	}
}

func TestRunRoutesToRAG(t *testing.T) {
	llm := &graphLLM{routeTo: "RAG", synthesize: "In my words: give way to starboard traffic."}
	r := registryWith(t, map[string]any{
		"search_regulations": tool.SearchResult{Answer: "Rule 15 applies.", Confidence: 0.9, QueryType: "regulation"},
	})
	a := newGraph(t, llm, r)

	res, err := a.Run(context.Background(), agent.Request{Message: "crossing situation?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Answer, "give way") {
		t.Fatalf("answer = %q", res.Answer)
	}
	if res.Confidence != 0.9 {
		t.Fatalf("search confidence should carry through, got %v", res.Confidence)
	}
	if res.ToolsUsed[0] != "search_regulations" {
		t.Fatalf("tools used = %v", res.ToolsUsed)
	}
}

func TestRunRouteFailureDefaultsToRAG(t *testing.T) {
	llm := &graphLLM{routeErr: fmt.Errorf("router down"), synthesize: "answer"}
	r := registryWith(t, map[string]any{
		"search_regulations": tool.SearchResult{Answer: "Rule 15 applies."},
	})
	a := newGraph(t, llm, r)

	res, err := a.Run(context.Background(), agent.Request{Message: "anything"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ToolsUsed[0] != "search_regulations" {
		t.Fatalf("router failure must fall back to the RAG specialist, used %v", res.ToolsUsed)
	}
}

func TestRunReroutesOnFailingGrade(t *testing.T) {
	// tutor draft grades 3, the re-routed RAG draft grades 9
	llm := &graphLLM{routeTo: "TUTOR", scores: []float64{3, 9}, synthesize: "final"}
	r := registryWith(t, map[string]any{
		"practice_question":  map[string]any{"question": "What is Rule 5?"},
		"search_regulations": tool.SearchResult{Answer: "Rule 5: lookout."},
	})
	a := newGraph(t, llm, r)

	res, err := a.Run(context.Background(), agent.Request{Message: "lookout duties"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.ToolsUsed) != 2 {
		t.Fatalf("tools used = %v, want tutor then rag", res.ToolsUsed)
	}
	if res.Warning != "" {
		t.Fatalf("passing re-routed grade should clear the warning path, got %q", res.Warning)
	}
	joined := strings.Join(res.ReasoningTrace, "\n")
	if !strings.Contains(joined, "re-route: RAG") {
		t.Fatalf("trace missing re-route step:\n%s", joined)
	}
}

func TestRunRerouteBudgetExhausted(t *testing.T) {
	llm := &graphLLM{routeTo: "TUTOR", scores: []float64{3, 3}, synthesize: "final"}
	r := registryWith(t, map[string]any{
		"practice_question":  map[string]any{"question": "weak"},
		"search_regulations": tool.SearchResult{Answer: "also weak"},
	})
	a := newGraph(t, llm, r)

	res, err := a.Run(context.Background(), agent.Request{Message: "q"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Warning != "answer quality below threshold after re-route" {
		t.Fatalf("warning = %q", res.Warning)
	}
	if res.Answer == "" {
		t.Fatalf("the last candidate should still be answered")
	}
}

func TestRunSynthesisFallsBackToDraft(t *testing.T) {
	llm := &graphLLM{routeTo: "RAG", synthesize: ""}
	r := registryWith(t, map[string]any{
		"search_regulations": tool.SearchResult{Answer: "Rule 15 applies."},
	})
	a := newGraph(t, llm, r)

	res, err := a.Run(context.Background(), agent.Request{Message: "q"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Answer != "Rule 15 applies." {
		t.Fatalf("empty synthesis must fall back to the draft, got %q", res.Answer)
	}
}
