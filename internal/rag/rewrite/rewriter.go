package rewrite

import (
	"context"
	"fmt"
	"strings"

	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

const (
	QueryFactual    = "factual"
	QueryConceptual = "conceptual"
	QueryProcedural = "procedural"
	QueryGreeting   = "greeting"
	QueryPersonal   = "personal"
)

type Analysis struct {
	QueryType  string
	Complexity string // simple | moderate | complex
}

type AnalyzerLLM interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
}

// Service classifies queries and produces alternative phrasings when CRAG
// decides to retry retrieval.
type Service interface {
	Analyze(ctx context.Context, query string) Analysis
	Rewrite(ctx context.Context, query string, failureHint string) []string
}

type service struct {
	log *logger.Logger
	llm AnalyzerLLM
}

func New(log *logger.Logger, llm AnalyzerLLM) (Service, error) {
	if log == nil || llm == nil {
		return nil, fmt.Errorf("rewrite: missing deps")
	}
	return &service{log: log.With("service", "QueryRewriter"), llm: llm}, nil
}

var analyzeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query_type": map[string]any{
			"type": "string",
			"enum": []string{QueryFactual, QueryConceptual, QueryProcedural, QueryGreeting, QueryPersonal},
		},
		"complexity": map[string]any{
			"type": "string",
			"enum": []string{"simple", "moderate", "complex"},
		},
	},
	"required":             []string{"query_type", "complexity"},
	"additionalProperties": false,
}

func (s *service) Analyze(ctx context.Context, query string) Analysis {
	fallback := Analysis{QueryType: QueryFactual, Complexity: "simple"}
	if isGreeting(query) {
		return Analysis{QueryType: QueryGreeting, Complexity: "simple"}
	}
	res, err := s.llm.GenerateJSON(ctx,
		"Classify a maritime-education chat query. 'personal' means about the student themself, 'greeting' is small talk.",
		query, "query_analysis", analyzeSchema)
	if err != nil {
		s.log.Warn("query analysis failed, defaulting to factual", "error", err.Error())
		return fallback
	}
	out := Analysis{}
	out.QueryType, _ = res["query_type"].(string)
	out.Complexity, _ = res["complexity"].(string)
	if out.QueryType == "" {
		return fallback
	}
	return out
}

var rewriteSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"rewrites": map[string]any{
			"type":     "array",
			"items":    map[string]any{"type": "string"},
			"maxItems": 3,
		},
	},
	"required":             []string{"rewrites"},
	"additionalProperties": false,
}

// Rewrite returns up to three alternative phrasings, each non-empty and
// distinct from the original.
func (s *service) Rewrite(ctx context.Context, query string, failureHint string) []string {
	user := fmt.Sprintf(
		"Original query:\n%s\n\nRetrieval against the maritime regulation corpus scored poorly%s. Produce up to 3 rephrasings: expand synonyms, substitute official regulation terms (e.g. COLREGs rule numbers), or decompose into a sub-question.",
		query, failureHint)
	res, err := s.llm.GenerateJSON(ctx,
		"You rewrite search queries over maritime regulations to improve retrieval. Keep the user's language.",
		user, "query_rewrites", rewriteSchema)
	if err != nil {
		s.log.Warn("query rewrite failed", "error", err.Error())
		return nil
	}
	raw, _ := res["rewrites"].([]any)
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(query)): true}
	var out []string
	for _, r := range raw {
		candidate, _ := r.(string)
		candidate = strings.TrimSpace(candidate)
		key := strings.ToLower(candidate)
		if candidate == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, candidate)
		if len(out) == 3 {
			break
		}
	}
	return out
}

var greetings = []string{"hi", "hello", "hey", "chào", "xin chào", "chào bạn", "alo", "yo"}

func isGreeting(q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if len(q) > 40 {
		return false
	}
	for _, g := range greetings {
		if q == g || strings.HasPrefix(q, g+" ") || strings.HasPrefix(q, g+",") {
			return true
		}
	}
	return false
}
