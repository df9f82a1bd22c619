package crag

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/seatutor/mariner-backend/internal/data/repos/corpus"
	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
	"github.com/seatutor/mariner-backend/internal/rag/cache"
	"github.com/seatutor/mariner-backend/internal/rag/grade"
	"github.com/seatutor/mariner-backend/internal/rag/rewrite"
	"github.com/seatutor/mariner-backend/internal/rag/search"
	"github.com/seatutor/mariner-backend/internal/rag/verify"
)

type fixedEmbedder struct{}

func (fixedEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (fixedEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fixedSearcher struct {
	outputs []search.Output
	calls   int
}

func (f *fixedSearcher) Search(ctx context.Context, q string, filter corpus.SearchFilter) search.Output {
	return f.SearchWithEmbedding(ctx, q, nil, filter)
}

func (f *fixedSearcher) SearchWithEmbedding(context.Context, string, []float32, corpus.SearchFilter) search.Output {
	i := f.calls
	if i >= len(f.outputs) {
		i = len(f.outputs) - 1
	}
	f.calls++
	return f.outputs[i]
}

type fixedGrader struct {
	passed bool
	avg    float64
}

func (f *fixedGrader) Grade(_ context.Context, _ string, results []search.Result) grade.Output {
	out := grade.Output{AvgScore: f.avg, Passed: f.passed, TiersUsed: []int{1}}
	for _, r := range results {
		out.Graded = append(out.Graded, grade.Graded{Result: r, Score: f.avg, Tier: 1})
	}
	return out
}

type fixedRewriter struct {
	rewrites []string
	calls    int
}

func (f *fixedRewriter) Analyze(context.Context, string) rewrite.Analysis {
	return rewrite.Analysis{QueryType: "regulation", Complexity: "simple"}
}

func (f *fixedRewriter) Rewrite(context.Context, string, string) []string {
	f.calls++
	return f.rewrites
}

type fixedVerifier struct {
	res verify.Result
}

func (f *fixedVerifier) Verify(context.Context, string, []string, string) verify.Result {
	return f.res
}

type fixedLLM struct {
	answer string
}

func (f *fixedLLM) GenerateJSON(context.Context, string, string, string, map[string]any) (map[string]any, error) {
	return map[string]any{"answer": f.answer, "cited": []any{float64(0)}}, nil
}

func (f *fixedLLM) GenerateText(context.Context, string, string) (string, error) {
	return "adapted: " + f.answer, nil
}

func searchHit() search.Output {
	return search.Output{
		Mode: "normal",
		Results: []search.Result{{
			Chunk:      &types.Chunk{ID: uuid.New(), DocumentID: uuid.New(), Content: "Rule 15: crossing situation"},
			DenseScore: 0.9,
			RRF:        0.03,
		}},
	}
}

func newPipeline(t *testing.T, searcher search.Searcher, grader grade.Grader, rw rewrite.Service,
	vf verify.Verifier, llm GeneratorLLM, c *cache.SemanticCache) *Pipeline {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	p, err := New(log, fixedEmbedder{}, c, searcher, grader, rw, vf, llm, nil, Config{MaxAttempts: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func newTestCache(t *testing.T) *cache.SemanticCache {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return cache.New(log, cache.Config{Similarity: 0.95})
}

func TestAnswerGroundedStoresCache(t *testing.T) {
	c := newTestCache(t)
	p := newPipeline(t,
		&fixedSearcher{outputs: []search.Output{searchHit()}},
		&fixedGrader{passed: true, avg: 8},
		&fixedRewriter{},
		&fixedVerifier{res: verify.Result{Confidence: 0.95, Grounded: true}},
		&fixedLLM{answer: "Give way to the vessel on your starboard side."},
		c)

	res, err := p.Answer(context.Background(), "who gives way in a crossing situation", corpus.SearchFilter{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.FromCache {
		t.Fatalf("first answer must not come from cache")
	}
	if res.Confidence != 0.95 {
		t.Fatalf("confidence = %v, want verifier confidence", res.Confidence)
	}
	if len(res.Citations) != 1 {
		t.Fatalf("citations = %d, want 1", len(res.Citations))
	}
	if c.Len() != 1 {
		t.Fatalf("grounded high-confidence answer should be cached, len = %d", c.Len())
	}

	// second call with the same embedding adapts the cached answer
	res2, err := p.Answer(context.Background(), "crossing situation give way?", corpus.SearchFilter{})
	if err != nil {
		t.Fatalf("Answer (cached): %v", err)
	}
	if !res2.FromCache {
		t.Fatalf("second answer should hit the semantic cache")
	}
	if !strings.HasPrefix(res2.Answer, "adapted:") {
		t.Fatalf("cached answer should be adapted to the new phrasing, got %q", res2.Answer)
	}
}

func TestAnswerUngroundedNotCached(t *testing.T) {
	c := newTestCache(t)
	p := newPipeline(t,
		&fixedSearcher{outputs: []search.Output{searchHit()}},
		&fixedGrader{passed: true, avg: 8},
		&fixedRewriter{},
		&fixedVerifier{res: verify.Result{Confidence: 0.95, Grounded: false}},
		&fixedLLM{answer: "maybe"},
		c)

	res, err := p.Answer(context.Background(), "who gives way", corpus.SearchFilter{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Answer == "" {
		t.Fatalf("high-confidence draft should still be returned")
	}
	if c.Len() != 0 {
		t.Fatalf("ungrounded answers must never be cached")
	}
}

func TestAnswerRewriteBudget(t *testing.T) {
	rw := &fixedRewriter{rewrites: []string{"reworded query"}}
	p := newPipeline(t,
		&fixedSearcher{outputs: []search.Output{searchHit()}},
		&fixedGrader{passed: false, avg: 3},
		rw,
		&fixedVerifier{res: verify.Result{Confidence: 0.9, Grounded: true}},
		&fixedLLM{answer: "best effort"},
		newTestCache(t))

	res, err := p.Answer(context.Background(), "vague question", corpus.SearchFilter{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if rw.calls != 2 {
		t.Fatalf("rewrites = %d, want the budget of 2", rw.calls)
	}
	if res.Warning == "" {
		t.Fatalf("exhausted budget must surface a retrieval-quality warning")
	}
	if res.Answer != "best effort" {
		t.Fatalf("generation should still run after the budget, got %q", res.Answer)
	}
}

func TestAnswerCorrectionDisabled(t *testing.T) {
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	rw := &fixedRewriter{rewrites: []string{"reworded query"}}
	p, err := New(log, fixedEmbedder{},
		newTestCache(t),
		&fixedSearcher{outputs: []search.Output{searchHit()}},
		&fixedGrader{passed: false, avg: 3},
		rw,
		&fixedVerifier{res: verify.Result{Confidence: 0.9, Grounded: true}},
		&fixedLLM{answer: "single pass"},
		nil, Config{MaxAttempts: 2, DisableCorrection: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Answer(context.Background(), "vague question", corpus.SearchFilter{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if rw.calls != 0 {
		t.Fatalf("rewrites = %d, correction disabled must never rewrite", rw.calls)
	}
	if res.Answer != "single pass" {
		t.Fatalf("answer = %q, want the single-pass generation", res.Answer)
	}
	if res.Warning == "" {
		t.Fatalf("failing grade without correction must surface a warning")
	}
}

func TestAnswerNoEvidence(t *testing.T) {
	p := newPipeline(t,
		&fixedSearcher{outputs: []search.Output{{Mode: "failed"}}},
		&fixedGrader{},
		&fixedRewriter{rewrites: []string{"retry one", "retry two"}},
		&fixedVerifier{},
		&fixedLLM{},
		newTestCache(t))

	res, err := p.Answer(context.Background(), "unanswerable", corpus.SearchFilter{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Answer != "" {
		t.Fatalf("no evidence must yield an empty answer, got %q", res.Answer)
	}
	if !strings.Contains(res.Warning, "insufficient evidence") {
		t.Fatalf("warning = %q, want insufficient evidence", res.Warning)
	}
	if res.Confidence != 0 {
		t.Fatalf("confidence = %v, want 0", res.Confidence)
	}
}

func TestAnswerEmptyQuery(t *testing.T) {
	p := newPipeline(t,
		&fixedSearcher{outputs: []search.Output{searchHit()}},
		&fixedGrader{},
		&fixedRewriter{},
		&fixedVerifier{},
		&fixedLLM{},
		newTestCache(t))
	if _, err := p.Answer(context.Background(), "  ", corpus.SearchFilter{}); err == nil {
		t.Fatalf("empty query must error")
	}
}

func TestSnippetKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("tàu thuyền điều động ", 40)
	got := snippet(long, 100)
	if !utf8.ValidString(got) {
		t.Fatalf("snippet produced invalid UTF-8: %q", got)
	}
	if n := len([]rune(got)); n != 101 { // 100 runes + ellipsis
		t.Fatalf("snippet length = %d runes, want 101", n)
	}
	if short := snippet("ngắn", 100); short != "ngắn" {
		t.Fatalf("short text must pass through unchanged, got %q", short)
	}
}
