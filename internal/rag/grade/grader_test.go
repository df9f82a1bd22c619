package grade

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"

	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
	"github.com/seatutor/mariner-backend/internal/rag/search"
)

type spyJudge struct {
	mu      sync.Mutex
	calls   map[string]int
	verdict string
	err     error
}

func (s *spyJudge) GenerateJSON(_ context.Context, _, _ string, schemaName string, _ map[string]any) (map[string]any, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[schemaName]++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if schemaName == "retrieval_scores" {
		return map[string]any{"scores": []any{
			map[string]any{"index": float64(0), "score": 7.5, "reason": "cites the rule"},
		}}, nil
	}
	return map[string]any{"verdict": s.verdict}, nil
}

func (s *spyJudge) count(schema string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[schema]
}

func newGrader(t *testing.T, llm JudgeLLM) Grader {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	g, err := New(log, llm, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func result(dense float64) search.Result {
	return search.Result{
		Chunk:      &types.Chunk{ID: uuid.New(), Content: "vessels in a crossing situation"},
		DenseScore: dense,
	}
}

func TestGradeTierOneOnly(t *testing.T) {
	spy := &spyJudge{}
	g := newGrader(t, spy)

	out := g.Grade(context.Background(), "crossing situation", []search.Result{
		result(0.9),  // aggregate 0.95, auto pass
		result(0.85), // aggregate 0.925, auto pass
		result(-0.9), // aggregate 0.05, auto fail
	})
	if got := spy.count("relevance_verdict") + spy.count("retrieval_scores"); got != 0 {
		t.Fatalf("tier 1 verdicts must not call the judge, got %d calls", got)
	}
	if len(out.TiersUsed) != 1 || out.TiersUsed[0] != 1 {
		t.Fatalf("tiers used = %v, want [1]", out.TiersUsed)
	}
	if out.Graded[len(out.Graded)-1].Score != ScoreAutoFail {
		t.Fatalf("auto-failed chunk should carry the floor score")
	}
}

func TestGradeAutoPassSkipsJudges(t *testing.T) {
	spy := &spyJudge{verdict: "RELEVANT"}
	g := newGrader(t, spy)

	out := g.Grade(context.Background(), "crossing situation", []search.Result{
		result(0.9),  // auto pass
		result(0.85), // auto pass
		result(0.2),  // uncertain, must stay ungraded
	})
	if got := spy.count("relevance_verdict") + spy.count("retrieval_scores"); got != 0 {
		t.Fatalf("two auto-passes satisfy the evidence budget, judge called %d times", got)
	}
	if len(out.TiersUsed) != 1 || out.TiersUsed[0] != 1 {
		t.Fatalf("tiers used = %v, want [1]", out.TiersUsed)
	}
	if len(out.Graded) != 3 {
		t.Fatalf("graded = %d chunks, want all 3 carried through", len(out.Graded))
	}
	for _, gr := range out.Graded {
		if gr.Tier != 1 {
			t.Fatalf("chunk graded at tier %d, want everything at tier 1", gr.Tier)
		}
	}
	// the skipped uncertain chunk keeps its hybrid score: (0.2+1)/2 * 10
	last := out.Graded[len(out.Graded)-1]
	if last.Score != 6.0 {
		t.Fatalf("ungraded chunk score = %v, want 6.0 from its hybrid signal", last.Score)
	}
}

func TestGradeTierTwoEarlyExit(t *testing.T) {
	spy := &spyJudge{verdict: "RELEVANT"}
	g := newGrader(t, spy)

	out := g.Grade(context.Background(), "crossing situation", []search.Result{
		result(0.9), // auto pass
		result(0.2), // uncertain
		result(0.1), // uncertain
	})
	if got := spy.count("relevance_verdict"); got != 2 {
		t.Fatalf("mini-judge calls = %d, want 2", got)
	}
	if got := spy.count("retrieval_scores"); got != 0 {
		t.Fatalf("two relevant verdicts must skip the full grader, got %d batch calls", got)
	}
	if len(out.TiersUsed) != 2 {
		t.Fatalf("tiers used = %v, want [1 2]", out.TiersUsed)
	}
}

func TestGradeTierThreeWhenEvidenceShort(t *testing.T) {
	spy := &spyJudge{verdict: "PARTIAL"}
	g := newGrader(t, spy)

	out := g.Grade(context.Background(), "crossing situation", []search.Result{
		result(0.2),
	})
	if got := spy.count("retrieval_scores"); got != 1 {
		t.Fatalf("full grader batches = %d, want 1", got)
	}
	var tier3 *Graded
	for i := range out.Graded {
		if out.Graded[i].Tier == 3 {
			tier3 = &out.Graded[i]
		}
	}
	if tier3 == nil {
		t.Fatalf("expected a tier-3 regrade, got %+v", out.Graded)
	}
	if tier3.Score != 7.5 {
		t.Fatalf("tier-3 score = %v, want 7.5", tier3.Score)
	}
}

func TestGradeJudgeFailureCountsIrrelevant(t *testing.T) {
	spy := &spyJudge{err: fmt.Errorf("llm down")}
	g := newGrader(t, spy)

	out := g.Grade(context.Background(), "crossing situation", []search.Result{
		result(0.2),
	})
	if out.Graded[0].Score != scoreIrrelevant {
		t.Fatalf("score = %v, want irrelevant %v when the judge is down", out.Graded[0].Score, scoreIrrelevant)
	}
	if out.Passed {
		t.Fatalf("a single irrelevant chunk must not pass")
	}
}

func TestGradeEmptyInput(t *testing.T) {
	spy := &spyJudge{}
	g := newGrader(t, spy)
	out := g.Grade(context.Background(), "anything", nil)
	if len(out.Graded) != 0 || out.Passed {
		t.Fatalf("empty retrieval must grade to nothing, got %+v", out)
	}
}

func TestSnippetKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("nhường đường cho tàu thuyền ", 40)
	got := snippet(long, 90)
	if !utf8.ValidString(got) {
		t.Fatalf("snippet produced invalid UTF-8: %q", got)
	}
	if n := len([]rune(got)); n != 91 { // 90 runes + ellipsis
		t.Fatalf("snippet length = %d runes, want 91", n)
	}
}
