package grade

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/seatutor/mariner-backend/internal/platform/logger"
	"github.com/seatutor/mariner-backend/internal/rag/search"
)

const (
	autoPassAggregate = 0.8
	autoFailAggregate = 0.3

	// ScoreAutoFail is the floor assigned by the tier-1 pre-filter; callers
	// treat anything above it as usable evidence.
	ScoreAutoFail = 1.0
	scoreIrrelevant = 2.0
	scorePartial    = 5.0
	scoreRelevant   = 8.0

	// tier-2 relevant hits needed to skip the full grader
	earlyExitRelevant = 2

	tier3BatchSize = 3
)

// JudgeLLM is the slice of the LLM client the grader needs.
type JudgeLLM interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
}

type Graded struct {
	Result search.Result
	Score  float64 // 0-10
	Reason string
	Tier   int
}

type Output struct {
	Graded   []Graded
	AvgScore float64
	Passed   bool
	// Tiers actually evaluated, for the reasoning trace.
	TiersUsed []int
}

type Config struct {
	PassThreshold float64
	Parallelism   int
}

type Grader interface {
	Grade(ctx context.Context, query string, results []search.Result) Output
}

type grader struct {
	log *logger.Logger
	llm JudgeLLM
	cfg Config
}

func New(log *logger.Logger, llm JudgeLLM, cfg Config) (Grader, error) {
	if log == nil || llm == nil {
		return nil, fmt.Errorf("grade: missing deps")
	}
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = 6.0
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 10
	}
	return &grader{log: log.With("service", "RetrievalGrader"), llm: llm, cfg: cfg}, nil
}

func (g *grader) Grade(ctx context.Context, query string, results []search.Result) Output {
	out := Output{TiersUsed: []int{1}}
	if len(results) == 0 {
		return out
	}

	// Tier 1: pre-filter on hybrid scores alone.
	var uncertain []search.Result
	relevantCount := 0
	for _, r := range results {
		agg := aggregateScore(r)
		switch {
		case agg >= autoPassAggregate:
			out.Graded = append(out.Graded, Graded{Result: r, Score: agg * 10, Reason: "strong hybrid signal", Tier: 1})
			relevantCount++
		case agg <= autoFailAggregate:
			out.Graded = append(out.Graded, Graded{Result: r, Score: ScoreAutoFail, Reason: "weak hybrid signal", Tier: 1})
		default:
			uncertain = append(uncertain, r)
		}
	}

	// Tier 2 only when tier 1 left us short on relevant evidence. With two
	// auto-passes the budget is already met; uncertain chunks keep their
	// hybrid score ungraded.
	if relevantCount >= earlyExitRelevant {
		for _, r := range uncertain {
			out.Graded = append(out.Graded, Graded{Result: r, Score: aggregateScore(r) * 10, Reason: "ungraded, evidence budget met", Tier: 1})
		}
		g.finalize(&out)
		return out
	}

	// Tier 2: mini-judge uncertain chunks concurrently.
	if len(uncertain) > 0 {
		out.TiersUsed = append(out.TiersUsed, 2)
		verdicts := g.miniJudge(ctx, query, uncertain)
		for i, r := range uncertain {
			v := verdicts[i]
			switch v {
			case "RELEVANT":
				out.Graded = append(out.Graded, Graded{Result: r, Score: scoreRelevant, Reason: "mini-judge: relevant", Tier: 2})
				relevantCount++
			case "PARTIAL":
				out.Graded = append(out.Graded, Graded{Result: r, Score: scorePartial, Reason: "mini-judge: partial", Tier: 2})
			default:
				out.Graded = append(out.Graded, Graded{Result: r, Score: scoreIrrelevant, Reason: "mini-judge: irrelevant", Tier: 2})
			}
		}

		// Tier 3 only when tier 2 left us short on relevant evidence.
		if relevantCount < earlyExitRelevant {
			out.TiersUsed = append(out.TiersUsed, 3)
			g.fullGrade(ctx, query, out.Graded)
		}
	}

	g.finalize(&out)
	return out
}

func (g *grader) finalize(out *Output) {
	if len(out.Graded) == 0 {
		return
	}
	// ties broken by hybrid RRF
	sort.Slice(out.Graded, func(i, j int) bool {
		if out.Graded[i].Score != out.Graded[j].Score {
			return out.Graded[i].Score > out.Graded[j].Score
		}
		return out.Graded[i].Result.RRF > out.Graded[j].Result.RRF
	})
	var sum float64
	for _, gr := range out.Graded {
		sum += gr.Score
	}
	out.AvgScore = sum / float64(len(out.Graded))
	out.Passed = out.AvgScore >= g.cfg.PassThreshold
}

// aggregateScore folds dense cosine and sparse rank into [0,1].
func aggregateScore(r search.Result) float64 {
	denseNorm := (r.DenseScore + 1) / 2
	sparseNorm := r.SparseScore / 30
	if sparseNorm > 1 {
		sparseNorm = 1
	}
	switch {
	case r.DenseScore != 0 && r.SparseScore != 0:
		return 0.5*denseNorm + 0.5*sparseNorm
	case r.SparseScore != 0:
		return sparseNorm
	default:
		return denseNorm
	}
}

var miniJudgeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"verdict": map[string]any{
			"type": "string",
			"enum": []string{"RELEVANT", "PARTIAL", "IRRELEVANT"},
		},
	},
	"required":             []string{"verdict"},
	"additionalProperties": false,
}

// miniJudge fans out one light LLM call per uncertain chunk, capped at
// cfg.Parallelism. Failed judgments count as IRRELEVANT.
func (g *grader) miniJudge(ctx context.Context, query string, uncertain []search.Result) []string {
	verdicts := make([]string, len(uncertain))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(min(len(uncertain), g.cfg.Parallelism))
	for i := range uncertain {
		i := i
		eg.Go(func() error {
			user := fmt.Sprintf("Question:\n%s\n\nPassage:\n%s\n\nIs the passage relevant to answering the question?",
				query, snippet(uncertain[i].Chunk.IndexText(), 800))
			res, err := g.llm.GenerateJSON(egCtx,
				"You judge whether a regulation passage is relevant to a maritime student's question. Answer with one verdict.",
				user, "relevance_verdict", miniJudgeSchema)
			if err != nil {
				g.log.Warn("mini-judge call failed, treating as irrelevant", "error", err.Error())
				verdicts[i] = "IRRELEVANT"
				return nil
			}
			v, _ := res["verdict"].(string)
			verdicts[i] = strings.ToUpper(strings.TrimSpace(v))
			return nil
		})
	}
	_ = eg.Wait()
	return verdicts
}

var fullGradeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"scores": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"index":  map[string]any{"type": "integer"},
					"score":  map[string]any{"type": "number"},
					"reason": map[string]any{"type": "string"},
				},
				"required":             []string{"index", "score", "reason"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"scores"},
	"additionalProperties": false,
}

// fullGrade re-scores tier-2 outcomes in batches with a richer prompt.
// Tier-1 verdicts stand; only LLM-graded entries are revisited.
func (g *grader) fullGrade(ctx context.Context, query string, graded []Graded) {
	var idx []int
	for i, gr := range graded {
		if gr.Tier == 2 {
			idx = append(idx, i)
		}
	}
	for start := 0; start < len(idx); start += tier3BatchSize {
		end := start + tier3BatchSize
		if end > len(idx) {
			end = len(idx)
		}
		batch := idx[start:end]

		var sb strings.Builder
		fmt.Fprintf(&sb, "Question:\n%s\n\nScore each passage 0-10 for how well it supports answering the question. Consider regulatory precision: an adjacent rule that does not answer the question scores low.\n", query)
		for bi, gi := range batch {
			fmt.Fprintf(&sb, "\nPassage %d:\n%s\n", bi, snippet(graded[gi].Result.Chunk.IndexText(), 1200))
		}

		res, err := g.llm.GenerateJSON(ctx,
			"You are a strict grader of retrieval quality for maritime regulation questions.",
			sb.String(), "retrieval_scores", fullGradeSchema)
		if err != nil {
			g.log.Warn("full grader batch failed, keeping tier-2 scores", "error", err.Error())
			continue
		}
		scores, _ := res["scores"].([]any)
		for _, s := range scores {
			m, ok := s.(map[string]any)
			if !ok {
				continue
			}
			bi, _ := m["index"].(float64)
			score, _ := m["score"].(float64)
			reason, _ := m["reason"].(string)
			if int(bi) < 0 || int(bi) >= len(batch) {
				continue
			}
			gi := batch[int(bi)]
			if score < 0 {
				score = 0
			}
			if score > 10 {
				score = 10
			}
			graded[gi].Score = score
			graded[gi].Reason = reason
			graded[gi].Tier = 3
		}
	}
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

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
