package crag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/seatutor/mariner-backend/internal/data/repos/corpus"
	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/graph"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
	"github.com/seatutor/mariner-backend/internal/rag/cache"
	"github.com/seatutor/mariner-backend/internal/rag/embed"
	"github.com/seatutor/mariner-backend/internal/rag/grade"
	"github.com/seatutor/mariner-backend/internal/rag/rewrite"
	"github.com/seatutor/mariner-backend/internal/rag/search"
	"github.com/seatutor/mariner-backend/internal/rag/verify"
)

// state of the corrective-RAG machine. Transitions are explicit; there is no
// exception-driven control flow.
type state int

const (
	stateStart state = iota
	stateEmbed
	stateCacheLookup
	stateAdapt
	stateRetrieve
	stateGrade
	stateRewrite
	stateGenerate
	stateVerify
	stateCacheStore
	stateEnd
)

func (s state) String() string {
	switch s {
	case stateStart:
		return "START"
	case stateEmbed:
		return "EMBED"
	case stateCacheLookup:
		return "CACHE_LOOKUP"
	case stateAdapt:
		return "ADAPT"
	case stateRetrieve:
		return "RETRIEVE"
	case stateGrade:
		return "GRADE"
	case stateRewrite:
		return "REWRITE"
	case stateGenerate:
		return "GENERATE"
	case stateVerify:
		return "VERIFY"
	case stateCacheStore:
		return "CACHE_STORE"
	case stateEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

type GeneratorLLM interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
	GenerateText(ctx context.Context, system, user string) (string, error)
}

type Result struct {
	Answer         string
	Citations      []types.Citation
	ReasoningTrace []string
	Confidence     float64
	QueryType      string
	FromCache      bool
	Warning        string
	DocumentIDs    []string
}

type Config struct {
	MaxAttempts int
	// DisableCorrection turns off the rewrite loop: one retrieval, one
	// generation, failures flagged instead of retried.
	DisableCorrection bool
}

type Pipeline struct {
	log      *logger.Logger
	embedder embed.Embedder
	cache    *cache.SemanticCache
	searcher search.Searcher
	grader   grade.Grader
	rewriter rewrite.Service
	verifier verify.Verifier
	llm      GeneratorLLM
	entities graph.EntityLookup
	cfg      Config
}

func New(log *logger.Logger, embedder embed.Embedder, c *cache.SemanticCache, searcher search.Searcher,
	grader grade.Grader, rewriter rewrite.Service, verifier verify.Verifier, llm GeneratorLLM,
	entities graph.EntityLookup, cfg Config) (*Pipeline, error) {
	if log == nil || embedder == nil || c == nil || searcher == nil || grader == nil ||
		rewriter == nil || verifier == nil || llm == nil {
		return nil, fmt.Errorf("crag: missing deps")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	return &Pipeline{
		log:      log.With("service", "CragPipeline"),
		embedder: embedder,
		cache:    c,
		searcher: searcher,
		grader:   grader,
		rewriter: rewriter,
		verifier: verifier,
		llm:      llm,
		entities: entities,
		cfg:      cfg,
	}, nil
}

// run carries the per-request working set across states.
type run struct {
	query    string
	filter   corpus.SearchFilter
	qEmb     []float32
	analysis rewrite.Analysis

	attempts     int // rewrite attempts so far
	activeQuery  string
	graded       grade.Output
	searchOutput search.Output

	draft      string
	cited      []int
	verifyRes  verify.Result
	cachedHit  *cache.CachedAnswer
	result     Result
}

// Answer runs the full corrective loop for one query. Concurrent identical
// queries are coalesced: only one caller generates, the rest reuse its result.
func (p *Pipeline) Answer(ctx context.Context, query string, filter corpus.SearchFilter) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, fmt.Errorf("crag: empty query")
	}

	r := &run{query: query, activeQuery: query, filter: filter}
	r.trace("START")

	// EMBED
	qEmb, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		// Retrieval still has a lexical leg; continue without the vector.
		r.trace("EMBED failed: %v", err)
	} else {
		r.qEmb = qEmb
	}
	r.analysis = p.rewriter.Analyze(ctx, query)
	r.result.QueryType = r.analysis.QueryType

	// CACHE_LOOKUP → ADAPT on hit
	if hit, ok := p.cache.Lookup(r.qEmb); ok {
		r.cachedHit = hit
		r.trace("CACHE_LOOKUP hit (stored %s ago)", time.Since(hit.StoredAt).Round(time.Second))
		return p.adapt(ctx, r)
	}
	r.trace("CACHE_LOOKUP miss")

	// MISS path runs under single-flight per query fingerprint.
	fp := cache.Fingerprint(r.qEmb)
	if len(r.qEmb) == 0 {
		fp = cache.Fingerprint([]float32{0}) + ":" + strings.ToLower(query)
	}
	v, err := p.cache.Generate(fp, func() (any, error) {
		return p.generateLoop(ctx, r)
	})
	if err != nil {
		return Result{}, err
	}
	res, ok := v.(Result)
	if !ok {
		return Result{}, fmt.Errorf("crag: unexpected single-flight result type %T", v)
	}
	if len(res.ReasoningTrace) == 0 {
		res.ReasoningTrace = r.result.ReasoningTrace
	}
	return res, nil
}

// generateLoop walks RETRIEVE → GRADE → (REWRITE|GENERATE) → VERIFY with the
// rewrite budget enforced.
func (p *Pipeline) generateLoop(ctx context.Context, r *run) (Result, error) {
	st := stateRetrieve
	for st != stateEnd {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		var err error
		switch st {
		case stateRetrieve:
			st = p.stepRetrieve(ctx, r)
		case stateGrade:
			st = p.stepGrade(ctx, r)
		case stateRewrite:
			st = p.stepRewrite(ctx, r)
		case stateGenerate:
			st, err = p.stepGenerate(ctx, r)
		case stateVerify:
			st = p.stepVerify(ctx, r)
		case stateCacheStore:
			st = p.stepCacheStore(r)
		default:
			return Result{}, fmt.Errorf("crag: invalid state %s", st)
		}
		if err != nil {
			return Result{}, err
		}
	}
	r.trace("END")
	r.result.ReasoningTrace = append([]string(nil), r.result.ReasoningTrace...)
	return r.result, nil
}

// rewriteBudget is the number of corrective rewrite attempts allowed.
func (p *Pipeline) rewriteBudget() int {
	if p.cfg.DisableCorrection {
		return 0
	}
	return p.cfg.MaxAttempts
}

func (p *Pipeline) stepRetrieve(ctx context.Context, r *run) state {
	r.searchOutput = p.searcher.SearchWithEmbedding(ctx, r.activeQuery, r.qEmb, r.filter)
	r.trace("RETRIEVE %q mode=%s hits=%d", r.activeQuery, r.searchOutput.Mode, len(r.searchOutput.Results))
	if len(r.searchOutput.Results) == 0 {
		if r.attempts < p.rewriteBudget() {
			return stateRewrite
		}
		r.result.Answer = ""
		r.result.Warning = "insufficient evidence in the regulation corpus"
		r.result.Confidence = 0
		r.trace("no retrievable evidence after %d attempts", r.attempts)
		return stateEnd
	}
	return stateGrade
}

func (p *Pipeline) stepGrade(ctx context.Context, r *run) state {
	r.graded = p.grader.Grade(ctx, r.activeQuery, r.searchOutput.Results)
	r.trace("GRADE avg=%.1f passed=%v tiers=%v", r.graded.AvgScore, r.graded.Passed, r.graded.TiersUsed)
	if r.graded.Passed {
		return stateGenerate
	}
	if r.attempts < p.rewriteBudget() {
		return stateRewrite
	}
	// out of budget: generate anyway, flagged low confidence
	r.result.Warning = "retrieval quality below threshold"
	return stateGenerate
}

func (p *Pipeline) stepRewrite(ctx context.Context, r *run) state {
	r.attempts++
	hint := fmt.Sprintf(" (average grade %.1f)", r.graded.AvgScore)
	rewrites := p.rewriter.Rewrite(ctx, r.query, hint)
	if len(rewrites) == 0 {
		r.trace("REWRITE produced nothing, keeping original")
		r.result.Warning = "retrieval quality below threshold"
		return stateGenerate
	}
	r.activeQuery = rewrites[0]
	r.trace("REWRITE attempt %d → %q", r.attempts, r.activeQuery)

	// Re-embed so dense retrieval follows the rewrite.
	if emb, err := p.embedder.EmbedQuery(ctx, r.activeQuery); err == nil {
		r.qEmb = emb
	}
	return stateRetrieve
}

var generateSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"answer": map[string]any{"type": "string"},
		"cited": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "integer"},
		},
	},
	"required":             []string{"answer", "cited"},
	"additionalProperties": false,
}

func (p *Pipeline) stepGenerate(ctx context.Context, r *run) (state, error) {
	usable := r.usableChunks()
	if len(usable) == 0 {
		r.result.Answer = ""
		r.result.Warning = "insufficient evidence in the regulation corpus"
		r.result.Confidence = 0
		r.trace("GENERATE skipped: no graded evidence")
		return stateEnd, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question:\n%s\n\nEvidence passages:\n", r.query)
	for i, g := range usable {
		c := g.Result.Chunk
		fmt.Fprintf(&sb, "\n[%d] (doc %s, page %d) %s\n", i, c.DocumentID, c.PageNumber, snippet(c.IndexText(), 1500))
	}
	if related := p.relatedConcepts(ctx, usable); related != "" {
		fmt.Fprintf(&sb, "\nRelated concepts from the regulation graph:\n%s\n", related)
	}
	sb.WriteString("\nAnswer the question using ONLY the evidence passages. List the passage indexes you actually relied on in `cited`.")

	res, err := p.llm.GenerateJSON(ctx,
		"You are a maritime regulations tutor. Answer precisely, cite rule and article numbers exactly as written in the evidence.",
		sb.String(), "grounded_answer", generateSchema)
	if err != nil {
		return stateEnd, err
	}
	r.draft, _ = res["answer"].(string)
	r.cited = r.cited[:0]
	if raw, ok := res["cited"].([]any); ok {
		for _, x := range raw {
			if f, ok := x.(float64); ok && int(f) >= 0 && int(f) < len(usable) {
				r.cited = append(r.cited, int(f))
			}
		}
	}
	r.trace("GENERATE draft (%d chars, %d citations)", len(r.draft), len(r.cited))
	return stateVerify, nil
}

func (p *Pipeline) stepVerify(ctx context.Context, r *run) state {
	usable := r.usableChunks()
	contextTexts := make([]string, 0, len(r.cited))
	for _, i := range r.cited {
		contextTexts = append(contextTexts, usable[i].Result.Chunk.IndexText())
	}
	if len(contextTexts) == 0 {
		for _, g := range usable {
			contextTexts = append(contextTexts, g.Result.Chunk.IndexText())
		}
	}

	r.verifyRes = p.verifier.Verify(ctx, r.query, contextTexts, r.draft)
	band := verify.BandOf(r.verifyRes.Confidence)
	r.trace("VERIFY confidence=%.2f grounded=%v band=%s", r.verifyRes.Confidence, r.verifyRes.Grounded, band)

	// prune citations the verifier could not ground
	pruned := map[int]bool{}
	for _, i := range r.verifyRes.UnfoundedChunks {
		if i >= 0 && i < len(r.cited) {
			pruned[r.cited[i]] = true
		}
	}

	r.result.Answer = r.draft
	r.result.Confidence = r.verifyRes.Confidence
	r.result.Citations = r.result.Citations[:0]
	r.result.DocumentIDs = r.result.DocumentIDs[:0]
	seenDocs := map[string]bool{}
	for _, i := range r.cited {
		if pruned[i] {
			continue
		}
		c := usable[i].Result.Chunk
		r.result.Citations = append(r.result.Citations, chunkCitation(c))
		if !seenDocs[c.DocumentID.String()] {
			seenDocs[c.DocumentID.String()] = true
			r.result.DocumentIDs = append(r.result.DocumentIDs, c.DocumentID.String())
		}
	}

	switch band {
	case verify.BandHigh:
		if r.verifyRes.Grounded {
			return stateCacheStore
		}
		r.result.Warning = joinIssues(r.verifyRes.Issues)
		return stateEnd
	case verify.BandMedium:
		r.result.Warning = "answer verified with medium confidence"
		if r.verifyRes.Grounded {
			return stateCacheStore
		}
		return stateEnd
	default:
		if r.attempts < p.rewriteBudget() {
			return stateRewrite
		}
		r.result.Warning = "low-confidence answer; verify against the original regulation text"
		return stateEnd
	}
}

func (p *Pipeline) stepCacheStore(r *run) state {
	// cache writes only for grounded answers
	if r.verifyRes.Grounded && len(r.qEmb) > 0 {
		p.cache.Store(r.qEmb, cache.CachedAnswer{
			Answer:     r.result.Answer,
			Citations:  append([]types.Citation(nil), r.result.Citations...),
			QueryType:  r.result.QueryType,
			Confidence: r.result.Confidence,
		})
		r.trace("CACHE_STORE")
	}
	return stateEnd
}

// adapt lightly rewords a cached answer to the new phrasing.
func (p *Pipeline) adapt(ctx context.Context, r *run) (Result, error) {
	hit := r.cachedHit
	out := Result{
		Answer:     hit.Answer,
		Citations:  hit.Citations,
		QueryType:  r.result.QueryType,
		Confidence: hit.Confidence,
		FromCache:  true,
	}
	if out.QueryType == "" {
		out.QueryType = hit.QueryType
	}
	for _, c := range hit.Citations {
		out.DocumentIDs = appendUnique(out.DocumentIDs, c.DocumentID.String())
	}

	adapted, err := p.llm.GenerateText(ctx,
		"Adapt an existing verified answer to the user's exact phrasing. Do not add or remove factual content.",
		fmt.Sprintf("User question:\n%s\n\nVerified answer:\n%s", r.query, hit.Answer))
	if err == nil && strings.TrimSpace(adapted) != "" {
		out.Answer = strings.TrimSpace(adapted)
		r.trace("ADAPT rephrased cached answer")
	} else {
		r.trace("ADAPT unavailable, returning cached answer verbatim")
	}
	r.trace("END")
	out.ReasoningTrace = append([]string(nil), r.result.ReasoningTrace...)
	return out, nil
}

func (r *run) usableChunks() []grade.Graded {
	var out []grade.Graded
	for _, g := range r.graded.Graded {
		if g.Score > grade.ScoreAutoFail {
			out = append(out, g)
		}
	}
	if len(out) == 0 {
		return r.graded.Graded
	}
	return out
}

func (p *Pipeline) relatedConcepts(ctx context.Context, usable []grade.Graded) string {
	if p.entities == nil {
		return ""
	}
	ids := make([]string, 0, len(usable))
	for _, g := range usable {
		ids = append(ids, g.Result.Chunk.ID.String())
	}
	related := p.entities.RelatedToChunks(ctx, ids)
	if len(related) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, re := range related {
		if i >= 8 {
			break
		}
		fmt.Fprintf(&sb, "- %s (%s)\n", re.Entity.Name, re.Entity.Type)
	}
	return sb.String()
}

func (r *run) trace(format string, args ...any) {
	r.result.ReasoningTrace = append(r.result.ReasoningTrace, fmt.Sprintf(format, args...))
}

func chunkCitation(c *types.Chunk) types.Citation {
	cit := types.Citation{
		ChunkID:    c.ID,
		DocumentID: c.DocumentID,
		Page:       c.PageNumber,
		Snippet:    snippet(c.Content, 300),
		ImageURL:   c.ImageURL,
	}
	cit.BoundingBoxes = decodeBoxes(c)
	return cit
}

func decodeBoxes(c *types.Chunk) []types.BoundingBox {
	if len(c.BoundingBoxes) == 0 {
		return nil
	}
	var boxes []types.BoundingBox
	if err := json.Unmarshal(c.BoundingBoxes, &boxes); err != nil {
		return nil
	}
	return boxes
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

func joinIssues(issues []string) string {
	if len(issues) == 0 {
		return ""
	}
	return strings.Join(issues, "; ")
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}
