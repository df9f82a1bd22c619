package search

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	pc "github.com/seatutor/mariner-backend/internal/clients/pinecone"
	"github.com/seatutor/mariner-backend/internal/data/repos/corpus"
	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/pkg/dbctx"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
	"github.com/seatutor/mariner-backend/internal/rag/embed"
)

const (
	denseTopN  = 20
	sparseTopN = 20
	// sparse ranks at or above this are strong lexical signals
	sparsePriorityScore = 15.0
)

// Result is one fused hit with its per-list diagnostics.
type Result struct {
	Chunk       *types.Chunk
	DenseScore  float64
	SparseScore float64
	RRF         float64
	Boosted     float64
}

// Output carries the fused list plus degradation state; hybrid search never
// returns an error to callers.
type Output struct {
	Results  []Result
	Mode     string // normal | dense_only | sparse_only | failed
	Err      string
	QueryEmb []float32
	Trace    map[string]any
}

type Config struct {
	TopK           int
	RRFK           int
	TitleBoost     float64
	SparsePriority float64
	// DenseThreshold drops dense matches whose cosine falls below it.
	// Zero keeps every match.
	DenseThreshold float64
}

type Searcher interface {
	Search(ctx context.Context, query string, filter corpus.SearchFilter) Output
	// SearchWithEmbedding skips the embed call when the caller already has
	// the query vector.
	SearchWithEmbedding(ctx context.Context, query string, qEmb []float32, filter corpus.SearchFilter) Output
}

type searcher struct {
	log      *logger.Logger
	embedder embed.Embedder
	vectors  pc.VectorStore
	chunks   corpus.ChunkRepo
	cfg      Config
}

func New(log *logger.Logger, embedder embed.Embedder, vectors pc.VectorStore, chunks corpus.ChunkRepo, cfg Config) (Searcher, error) {
	if log == nil || embedder == nil || chunks == nil {
		return nil, fmt.Errorf("search: missing deps")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	if cfg.TitleBoost <= 0 {
		cfg.TitleBoost = 3.0
	}
	if cfg.SparsePriority <= 0 {
		cfg.SparsePriority = 1.5
	}
	return &searcher{
		log:      log.With("service", "HybridSearch"),
		embedder: embedder,
		vectors:  vectors,
		chunks:   chunks,
		cfg:      cfg,
	}, nil
}

func (s *searcher) Search(ctx context.Context, query string, filter corpus.SearchFilter) Output {
	query = strings.TrimSpace(query)
	out := Output{Mode: "normal", Trace: map[string]any{}}
	if query == "" {
		out.Mode = "failed"
		out.Err = "empty query"
		return out
	}

	embStart := time.Now()
	qEmb, err := s.embedder.EmbedQuery(ctx, query)
	out.Trace["embed_ms"] = time.Since(embStart).Milliseconds()
	if err != nil {
		// dense is unreachable without the embedding; lexical still works
		out.Trace["embed_err"] = err.Error()
	}
	res := s.SearchWithEmbedding(ctx, query, qEmb, filter)
	res.Trace["embed_ms"] = out.Trace["embed_ms"]
	if e, ok := out.Trace["embed_err"]; ok {
		res.Trace["embed_err"] = e
	}
	return res
}

func (s *searcher) SearchWithEmbedding(ctx context.Context, query string, qEmb []float32, filter corpus.SearchFilter) Output {
	out := Output{Mode: "normal", QueryEmb: qEmb, Trace: map[string]any{}}

	type candidate struct {
		chunk       *types.Chunk
		denseScore  float64
		denseRank   int // 1-based, 0 = absent
		sparseScore float64
		sparseRank  int
	}
	candidates := map[uuid.UUID]*candidate{}

	denseOK := false
	if len(qEmb) > 0 && s.vectors != nil {
		matches, err := s.vectors.QueryMatches(ctx, qEmb, denseTopN, pineconeFilter(filter))
		if err != nil {
			out.Trace["dense_err"] = err.Error()
		} else {
			ids := make([]uuid.UUID, 0, len(matches))
			byID := map[uuid.UUID]pc.VectorMatch{}
			for _, m := range matches {
				if s.cfg.DenseThreshold > 0 && m.Score < s.cfg.DenseThreshold {
					continue
				}
				id, perr := uuid.Parse(m.ID)
				if perr != nil {
					continue
				}
				ids = append(ids, id)
				byID[id] = m
			}
			rows, rerr := s.chunks.GetByIDs(dbctx.New(ctx), ids)
			if rerr != nil {
				out.Trace["dense_err"] = rerr.Error()
			} else {
				denseOK = true
				// preserve pinecone ranking for RRF
				sort.Slice(rows, func(i, j int) bool {
					return byID[rows[i].ID].Score > byID[rows[j].ID].Score
				})
				for rank, ch := range rows {
					candidates[ch.ID] = &candidate{
						chunk:      ch,
						denseScore: byID[ch.ID].Score,
						denseRank:  rank + 1,
					}
				}
				out.Trace["dense_hits"] = len(rows)
			}
		}
	}

	sparseOK := false
	hits, err := s.chunks.LexicalSearch(dbctx.New(ctx), query, sparseTopN, filter)
	if err != nil {
		out.Trace["sparse_err"] = err.Error()
	} else {
		sparseOK = true
		for rank, h := range hits {
			if c, ok := candidates[h.Chunk.ID]; ok {
				c.sparseScore = h.Rank
				c.sparseRank = rank + 1
			} else {
				candidates[h.Chunk.ID] = &candidate{
					chunk:       h.Chunk,
					sparseScore: h.Rank,
					sparseRank:  rank + 1,
				}
			}
		}
		out.Trace["sparse_hits"] = len(hits)
	}

	switch {
	case !denseOK && !sparseOK:
		out.Mode = "failed"
		out.Err = "both retrieval legs failed"
		return out
	case !denseOK:
		out.Mode = "sparse_only"
	case !sparseOK:
		out.Mode = "dense_only"
	}

	queryNums := numericIdentifiers(query)
	queryNouns := properNouns(query)
	k := float64(s.cfg.RRFK)

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		var rrf float64
		if c.denseRank > 0 {
			rrf += 1 / (k + float64(c.denseRank))
		}
		if c.sparseRank > 0 {
			rrf += 1 / (k + float64(c.sparseRank))
		}
		boosted := rrf
		if titleMatches(c.chunk.Title, queryNums, queryNouns) {
			boosted *= s.cfg.TitleBoost
		}
		if c.sparseScore >= sparsePriorityScore {
			boosted *= s.cfg.SparsePriority
		}
		results = append(results, Result{
			Chunk:       c.chunk,
			DenseScore:  c.denseScore,
			SparseScore: c.sparseScore,
			RRF:         rrf,
			Boosted:     boosted,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Boosted != results[j].Boosted {
			return results[i].Boosted > results[j].Boosted
		}
		return results[i].Chunk.ID.String() < results[j].Chunk.ID.String()
	})
	if len(results) > s.cfg.TopK {
		results = results[:s.cfg.TopK]
	}
	out.Results = results
	return out
}

func pineconeFilter(f corpus.SearchFilter) map[string]any {
	out := map[string]any{}
	if f.DocumentID != uuid.Nil {
		out["document_id"] = f.DocumentID.String()
	}
	if f.ContentType != "" {
		out["content_type"] = f.ContentType
	}
	if f.MinConfidence > 0 {
		out["confidence"] = map[string]any{"$gte": f.MinConfidence}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var numberPattern = regexp.MustCompile(`\b\d+[a-zA-Z]?\b`)

func numericIdentifiers(q string) []string {
	return numberPattern.FindAllString(q, -1)
}

// domain proper nouns that mark a title as authoritative for the query
var domainNouns = []string{"colreg", "solas", "marpol", "stcw", "imo", "ism", "isps"}

func properNouns(q string) []string {
	lower := strings.ToLower(q)
	var out []string
	for _, n := range domainNouns {
		if strings.Contains(lower, n) {
			out = append(out, n)
		}
	}
	return out
}

func titleMatches(title string, nums, nouns []string) bool {
	title = strings.ToLower(strings.TrimSpace(title))
	if title == "" {
		return false
	}
	for _, n := range nums {
		if n != "" && containsToken(title, strings.ToLower(n)) {
			return true
		}
	}
	for _, n := range nouns {
		if strings.Contains(title, n) {
			return true
		}
	}
	return false
}

func containsToken(s, tok string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if f == tok {
			return true
		}
	}
	return false
}
