package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	pc "github.com/seatutor/mariner-backend/internal/clients/pinecone"
	"github.com/seatutor/mariner-backend/internal/data/repos/corpus"
	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/pkg/dbctx"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeVectors struct {
	matches []pc.VectorMatch
	err     error
}

func (f *fakeVectors) QueryMatches(context.Context, []float32, int, map[string]any) ([]pc.VectorMatch, error) {
	return f.matches, f.err
}

type fakeChunks struct {
	byID    map[uuid.UUID]*types.Chunk
	lexical []corpus.LexicalHit
	lexErr  error
}

func (f *fakeChunks) GetByIDs(_ dbctx.Context, ids []uuid.UUID) ([]*types.Chunk, error) {
	var out []*types.Chunk
	for _, id := range ids {
		if c, ok := f.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunks) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Chunk, error) {
	return f.byID[id], nil
}

func (f *fakeChunks) LexicalSearch(dbctx.Context, string, int, corpus.SearchFilter) ([]corpus.LexicalHit, error) {
	return f.lexical, f.lexErr
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func chunk(title string) *types.Chunk {
	return &types.Chunk{ID: uuid.New(), DocumentID: uuid.New(), Content: "content", Title: title}
}

func TestHybridFusionPrefersBothLists(t *testing.T) {
	both := chunk("")
	denseOnly := chunk("")
	sparseOnly := chunk("")

	chunks := &fakeChunks{
		byID: map[uuid.UUID]*types.Chunk{both.ID: both, denseOnly.ID: denseOnly},
		lexical: []corpus.LexicalHit{
			{Chunk: both, Rank: 5},
			{Chunk: sparseOnly, Rank: 4},
		},
	}
	vectors := &fakeVectors{matches: []pc.VectorMatch{
		{ID: both.ID.String(), Score: 0.9},
		{ID: denseOnly.ID.String(), Score: 0.8},
	}}

	s, err := New(testLogger(t), &fakeEmbedder{}, vectors, chunks, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := s.Search(context.Background(), "crossing situation", corpus.SearchFilter{})
	if out.Mode != "normal" {
		t.Fatalf("mode = %q, want normal", out.Mode)
	}
	if len(out.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(out.Results))
	}
	if out.Results[0].Chunk.ID != both.ID {
		t.Fatalf("top result should be the chunk present in both lists")
	}
	if out.Results[0].RRF <= out.Results[1].RRF {
		t.Fatalf("dual-list RRF %v should exceed single-list %v", out.Results[0].RRF, out.Results[1].RRF)
	}
}

func TestHybridTitleBoost(t *testing.T) {
	plain := chunk("")
	titled := chunk("COLREGs Rule 15")

	chunks := &fakeChunks{
		byID: map[uuid.UUID]*types.Chunk{},
		lexical: []corpus.LexicalHit{
			{Chunk: plain, Rank: 6},
			{Chunk: titled, Rank: 5},
		},
	}
	s, err := New(testLogger(t), &fakeEmbedder{}, &fakeVectors{err: fmt.Errorf("down")}, chunks, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := s.Search(context.Background(), "what does rule 15 say", corpus.SearchFilter{})
	if out.Results[0].Chunk.ID != titled.ID {
		t.Fatalf("title matching the rule number should outrank a better lexical rank")
	}
}

func TestHybridDenseThreshold(t *testing.T) {
	strong := chunk("")
	weak := chunk("")

	chunks := &fakeChunks{
		byID:   map[uuid.UUID]*types.Chunk{strong.ID: strong, weak.ID: weak},
		lexErr: fmt.Errorf("postgres down"),
	}
	vectors := &fakeVectors{matches: []pc.VectorMatch{
		{ID: strong.ID.String(), Score: 0.9},
		{ID: weak.ID.String(), Score: 0.4},
	}}

	s, err := New(testLogger(t), &fakeEmbedder{}, vectors, chunks, Config{DenseThreshold: 0.7})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := s.Search(context.Background(), "anchoring", corpus.SearchFilter{})
	if len(out.Results) != 1 {
		t.Fatalf("results = %d, the below-threshold match must be dropped", len(out.Results))
	}
	if out.Results[0].Chunk.ID != strong.ID {
		t.Fatalf("surviving result should be the strong match")
	}

	// zero threshold keeps everything
	s, _ = New(testLogger(t), &fakeEmbedder{}, vectors, chunks, Config{})
	out = s.Search(context.Background(), "anchoring", corpus.SearchFilter{})
	if len(out.Results) != 2 {
		t.Fatalf("results = %d, zero threshold must keep both", len(out.Results))
	}
}

func TestHybridDegradation(t *testing.T) {
	hit := chunk("")
	t.Run("dense leg down", func(t *testing.T) {
		chunks := &fakeChunks{lexical: []corpus.LexicalHit{{Chunk: hit, Rank: 3}}}
		s, _ := New(testLogger(t), &fakeEmbedder{}, &fakeVectors{err: fmt.Errorf("pinecone down")}, chunks, Config{})
		out := s.Search(context.Background(), "anchoring", corpus.SearchFilter{})
		if out.Mode != "sparse_only" {
			t.Fatalf("mode = %q, want sparse_only", out.Mode)
		}
		if len(out.Results) != 1 {
			t.Fatalf("lexical hits should survive a dense failure")
		}
	})
	t.Run("sparse leg down", func(t *testing.T) {
		chunks := &fakeChunks{
			byID:   map[uuid.UUID]*types.Chunk{hit.ID: hit},
			lexErr: fmt.Errorf("postgres down"),
		}
		vectors := &fakeVectors{matches: []pc.VectorMatch{{ID: hit.ID.String(), Score: 0.7}}}
		s, _ := New(testLogger(t), &fakeEmbedder{}, vectors, chunks, Config{})
		out := s.Search(context.Background(), "anchoring", corpus.SearchFilter{})
		if out.Mode != "dense_only" {
			t.Fatalf("mode = %q, want dense_only", out.Mode)
		}
	})
	t.Run("both legs down", func(t *testing.T) {
		chunks := &fakeChunks{lexErr: fmt.Errorf("postgres down")}
		s, _ := New(testLogger(t), &fakeEmbedder{err: fmt.Errorf("embed down")}, &fakeVectors{}, chunks, Config{})
		out := s.Search(context.Background(), "anchoring", corpus.SearchFilter{})
		if out.Mode != "failed" {
			t.Fatalf("mode = %q, want failed", out.Mode)
		}
		if len(out.Results) != 0 {
			t.Fatalf("failed mode must carry no results")
		}
	})
}

func TestHybridEmptyQuery(t *testing.T) {
	s, _ := New(testLogger(t), &fakeEmbedder{}, &fakeVectors{}, &fakeChunks{}, Config{})
	out := s.Search(context.Background(), "   ", corpus.SearchFilter{})
	if out.Mode != "failed" {
		t.Fatalf("mode = %q, want failed", out.Mode)
	}
}
