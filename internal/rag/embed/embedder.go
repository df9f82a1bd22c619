package embed

import (
	"context"
	"fmt"
	"math"

	"github.com/seatutor/mariner-backend/internal/pkg/vec"
	"github.com/seatutor/mariner-backend/internal/platform/apierr"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
	"github.com/seatutor/mariner-backend/internal/platform/openai"
)

const maxBatch = 100

// Embedder maps text to L2-normalized vectors of a fixed dimension.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type embedder struct {
	log  *logger.Logger
	ai   openai.Client
	dims int
}

func New(log *logger.Logger, ai openai.Client, dims int) (Embedder, error) {
	if log == nil || ai == nil {
		return nil, fmt.Errorf("embed: logger and client required")
	}
	if dims <= 0 {
		dims = 768
	}
	return &embedder{log: log.With("service", "Embedder"), ai: ai, dims: dims}, nil
}

func (e *embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	out, err := e.embed(ctx, openai.EmbedTaskQuery, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, openai.EmbedTaskDocument, texts)
}

func (e *embedder) embed(ctx context.Context, task string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if t == "" {
			return nil, apierr.Permanent(fmt.Errorf("embed: empty input at index %d", i))
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := start + maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.ai.Embed(ctx, task, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vectors) != end-start {
			return nil, apierr.Permanent(fmt.Errorf("embed: got %d vectors for %d inputs", len(vectors), end-start))
		}
		out = append(out, vectors...)
	}

	for i, v := range out {
		if len(v) != e.dims {
			return nil, apierr.Permanent(fmt.Errorf("embed: vector %d has dimension %d, want %d", i, len(v), e.dims))
		}
		vec.Normalize(v)
		if math.Abs(vec.Norm(v)-1) > 1e-6 {
			return nil, apierr.Permanent(fmt.Errorf("embed: vector %d not unit norm", i))
		}
	}
	return out, nil
}
