package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

const (
	// confidence bands
	HighConfidence   = 0.85
	MediumConfidence = 0.6
)

type Band string

const (
	BandHigh   Band = "HIGH"
	BandMedium Band = "MEDIUM"
	BandLow    Band = "LOW"
)

func BandOf(confidence float64) Band {
	switch {
	case confidence >= HighConfidence:
		return BandHigh
	case confidence >= MediumConfidence:
		return BandMedium
	default:
		return BandLow
	}
}

type Result struct {
	Confidence float64
	Grounded   bool
	Issues     []string
	// UnfoundedChunks lists cited chunk indexes the verifier could not map
	// to any claim; the caller may prune those citations.
	UnfoundedChunks []int
}

type VerifierLLM interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
}

// Verifier scores a draft answer for groundedness against the retrieved
// context. Grounded means every factual claim maps to at least one chunk.
type Verifier interface {
	Verify(ctx context.Context, question string, contextChunks []string, draft string) Result
}

type verifier struct {
	log *logger.Logger
	llm VerifierLLM
}

func New(log *logger.Logger, llm VerifierLLM) (Verifier, error) {
	if log == nil || llm == nil {
		return nil, fmt.Errorf("verify: missing deps")
	}
	return &verifier{log: log.With("service", "AnswerVerifier"), llm: llm}, nil
}

var verifySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"confidence": map[string]any{"type": "number"},
		"grounded":   map[string]any{"type": "boolean"},
		"issues": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"unfounded_chunks": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "integer"},
		},
	},
	"required":             []string{"confidence", "grounded", "issues", "unfounded_chunks"},
	"additionalProperties": false,
}

func (v *verifier) Verify(ctx context.Context, question string, contextChunks []string, draft string) Result {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question:\n%s\n\nDraft answer:\n%s\n\nContext passages:\n", question, draft)
	for i, c := range contextChunks {
		fmt.Fprintf(&sb, "\n[%d] %s\n", i, c)
	}
	sb.WriteString("\nCheck every factual claim in the draft. grounded=true only if each claim is supported by at least one passage. List passage indexes that support nothing in unfounded_chunks.")

	res, err := v.llm.GenerateJSON(ctx,
		"You verify maritime-regulation answers against their source passages. Be strict: unsupported rule numbers or requirements are ungrounded.",
		sb.String(), "verification", verifySchema)
	if err != nil {
		v.log.Warn("verification failed, reporting low confidence", "error", err.Error())
		return Result{Confidence: 0.5, Grounded: false, Issues: []string{"verification unavailable"}}
	}

	out := Result{}
	out.Confidence, _ = res["confidence"].(float64)
	out.Grounded, _ = res["grounded"].(bool)
	if raw, ok := res["issues"].([]any); ok {
		for _, i := range raw {
			if s, ok := i.(string); ok && s != "" {
				out.Issues = append(out.Issues, s)
			}
		}
	}
	if raw, ok := res["unfounded_chunks"].([]any); ok {
		for _, i := range raw {
			if f, ok := i.(float64); ok {
				out.UnfoundedChunks = append(out.UnfoundedChunks, int(f))
			}
		}
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return out
}
