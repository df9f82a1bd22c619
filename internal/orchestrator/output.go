package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/seatutor/mariner-backend/internal/agent"
	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/guardian"
)

// stageOutput validates and formats the final response.
func (o *Orchestrator) stageOutput(ctx context.Context, req types.ChatRequest, res agent.Response,
	agentName string, verdict guardian.Result, blocked bool, started time.Time) *types.ChatResponse {
	ctx, span := o.tracer.Start(ctx, "chat.output")
	defer span.End()

	answer := strings.TrimSpace(res.Answer)
	if answer == "" && !blocked {
		answer = "I couldn't produce an answer for that. Could you rephrase the question?"
		if res.Warning == "" {
			res.Warning = "empty agent answer"
		}
	}

	sources := mergeCitations(res.Citations)
	resp := &types.ChatResponse{
		Answer:         answer,
		Sources:        sources,
		EvidenceImages: evidenceImages(sources),
		Metadata: types.ResponseMetadata{
			Agent:            agentName,
			ProcessingTimeMS: time.Since(started).Milliseconds(),
			ConfidenceScore:  res.Confidence,
			QueryType:        res.QueryType,
			TopicsAccessed:   topicsIn(req.Message + " " + answer),
			DocumentIDsUsed:  res.DocumentIDs,
			ToolsUsed:        res.ToolsUsed,
			ReasoningTrace:   res.ReasoningTrace,
			FromCache:        res.FromCache,
			Warning:          res.Warning,
		},
	}
	if blocked {
		resp.Metadata.BlockReason = blockReason(verdict, true)
	} else {
		if verdict.Decision == guardian.DecisionFlag {
			resp.Metadata.Warning = strings.TrimSpace(resp.Metadata.Warning + " flagged: " + verdict.Reason)
		}
		resp.SuggestedQuestions = o.suggestQuestions(ctx, req.Message, answer)
	}
	if resp.SuggestedQuestions == nil {
		resp.SuggestedQuestions = []string{}
	}
	return resp
}

// mergeCitations collapses citations pointing at the same document page,
// keeping the first snippet and the union of bounding boxes.
func mergeCitations(in []types.Citation) []types.Citation {
	type key struct {
		doc  string
		page int
	}
	seen := map[key]int{}
	out := make([]types.Citation, 0, len(in))
	for _, c := range in {
		k := key{doc: c.DocumentID.String(), page: c.Page}
		if i, ok := seen[k]; ok {
			out[i].BoundingBoxes = append(out[i].BoundingBoxes, c.BoundingBoxes...)
			if out[i].ImageURL == "" {
				out[i].ImageURL = c.ImageURL
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, c)
	}
	return out
}

func evidenceImages(sources []types.Citation) []string {
	var out []string
	for _, c := range sources {
		if c.ImageURL != "" {
			out = append(out, c.ImageURL)
		}
	}
	return out
}

var suggestSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"questions": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required":             []string{"questions"},
	"additionalProperties": false,
}

// suggestQuestions proposes up to 3 follow-ups. Best effort: failures just
// mean no suggestions.
func (o *Orchestrator) suggestQuestions(ctx context.Context, message, answer string) []string {
	res, err := o.llm.GenerateJSON(ctx,
		"Suggest up to 3 short follow-up questions a maritime student would naturally ask next. Same language as the student.",
		fmt.Sprintf("Student asked:\n%s\n\nTutor answered:\n%s", message, snippetText(answer, 1500)),
		"suggested_questions", suggestSchema)
	if err != nil {
		o.log.Debug("suggested questions unavailable", "error", err.Error())
		return nil
	}
	raw, _ := res["questions"].([]any)
	var out []string
	for _, q := range raw {
		if s, ok := q.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
		if len(out) == 3 {
			break
		}
	}
	return out
}

// topic tagging is lexical on purpose: analytics need stable buckets, not
// an extra LLM call per request.
var topicPatterns = map[string]*regexp.Regexp{
	"colregs":    regexp.MustCompile(`(?i)\b(colreg|rule \d+|give.way|stand.on|crossing|overtaking|va chạm)\b`),
	"solas":      regexp.MustCompile(`(?i)\b(solas|life.?boat|life.?raft|fire drill|abandon ship)\b`),
	"marpol":     regexp.MustCompile(`(?i)\b(marpol|oil record|garbage|discharge|annex [ivx]+)\b`),
	"stcw":       regexp.MustCompile(`(?i)\b(stcw|watchkeeping|certificate of competency|rest hours)\b`),
	"navigation": regexp.MustCompile(`(?i)\b(radar|bearing|chart|gps|ecdis|fix|compass|hải đồ)\b`),
	"safety":     regexp.MustCompile(`(?i)\b(piracy|pirate|mayday|distress|salvage|cướp biển|cứu hộ)\b`),
}

func topicsIn(text string) []string {
	var out []string
	for topic, p := range topicPatterns {
		if p.MatchString(text) {
			out = append(out, topic)
		}
	}
	sort.Strings(out)
	return out
}

// snippetText truncates on rune boundaries; Vietnamese text must never be
// cut mid-character.
func snippetText(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
