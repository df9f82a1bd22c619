package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/pkg/dbctx"
)

// scheduleConsolidation starts a background consolidation unless one is
// already running for this user.
func (s *Service) scheduleConsolidation(userID string) {
	if _, loaded := s.consolidating.LoadOrStore(userID, struct{}{}); loaded {
		return
	}
	go func() {
		defer s.consolidating.Delete(userID)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.Consolidate(ctx, userID); err != nil {
			s.log.Warn("insight consolidation failed", "user_id", userID, "error", err.Error())
		}
	}()
}

var consolidateSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"insights": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"category":   map[string]any{"type": "string"},
					"content":    map[string]any{"type": "string"},
					"sub_topic":  map[string]any{"type": "string"},
					"confidence": map[string]any{"type": "number"},
				},
				"required":             []string{"category", "content", "sub_topic", "confidence"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"insights"},
	"additionalProperties": false,
}

// Consolidate rewrites a user's insight set down to the target count,
// merging semantically similar entries. Recently accessed insights are
// always retained. On LLM failure it falls back to evicting the least
// recently accessed rows.
func (s *Service) Consolidate(ctx context.Context, userID string) error {
	dbc := dbctx.New(ctx)
	rows, err := s.insights.ListByUser(dbc, userID)
	if err != nil {
		return err
	}
	if len(rows) <= s.cfg.TargetInsightCount {
		return nil
	}

	preserveCutoff := time.Now().AddDate(0, 0, -s.cfg.PreserveDays)
	var preserved, candidates []*types.Insight
	for _, r := range rows {
		if r.LastAccessed.After(preserveCutoff) {
			preserved = append(preserved, r)
		} else {
			candidates = append(candidates, r)
		}
	}

	budget := s.cfg.TargetInsightCount - len(preserved)
	if budget <= 0 {
		// everything recent: nothing safe to consolidate away
		return nil
	}

	rewritten, err := s.rewriteInsights(ctx, userID, candidates, budget)
	if err != nil {
		s.log.Warn("consolidation rewrite failed, falling back to LRU eviction", "user_id", userID, "error", err.Error())
		return s.evictLRU(dbc, userID, rows, preserveCutoff)
	}

	final := append(append([]*types.Insight{}, preserved...), rewritten...)
	return s.insights.ReplaceAll(dbc, userID, final)
}

func (s *Service) rewriteInsights(ctx context.Context, userID string, candidates []*types.Insight, budget int) ([]*types.Insight, error) {
	var sb strings.Builder
	sb.WriteString("Current observations about this maritime student:\n")
	for _, r := range candidates {
		sb.WriteString("- [" + r.Category)
		if r.SubTopic != "" {
			sb.WriteString("/" + r.SubTopic)
		}
		sb.WriteString("] " + r.Content + "\n")
	}
	sb.WriteString("\nRewrite into at most ")
	sb.WriteString(strconv.Itoa(budget))
	sb.WriteString(" entries. Merge semantically similar observations, keep each category represented where it exists, keep entries declarative and specific.")

	res, err := s.llm.GenerateJSON(ctx,
		"You consolidate behavioral observations about a student into a smaller, equally informative set.",
		sb.String(), "consolidated_insights", consolidateSchema)
	if err != nil {
		return nil, err
	}

	raw, _ := res["insights"].([]any)
	var contents []string
	var parsed []*types.Insight
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		category, _ := m["category"].(string)
		content, _ := m["content"].(string)
		subTopic, _ := m["sub_topic"].(string)
		confidence, _ := m["confidence"].(float64)
		content = strings.TrimSpace(content)
		if !types.ValidInsightCategory(category) || len(content) < minInsightContent {
			continue
		}
		parsed = append(parsed, &types.Insight{
			ID:             uuid.New(),
			UserID:         userID,
			Category:       category,
			Content:        content,
			SubTopic:       strings.TrimSpace(subTopic),
			Confidence:     clamp01(confidence),
			EvolutionNotes: datatypes.JSON([]byte("[]")),
			LastAccessed:   time.Now(),
		})
		contents = append(contents, content)
		if len(parsed) == budget {
			break
		}
	}
	if len(parsed) == 0 {
		return nil, errEmptyConsolidation
	}

	if vecs, err := s.embedder.EmbedDocuments(ctx, contents); err == nil && len(vecs) == len(parsed) {
		for i := range parsed {
			parsed[i].Embedding = vecs[i]
		}
	}
	return parsed, nil
}

// evictLRU drops least-recently-accessed insights (outside the preserve
// window) until the set fits the target.
func (s *Service) evictLRU(dbc dbctx.Context, userID string, rows []*types.Insight, preserveCutoff time.Time) error {
	over := len(rows) - s.cfg.TargetInsightCount
	if over <= 0 {
		return nil
	}
	evictable := make([]*types.Insight, 0, len(rows))
	for _, r := range rows {
		if !r.LastAccessed.After(preserveCutoff) {
			evictable = append(evictable, r)
		}
	}
	sort.Slice(evictable, func(i, j int) bool {
		return evictable[i].LastAccessed.Before(evictable[j].LastAccessed)
	})
	if over > len(evictable) {
		over = len(evictable)
	}
	ids := make([]uuid.UUID, 0, over)
	for _, r := range evictable[:over] {
		ids = append(ids, r.ID)
	}
	return s.insights.DeleteByIDs(dbc, ids)
}

var errEmptyConsolidation = consolidationError("consolidation produced no valid insights")

type consolidationError string

func (e consolidationError) Error() string { return string(e) }
