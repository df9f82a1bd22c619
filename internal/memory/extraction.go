package memory

import (
	"context"
	"strings"

	"github.com/seatutor/mariner-backend/internal/callback"
	types "github.com/seatutor/mariner-backend/internal/domain"
)

var factExtractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"facts": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"fact_type": map[string]any{
						"type": "string",
						"enum": []string{
							types.FactTypeName, types.FactTypeRole, types.FactTypeLevel,
							types.FactTypeGoal, types.FactTypePreference, types.FactTypeWeakness,
						},
					},
					"value":      map[string]any{"type": "string"},
					"confidence": map[string]any{"type": "number"},
				},
				"required":             []string{"fact_type", "value", "confidence"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"facts"},
	"additionalProperties": false,
}

var insightExtractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"insights": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"category": map[string]any{
						"type": "string",
						"enum": []string{
							types.InsightLearningStyle, types.InsightKnowledgeGap,
							types.InsightGoalEvolution, types.InsightHabit, types.InsightPreference,
						},
					},
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

const factExtractionSystem = `You extract durable personal facts about a maritime student from one
conversation turn. Only extract what the student explicitly stated about themselves. Never infer
facts from the questions they ask. Return an empty list when the turn contains nothing personal.`

const insightExtractionSystem = `You observe how a maritime student learns. From one conversation
turn, extract behavioral observations: topics they struggle with, how they prefer explanations,
shifts in their goals, study habits. Each observation must be a full declarative sentence of at
least 20 characters. Return an empty list when nothing behavioral stands out.`

// ExtractFromTurn mines one user/assistant exchange for facts and insights
// and persists whatever survives validation. Designed to run off the request
// path; all failures are logged, never returned to the caller's user.
func (s *Service) ExtractFromTurn(ctx context.Context, userID, userMessage, assistantMessage string) error {
	if userID == "" || strings.TrimSpace(userMessage) == "" {
		return nil
	}
	turn := "Student:\n" + userMessage + "\n\nTutor:\n" + snippetText(assistantMessage, 2000)

	if err := s.extractFacts(ctx, userID, turn); err != nil {
		s.log.Warn("fact extraction failed", "user_id", userID, "error", err.Error())
	}
	if err := s.extractInsights(ctx, userID, turn); err != nil {
		s.log.Warn("insight extraction failed", "user_id", userID, "error", err.Error())
	}
	return nil
}

func (s *Service) extractFacts(ctx context.Context, userID, turn string) error {
	res, err := s.llm.GenerateJSON(ctx, factExtractionSystem, turn, "extracted_facts", factExtractionSchema)
	if err != nil {
		return err
	}
	raw, _ := res["facts"].([]any)
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		factType, _ := m["fact_type"].(string)
		value, _ := m["value"].(string)
		confidence, _ := m["confidence"].(float64)
		if err := s.UpsertFact(ctx, userID, factType, value, confidence); err != nil {
			s.log.Warn("extracted fact not stored", "user_id", userID, "fact_type", factType, "error", err.Error())
		}
	}
	return nil
}

func (s *Service) extractInsights(ctx context.Context, userID, turn string) error {
	res, err := s.llm.GenerateJSON(ctx, insightExtractionSystem, turn, "extracted_insights", insightExtractionSchema)
	if err != nil {
		return err
	}
	raw, _ := res["insights"].([]any)
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		category, _ := m["category"].(string)
		content, _ := m["content"].(string)
		subTopic, _ := m["sub_topic"].(string)
		confidence, _ := m["confidence"].(float64)
		if err := s.AddInsight(ctx, userID, category, content, subTopic, confidence); err != nil {
			s.log.Debug("extracted insight rejected", "user_id", userID, "category", category, "error", err.Error())
			continue
		}
		switch category {
		case types.InsightKnowledgeGap:
			s.notifier.Emit(ctx, callback.EventKnowledgeGap, userID, map[string]any{
				"content":    content,
				"sub_topic":  subTopic,
				"confidence": clamp01(confidence),
			})
		case types.InsightGoalEvolution:
			s.notifier.Emit(ctx, callback.EventGoalEvolution, userID, map[string]any{
				"content":    content,
				"confidence": clamp01(confidence),
			})
		}
	}
	return nil
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
