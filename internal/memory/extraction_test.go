package memory

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	types "github.com/seatutor/mariner-backend/internal/domain"
)

// schemaLLM routes canned JSON by schema name.
type schemaLLM struct {
	bySchema map[string]map[string]any
}

func (s *schemaLLM) GenerateJSON(_ context.Context, _, _ string, schemaName string, _ map[string]any) (map[string]any, error) {
	if out, ok := s.bySchema[schemaName]; ok {
		return out, nil
	}
	return map[string]any{}, nil
}

func (s *schemaLLM) GenerateText(context.Context, string, string) (string, error) {
	return "", nil
}

func TestExtractFromTurnPersistsFactsAndInsights(t *testing.T) {
	f := newFixture(t, Config{})
	f.svc.llm = &schemaLLM{bySchema: map[string]map[string]any{
		"extracted_facts": {"facts": []any{
			map[string]any{"fact_type": types.FactTypeName, "value": "Minh", "confidence": 0.9},
			map[string]any{"fact_type": "zodiac_sign", "value": "pisces", "confidence": 0.9}, // dropped
		}},
		"extracted_insights": {"insights": []any{
			map[string]any{
				"category":   types.InsightKnowledgeGap,
				"content":    "repeatedly mixes up stand-on and give-way obligations",
				"sub_topic":  "colregs",
				"confidence": 0.7,
			},
			map[string]any{"category": types.InsightHabit, "content": "short", "sub_topic": "", "confidence": 0.5}, // rejected
		}},
	}}

	err := f.svc.ExtractFromTurn(context.Background(), "u1",
		"My name is Minh and I always mix up give-way rules", "Let's review Rule 15 together.")
	if err != nil {
		t.Fatalf("ExtractFromTurn: %v", err)
	}

	if len(f.facts.rows) != 1 || f.facts.rows[0].Value != "Minh" {
		t.Fatalf("facts = %+v, want only the valid one", f.facts.rows)
	}
	if len(f.insights.rows) != 1 || f.insights.rows[0].Category != types.InsightKnowledgeGap {
		t.Fatalf("insights = %+v, want only the valid one", f.insights.rows)
	}
}

func TestExtractFromTurnEmptyMessageNoop(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.svc.ExtractFromTurn(context.Background(), "u1", "   ", "answer"); err != nil {
		t.Fatalf("ExtractFromTurn: %v", err)
	}
	if len(f.facts.rows) != 0 || len(f.insights.rows) != 0 {
		t.Fatalf("nothing should persist for an empty turn")
	}
}

func TestSnippetTextKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("nhường đường cho tàu thuyền ", 40)
	got := snippetText(long, 90)
	if !utf8.ValidString(got) {
		t.Fatalf("snippetText produced invalid UTF-8: %q", got)
	}
	if n := len([]rune(got)); n != 91 { // 90 runes + ellipsis
		t.Fatalf("snippetText length = %d runes, want 91", n)
	}
}
