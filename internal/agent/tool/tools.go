package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/seatutor/mariner-backend/internal/callback"
	"github.com/seatutor/mariner-backend/internal/data/repos/corpus"
	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/graph"
	"github.com/seatutor/mariner-backend/internal/memory"
	"github.com/seatutor/mariner-backend/internal/platform/apierr"
	"github.com/seatutor/mariner-backend/internal/rag/crag"
)

// SearchResult is what the regulation search tool hands back to the model.
type SearchResult struct {
	Answer     string           `json:"answer"`
	Citations  []types.Citation `json:"citations"`
	Confidence float64          `json:"confidence"`
	QueryType  string           `json:"query_type,omitempty"`
	Warning    string           `json:"warning,omitempty"`
	FromCache  bool             `json:"from_cache,omitempty"`

	// carried for the orchestrator's analytics, not shown to the model
	DocumentIDs    []string `json:"-"`
	ReasoningTrace []string `json:"-"`
}

type TutorLLM interface {
	GenerateText(ctx context.Context, system, user string) (string, error)
}

// Deps are the backing components the standard tool set closes over.
type Deps struct {
	CRAG     *crag.Pipeline
	Memory   *memory.Service
	Entities graph.EntityLookup
	Tutor    TutorLLM
	Notifier callback.Notifier
}

// RegisterStandard installs the full tool set. Called once at startup.
func RegisterStandard(reg *Registry, d Deps) error {
	if reg == nil || d.CRAG == nil || d.Memory == nil || d.Tutor == nil {
		return fmt.Errorf("tool: missing deps")
	}
	tools := []*Tool{
		searchRegulations(d),
		lookupConcept(d),
		getStudentMemory(d),
		rememberFact(d),
		noteObservation(d),
		practiceQuestion(d),
		reportStuck(d),
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func searchRegulations(d Deps) *Tool {
	return &Tool{
		Name: "search_regulations",
		Description: "Search the maritime regulation corpus (COLREGs, SOLAS, MARPOL, STCW) and return " +
			"a verified, cited answer. Use for any question about rules, articles, requirements or procedures.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The regulation question, self-contained (resolve pronouns first).",
				},
			},
			"required":             []string{"query"},
			"additionalProperties": false,
		},
		Category: CategoryRAG,
		Access:   AccessRead,
		Handler: func(ctx context.Context, args map[string]any, _ CallContext) (any, error) {
			query := strArg(args, "query")
			if query == "" {
				return nil, apierr.Permanent(fmt.Errorf("search_regulations: query required"))
			}
			res, err := d.CRAG.Answer(ctx, query, corpus.SearchFilter{})
			if err != nil {
				return nil, err
			}
			return SearchResult{
				Answer:         res.Answer,
				Citations:      res.Citations,
				Confidence:     res.Confidence,
				QueryType:      res.QueryType,
				Warning:        res.Warning,
				FromCache:      res.FromCache,
				DocumentIDs:    res.DocumentIDs,
				ReasoningTrace: res.ReasoningTrace,
			}, nil
		},
	}
}

func lookupConcept(d Deps) *Tool {
	return &Tool{
		Name: "lookup_concept",
		Description: "Look up a named maritime concept (a rule, vessel type, signal, term) in the " +
			"regulation knowledge graph and return directly related concepts.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{"type": "string", "description": "Concept name, e.g. \"Rule 15\" or \"give-way vessel\"."},
			},
			"required":             []string{"name"},
			"additionalProperties": false,
		},
		Category: CategoryRAG,
		Access:   AccessRead,
		Handler: func(ctx context.Context, args map[string]any, _ CallContext) (any, error) {
			name := strArg(args, "name")
			if name == "" {
				return nil, apierr.Permanent(fmt.Errorf("lookup_concept: name required"))
			}
			if d.Entities == nil {
				return map[string]any{"related": []any{}}, nil
			}
			related := d.Entities.ByName(ctx, name)
			out := make([]map[string]any, 0, len(related))
			for _, re := range related {
				out = append(out, map[string]any{
					"name":     re.Entity.Name,
					"type":     re.Entity.Type,
					"relation": re.Relation,
				})
			}
			return map[string]any{"related": out}, nil
		},
	}
}

func getStudentMemory(d Deps) *Tool {
	return &Tool{
		Name: "get_student_memory",
		Description: "Fetch what is known about the current student: stored facts (name, level, goals) " +
			"and recent learning observations. Use when the student refers to themselves or past sessions.",
		InputSchema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
		},
		Category: CategoryMemory,
		Access:   AccessRead,
		Handler: func(ctx context.Context, _ map[string]any, call CallContext) (any, error) {
			facts, err := d.Memory.GetFacts(ctx, call.UserID)
			if err != nil {
				return nil, err
			}
			insights, err := d.Memory.ListInsights(ctx, call.UserID)
			if err != nil {
				return nil, err
			}
			factOut := make([]map[string]any, 0, len(facts))
			for _, f := range facts {
				factOut = append(factOut, map[string]any{"type": f.FactType, "value": f.Value})
			}
			insightOut := make([]map[string]any, 0, len(insights))
			for i, ins := range insights {
				if i >= 10 {
					break
				}
				insightOut = append(insightOut, map[string]any{"category": ins.Category, "content": ins.Content})
			}
			return map[string]any{"facts": factOut, "observations": insightOut}, nil
		},
	}
}

func rememberFact(d Deps) *Tool {
	return &Tool{
		Name: "remember_fact",
		Description: "Store one durable fact the student just stated about themselves " +
			"(their name, role, level, goal, preference or weakness).",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fact_type": map[string]any{
					"type": "string",
					"enum": []string{
						types.FactTypeName, types.FactTypeRole, types.FactTypeLevel,
						types.FactTypeGoal, types.FactTypePreference, types.FactTypeWeakness,
					},
				},
				"value": map[string]any{"type": "string"},
			},
			"required":             []string{"fact_type", "value"},
			"additionalProperties": false,
		},
		Category: CategoryMemory,
		Access:   AccessWrite,
		Handler: func(ctx context.Context, args map[string]any, call CallContext) (any, error) {
			if err := d.Memory.UpsertFact(ctx, call.UserID, strArg(args, "fact_type"), strArg(args, "value"), 0.9); err != nil {
				return nil, err
			}
			return map[string]any{"stored": true}, nil
		},
	}
}

func noteObservation(d Deps) *Tool {
	return &Tool{
		Name: "note_observation",
		Description: "Record a behavioral observation about how the student learns: a knowledge gap, " +
			"a preferred explanation style, an evolving goal or a study habit. Full sentence, specific.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"category": map[string]any{
					"type": "string",
					"enum": []string{
						types.InsightLearningStyle, types.InsightKnowledgeGap,
						types.InsightGoalEvolution, types.InsightHabit, types.InsightPreference,
					},
				},
				"content":   map[string]any{"type": "string"},
				"sub_topic": map[string]any{"type": "string"},
			},
			"required":             []string{"category", "content"},
			"additionalProperties": false,
		},
		Category: CategoryMemory,
		Access:   AccessWrite,
		Handler: func(ctx context.Context, args map[string]any, call CallContext) (any, error) {
			err := d.Memory.AddInsight(ctx, call.UserID, strArg(args, "category"),
				strArg(args, "content"), strArg(args, "sub_topic"), 0.7)
			if err != nil {
				return nil, apierr.Permanent(err)
			}
			return map[string]any{"stored": true}, nil
		},
	}
}

func practiceQuestion(d Deps) *Tool {
	return &Tool{
		Name: "practice_question",
		Description: "Generate one exam-style practice question on a given maritime topic, " +
			"with the correct answer and a one-line explanation. Use when the student asks to be quizzed.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic":      map[string]any{"type": "string"},
				"difficulty": map[string]any{"type": "string", "enum": []string{"basic", "intermediate", "advanced"}},
			},
			"required":             []string{"topic"},
			"additionalProperties": false,
		},
		Category: CategoryTutor,
		Access:   AccessRead,
		Handler: func(ctx context.Context, args map[string]any, _ CallContext) (any, error) {
			topic := strArg(args, "topic")
			if topic == "" {
				return nil, apierr.Permanent(fmt.Errorf("practice_question: topic required"))
			}
			difficulty := strArg(args, "difficulty")
			if difficulty == "" {
				difficulty = "intermediate"
			}
			text, err := d.Tutor.GenerateText(ctx,
				"You write maritime certification exam questions. Produce one question, then 'Answer:' with the correct answer, then 'Why:' with one sentence.",
				fmt.Sprintf("Topic: %s\nDifficulty: %s", topic, difficulty))
			if err != nil {
				return nil, err
			}
			return map[string]any{"question": strings.TrimSpace(text)}, nil
		},
	}
}

func reportStuck(d Deps) *Tool {
	return &Tool{
		Name: "report_stuck",
		Description: "Signal that the student appears stuck on a topic after repeated failed attempts, " +
			"so the course platform can offer extra material. Use sparingly.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic":  map[string]any{"type": "string"},
				"detail": map[string]any{"type": "string"},
			},
			"required":             []string{"topic"},
			"additionalProperties": false,
		},
		Category: CategoryControl,
		Access:   AccessWrite,
		Handler: func(ctx context.Context, args map[string]any, call CallContext) (any, error) {
			if d.Notifier != nil {
				d.Notifier.Emit(ctx, callback.EventStuckDetected, call.UserID, map[string]any{
					"topic":      strArg(args, "topic"),
					"detail":     strArg(args, "detail"),
					"session_id": call.SessionID,
				})
			}
			return map[string]any{"reported": true}, nil
		},
	}
}
