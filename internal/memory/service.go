package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/seatutor/mariner-backend/internal/callback"
	chatrepo "github.com/seatutor/mariner-backend/internal/data/repos/chat"
	memrepo "github.com/seatutor/mariner-backend/internal/data/repos/memory"
	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/pkg/dbctx"
	"github.com/seatutor/mariner-backend/internal/pkg/vec"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

const minInsightContent = 20

type LLM interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
	GenerateText(ctx context.Context, system, user string) (string, error)
}

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	MaxFacts                    int
	MaxInsights                 int
	ConsolidationThreshold      int
	TargetInsightCount          int
	PreserveDays                int
	DuplicateThreshold          float64
	FactDuplicateThreshold      float64
	SummarizationTokenThreshold int
}

// Service owns all fact/insight/summary persistence. Agents and the
// orchestrator go through it; nothing else writes these tables.
type Service struct {
	log       *logger.Logger
	cfg       Config
	facts     memrepo.FactRepo
	insights  memrepo.InsightRepo
	summaries memrepo.SummaryRepo
	messages  chatrepo.MessageRepo
	embedder  Embedder
	llm       LLM
	notifier  callback.Notifier

	// per-user advisory lock: one consolidation at a time
	consolidating sync.Map
}

func NewService(log *logger.Logger, cfg Config, facts memrepo.FactRepo, insights memrepo.InsightRepo,
	summaries memrepo.SummaryRepo, messages chatrepo.MessageRepo, embedder Embedder, llm LLM,
	notifier callback.Notifier) (*Service, error) {
	if log == nil || facts == nil || insights == nil || summaries == nil || messages == nil ||
		embedder == nil || llm == nil {
		return nil, fmt.Errorf("memory: missing deps")
	}
	if notifier == nil {
		notifier = callback.New(log, "", "")
	}
	if cfg.MaxFacts <= 0 {
		cfg.MaxFacts = 50
	}
	if cfg.MaxInsights <= 0 {
		cfg.MaxInsights = 50
	}
	if cfg.ConsolidationThreshold <= 0 {
		cfg.ConsolidationThreshold = 40
	}
	if cfg.TargetInsightCount <= 0 {
		cfg.TargetInsightCount = 30
	}
	if cfg.PreserveDays <= 0 {
		cfg.PreserveDays = 7
	}
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = 0.85
	}
	if cfg.FactDuplicateThreshold <= 0 {
		cfg.FactDuplicateThreshold = 0.90
	}
	if cfg.SummarizationTokenThreshold <= 0 {
		cfg.SummarizationTokenThreshold = 4000
	}
	return &Service{
		log:       log.With("service", "MemoryStore"),
		cfg:       cfg,
		facts:     facts,
		insights:  insights,
		summaries: summaries,
		messages:  messages,
		embedder:  embedder,
		llm:       llm,
		notifier:  notifier,
	}, nil
}

// -------------------- Facts --------------------

// UpsertFact keeps at most one fact per (user, type) and at most MaxFacts
// per user; overflow evicts the oldest rows.
func (s *Service) UpsertFact(ctx context.Context, userID, factType, value string, confidence float64) error {
	if userID == "" || strings.TrimSpace(value) == "" {
		return nil
	}
	normalized, ok := types.NormalizeFactType(factType)
	if !ok {
		// unknown types are dropped, not errors: extraction output is noisy
		s.log.Debug("dropping fact with unknown type", "fact_type", factType)
		return nil
	}

	var embedding types.Vector
	if vecs, err := s.embedder.EmbedDocuments(ctx, []string{value}); err == nil && len(vecs) == 1 {
		embedding = vecs[0]
	}

	dbc := dbctx.New(ctx)

	// A restated fact is not a changed fact: keep the stored row when the
	// new value is a near-duplicate of the existing one for this type.
	if len(embedding) > 0 {
		if existing, err := s.facts.ListByUser(dbc, userID); err == nil {
			for _, f := range existing {
				if f.FactType != normalized || len(f.Embedding) == 0 {
					continue
				}
				if vec.Cosine(embedding, f.Embedding) >= s.cfg.FactDuplicateThreshold {
					s.log.Debug("fact unchanged, skipping upsert", "user_id", userID, "fact_type", normalized)
					return nil
				}
			}
		}
	}
	row := &types.Fact{
		ID:         uuid.New(),
		UserID:     userID,
		FactType:   normalized,
		Value:      strings.TrimSpace(value),
		Embedding:  embedding,
		Confidence: clamp01(confidence),
	}
	if err := s.facts.Upsert(dbc, row); err != nil {
		return fmt.Errorf("memory: upsert fact: %w", err)
	}

	count, err := s.facts.CountByUser(dbc, userID)
	if err != nil {
		return nil
	}
	if over := int(count) - s.cfg.MaxFacts; over > 0 {
		if err := s.facts.DeleteOldest(dbc, userID, over); err != nil {
			s.log.Warn("fact eviction failed", "user_id", userID, "error", err.Error())
		}
	}
	return nil
}

func (s *Service) GetFacts(ctx context.Context, userID string) ([]*types.Fact, error) {
	return s.facts.ListByUser(dbctx.New(ctx), userID)
}

// -------------------- Insights --------------------

// AddInsight dedups against existing insights by embedding similarity or
// (category, sub_topic) identity, merging instead of inserting. Crossing
// the consolidation threshold schedules exactly one consolidation.
func (s *Service) AddInsight(ctx context.Context, userID, category, content, subTopic string, confidence float64) error {
	content = strings.TrimSpace(content)
	if userID == "" {
		return nil
	}
	if len(content) < minInsightContent {
		return fmt.Errorf("memory: insight content too short (%d chars)", len(content))
	}
	if !types.ValidInsightCategory(category) {
		return fmt.Errorf("memory: invalid insight category %q", category)
	}

	var embedding types.Vector
	if vecs, err := s.embedder.EmbedDocuments(ctx, []string{content}); err == nil && len(vecs) == 1 {
		embedding = vecs[0]
	}

	dbc := dbctx.New(ctx)
	existing, err := s.insights.ListByUser(dbc, userID)
	if err != nil {
		return fmt.Errorf("memory: list insights: %w", err)
	}

	if match := findMergeTarget(existing, embedding, category, subTopic, s.cfg.DuplicateThreshold); match != nil {
		return s.mergeInsight(dbc, match, content, embedding, confidence)
	}

	row := &types.Insight{
		ID:             uuid.New(),
		UserID:         userID,
		Category:       category,
		Content:        content,
		SubTopic:       strings.TrimSpace(subTopic),
		Embedding:      embedding,
		Confidence:     clamp01(confidence),
		EvolutionNotes: datatypes.JSON([]byte("[]")),
		LastAccessed:   time.Now(),
	}
	if err := s.insights.Create(dbc, row); err != nil {
		return fmt.Errorf("memory: create insight: %w", err)
	}

	if len(existing)+1 >= s.cfg.ConsolidationThreshold {
		s.scheduleConsolidation(userID)
	}
	return nil
}

func findMergeTarget(existing []*types.Insight, embedding types.Vector, category, subTopic string, threshold float64) *types.Insight {
	subTopic = strings.TrimSpace(subTopic)
	for _, ins := range existing {
		if len(embedding) > 0 && vec.Cosine(embedding, ins.Embedding) >= threshold {
			return ins
		}
		if subTopic != "" && ins.Category == category && strings.EqualFold(ins.SubTopic, subTopic) {
			return ins
		}
	}
	return nil
}

func (s *Service) mergeInsight(dbc dbctx.Context, target *types.Insight, content string, embedding types.Vector, confidence float64) error {
	var notes []types.EvolutionNote
	_ = json.Unmarshal(target.EvolutionNotes, &notes)
	notes = append(notes, types.EvolutionNote{
		At:       time.Now().UTC(),
		Previous: target.Content,
		Note:     "merged with newer observation",
	})
	encoded, err := json.Marshal(notes)
	if err != nil {
		return err
	}

	merged := target.Confidence
	if confidence > merged {
		merged = confidence
	}
	if merged > 0.99 {
		merged = 0.99
	}

	target.Content = content
	if len(embedding) > 0 {
		target.Embedding = embedding
	}
	target.Confidence = merged
	target.EvolutionNotes = datatypes.JSON(encoded)
	target.LastAccessed = time.Now()
	if err := s.insights.Update(dbc, target); err != nil {
		return fmt.Errorf("memory: merge insight: %w", err)
	}
	return nil
}

// GetInsights returns up to k insights, knowledge_gap and learning_style
// first, then by similarity to the query, then recency.
func (s *Service) GetInsights(ctx context.Context, userID string, queryEmb []float32, k int) ([]*types.Insight, error) {
	if k <= 0 {
		k = 5
	}
	dbc := dbctx.New(ctx)
	rows, err := s.insights.ListByUser(dbc, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		pi, pj := categoryPriority(rows[i].Category), categoryPriority(rows[j].Category)
		if pi != pj {
			return pi < pj
		}
		if len(queryEmb) > 0 {
			si := vec.Cosine(queryEmb, rows[i].Embedding)
			sj := vec.Cosine(queryEmb, rows[j].Embedding)
			if si != sj {
				return si > sj
			}
		}
		return rows[i].LastAccessed.After(rows[j].LastAccessed)
	})
	if len(rows) > k {
		rows = rows[:k]
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	if err := s.insights.TouchAccessed(dbc, ids); err != nil {
		s.log.Warn("touch insights failed", "user_id", userID, "error", err.Error())
	}
	return rows, nil
}

func (s *Service) ListInsights(ctx context.Context, userID string) ([]*types.Insight, error) {
	return s.insights.ListByUser(dbctx.New(ctx), userID)
}

func categoryPriority(c string) int {
	switch c {
	case types.InsightKnowledgeGap:
		return 0
	case types.InsightLearningStyle:
		return 1
	default:
		return 2
	}
}

// -------------------- Summaries --------------------

func (s *Service) GetSummary(ctx context.Context, userID string, sessionID uuid.UUID) (*types.Summary, error) {
	return s.summaries.Latest(dbctx.New(ctx), userID, sessionID)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
