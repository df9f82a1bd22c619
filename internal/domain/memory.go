package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	FactTypeName       = "name"
	FactTypeRole       = "role"
	FactTypeLevel      = "level"
	FactTypeGoal       = "goal"
	FactTypePreference = "preference"
	FactTypeWeakness   = "weakness"
)

// deprecated fact types remap onto the closed set; anything else is dropped.
var factTypeAliases = map[string]string{
	"background":     FactTypeRole,
	"weak_area":      FactTypeWeakness,
	"interest":       FactTypePreference,
	"learning_style": FactTypePreference,
}

// NormalizeFactType resolves aliases and reports whether the type is accepted.
func NormalizeFactType(t string) (string, bool) {
	if mapped, ok := factTypeAliases[t]; ok {
		return mapped, true
	}
	switch t {
	case FactTypeName, FactTypeRole, FactTypeLevel, FactTypeGoal, FactTypePreference, FactTypeWeakness:
		return t, true
	default:
		return "", false
	}
}

type Fact struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID     string    `gorm:"column:user_id;not null;uniqueIndex:idx_fact_user_type,priority:1" json:"user_id"`
	FactType   string    `gorm:"column:fact_type;not null;uniqueIndex:idx_fact_user_type,priority:2" json:"fact_type"`
	Value      string    `gorm:"column:value;type:text;not null" json:"value"`
	Embedding  Vector    `gorm:"column:embedding;type:jsonb" json:"-"`
	Confidence float64   `gorm:"column:confidence;not null;default:0.5" json:"confidence"`
	CreatedAt  time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Fact) TableName() string { return "facts" }

const (
	InsightLearningStyle = "learning_style"
	InsightKnowledgeGap  = "knowledge_gap"
	InsightGoalEvolution = "goal_evolution"
	InsightHabit         = "habit"
	InsightPreference    = "preference"
)

func ValidInsightCategory(c string) bool {
	switch c {
	case InsightLearningStyle, InsightKnowledgeGap, InsightGoalEvolution, InsightHabit, InsightPreference:
		return true
	default:
		return false
	}
}

// EvolutionNote records one merge applied to an insight.
type EvolutionNote struct {
	At       time.Time `json:"at"`
	Previous string    `json:"previous"`
	Note     string    `json:"note"`
}

type Insight struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID         string         `gorm:"column:user_id;not null;index:idx_insight_user_cat,priority:1" json:"user_id"`
	Category       string         `gorm:"column:category;not null;index:idx_insight_user_cat,priority:2" json:"category"`
	Content        string         `gorm:"column:content;type:text;not null" json:"content"`
	SubTopic       string         `gorm:"column:sub_topic;not null;default:''" json:"sub_topic,omitempty"`
	Embedding      Vector         `gorm:"column:embedding;type:jsonb" json:"-"`
	Confidence     float64        `gorm:"column:confidence;not null;default:0.5" json:"confidence"`
	EvolutionNotes datatypes.JSON `gorm:"column:evolution_notes;type:jsonb;not null;default:'[]'" json:"evolution_notes,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	LastAccessed   time.Time      `gorm:"column:last_accessed;not null;default:now();index" json:"last_accessed"`
}

func (Insight) TableName() string { return "insights" }

type Summary struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID    string    `gorm:"column:user_id;not null;index" json:"user_id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index" json:"session_id"`
	Content   string    `gorm:"column:content;type:text;not null" json:"content"`
	Embedding Vector    `gorm:"column:embedding;type:jsonb" json:"-"`

	// CoversRange is "firstMessageID..lastMessageID" for the summarized span.
	CoversRange string    `gorm:"column:covers_range;not null;default:''" json:"covers_range"`
	CreatedAt   time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (Summary) TableName() string { return "summaries" }
