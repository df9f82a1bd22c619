package domain

import (
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ContentTypeText             = "text"
	ContentTypeHeading          = "heading"
	ContentTypeTable            = "table"
	ContentTypeDiagramReference = "diagram_reference"
	ContentTypeFormula          = "formula"
)

// BoundingBox is a page region in page-percent coordinates.
type BoundingBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Chunk is one indexed unit of the regulation corpus. The chat service only
// reads chunks; the ingestion pipeline owns writes.
type Chunk struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`
	PageNumber int       `gorm:"column:page_number;not null" json:"page_number"`
	ChunkIndex int       `gorm:"column:chunk_index;not null" json:"chunk_index"`

	Content string `gorm:"column:content;type:text;not null" json:"content"`
	// ContextualContent is the context-enriched variant indexed in place of
	// the raw content when present.
	ContextualContent string `gorm:"column:contextual_content;type:text;not null;default:''" json:"contextual_content,omitempty"`

	ContentType string  `gorm:"column:content_type;not null;default:'text'" json:"content_type"`
	Title       string  `gorm:"column:title;not null;default:''" json:"title,omitempty"`
	Confidence  float64 `gorm:"column:confidence;not null;default:1" json:"confidence"`
	ImageURL    string  `gorm:"column:image_url;not null;default:''" json:"image_url,omitempty"`

	BoundingBoxes datatypes.JSON `gorm:"column:bounding_boxes;type:jsonb;not null;default:'[]'" json:"bounding_boxes,omitempty"`
	Embedding     Vector         `gorm:"column:embedding;type:jsonb" json:"-"`
}

func (Chunk) TableName() string { return "chunks" }

// contextualIndexing gates whether IndexText prefers the enriched variant.
// Set once at boot, the way gin.SetMode is.
var contextualIndexing atomic.Bool

func init() { contextualIndexing.Store(true) }

func SetContextualIndexing(enabled bool) { contextualIndexing.Store(enabled) }

// IndexText is the text used for embedding, lexical matching and prompts:
// the contextual variant when present and enabled, the raw content otherwise.
func (c *Chunk) IndexText() string {
	if !contextualIndexing.Load() {
		return c.Content
	}
	if s := strings.TrimSpace(c.ContextualContent); s != "" {
		return s
	}
	return c.Content
}

const (
	EntityTypeArticle    = "ARTICLE"
	EntityTypeRegulation = "REGULATION"
	EntityTypeVesselType = "VESSEL_TYPE"
	EntityTypeManeuver   = "MANEUVER"
	EntityTypeEquipment  = "EQUIPMENT"
)

const (
	RelationReferences = "REFERENCES"
	RelationAppliesTo  = "APPLIES_TO"
	RelationRequires   = "REQUIRES"
	RelationDefines    = "DEFINES"
	RelationPartOf     = "PART_OF"
)

// Entity is a knowledge-graph node. Read-only to this service.
type Entity struct {
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

// RelatedEntity is an entity reached by a bounded traversal from a chunk.
type RelatedEntity struct {
	Entity   Entity `json:"entity"`
	Relation string `json:"relation"`
	Distance int    `json:"distance"`
}
