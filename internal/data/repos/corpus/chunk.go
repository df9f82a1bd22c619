package corpus

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/pkg/dbctx"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

// LexicalHit is a chunk with its full-text rank (ts_rank, >= 0).
type LexicalHit struct {
	Chunk *types.Chunk
	Rank  float64
}

// SearchFilter narrows retrieval; zero values mean no constraint.
type SearchFilter struct {
	DocumentID    uuid.UUID
	ContentType   string
	MinConfidence float64
}

type ChunkRepo interface {
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Chunk, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Chunk, error)
	// LexicalSearch runs Postgres full-text search over content and
	// contextual_content, best rank first.
	LexicalSearch(dbc dbctx.Context, query string, topK int, filter SearchFilter) ([]LexicalHit, error)
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger) ChunkRepo {
	return &chunkRepo{db: db, log: baseLog.With("repo", "ChunkRepo")}
}

func (r *chunkRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *chunkRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*types.Chunk
	err := r.conn(dbc).Where("id IN ?", ids).Find(&rows).Error
	return rows, err
}

func (r *chunkRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Chunk, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	rows, err := r.GetByIDs(dbc, []uuid.UUID{id})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (r *chunkRepo) LexicalSearch(dbc dbctx.Context, query string, topK int, filter SearchFilter) ([]LexicalHit, error) {
	if query == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 20
	}

	type rankedRow struct {
		types.Chunk
		Rank float64 `gorm:"column:rank"`
	}

	q := r.conn(dbc).
		Table("chunks").
		Select(`chunks.*, ts_rank(
			to_tsvector('simple', coalesce(nullif(contextual_content, ''), content)),
			plainto_tsquery('simple', ?)
		) * 32 AS rank`, query).
		Where(`to_tsvector('simple', coalesce(nullif(contextual_content, ''), content)) @@ plainto_tsquery('simple', ?)`, query)

	if filter.DocumentID != uuid.Nil {
		q = q.Where("document_id = ?", filter.DocumentID)
	}
	if filter.ContentType != "" {
		q = q.Where("content_type = ?", filter.ContentType)
	}
	if filter.MinConfidence > 0 {
		q = q.Where("confidence >= ?", filter.MinConfidence)
	}

	var rows []rankedRow
	if err := q.Order("rank DESC").Limit(topK).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]LexicalHit, 0, len(rows))
	for i := range rows {
		c := rows[i].Chunk
		out = append(out, LexicalHit{Chunk: &c, Rank: rows[i].Rank})
	}
	return out, nil
}
