package chat

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/pkg/dbctx"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

type MessageRepo interface {
	// Create is idempotent on the message ID so a retried background
	// persist cannot duplicate a turn.
	Create(dbc dbctx.Context, rows []*types.ChatMessage) error

	// ListForContext returns the most recent non-blocked, non-summarized
	// messages of a session in chronological order.
	ListForContext(dbc dbctx.Context, sessionID uuid.UUID, limit int) ([]*types.ChatMessage, error)

	// ListUnsummarized returns the chronological tail not yet covered by a
	// summary (blocked messages included so spans stay contiguous).
	ListUnsummarized(dbc dbctx.Context, sessionID uuid.UUID) ([]*types.ChatMessage, error)

	MarkSummarized(dbc dbctx.Context, ids []uuid.UUID) error

	ListByUser(dbc dbctx.Context, userID string, limit, offset int) ([]*types.ChatMessage, int64, error)
	DeleteByUser(dbc dbctx.Context, userID string) error
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: baseLog.With("repo", "ChatMessageRepo")}
}

func (r *messageRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *messageRepo) Create(dbc dbctx.Context, rows []*types.ChatMessage) error {
	if len(rows) == 0 {
		return nil
	}
	return r.conn(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(rows).Error
}

func (r *messageRepo) ListForContext(dbc dbctx.Context, sessionID uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	if sessionID == uuid.Nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	var rows []*types.ChatMessage
	err := r.conn(dbc).
		Where("session_id = ? AND is_blocked = false AND summarized = false", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	// reverse into chronological order
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (r *messageRepo) ListUnsummarized(dbc dbctx.Context, sessionID uuid.UUID) ([]*types.ChatMessage, error) {
	if sessionID == uuid.Nil {
		return nil, nil
	}
	var rows []*types.ChatMessage
	err := r.conn(dbc).
		Where("session_id = ? AND summarized = false", sessionID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *messageRepo) MarkSummarized(dbc dbctx.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.conn(dbc).
		Model(&types.ChatMessage{}).
		Where("id IN ?", ids).
		Update("summarized", true).Error
}

func (r *messageRepo) ListByUser(dbc dbctx.Context, userID string, limit, offset int) ([]*types.ChatMessage, int64, error) {
	if userID == "" {
		return nil, 0, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var total int64
	if err := r.conn(dbc).Model(&types.ChatMessage{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []*types.ChatMessage
	err := r.conn(dbc).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, total, err
}

func (r *messageRepo) DeleteByUser(dbc dbctx.Context, userID string) error {
	if userID == "" {
		return nil
	}
	return r.conn(dbc).Where("user_id = ?", userID).Delete(&types.ChatMessage{}).Error
}
