package memory

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/pkg/dbctx"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

type InsightRepo interface {
	Create(dbc dbctx.Context, row *types.Insight) error
	Update(dbc dbctx.Context, row *types.Insight) error
	ListByUser(dbc dbctx.Context, userID string) ([]*types.Insight, error)
	CountByUser(dbc dbctx.Context, userID string) (int64, error)
	TouchAccessed(dbc dbctx.Context, ids []uuid.UUID) error
	// ReplaceAll swaps a user's full insight set in one transaction.
	ReplaceAll(dbc dbctx.Context, userID string, rows []*types.Insight) error
	DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error
}

type insightRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewInsightRepo(db *gorm.DB, baseLog *logger.Logger) InsightRepo {
	return &insightRepo{db: db, log: baseLog.With("repo", "InsightRepo")}
}

func (r *insightRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *insightRepo) Create(dbc dbctx.Context, row *types.Insight) error {
	if row == nil {
		return nil
	}
	return r.conn(dbc).Create(row).Error
}

func (r *insightRepo) Update(dbc dbctx.Context, row *types.Insight) error {
	if row == nil || row.ID == uuid.Nil {
		return nil
	}
	return r.conn(dbc).Save(row).Error
}

func (r *insightRepo) ListByUser(dbc dbctx.Context, userID string) ([]*types.Insight, error) {
	if userID == "" {
		return nil, nil
	}
	var rows []*types.Insight
	err := r.conn(dbc).
		Where("user_id = ?", userID).
		Order("last_accessed DESC").
		Find(&rows).Error
	return rows, err
}

func (r *insightRepo) CountByUser(dbc dbctx.Context, userID string) (int64, error) {
	var n int64
	err := r.conn(dbc).Model(&types.Insight{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

func (r *insightRepo) TouchAccessed(dbc dbctx.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.conn(dbc).
		Model(&types.Insight{}).
		Where("id IN ?", ids).
		Update("last_accessed", gorm.Expr("now()")).Error
}

func (r *insightRepo) ReplaceAll(dbc dbctx.Context, userID string, rows []*types.Insight) error {
	if userID == "" {
		return nil
	}
	return r.conn(dbc).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&types.Insight{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(rows).Error
	})
}

func (r *insightRepo) DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.conn(dbc).Where("id IN ?", ids).Delete(&types.Insight{}).Error
}
