package memory

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/pkg/dbctx"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

type FactRepo interface {
	// Upsert keeps at most one fact per (user_id, fact_type); an existing
	// row keeps its created_at.
	Upsert(dbc dbctx.Context, row *types.Fact) error
	ListByUser(dbc dbctx.Context, userID string) ([]*types.Fact, error)
	CountByUser(dbc dbctx.Context, userID string) (int64, error)
	// DeleteOldest removes the n oldest facts for a user by created_at.
	DeleteOldest(dbc dbctx.Context, userID string, n int) error
}

type factRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFactRepo(db *gorm.DB, baseLog *logger.Logger) FactRepo {
	return &factRepo{db: db, log: baseLog.With("repo", "FactRepo")}
}

func (r *factRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *factRepo) Upsert(dbc dbctx.Context, row *types.Fact) error {
	if row == nil {
		return nil
	}
	return r.conn(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "fact_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "embedding", "confidence", "updated_at"}),
		}).
		Create(row).Error
}

func (r *factRepo) ListByUser(dbc dbctx.Context, userID string) ([]*types.Fact, error) {
	if userID == "" {
		return nil, nil
	}
	var rows []*types.Fact
	err := r.conn(dbc).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *factRepo) CountByUser(dbc dbctx.Context, userID string) (int64, error) {
	var n int64
	err := r.conn(dbc).Model(&types.Fact{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

func (r *factRepo) DeleteOldest(dbc dbctx.Context, userID string, n int) error {
	if userID == "" || n <= 0 {
		return nil
	}
	sub := r.conn(dbc).
		Model(&types.Fact{}).
		Select("id").
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Limit(n)
	return r.conn(dbc).Where("id IN (?)", sub).Delete(&types.Fact{}).Error
}
