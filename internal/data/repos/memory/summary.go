package memory

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/pkg/dbctx"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

type SummaryRepo interface {
	Create(dbc dbctx.Context, row *types.Summary) error
	Latest(dbc dbctx.Context, userID string, sessionID uuid.UUID) (*types.Summary, error)
}

type summaryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSummaryRepo(db *gorm.DB, baseLog *logger.Logger) SummaryRepo {
	return &summaryRepo{db: db, log: baseLog.With("repo", "SummaryRepo")}
}

func (r *summaryRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *summaryRepo) Create(dbc dbctx.Context, row *types.Summary) error {
	if row == nil {
		return nil
	}
	return r.conn(dbc).Create(row).Error
}

func (r *summaryRepo) Latest(dbc dbctx.Context, userID string, sessionID uuid.UUID) (*types.Summary, error) {
	if userID == "" || sessionID == uuid.Nil {
		return nil, nil
	}
	var row types.Summary
	err := r.conn(dbc).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
