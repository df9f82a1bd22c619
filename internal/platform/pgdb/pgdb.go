package pgdb

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

// New opens the primary store. DSNs prefixed with "sqlite://" use the
// embedded driver for local development; everything else is Postgres.
func New(log *logger.Logger, dsn string) (*Service, error) {
	serviceLog := log.With("service", "PostgresService")
	if dsn == "" {
		return nil, fmt.Errorf("pgdb: dsn required")
	}

	var dialector gorm.Dialector
	sqlitePath, isSqlite := strings.CutPrefix(dsn, "sqlite://")
	if isSqlite {
		dialector = sqlite.Open(sqlitePath)
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("pgdb: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("pgdb: pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if !isSqlite {
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
			return nil, fmt.Errorf("pgdb: enable uuid-ossp: %w", err)
		}
	}
	serviceLog.Info("database connected", "driver", driverName(isSqlite))
	return &Service{db: db, log: serviceLog}, nil
}

func driverName(isSqlite bool) string {
	if isSqlite {
		return "sqlite"
	}
	return "postgres"
}

func (s *Service) DB() *gorm.DB { return s.db }

func (s *Service) AutoMigrateAll() error {
	s.log.Info("auto migrating postgres tables")
	return s.db.AutoMigrate(
		&types.Session{},
		&types.ChatMessage{},
		&types.Fact{},
		&types.Insight{},
		&types.Summary{},
		&types.Chunk{},
	)
}

func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
