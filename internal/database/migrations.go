package database

import (
	"errors"
	"time"

	"github.com/ProPulseLabs/teamcore/internal/rank"
	"github.com/ProPulseLabs/teamcore/internal/referral"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillHighestRank = "2026-07-14_backfill_highest_rank_achieved"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillHighestRank, apply: backfillHighestRank},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows written before the rank ledger shipped carry an empty achieved rank.
// Reward eligibility reads that column, so empty means NONE.
func backfillHighestRank(db *gorm.DB) error {
	return db.Model(&referral.Member{}).
		Where("highest_rank_achieved = '' OR highest_rank_achieved IS NULL").
		Update("highest_rank_achieved", rank.RankNone).Error
}
