package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeNullParents  = "2026-07-18_normalize_null_parent_ids"
	migrationPruneOrphanSetMembers = "2026-08-10_prune_orphan_set_members"
)

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
		{name: migrationNormalizeNullParents, apply: normalizeNullParentIDs},
		{name: migrationPruneOrphanSetMembers, apply: pruneOrphanSetMembers},
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

// Rows imported before the parent column became NOT NULL carry SQL NULLs,
// which tree building treats as distinct from the empty root marker.
func normalizeNullParentIDs(db *gorm.DB) error {
	return db.Exec("UPDATE content_records SET parent_id = '' WHERE parent_id IS NULL;").Error
}

// Album deletion used to leave membership rows behind; reconciliation then
// reported removals against sets that no longer exist.
func pruneOrphanSetMembers(db *gorm.DB) error {
	return db.Exec(
		"DELETE FROM set_members WHERE set_id NOT IN (SELECT record_id FROM content_records WHERE kind = 'album');",
	).Error
}
