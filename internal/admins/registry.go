// Package admins keeps a small audit trail of console logins.
package admins

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidSubject indicates a login record request without a usable admin id.
var ErrInvalidSubject = errors.New("admins: invalid subject")

// Admin captures one console operator and their login history.
type Admin struct {
	Subject          string `gorm:"column:subject;primaryKey;size:190;not null"`
	FirstSeenSeconds int64  `gorm:"column:first_seen_s;not null"`
	LastSeenSeconds  int64  `gorm:"column:last_seen_s;not null"`
	LoginCount       int64  `gorm:"column:login_count;not null;default:0"`
}

// TableName exposes the table backing admin login records.
func (Admin) TableName() string {
	return "admin_logins"
}

// RegistryConfig describes the dependencies of the login registry.
type RegistryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Registry records logins per admin subject.
type Registry struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRegistry constructs the registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("admins: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Registry{db: cfg.Database, now: clock}, nil
}

// RecordLogin upserts the subject's login row, bumping the counter and the
// last-seen timestamp.
func (r *Registry) RecordLogin(subject string) error {
	trimmed := strings.TrimSpace(subject)
	if trimmed == "" {
		return ErrInvalidSubject
	}

	now := r.now().UTC().Unix()
	row := Admin{
		Subject:          trimmed,
		FirstSeenSeconds: now,
		LastSeenSeconds:  now,
		LoginCount:       1,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subject"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_seen_s": now,
			"login_count": gorm.Expr("login_count + 1"),
		}),
	}).Create(&row).Error
}

// List returns every known admin ordered by most recent login.
func (r *Registry) List() ([]Admin, error) {
	var rows []Admin
	if err := r.db.Order("last_seen_s DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
