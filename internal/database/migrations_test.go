package database

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/lumenworks/backoffice/internal/admins"
	"github.com/lumenworks/backoffice/internal/content"
)

func newMigrationTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:migrations_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&content.Record{}, &content.SetMember{}, &admins.Admin{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func TestApplyMigrationsNormalizesNullParents(t *testing.T) {
	db := newMigrationTestDB(t)

	err := db.Exec(
		"INSERT INTO content_records (record_id, kind, parent_id, position, payload_json, version, created_at_s, updated_at_s) VALUES ('legacy-1', 'menu', NULL, 0, '{}', 1, 0, 0);",
	).Error
	if err != nil {
		t.Fatalf("failed to seed legacy row: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}

	var parent string
	err = db.Raw("SELECT parent_id FROM content_records WHERE record_id = 'legacy-1';").Scan(&parent).Error
	if err != nil {
		t.Fatalf("failed to read migrated row: %v", err)
	}
	if parent != "" {
		t.Fatalf("expected empty parent marker, got %q", parent)
	}
}

func TestApplyMigrationsPrunesOrphanSetMembers(t *testing.T) {
	db := newMigrationTestDB(t)

	err := db.Exec(
		"INSERT INTO content_records (record_id, kind, parent_id, position, payload_json, version, created_at_s, updated_at_s) VALUES ('album-1', 'album', '', 0, '{}', 1, 0, 0);",
	).Error
	if err != nil {
		t.Fatalf("failed to seed album: %v", err)
	}
	for _, row := range []struct{ setID, memberID string }{
		{"album-1", "media-1"},
		{"album-gone", "media-2"},
	} {
		err := db.Exec(
			"INSERT INTO set_members (set_id, member_id, added_at_s) VALUES (?, ?, 0);",
			row.setID, row.memberID,
		).Error
		if err != nil {
			t.Fatalf("failed to seed membership: %v", err)
		}
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}

	var remaining []string
	if err := db.Raw("SELECT set_id FROM set_members ORDER BY set_id;").Scan(&remaining).Error; err != nil {
		t.Fatalf("failed to read memberships: %v", err)
	}
	if len(remaining) != 1 || remaining[0] != "album-1" {
		t.Fatalf("expected only album-1 membership to survive, got %v", remaining)
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	db := newMigrationTestDB(t)

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected first run error: %v", err)
	}
	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected second run error: %v", err)
	}

	var count int64
	if err := db.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count migration records: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected two migration records, got %d", count)
	}
}
