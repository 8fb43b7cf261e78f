package admins

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestRegistry(t *testing.T, clock func() time.Time) *Registry {
	t.Helper()
	dsn := fmt.Sprintf("file:admins_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Admin{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	registry, err := NewRegistry(RegistryConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct registry: %v", err)
	}
	return registry
}

func TestRecordLoginUpsertsAndCounts(t *testing.T) {
	current := time.Unix(1760000000, 0)
	registry := newTestRegistry(t, func() time.Time { return current })

	if err := registry.RecordLogin("admin-1"); err != nil {
		t.Fatalf("unexpected record error: %v", err)
	}
	current = current.Add(time.Hour)
	if err := registry.RecordLogin("admin-1"); err != nil {
		t.Fatalf("unexpected record error: %v", err)
	}

	rows, err := registry.List()
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected single row, got %d", len(rows))
	}
	if rows[0].LoginCount != 2 {
		t.Fatalf("expected two logins, got %d", rows[0].LoginCount)
	}
	if rows[0].LastSeenSeconds <= rows[0].FirstSeenSeconds {
		t.Fatalf("last seen should advance: %+v", rows[0])
	}
}

func TestRecordLoginRejectsBlankSubject(t *testing.T) {
	registry := newTestRegistry(t, nil)

	if err := registry.RecordLogin("   "); !errors.Is(err, ErrInvalidSubject) {
		t.Fatalf("expected invalid subject error, got %v", err)
	}
}
