package testutil

import (
	"fmt"
	"testing"
	"time"

	"promptforge/database"
	"promptforge/internal/domain/accounts"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenTestDB returns a migrated in-memory sqlite database. A single
// connection keeps transactions serialized the way row locks do in postgres.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// SeedAccount inserts an account row directly, bypassing the ledger.
func SeedAccount(t *testing.T, db *gorm.DB, acct accounts.Account) accounts.Account {
	t.Helper()

	if acct.Tier == "" {
		acct.Tier = "free"
	}
	if acct.Status == "" {
		acct.Status = accounts.StatusActive
	}
	if acct.MigrationStatus == "" {
		acct.MigrationStatus = accounts.MigrationPending
	}
	if err := db.Create(&acct).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return acct
}

// CountRows runs a COUNT(*) style query.
func CountRows(t *testing.T, db *gorm.DB, query string, args ...interface{}) int64 {
	t.Helper()

	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("query count: %v", err)
	}
	return count
}
