package database

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"
)

// setupTestDB はTEST_DATABASE_URLのデータベースを空の状態にして返す。
// 未設定または接続できない場合はテストをスキップする。
func setupTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	db, err := Open(dbURL, DefaultPoolConfig())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := Ping(context.Background(), db, 3*time.Second); err != nil {
		db.Close()
		t.Skipf("database is unreachable: %v", err)
	}

	cleanupSQL := `
		DROP TABLE IF EXISTS tasks CASCADE;
		DROP TABLE IF EXISTS users CASCADE;
		DROP TABLE IF EXISTS schema_migrations CASCADE;
	`
	if _, err := db.Exec(cleanupSQL); err != nil {
		db.Close()
		t.Fatalf("failed to clean up: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db, dbURL
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRow(
		"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)",
		table,
	).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to query table existence: %v", err)
	}
	return exists
}

func TestNewMigrator_InvalidURL_ReturnsError(t *testing.T) {
	if _, err := NewMigrator("not-a-database-url"); err == nil {
		t.Fatal("expected error for invalid database URL")
	}
}

func TestRunMigrations_Up(t *testing.T) {
	db, dbURL := setupTestDB(t)

	version, err := RunMigrations(dbURL)
	if err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}

	for _, table := range []string{"users", "tasks"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %q does not exist", table)
		}
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	_, dbURL := setupTestDB(t)

	if _, err := RunMigrations(dbURL); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := RunMigrations(dbURL); err != nil {
		t.Fatalf("second run: %v", err)
	}
}

func TestMigrations_UpAndDown(t *testing.T) {
	db, dbURL := setupTestDB(t)

	m, err := NewMigrator(dbURL)
	if err != nil {
		t.Fatalf("NewMigrator: %v", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if !tableExists(t, db, "tasks") {
		t.Fatal("tasks table should exist after Up")
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down: %v", err)
	}
	for _, table := range []string{"users", "tasks"} {
		if tableExists(t, db, table) {
			t.Errorf("table %q should be dropped after Down", table)
		}
	}
}
