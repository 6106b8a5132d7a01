package storage

import (
	"testing"

	"podiumgo/internal/config"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := Open("sqlite3", memoryConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	for i := 0; i < 2; i++ {
		if err := Migrate(db, "sqlite3"); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	for _, table := range []string{"users", "user_tokens", "blobs", "reviews", "coach_sessions", "coach_messages"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"postgres": {}}}
	if _, err := Open("postgres", cfg); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := Open("mysql", memoryConfig()); err == nil {
		t.Fatalf("expected missing config error")
	}
	if err := Migrate(nil, "oracle"); err == nil {
		t.Fatalf("expected unsupported migration driver")
	}
}
