package testutil

import (
	"database/sql"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/4xmen/hellochat/internal/db"
)

// TestLogger returns a logger that writes through t.Log when -v is set.
func TestLogger(t *testing.T) *log.Logger {
	if !testing.Verbose() {
		return log.New(io.Discard, "", 0)
	}
	return log.New(testWriter{t}, "[test] ", log.Lmicroseconds)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// NewDB opens a migrated SQLite database in a temp dir, closed on cleanup.
func NewDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database.GetConn()
}

// CreateUser inserts a user row with a dummy password hash and returns its id.
func CreateUser(t *testing.T, conn *sql.DB, username string) int64 {
	t.Helper()
	result, err := conn.Exec("INSERT INTO users (username, password_hash, display_name) VALUES (?, 'hash', ?)", username, username+" display")
	if err != nil {
		t.Fatalf("failed to create user %q: %v", username, err)
	}
	id, _ := result.LastInsertId()
	return id
}
