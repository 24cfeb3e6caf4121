// Package dbtest opens throwaway SQLite databases with the production
// schema for repository and engine tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/gridshare/energy-bpp/bpp/database"
)

// FileConns is how many connections a NewFile database allows.
const FileConns = 8

// New opens an in-memory database behind a single connection.
func New(t testing.TB) *bun.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)

	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	// one connection keeps the shared in-memory database alive
	sqldb.SetMaxOpenConns(1)

	return open(t, sqldb)
}

// NewFile opens a WAL database file with several connections, so that
// concurrent callers really run on separate connections and race for the
// write lock.
func NewFile(t testing.TB) *bun.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bpp.db")
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=10000", path)

	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(FileConns)
	sqldb.SetMaxIdleConns(FileConns)

	return open(t, sqldb)
}

func open(t testing.TB, sqldb *sql.DB) *bun.DB {
	t.Helper()

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := database.CreateSchema(context.Background(), db); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}
