// Package persistence provides the SQLite-backed document store.
package persistence

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"opnxt/pkg/logx"
	"opnxt/pkg/store"
)

// timeLayout is used for every timestamp column so ordering by text matches ordering by time.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DatabaseOperations implements store.Store on top of a single SQLite connection.
type DatabaseOperations struct {
	db     *sql.DB
	logger *logx.Logger
	now    func() time.Time
}

var _ store.Store = (*DatabaseOperations)(nil)

// Open creates or opens the database at dbPath and brings its schema up to date.
func Open(dbPath string) (*DatabaseOperations, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ops := NewDatabaseOperations(db)
	ops.logger.Info("📦 Database initialized: %s", dbPath)
	return ops, nil
}

// NewDatabaseOperations wraps an already initialized connection.
func NewDatabaseOperations(db *sql.DB) *DatabaseOperations {
	return &DatabaseOperations{
		db:     db,
		logger: logx.NewLogger("persistence"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying connection for health checks.
func (ops *DatabaseOperations) DB() *sql.DB {
	return ops.db
}

// Close closes the database connection.
func (ops *DatabaseOperations) Close() error {
	if err := ops.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
