package database

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/AlexTLDR/irl/internal/database/migrations"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrGuestExists      = errors.New("member is already a guest of this location")
	ErrGuestNotFound    = errors.New("guest not found")
	ErrUnknownGathering = errors.New("gathering does not belong to this location")
)

type DB struct {
	*sql.DB
	driver string
}

// New opens a postgres or sqlite3 database
func New(driver, databaseURL string) (*DB, error) {
	if driver != "postgres" && driver != "sqlite3" {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite3" {
		// a single connection keeps in-memory databases shared and serialises writers
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close() // Ignore close error, we're already returning ping error
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, driver: driver}, nil
}

func (db *DB) Migrate() error {
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect(db.driver); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
