package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"
	gocrud "github.com/tender-barbarian/go-crud"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConcurrentModification = errors.New("record was modified concurrently")
)

type GenericRepo[M gocrud.Model] interface {
	Create(ctx context.Context, model M) (int, error)
	Get(ctx context.Context, id int) (M, error)
	GetAll(ctx context.Context) ([]M, error)
	Delete(ctx context.Context, id int) error
	Update(ctx context.Context, model M, id int) error
	GetTable() string
}

// NewDBConnection opens the sqlite database and brings its schema up to
// date.
func NewDBConnection(dbPath, migrationsPath string) (*sql.DB, error) {
	// Job callbacks and HTTP handlers write concurrently.
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("connecting to db: %w", err)
	}

	if err := Migrate(db, migrationsPath); err != nil {
		db.Close() // nolint
		return nil, err
	}

	return db, nil
}

func Migrate(db *sql.DB, migrationsPath string) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("creating driver: %w", err)
	}

	if migrationsPath == "" {
		migrationsPath = "file://db/migrations"
	}

	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("initialising migrations: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}
