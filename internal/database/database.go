// package database provides connection management for the state store and the postgresql sink.
package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/blockedby/channel-harvester/internal/migrator"
	"github.com/blockedby/channel-harvester/migrations"
)

// DB wraps the postgresql pool of the message sink.
type DB struct {
	Pool *pgxpool.Pool

	url string
}

// New creates a connection pool and checks that the server answers.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{
		Pool: pool,
		url:  databaseURL,
	}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Ping checks if the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Migrate brings the sink schema up to the latest embedded version.
func (db *DB) Migrate(ctx context.Context) error {
	m, err := migrator.NewWithFS(migrations.FS)
	if err != nil {
		return err
	}
	if err := m.Up(ctx, db.url); err != nil {
		return fmt.Errorf("migrate sink: %w", err)
	}
	return nil
}

// IsPostgresURL reports whether dsn points at postgresql rather than a sqlite file.
func IsPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// OpenState opens the cursor state store: postgresql for a postgres url,
// otherwise a sqlite file whose directory is created on demand.
func OpenState(dsn string) (*gorm.DB, error) {
	if IsPostgresURL(dsn) {
		db, err := gorm.Open(postgres.Open(dsn), quietGORM())
		if err != nil {
			return nil, fmt.Errorf("open state store: %w", err)
		}
		return db, nil
	}

	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(dsn), quietGORM())
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	// sqlite allows one writer; channels save their cursors concurrently
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func quietGORM() *gorm.Config {
	return &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
}
