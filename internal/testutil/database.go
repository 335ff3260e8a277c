package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"go.uber.org/zap"

	"github.com/emergent-company/emergent.graph/internal/migrate"
)

// templateDBName is migrated once per run; each test database is cloned from it.
const templateDBName = "graph_test_template"

var (
	templateOnce sync.Once
	templateErr  error
)

// BaseURL returns the admin connection string for integration tests.
// TEST_DATABASE_URL wins, DATABASE_URL is the fallback.
func BaseURL() string {
	if u := os.Getenv("TEST_DATABASE_URL"); u != "" {
		return u
	}
	return os.Getenv("DATABASE_URL")
}

// TestDB is an isolated, migrated database owned by one test suite.
type TestDB struct {
	Pool    *pgxpool.Pool
	DB      *bun.DB
	Name    string
	cleanup func()
}

// Close drops the database and releases its connections.
func (t *TestDB) Close() {
	if t.cleanup != nil {
		t.cleanup()
	}
}

// SetupTestDB clones a fresh database from the migrated template.
// The first call per process creates the template by running every migration.
func SetupTestDB(ctx context.Context, suffix string) (*TestDB, error) {
	base := BaseURL()
	if base == "" {
		return nil, fmt.Errorf("TEST_DATABASE_URL is not set")
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	templateOnce.Do(func() {
		templateErr = ensureTemplateDB(ctx, base, log)
	})
	if templateErr != nil {
		return nil, fmt.Errorf("ensure template db: %w", templateErr)
	}

	name := fmt.Sprintf("graph_test_%s_%d", suffix, time.Now().UnixNano())

	admin, err := createPool(ctx, base, "postgres", 2)
	if err != nil {
		return nil, fmt.Errorf("connect admin: %w", err)
	}
	_, err = admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s TEMPLATE %s", name, templateDBName))
	admin.Close()
	if err != nil {
		return nil, fmt.Errorf("create test db from template: %w", err)
	}

	pool, err := createPool(ctx, base, name, 20)
	if err != nil {
		dropDB(context.Background(), base, name)
		return nil, fmt.Errorf("connect test db: %w", err)
	}
	db := bun.NewDB(stdlib.OpenDBFromPool(pool), pgdialect.New())

	return &TestDB{
		Pool: pool,
		DB:   db,
		Name: name,
		cleanup: func() {
			_ = db.Close()
			pool.Close()
			dropDB(context.Background(), base, name)
		},
	}, nil
}

func ensureTemplateDB(ctx context.Context, base string, log *slog.Logger) error {
	admin, err := createPool(ctx, base, "postgres", 2)
	if err != nil {
		return fmt.Errorf("connect admin: %w", err)
	}
	defer admin.Close()

	// A stale template from an older schema would hide new migrations.
	dropDB(ctx, base, templateDBName)

	if _, err := admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", templateDBName)); err != nil {
		return fmt.Errorf("create template db: %w", err)
	}

	pool, err := createPool(ctx, base, templateDBName, 2)
	if err != nil {
		return fmt.Errorf("connect template db: %w", err)
	}
	sqldb := stdlib.OpenDBFromPool(pool)
	defer func() {
		_ = sqldb.Close()
		pool.Close()
	}()

	if err := migrate.NewMigratorFromSQL(sqldb, zap.NewNop()).Up(ctx); err != nil {
		return fmt.Errorf("migrate template: %w", err)
	}
	log.Info("template database migrated", slog.String("name", templateDBName))
	return nil
}

func createPool(ctx context.Context, base, database string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(base)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.Database = database
	cfg.MaxConns = maxConns
	return pgxpool.NewWithConfig(ctx, cfg)
}

func dropDB(ctx context.Context, base, name string) {
	pool, err := createPool(ctx, base, "postgres", 1)
	if err != nil {
		return
	}
	defer pool.Close()

	_, _ = pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()`, name)
	_, _ = pool.Exec(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", name))
}
