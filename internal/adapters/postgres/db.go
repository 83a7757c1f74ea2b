package postgres

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

func dbLogger() *slog.Logger {
	return slog.Default().With(
		"service", "M04-Account-Gating-Service",
		"module", "postgres",
		"layer", "adapter",
	)
}

// Connect opens and validates a Postgres-backed GORM connection pool.
// TranslateError stays on so unique-index violations surface as typed
// driver errors the repositories can map to domain sentinels.
func Connect(ctx context.Context, databaseURL string, maxConns int32) (*gorm.DB, error) {
	log := dbLogger()
	start := time.Now()
	log.InfoContext(ctx, "postgres connect started",
		"operation", "connect",
		"outcome", "start",
	)

	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(int(maxConns))
		sqlDB.SetMaxIdleConns(int(maxConns) / 2)
	}
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.InfoContext(ctx, "postgres connect completed",
		"operation", "connect",
		"outcome", "success",
		"max_conns", maxConns,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return db, nil
}

// RunMigrations applies the embedded schema migrations in lexical order.
// Statements are idempotent (CREATE ... IF NOT EXISTS), so re-running the
// full set on every boot is safe and keeps code and schema shipping as one
// artifact.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	names, err := migrationNames()
	if err != nil {
		return err
	}

	log := dbLogger()
	log.InfoContext(ctx, "postgres migrations started",
		"operation", "run_migrations",
		"outcome", "start",
		"migration_count", len(names),
	)

	for _, name := range names {
		raw, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		applyStart := time.Now()
		if err := db.WithContext(ctx).Exec(string(raw)).Error; err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		log.InfoContext(ctx, "migration applied",
			"operation", "apply_migration",
			"outcome", "success",
			"migration", name,
			"duration_ms", time.Since(applyStart).Milliseconds(),
		)
	}

	log.InfoContext(ctx, "postgres migrations completed",
		"operation", "run_migrations",
		"outcome", "success",
		"migration_count", len(names),
	)
	return nil
}

func migrationNames() ([]string, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
