// Package store opens the configured durable store and exposes it through
// the repository interfaces, so the server and the sweep command share one
// connection setup.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/welldanyogia/authguard/internal/config"
	"github.com/welldanyogia/authguard/internal/metrics"
	"github.com/welldanyogia/authguard/internal/repository"
	"github.com/welldanyogia/authguard/internal/repository/sqlite"
)

// Store bundles the repositories of one backend
type Store struct {
	Name        string // postgres or sqlite
	Credentials repository.CredentialRepository
	Attempts    repository.AttemptLog
	Sessions    repository.SessionRepository

	// Exactly one of these is set
	PgPool *pgxpool.Pool
	SQLDB  *sql.DB

	close func()
}

// Pinger returns the handle used for health checks
func (s *Store) Pinger() metrics.Pinger {
	if s.PgPool != nil {
		return s.PgPool
	}
	return metrics.PingFunc(s.SQLDB.PingContext)
}

// Close releases the underlying connections
func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// Open connects to the store selected by cfg.Driver
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case "postgres":
		pool, err := openPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to database",
			"driver", "postgres",
			"database", cfg.Database.DBName,
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
		)
		return &Store{
			Name:        "postgres",
			Credentials: repository.NewCredentialRepository(pool),
			Attempts:    repository.NewAttemptLog(pool),
			Sessions:    repository.NewSessionRepository(pool),
			PgPool:      pool,
			close:       pool.Close,
		}, nil

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("Opened database", "driver", "sqlite", "path", cfg.SQLitePath)
		return &Store{
			Name:        "sqlite",
			Credentials: sqlite.NewCredentialRepository(db),
			Attempts:    sqlite.NewAttemptLog(db),
			Sessions:    sqlite.NewSessionRepository(db),
			SQLDB:       db.DB,
			close:       func() { db.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// openPostgres creates and configures the connection pool
func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
