// Package history selects the analysis history driver from configuration.
package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"gradcam-service/internal/adapters/secondary/memory"
	"gradcam-service/internal/adapters/secondary/postgres"
	"gradcam-service/internal/adapters/secondary/sqlite"
	"gradcam-service/internal/config"
	ports "gradcam-service/internal/core/ports/output"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// Store is an opened history backend. Repo is nil for the "none" driver.
type Store struct {
	Repo   ports.AnalysisRepository
	Driver string
	ping   func(ctx context.Context) error
	close  func()
}

// Open builds the repository named by cfg.History.Driver.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.History.Driver {
	case DriverNone:
		log.Info("analysis history disabled")
		return &Store{Driver: DriverNone}, nil

	case DriverMemory:
		log.WithField("size", cfg.History.Size).Info("analysis history kept in memory")
		return &Store{Repo: memory.NewAnalysisRepository(cfg.History.Size), Driver: DriverMemory}, nil

	case DriverSQLite:
		s, err := sqlite.Open(cfg.History.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite history: %w", err)
		}
		log.WithField("path", cfg.History.SQLitePath).Info("analysis history stored in sqlite")
		return &Store{
			Repo:   s,
			Driver: DriverSQLite,
			ping:   s.Ping,
			close:  func() { _ = s.Close() },
		}, nil

	case DriverPostgres:
		pool, err := newPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("database connection established")
		return &Store{
			Repo:   postgres.NewAnalysisRepository(pool),
			Driver: DriverPostgres,
			ping:   pool.Ping,
			close:  pool.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown history driver %q", cfg.History.Driver)
}

func newPool(ctx context.Context, db config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(db.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(db.MaxOpenConns)
	poolCfg.MinConns = int32(db.MaxIdleConns)
	poolCfg.MaxConnLifetime = db.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// Ping checks the backend. Drivers without a connection always succeed.
func (s *Store) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}
