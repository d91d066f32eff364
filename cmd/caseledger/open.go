package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/caseledger/pkg/cases"
	"github.com/Mindburn-Labs/caseledger/pkg/config"
	"github.com/Mindburn-Labs/caseledger/pkg/observability"
	"github.com/Mindburn-Labs/caseledger/pkg/store"

	_ "github.com/lib/pq" // Postgres Driver
	_ "modernc.org/sqlite"
)

// session is an opened ledger plus everything that must be released with it.
type session struct {
	svc     *cases.Service
	closers []func(context.Context) error
}

func (s *session) Close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i](ctx)
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// openSession loads configuration and opens the configured backend.
func openSession(ctx context.Context, stderr io.Writer) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.Telemetry.Enabled
	obsCfg.OTLPEndpoint = cfg.Telemetry.Endpoint
	obsCfg.Insecure = cfg.Telemetry.Insecure
	obsCfg.ServiceName = cfg.Telemetry.ServiceName
	obsCfg.Environment = cfg.Telemetry.Environment
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, err
	}

	s := &session{closers: []func(context.Context) error{obs.Shutdown}}
	ledger, err := openStore(ctx, cfg, logger, s)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	s.svc = cases.NewService(ledger, cfg.Backend, obs).WithLogger(logger.With("component", "cases"))
	return s, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, s *session) (store.Store, error) {
	ledgerLog := logger.With("component", "ledger", "backend", cfg.Backend)

	switch cfg.Backend {
	case config.BackendFile:
		return store.NewFileStore(cfg.LedgerPath).WithLogger(ledgerLog), nil

	case config.BackendSQLite, config.BackendPostgres:
		driver, dsn, dialect := "postgres", cfg.DatabaseURL, store.DialectPostgres
		if cfg.Backend == config.BackendSQLite {
			driver, dialect = "sqlite", store.DialectSQLite
			if dsn == "" {
				dsn = strings.TrimSuffix(cfg.LedgerPath, filepath.Ext(cfg.LedgerPath)) + ".db"
				if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
					return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
				}
			}
		}
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		s.closers = append(s.closers, func(context.Context) error { return db.Close() })
		sqlStore := store.NewSQLStore(db, dialect).WithLogger(ledgerLog)
		if err := sqlStore.Init(ctx); err != nil {
			return nil, err
		}
		return sqlStore, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, func(context.Context) error { return client.Close() })
		return store.NewRedisStore(client, cfg.Redis.Stream).WithLogger(ledgerLog), nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
}
