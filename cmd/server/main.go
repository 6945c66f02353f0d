// Settlement engine - double-entry settlement, batching, and netting core.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/settlekit/settlement-engine/internal/account"
	"github.com/settlekit/settlement-engine/internal/batch"
	"github.com/settlekit/settlement-engine/internal/config"
	"github.com/settlekit/settlement-engine/internal/events"
	"github.com/settlekit/settlement-engine/internal/idempotency"
	"github.com/settlekit/settlement-engine/internal/ledger"
	"github.com/settlekit/settlement-engine/internal/logging"
	"github.com/settlekit/settlement-engine/internal/netting"
	"github.com/settlekit/settlement-engine/internal/server"
	"github.com/settlekit/settlement-engine/internal/settlement"
	"github.com/settlekit/settlement-engine/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting settlement engine",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.LogLevel, "json")

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"default_window", cfg.DefaultWindow,
		"auto_close", cfg.AutoCloseEnabled,
	)

	ctx := context.Background()

	tracerShutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = tracerShutdown(context.Background()) }()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = openDB(cfg)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		logger.Info("connected to database")
	} else {
		logger.Info("DATABASE_URL not set, using in-memory stores")
	}

	accountStore := newAccountStore(db)
	ledgerStore := newLedgerStore(db)
	txStore := newSettlementStore(db)
	batchStore := newBatchStore(db)
	positionStore := newPositionStore(db)
	idemStore := newIdempotencyStore(db)

	publisher := events.NewOutboxPublisher(256, func(_ context.Context, e events.Envelope) error {
		logger.Debug("event published", "type", e.EventType, "id", e.EventID)
		return nil
	}, logger)
	publisher.Start(ctx)

	// engine is this process's programmatic entry point into
	// double-entry settlement. It sits behind no REST handler here —
	// the HTTP surface this binary exposes is limited to
	// health/metrics (internal/server) — so it is held by whatever
	// embeds this wiring (a gRPC/queue consumer, a test harness, or a
	// future transport package) rather than by cmd/server itself.
	// nettingService IS wired into batchService below: D (batch)
	// calls E (netting) at the close of every batch.
	engine := settlement.New(txStore, ledgerStore, accountStore, publisher, logger)
	nettingService := netting.NewService(positionStore, txStore, publisher, logger)
	_ = engine

	windowType, dailyCutoff := resolveWindowPolicy(cfg, logger)
	windowConfig := batch.WindowConfig{Window: windowType, Daily: dailyCutoff, AutoClose: cfg.AutoCloseEnabled}
	batchService := batch.NewService(batchStore, txStore, nettingService, publisher, windowConfig, logger)
	batchTimer := batch.NewTimer(batchService, cfg.AutoCloseInterval, logger)

	idemGuard := idempotency.NewGuard(idemStore, cfg.IdempotencyTTL)
	idemTimer := idempotency.NewTimer(idemGuard, cfg.IdempotencyTTL/24, logger)

	srv, err := server.New(cfg,
		server.WithLogger(logger),
		server.WithDB(db),
		server.WithBatchTimer(batchTimer),
		server.WithIdempotencyTimer(idemTimer),
	)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	publisher.Stop()
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	dsn := cfg.DatabaseURL
	if cfg.DBConnectTimeout > 0 && !strings.Contains(dsn, "connect_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn = fmt.Sprintf("%s%sconnect_timeout=%d", dsn, sep, cfg.DBConnectTimeout)
	}
	if cfg.DBStatementTimeout > 0 && !strings.Contains(dsn, "statement_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn = fmt.Sprintf("%s%sstatement_timeout=%d", dsn, sep, cfg.DBStatementTimeout)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func newAccountStore(db *sql.DB) account.Store {
	if db == nil {
		return account.NewMemoryStore()
	}
	return account.NewPostgresStore(db)
}

func newLedgerStore(db *sql.DB) ledger.Store {
	if db == nil {
		return ledger.NewMemoryStore()
	}
	return ledger.NewPostgresStore(db)
}

func newSettlementStore(db *sql.DB) settlement.Store {
	if db == nil {
		return settlement.NewMemoryStore()
	}
	return settlement.NewPostgresStore(db)
}

func newBatchStore(db *sql.DB) batch.Store {
	if db == nil {
		return batch.NewMemoryStore()
	}
	return batch.NewPostgresStore(db)
}

func newPositionStore(db *sql.DB) netting.PositionStore {
	if db == nil {
		return netting.NewMemoryPositionStore()
	}
	return netting.NewPostgresPositionStore(db)
}

func newIdempotencyStore(db *sql.DB) idempotency.Store {
	if db == nil {
		return idempotency.NewMemoryStore()
	}
	return idempotency.NewPostgresStore(db)
}

func resolveWindowPolicy(cfg *config.Config, logger interface {
	Warn(msg string, args ...interface{})
}) (batch.WindowType, batch.DailyCutOff) {
	var windowType batch.WindowType
	switch cfg.DefaultWindow {
	case "RealTime":
		windowType = batch.WindowRealTime
	case "MicroBatch":
		windowType = batch.WindowMicroBatch
	case "Hourly":
		windowType = batch.WindowHourly
	default:
		windowType = batch.WindowDaily
	}

	cutoff := batch.DailyCutOff{Hour: 23, Minute: 59, Second: 59}
	parts := strings.Split(cfg.DailyCutoff, ":")
	if len(parts) == 3 {
		h, herr := strconv.Atoi(parts[0])
		m, merr := strconv.Atoi(parts[1])
		sec, serr := strconv.Atoi(parts[2])
		if herr == nil && merr == nil && serr == nil {
			cutoff = batch.DailyCutOff{Hour: h, Minute: m, Second: sec}
		} else {
			logger.Warn("invalid SETTLEMENT_DAILY_CUTOFF, using default", "value", cfg.DailyCutoff)
		}
	}
	return windowType, cutoff
}
