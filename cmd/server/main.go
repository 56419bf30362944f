package main

import (
	"os"
	"os/signal"
	"syscall"

	appnumbering "github.com/facilpos/backend/internal/application/numbering"
	appsales "github.com/facilpos/backend/internal/application/sales"
	appstock "github.com/facilpos/backend/internal/application/stock"
	"github.com/facilpos/backend/internal/domain/shared"
	"github.com/facilpos/backend/internal/domain/stock"
	"github.com/facilpos/backend/internal/infrastructure/cache"
	"github.com/facilpos/backend/internal/infrastructure/config"
	"github.com/facilpos/backend/internal/infrastructure/logger"
	"github.com/facilpos/backend/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

// services bundles the application entry points the process exposes.
type services struct {
	Ranges      *appnumbering.Service
	Receipts    *appstock.ReceiptService
	Coordinator *appsales.Coordinator
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting FacilPOS backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
	)

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()

	if err := db.Migrate(); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}
	log.Info("Database ready")

	idempotency, cleanup, err := newIdempotencyStore(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize idempotency store", zap.Error(err))
	}
	defer cleanup()

	svc := wireServices(cfg, db, idempotency, log)
	log.Info("Services wired, waiting for work",
		zap.Bool("numbering", svc.Ranges != nil),
		zap.Bool("receipts", svc.Receipts != nil),
		zap.Bool("sales", svc.Coordinator != nil),
		zap.Bool("fallback_provisioning", cfg.Numbering.AutoProvisionFallback && !cfg.IsProduction()),
		zap.Bool("exclude_expired_lots", cfg.Stock.ExcludeExpiredLots),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Shutting down", zap.String("signal", sig.String()))
}

// wireServices builds the application services on top of the shared
// database connection.
func wireServices(cfg *config.Config, db *persistence.Database, idempotency shared.IdempotencyStore, log *zap.Logger) *services {
	clock := shared.SystemClock{}
	ledger := stock.NewLedger(stock.WithExpiredLotExclusion(cfg.Stock.ExcludeExpiredLots))

	rangeRepo := persistence.NewGormNumberingRangeRepository(db.DB)
	lotRepo := persistence.NewGormLotRepository(db.DB)

	return &services{
		Ranges: appnumbering.NewService(rangeRepo, clock, log,
			appnumbering.WithRetryPolicy(cfg.Numbering.MaxRetries, cfg.Numbering.RetryBackoff),
			appnumbering.WithFallbackProvisioning(cfg.Numbering.AutoProvisionFallback, cfg.IsProduction()),
		),
		Receipts: appstock.NewReceiptService(lotRepo, ledger, clock, log),
		Coordinator: appsales.NewCoordinator(
			persistence.NewGormTransactionScope(db.DB),
			ledger,
			clock,
			log,
			appsales.WithRetryPolicy(cfg.Stock.MaxRetries, cfg.Stock.RetryBackoff),
			appsales.WithIdempotencyStore(idempotency, cfg.Numbering.IdempotencyTTL),
		),
	}
}

// newIdempotencyStore picks Redis when configured, otherwise the
// in-process store. The returned cleanup closes whichever was built.
func newIdempotencyStore(cfg *config.Config, log *zap.Logger) (shared.IdempotencyStore, func(), error) {
	if cfg.Redis.Enabled {
		store, err := cache.NewRedisIdempotencyStore(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("Using Redis idempotency store", zap.String("addr", cfg.Redis.Addr()))
		return store, func() { _ = store.Close() }, nil
	}

	store := cache.NewInMemoryIdempotencyStore()
	log.Info("Using in-memory idempotency store")
	return store, func() { _ = store.Close() }, nil
}
