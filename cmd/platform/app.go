package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bloodnet/platform/internal/alert"
	"github.com/bloodnet/platform/internal/api"
	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/bloodbank/infrastructure"
	"github.com/bloodnet/platform/internal/directory"
	"github.com/bloodnet/platform/internal/donation"
	"github.com/bloodnet/platform/internal/escalation"
	"github.com/bloodnet/platform/internal/hospitalrequest"
	"github.com/bloodnet/platform/internal/inventory"
	"github.com/bloodnet/platform/internal/notification"
	"github.com/bloodnet/platform/internal/shared/config"
	"github.com/bloodnet/platform/internal/shared/database"
	"github.com/bloodnet/platform/internal/shared/events"
	"github.com/bloodnet/platform/internal/shared/lock"
	"github.com/bloodnet/platform/internal/shared/logging"
	"github.com/bloodnet/platform/internal/transfer"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	Logger *zap.Logger

	// DB, Bus and Redis are nil when the backend is not configured or
	// could not be reached.
	DB    *database.DB
	Bus   events.EventBus
	Redis *redis.Client

	Store         domain.Store
	Notifications *notification.Service
	Services      api.Services
}

// loadApp connects the backends and builds the services. With requireDB
// unset an unreachable database degrades to the in-memory store.
func loadApp(ctx context.Context, requireDB bool) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	app := &App{Config: cfg, Logger: logger}

	db, err := database.New(ctx, cfg.Database)
	switch {
	case err == nil:
		if _, err := database.Migrate(ctx, db.Pool, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		app.DB = db
		app.Store = infrastructure.NewPostgresStore(db.Pool)
	case requireDB:
		return nil, err
	default:
		logger.Warn("database not available, using in-memory store", zap.Error(err))
		app.Store = infrastructure.NewMemoryStore()
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.KurrentDB.Enabled {
		bus, err := events.NewBus(cfg.KurrentDB, logger.Named("events"))
		if err != nil {
			logger.Warn("KurrentDB not available, running without event streaming", zap.Error(err))
		} else {
			app.Bus = bus
			publisher = bus
		}
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis not available, escalation lock is process-local", zap.Error(err))
			client.Close()
		} else {
			app.Redis = client
			locker = lock.NewRedisLocker(client)
		}
	}

	provider, err := notification.NewProvider(cfg.Notification, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Notifications = notification.NewService(provider, notification.ConfigFrom(cfg.Notification), logger)

	dir := directory.NewService(app.Store, publisher, logger)
	notifier := notification.NewAlertNotifier(dir, app.Notifications, logger)
	ledger := inventory.NewLedger(app.Store, notifier, publisher, cfg.Inventory.LowStockThreshold, logger)
	transfers := transfer.NewCoordinator(app.Store, ledger, publisher, logger)

	app.Services = api.Services{
		Directory:        dir,
		Ledger:           ledger,
		Alerts:           alert.NewEngine(app.Store, ledger, publisher, logger),
		Transfers:        transfers,
		HospitalRequests: hospitalrequest.NewWorkflow(app.Store, notifier, publisher, logger),
		Donations:        donation.NewWorkflow(app.Store, transfers, publisher, logger),
		Escalation:       escalation.NewScheduler(app.Store, locker, notifier, publisher, escalation.ConfigFrom(cfg.Escalation), logger),
	}
	return app, nil
}

// Close releases the backends. The notification workers are stopped by
// the command that started them.
func (a *App) Close() {
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
	a.Logger.Sync()
}
