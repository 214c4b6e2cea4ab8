package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/asaidimu/anansi-fixtures/config"
	"github.com/asaidimu/anansi-fixtures/core/notify"
	"github.com/asaidimu/anansi-fixtures/core/persistence"
	"github.com/asaidimu/anansi-fixtures/core/retention"
	"github.com/asaidimu/anansi-fixtures/core/service"
	"github.com/asaidimu/anansi-fixtures/core/settings"
	"github.com/asaidimu/anansi-fixtures/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// application holds the components shared by every command.
type application struct {
	cfg      config.Config
	logger   *zap.Logger
	db       *sql.DB
	events   *persistence.EventHub
	registry *persistence.Registry
	repo     *persistence.Repository
	settings *settings.Store
	hub      *notify.Hub
	service  *service.Service
	sweeper  *retention.Sweeper
}

// newLogger builds the process logger. debug overrides the configured level.
func newLogger(cfg config.LoggingConfig, debug bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if debug {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.TimeKey = "timestamp"

	return zc.Build()
}

// newApplication opens the database and wires the store over it.
func newApplication(ctx context.Context, cfg config.Config, logger *zap.Logger) (*application, error) {
	db, err := sqlite.Open(ctx, cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	app := &application{cfg: cfg, logger: logger, db: db}
	if err := app.wire(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return app, nil
}

func (a *application) wire(ctx context.Context) error {
	options := persistence.DefaultInteractorOptions()
	options.TablePrefix = a.cfg.Storage.TablePrefix
	interactor := sqlite.NewSQLiteInteractor(a.db, a.logger.Named("sqlite"), &options, nil)

	events, err := persistence.NewEventHub()
	if err != nil {
		return err
	}
	a.events = events
	a.auditFailures()

	a.registry, err = persistence.NewRegistry(ctx, interactor, a.logger.Named("registry"), persistence.WithRegistryEvents(events))
	if err != nil {
		return err
	}
	a.repo = persistence.NewRepository(interactor, a.registry, a.logger.Named("repository"), persistence.WithEvents(events))

	a.settings, err = settings.NewStore(ctx, interactor, a.cfg.Retention.Defaults, a.logger.Named("settings"))
	if err != nil {
		return err
	}

	a.hub, err = notify.NewHub(a.logger.Named("notify"))
	if err != nil {
		return err
	}

	a.service = service.New(a.registry, a.repo, service.Options{
		Publisher: notify.NewLogPublisher(a.logger.Named("publisher")),
		Notifier:  a.hub,
		Logger:    a.logger.Named("service"),
	})

	a.sweeper = retention.New(a.settings, a.registry, a.repo, retention.Config{
		InitialDelay: a.cfg.Retention.InitialDelay,
		Interval:     a.cfg.Retention.Interval,
	}, a.logger.Named("retention"))
	return nil
}

// auditFailures logs every failed storage operation reported by the
// persistence layer.
func (a *application) auditFailures() {
	label := "failure-audit"
	for _, event := range []persistence.PersistenceEventType{
		persistence.DocumentCreateFailed,
		persistence.DocumentReadFailed,
		persistence.DocumentUpdateFailed,
		persistence.DocumentDeleteFailed,
		persistence.DocumentClaimFailed,
	} {
		a.events.RegisterSubscription(persistence.RegisterSubscriptionOptions{
			Event: event,
			Label: &label,
			Callback: func(ctx context.Context, e persistence.PersistenceEvent) error {
				fields := []zap.Field{
					zap.String("event", string(e.Type)),
					zap.String("operation", e.Operation),
				}
				if e.Collection != nil {
					fields = append(fields, zap.String("entityType", *e.Collection))
				}
				if e.Error != nil {
					fields = append(fields, zap.String("error", *e.Error))
				}
				if len(e.Issues) > 0 {
					fields = append(fields, zap.Int("issues", len(e.Issues)))
				}
				a.logger.Debug("Storage operation failed", fields...)
				return nil
			},
		})
	}
}

func (a *application) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
