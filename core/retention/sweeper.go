// Package retention deletes expired schemas and entity records on a schedule.
package retention

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/asaidimu/anansi-fixtures/core/schema"
	"github.com/asaidimu/anansi-fixtures/core/settings"
	"go.uber.org/zap"
)

const (
	DefaultInitialDelay = 5 * time.Minute
	DefaultInterval     = time.Hour
)

// SchemaStore deletes schemas by age.
type SchemaStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// EntityStore enumerates and prunes entity collections.
type EntityStore interface {
	Collections(ctx context.Context) ([]string, error)
	DeleteOlderThan(ctx context.Context, entityType string, cutoff time.Time) (int64, error)
}

// State is the sweeper's position in its cycle.
type State int32

const (
	Idle State = iota
	Sweeping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sweeping:
		return "sweeping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config sets the schedule. Zero values fall back to the defaults.
type Config struct {
	InitialDelay time.Duration
	Interval     time.Duration
}

// Sweeper periodically removes schemas and records older than the configured
// retention periods.
type Sweeper struct {
	settings settings.Provider
	schemas  SchemaStore
	entities EntityStore
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
	state    atomic.Int32
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the clock used to compute cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func New(provider settings.Provider, schemas SchemaStore, entities EntityStore, cfg Config, logger *zap.Logger, opts ...Option) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	s := &Sweeper{
		settings: provider,
		schemas:  schemas,
		entities: entities,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Sweeper) State() State {
	return State(s.state.Load())
}

// Run waits for the initial delay, then sweeps once per interval until ctx
// is cancelled. It returns ctx.Err().
func (s *Sweeper) Run(ctx context.Context) error {
	defer s.state.Store(int32(Stopped))
	s.logger.Info("Retention sweeper started",
		zap.Duration("initialDelay", s.cfg.InitialDelay),
		zap.Duration("interval", s.cfg.Interval))

	timer := time.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retention sweeper stopped")
			return ctx.Err()
		case <-timer.C:
		}

		report := s.RunOnce(ctx)
		s.logReport(report)
		timer.Reset(s.cfg.Interval)
	}
}

// RunOnce performs a single sweep and reports what it did. Errors are
// recorded per phase and per collection; one failure never stops the rest.
func (s *Sweeper) RunOnce(ctx context.Context) (report Report) {
	s.state.Store(int32(Sweeping))
	defer s.state.CompareAndSwap(int32(Sweeping), int32(Idle))

	report = Report{StartedAt: s.now().UTC()}
	defer func() { report.FinishedAt = s.now().UTC() }()

	cfg, err := s.settings.Settings(ctx)
	if err != nil {
		report.SettingsError = err
		s.logger.Error("Failed to read retention settings", zap.Error(err))
		return report
	}
	if !cfg.AutoCleanupEnabled {
		report.Skipped = true
		s.logger.Debug("Automatic cleanup disabled, skipping sweep")
		return report
	}

	if cfg.SchemaRetentionDays != nil {
		report.Schemas = s.sweepSchemas(ctx, cutoff(report.StartedAt, *cfg.SchemaRetentionDays))
	}
	if cfg.EntityRetentionDays != nil {
		report.Entities = s.sweepEntities(ctx, cutoff(report.StartedAt, *cfg.EntityRetentionDays))
	}
	return report
}

func (s *Sweeper) sweepSchemas(ctx context.Context, before time.Time) *SchemaPhase {
	phase := &SchemaPhase{Cutoff: before}
	deleted, err := s.schemas.DeleteOlderThan(ctx, before)
	phase.Deleted = deleted
	if err != nil {
		phase.Err = err
		s.logger.Error("Schema retention phase failed", zap.Error(err))
	}
	return phase
}

func (s *Sweeper) sweepEntities(ctx context.Context, before time.Time) *EntityPhase {
	phase := &EntityPhase{Cutoff: before, Deleted: map[string]int64{}}

	collections, err := s.entities.Collections(ctx)
	if err != nil {
		phase.Err = err
		s.logger.Error("Failed to enumerate collections", zap.Error(err))
		return phase
	}

	for _, name := range collections {
		if err := ctx.Err(); err != nil {
			phase.Err = err
			return phase
		}
		if schema.IsReservedCollection(name) {
			continue
		}

		n, err := s.entities.DeleteOlderThan(ctx, name, before)
		if err != nil {
			phase.Failures = append(phase.Failures, CollectionFailure{Collection: name, Err: err})
			s.logger.Error("Failed to prune collection", zap.String("collection", name), zap.Error(err))
			continue
		}
		phase.Deleted[name] = n
		if n > 0 {
			s.logger.Info("Pruned expired records",
				zap.String("collection", name),
				zap.Int64("deleted", n),
				zap.Time("cutoff", before))
		}
	}
	return phase
}

func (s *Sweeper) logReport(r Report) {
	fields := []zap.Field{
		zap.Bool("skipped", r.Skipped),
		zap.Duration("took", r.FinishedAt.Sub(r.StartedAt)),
	}
	if r.Schemas != nil {
		fields = append(fields, zap.Int("schemasDeleted", len(r.Schemas.Deleted)))
	}
	if r.Entities != nil {
		fields = append(fields, zap.Int64("recordsDeleted", r.Entities.Total()))
	}
	if r.Failed() {
		s.logger.Warn("Retention sweep finished with errors", fields...)
		return
	}
	s.logger.Info("Retention sweep finished", fields...)
}

func cutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}
