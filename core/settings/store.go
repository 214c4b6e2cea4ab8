package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/asaidimu/anansi-fixtures/core/persistence"
	"github.com/asaidimu/anansi-fixtures/core/query"
	"github.com/asaidimu/anansi-fixtures/core/schema"
	"github.com/asaidimu/anansi-fixtures/utils"
	"go.uber.org/zap"
)

const retentionKey = "retention"

// Store keeps settings in the reserved settings collection so they can be
// changed at runtime. Until something is saved it returns its defaults.
type Store struct {
	interactor persistence.DatabaseInteractor
	defaults   Settings
	logger     *zap.Logger
}

// NewStore ensures the settings collection exists.
func NewStore(ctx context.Context, interactor persistence.DatabaseInteractor, defaults Settings, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := interactor.CreateCollection(ctx, schema.SettingsCollection); err != nil {
		return nil, fmt.Errorf("failed to create table for settings %s: %w", schema.SettingsCollection, err)
	}
	return &Store{interactor: interactor, defaults: defaults, logger: logger}, nil
}

// Settings returns the saved settings, or the defaults when none were saved.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	docs, err := s.interactor.SelectDocuments(ctx, schema.SettingsCollection, &query.QueryDSL{
		Filters:    query.Eq(persistence.ColumnID, retentionKey),
		Pagination: &query.PaginationOptions{Limit: 1},
	})
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	if len(docs) == 0 {
		return s.defaults, nil
	}

	out, err := utils.MapToStruct[Settings](docs[0][persistence.ColumnFields])
	if err != nil {
		return Settings{}, fmt.Errorf("error reading settings: %w", err)
	}
	return out, nil
}

// Save validates and stores settings, replacing any saved before.
func (s *Store) Save(ctx context.Context, settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	fields, err := utils.StructToMap(settings)
	if err != nil {
		return fmt.Errorf("error converting settings: %w", err)
	}

	now := time.Now().UTC().UnixMilli()
	tx, err := s.interactor.StartTransaction(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := tx.UpdateDocuments(ctx, schema.SettingsCollection, map[string]any{
		persistence.ColumnFields:    fields,
		persistence.ColumnUpdatedAt: now,
	}, query.Eq(persistence.ColumnID, retentionKey))
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	if n == 0 {
		_, err = tx.InsertDocuments(ctx, schema.SettingsCollection, []map[string]any{{
			persistence.ColumnID:          retentionKey,
			persistence.ColumnEntityType:  schema.SettingsCollection,
			persistence.ColumnEnvironment: nil,
			persistence.ColumnIsConsumed:  false,
			persistence.ColumnCreatedAt:   now,
			persistence.ColumnUpdatedAt:   now,
			persistence.ColumnFields:      fields,
		}})
		if err != nil {
			return fmt.Errorf("failed to insert settings: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit settings: %w", err)
	}

	s.logger.Info("Saved retention settings",
		zap.Bool("autoCleanupEnabled", settings.AutoCleanupEnabled),
		zap.Any("schemaRetentionDays", settings.SchemaRetentionDays),
		zap.Any("entityRetentionDays", settings.EntityRetentionDays))
	return nil
}
