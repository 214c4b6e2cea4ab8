package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/asaidimu/anansi-fixtures/core"
	"github.com/asaidimu/anansi-fixtures/core/query"
	"github.com/asaidimu/anansi-fixtures/core/schema"
	"github.com/asaidimu/anansi-fixtures/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry stores entity schema definitions in the reserved schemas
// collection. Each definition is keyed by its entity type name; names that
// differ only in case are treated as the same name.
type Registry struct {
	interactor DatabaseInteractor
	hub        *EventHub
	logger     *zap.Logger
	now        func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock overrides the clock used for timestamps.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithRegistryEvents reports schema changes to hub.
func WithRegistryEvents(hub *EventHub) RegistryOption {
	return func(r *Registry) { r.hub = hub }
}

// NewRegistry ensures the schemas collection exists and returns a Registry over it.
func NewRegistry(ctx context.Context, interactor DatabaseInteractor, logger *zap.Logger, opts ...RegistryOption) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	exists, err := interactor.CollectionExists(ctx, schema.SchemasCollection)
	if err != nil {
		return nil, fmt.Errorf("error looking up schema collection: %w", err)
	}
	if !exists {
		if err := interactor.CreateCollection(ctx, schema.SchemasCollection); err != nil {
			return nil, fmt.Errorf("failed to create table for schemas %s: %w", schema.SchemasCollection, err)
		}
	}

	r := &Registry{interactor: interactor, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Register validates def, assigns it an identity and timestamps, and stores it.
func (r *Registry) Register(ctx context.Context, def schema.EntitySchema) (*schema.EntitySchema, error) {
	def.Normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	def.ID = uuid.New().String()
	def.CreatedAt = now
	def.UpdatedAt = now

	record, err := schemaToRecord(&def)
	if err != nil {
		return nil, err
	}

	tx, err := r.interactor.StartTransaction(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Storage tables are named after entity types and SQLite resolves table
	// names without regard to case, so names differing only in case collide.
	taken, err := r.caseFoldedName(ctx, tx, def.Name)
	if err != nil {
		return nil, err
	}
	if taken != "" {
		return nil, fmt.Errorf("%w: entity type %q is already registered as %q", core.ErrConflict, def.Name, taken)
	}

	if _, err := tx.InsertDocuments(ctx, schema.SchemasCollection, []map[string]any{record}); err != nil {
		if errors.Is(err, core.ErrConflict) {
			return nil, fmt.Errorf("%w: entity type %q is already registered", core.ErrConflict, def.Name)
		}
		return nil, fmt.Errorf("failed to store schema %q: %w", def.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit schema registration: %w", err)
	}

	r.logger.Info("Registered entity schema", zap.String("entityType", def.Name), zap.String("id", def.ID))
	r.hub.emit(createEvent(SchemaRegisterSuccess, "register", schema.SchemasCollection, def.Name, &def, nil, nil, time.Time{}))
	return &def, nil
}

// caseFoldedName returns the registered name equal to name under case
// folding, or "" when there is none.
func (r *Registry) caseFoldedName(ctx context.Context, interactor DatabaseInteractor, name string) (string, error) {
	docs, err := interactor.SelectDocuments(ctx, schema.SchemasCollection, &query.QueryDSL{})
	if err != nil {
		return "", fmt.Errorf("failed to list schemas: %w", err)
	}
	for _, doc := range docs {
		if id, _ := doc[ColumnID].(string); strings.EqualFold(id, name) {
			return id, nil
		}
	}
	return "", nil
}

// Get returns the schema registered under name.
func (r *Registry) Get(ctx context.Context, name string) (*schema.EntitySchema, error) {
	return r.get(ctx, r.interactor, name)
}

func (r *Registry) get(ctx context.Context, interactor DatabaseInteractor, name string) (*schema.EntitySchema, error) {
	docs, err := interactor.SelectDocuments(ctx, schema.SchemasCollection, &query.QueryDSL{
		Filters:    query.Eq(ColumnID, name),
		Pagination: &query.PaginationOptions{Limit: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %q: %w", name, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: schema %q", core.ErrNotFound, name)
	}
	return documentToSchema(docs[0])
}

// List returns every registered schema sorted by entity type name.
func (r *Registry) List(ctx context.Context) ([]schema.EntitySchema, error) {
	dsl := query.NewQueryBuilder().OrderByAsc(ColumnID).Build()
	docs, err := r.interactor.SelectDocuments(ctx, schema.SchemasCollection, &dsl)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}

	out := make([]schema.EntitySchema, 0, len(docs))
	for _, doc := range docs {
		s, err := documentToSchema(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Update replaces the definition registered under name. The entity type name,
// identity and creation time are preserved.
func (r *Registry) Update(ctx context.Context, name string, def schema.EntitySchema) (*schema.EntitySchema, error) {
	tx, err := r.interactor.StartTransaction(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := r.get(ctx, tx, name)
	if err != nil {
		return nil, err
	}

	def.Name = existing.Name
	def.Normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	def.ID = existing.ID
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = r.now().UTC()

	record, err := schemaToRecord(&def)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{
		ColumnFields:    record[ColumnFields],
		ColumnUpdatedAt: record[ColumnUpdatedAt],
	}
	if _, err := tx.UpdateDocuments(ctx, schema.SchemasCollection, updates, query.Eq(ColumnID, name)); err != nil {
		return nil, fmt.Errorf("failed to update schema %q: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit schema update: %w", err)
	}

	r.logger.Info("Updated entity schema", zap.String("entityType", name))
	r.hub.emit(createEvent(SchemaUpdateSuccess, "update", schema.SchemasCollection, name, &def, nil, nil, time.Time{}))
	return &def, nil
}

// Delete removes the schema registered under name. Records of the entity type
// are left in place.
func (r *Registry) Delete(ctx context.Context, name string) error {
	n, err := r.interactor.DeleteDocuments(ctx, schema.SchemasCollection, query.Eq(ColumnID, name), false)
	if err != nil {
		return fmt.Errorf("failed to delete schema %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: schema %q", core.ErrNotFound, name)
	}

	r.logger.Info("Deleted entity schema", zap.String("entityType", name))
	r.hub.emit(createEvent(SchemaDeleteSuccess, "delete", schema.SchemasCollection, name, nil, nil, nil, time.Time{}))
	return nil
}

// DeleteOlderThan removes every schema created strictly before cutoff and
// returns the names removed.
func (r *Registry) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	dsl := query.NewQueryBuilder().
		Where(ColumnCreatedAt).Lt(toMillis(cutoff)).
		OrderByAsc(ColumnID).
		Build()
	docs, err := r.interactor.SelectDocuments(ctx, schema.SchemasCollection, &dsl)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired schemas: %w", err)
	}

	var deleted []string
	for _, doc := range docs {
		name, _ := doc[ColumnID].(string)
		n, err := r.interactor.DeleteDocuments(ctx, schema.SchemasCollection, query.Eq(ColumnID, name), false)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete expired schema %q: %w", name, err)
		}
		if n == 0 {
			continue
		}
		r.logger.Info("Deleted expired entity schema", zap.String("entityType", name), zap.Time("cutoff", cutoff))
		deleted = append(deleted, name)
	}
	return deleted, nil
}

func schemaToRecord(def *schema.EntitySchema) (map[string]any, error) {
	fields, err := utils.StructToMap(def)
	if err != nil {
		return nil, fmt.Errorf("error converting schema %s: %w", def.Name, err)
	}

	record := map[string]any{
		ColumnID:          def.Name,
		ColumnEntityType:  def.Name,
		ColumnEnvironment: nil,
		ColumnIsConsumed:  false,
		ColumnCreatedAt:   toMillis(def.CreatedAt),
		ColumnUpdatedAt:   toMillis(def.UpdatedAt),
		ColumnFields:      fields,
	}
	return record, nil
}

func documentToSchema(doc Document) (*schema.EntitySchema, error) {
	s, err := utils.MapToStruct[*schema.EntitySchema](doc[ColumnFields])
	if err != nil {
		return nil, fmt.Errorf("error reading schema %v: %w", doc[ColumnID], err)
	}
	return s, nil
}
