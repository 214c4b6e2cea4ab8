package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asaidimu/anansi-fixtures/core"
	"github.com/asaidimu/anansi-fixtures/core/query"
	"github.com/asaidimu/anansi-fixtures/core/schema"
	"github.com/asaidimu/anansi-fixtures/core/value"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SchemaLookup resolves the registered definition of an entity type.
type SchemaLookup interface {
	Get(ctx context.Context, name string) (*schema.EntitySchema, error)
}

// Repository stores dynamic entity records, one collection per entity type.
// It performs no schema validation; callers are expected to validate first.
type Repository struct {
	interactor DatabaseInteractor
	schemas    SchemaLookup
	hub        *EventHub
	logger     *zap.Logger
	now        func() time.Time
	known      sync.Map // collection name -> struct{}
	creating   singleflight.Group
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithClock overrides the clock used for record timestamps.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) { r.now = now }
}

// WithEvents reports record operations to hub.
func WithEvents(hub *EventHub) RepositoryOption {
	return func(r *Repository) { r.hub = hub }
}

// NewRepository returns a Repository. schemas supplies the excludeOnFetch
// policy for list queries and may be nil.
func NewRepository(interactor DatabaseInteractor, schemas SchemaLookup, logger *zap.Logger, opts ...RepositoryOption) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Repository{interactor: interactor, schemas: schemas, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores a new unconsumed record of entityType. An empty environment
// leaves the record untagged.
func (r *Repository) Create(ctx context.Context, entityType string, fields value.Map, environment string) (*DynamicEntity, error) {
	if err := value.CheckKeys(fields); err != nil {
		return nil, err
	}
	if err := r.ensureCollection(ctx, entityType); err != nil {
		return nil, err
	}

	record := newEntityRecord(uuid.New().String(), entityType, environment, fields, r.now())
	return withEventEmission(r.hub, "create", entityType, createEvents, record, nil, func() (*DynamicEntity, error) {
		docs, err := r.interactor.InsertDocuments(ctx, entityType, []map[string]any{record})
		if err != nil {
			return nil, fmt.Errorf("failed to insert %s record: %w", entityType, err)
		}
		if len(docs) != 1 {
			return nil, fmt.Errorf("expected 1 inserted %s record, got %d", entityType, len(docs))
		}
		return documentToEntity(docs[0])
	})
}

// GetByID returns a record regardless of its consumed flag. The schema's
// excludeOnFetch setting does not apply to lookups by id.
func (r *Repository) GetByID(ctx context.Context, entityType, id string) (*DynamicEntity, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	dsl := &query.QueryDSL{
		Filters:    query.And(ofType(entityType), query.Eq(ColumnID, id)),
		Pagination: &query.PaginationOptions{Limit: 1},
	}
	return withEventEmission(r.hub, "read", entityType, readEvents, id, dsl, func() (*DynamicEntity, error) {
		docs, err := r.selectDocuments(ctx, entityType, dsl)
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			return nil, fmt.Errorf("%w: %s record %s", core.ErrNotFound, entityType, id)
		}
		return documentToEntity(docs[0])
	})
}

// Update replaces the dynamic fields of a record and bumps updatedAt.
func (r *Repository) Update(ctx context.Context, entityType, id string, fields value.Map) (*DynamicEntity, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if err := value.CheckKeys(fields); err != nil {
		return nil, err
	}

	updates := map[string]any{
		ColumnFields:    value.ToStorageMap(fields),
		ColumnUpdatedAt: toMillis(r.now()),
	}
	_, err := withEventEmission(r.hub, "update", entityType, updateEvents, updates, id, func() (int64, error) {
		n, err := r.updateDocuments(ctx, entityType, updates, query.And(ofType(entityType), query.Eq(ColumnID, id)))
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, fmt.Errorf("%w: %s record %s", core.ErrNotFound, entityType, id)
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, entityType, id)
}

// Delete removes a single record.
func (r *Repository) Delete(ctx context.Context, entityType, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	_, err := withEventEmission(r.hub, "delete", entityType, deleteEvents, id, nil, func() (int64, error) {
		n, err := r.deleteDocuments(ctx, entityType, query.And(ofType(entityType), query.Eq(ColumnID, id)))
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, fmt.Errorf("%w: %s record %s", core.ErrNotFound, entityType, id)
		}
		return n, nil
	})
	return err
}

// ListAll returns the records of entityType oldest first, windowed by page.
// When the schema sets excludeOnFetch, consumed records are left out.
func (r *Repository) ListAll(ctx context.Context, entityType, environment string, page Page) ([]*DynamicEntity, error) {
	return r.list(ctx, entityType, environment, nil, page)
}

// FilterByField returns the records whose dynamic field equals v, honouring
// the same environment and excludeOnFetch rules as ListAll.
func (r *Repository) FilterByField(ctx context.Context, entityType, field string, v value.Value, environment string, page Page) ([]*DynamicEntity, error) {
	if value.IsReserved(field) {
		return nil, fmt.Errorf("%w: %q", core.ErrReservedFieldName, field)
	}
	return r.list(ctx, entityType, environment, query.Eq(FieldPath(field), value.ToStorage(v)), page)
}

// Exists reports whether any record, consumed or not, has every field in
// match equal to the given value. A record with id excludeID is ignored.
func (r *Repository) Exists(ctx context.Context, entityType string, match value.Map, excludeID string) (bool, error) {
	filters := make([]*query.QueryFilter, 0, len(match)+2)
	filters = append(filters, ofType(entityType))
	for _, k := range match.Keys() {
		filters = append(filters, query.Eq(FieldPath(k), value.ToStorage(match[k])))
	}
	if excludeID != "" {
		filters = append(filters, query.Neq(ColumnID, excludeID))
	}

	docs, err := r.selectDocuments(ctx, entityType, &query.QueryDSL{
		Filters:    query.And(filters...),
		Pagination: &query.PaginationOptions{Limit: 1},
	})
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

// ClaimNext atomically marks the oldest unconsumed record as consumed and
// returns it. Concurrent callers never receive the same record.
func (r *Repository) ClaimNext(ctx context.Context, entityType, environment string) (*DynamicEntity, error) {
	filters := query.And(
		ofType(entityType),
		query.Eq(ColumnIsConsumed, false),
		environmentFilter(environment),
	)
	updates := map[string]any{
		ColumnIsConsumed: true,
		ColumnUpdatedAt:  toMillis(r.now()),
	}

	return withEventEmission(r.hub, "claim", entityType, claimEvents, environment, filters, func() (*DynamicEntity, error) {
		exists, err := r.collectionExists(ctx, entityType)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", core.ErrNoneAvailable, entityType)
		}

		doc, err := r.interactor.ClaimDocument(ctx, entityType, filters, oldestFirst(), updates)
		if err != nil {
			return nil, fmt.Errorf("failed to claim %s record: %w", entityType, err)
		}
		if doc == nil {
			return nil, fmt.Errorf("%w: %s", core.ErrNoneAvailable, entityType)
		}
		return documentToEntity(doc)
	})
}

// ResetAll clears the consumed flag of every consumed record and returns how
// many were reset.
func (r *Repository) ResetAll(ctx context.Context, entityType, environment string) (int64, error) {
	filters := query.And(
		ofType(entityType),
		query.Eq(ColumnIsConsumed, true),
		environmentFilter(environment),
	)
	updates := map[string]any{
		ColumnIsConsumed: false,
		ColumnUpdatedAt:  toMillis(r.now()),
	}
	n, err := r.updateDocuments(ctx, entityType, updates, filters)
	if err != nil {
		return 0, err
	}
	r.logger.Info("Reset consumed records", zap.String("entityType", entityType), zap.String("environment", environment), zap.Int64("count", n))
	return n, nil
}

// DeleteByField removes every record whose dynamic field equals v and
// returns how many were removed.
func (r *Repository) DeleteByField(ctx context.Context, entityType, field string, v value.Value, environment string) (int64, error) {
	if value.IsReserved(field) {
		return 0, fmt.Errorf("%w: %q", core.ErrReservedFieldName, field)
	}
	filters := query.And(ofType(entityType), query.Eq(FieldPath(field), value.ToStorage(v)), environmentFilter(environment))
	return withEventEmission(r.hub, "delete", entityType, deleteEvents, field, filters, func() (int64, error) {
		return r.deleteDocuments(ctx, entityType, filters)
	})
}

// DeleteOlderThan removes every record created strictly before cutoff.
func (r *Repository) DeleteOlderThan(ctx context.Context, entityType string, cutoff time.Time) (int64, error) {
	return r.deleteDocuments(ctx, entityType, query.And(ofType(entityType), query.Lt(ColumnCreatedAt, toMillis(cutoff))))
}

// Collections lists the entity collections, reserved infrastructure
// collections excluded.
func (r *Repository) Collections(ctx context.Context) ([]string, error) {
	all, err := r.interactor.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	out := make([]string, 0, len(all))
	for _, name := range all {
		if !schema.IsReservedCollection(name) {
			out = append(out, name)
		}
	}
	return out, nil
}

// DropCollection removes every record of entityType along with its table.
func (r *Repository) DropCollection(ctx context.Context, entityType string) error {
	if schema.IsReservedCollection(entityType) {
		return fmt.Errorf("%w: collection %q is reserved", core.ErrInvalidDefinition, entityType)
	}
	if _, err := r.checkOwned(ctx, entityType); err != nil {
		return err
	}
	if err := r.interactor.DropCollection(ctx, entityType); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", entityType, err)
	}
	r.known.Delete(entityType)
	r.logger.Info("Dropped collection", zap.String("entityType", entityType))
	r.hub.emit(createEvent(CollectionDeleteSuccess, "drop", entityType, nil, nil, nil, nil, time.Time{}))
	return nil
}

func (r *Repository) list(ctx context.Context, entityType, environment string, extra *query.QueryFilter, page Page) ([]*DynamicEntity, error) {
	exclude, err := r.excludeOnFetch(ctx, entityType)
	if err != nil {
		return nil, err
	}

	qb := query.NewQueryBuilder().
		Where(ColumnEntityType).Eq(entityType).
		Filter(extra).
		Filter(environmentFilter(environment)).
		OrderByAsc(ColumnCreatedAt).
		OrderByAsc(ColumnID)
	if exclude {
		qb.Where(ColumnIsConsumed).Eq(false)
	}
	if page.Limit > 0 {
		qb.Limit(page.Limit)
	}
	if page.Offset > 0 {
		qb.Offset(page.Offset)
	}
	built := qb.Build()
	dsl := &built

	return withEventEmission(r.hub, "read", entityType, readEvents, nil, dsl, func() ([]*DynamicEntity, error) {
		docs, err := r.selectDocuments(ctx, entityType, dsl)
		if err != nil {
			return nil, err
		}
		return documentsToEntities(docs)
	})
}

func (r *Repository) excludeOnFetch(ctx context.Context, entityType string) (bool, error) {
	if r.schemas == nil {
		return false, nil
	}
	s, err := r.schemas.Get(ctx, entityType)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return s.ExcludeOnFetch, nil
}

// selectDocuments treats a missing collection as empty.
func (r *Repository) selectDocuments(ctx context.Context, collection string, dsl *query.QueryDSL) ([]Document, error) {
	exists, err := r.collectionExists(ctx, collection)
	if err != nil || !exists {
		return nil, err
	}
	docs, err := r.interactor.SelectDocuments(ctx, collection, dsl)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	return docs, nil
}

func (r *Repository) updateDocuments(ctx context.Context, collection string, updates map[string]any, filters *query.QueryFilter) (int64, error) {
	exists, err := r.collectionExists(ctx, collection)
	if err != nil || !exists {
		return 0, err
	}
	n, err := r.interactor.UpdateDocuments(ctx, collection, updates, filters)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", collection, err)
	}
	return n, nil
}

func (r *Repository) deleteDocuments(ctx context.Context, collection string, filters *query.QueryFilter) (int64, error) {
	exists, err := r.collectionExists(ctx, collection)
	if err != nil || !exists {
		return 0, err
	}
	n, err := r.interactor.DeleteDocuments(ctx, collection, filters, false)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", collection, err)
	}
	return n, nil
}

func (r *Repository) collectionExists(ctx context.Context, collection string) (bool, error) {
	if _, ok := r.known.Load(collection); ok {
		return true, nil
	}
	exists, err := r.interactor.CollectionExists(ctx, collection)
	if err != nil {
		return false, fmt.Errorf("error looking up collection %s: %w", collection, err)
	}
	if !exists {
		return false, nil
	}

	// A table created under a case variant of collection also answers to it.
	// Reads still see only their own records; only the exact owner is cached.
	owner, err := r.storedAs(ctx, collection)
	if err != nil {
		return false, err
	}
	if owner == collection {
		r.known.Store(collection, struct{}{})
	}
	return true, nil
}

// storedAs returns the collection name whose table serves collection.
func (r *Repository) storedAs(ctx context.Context, collection string) (string, error) {
	names, err := r.interactor.Collections(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list collections: %w", err)
	}
	owner := ""
	for _, name := range names {
		if name == collection {
			return name, nil
		}
		if strings.EqualFold(name, collection) {
			owner = name
		}
	}
	return owner, nil
}

// checkOwned reports whether collection has a table of its own. It fails when
// the table serving collection was created under a case variant.
func (r *Repository) checkOwned(ctx context.Context, collection string) (bool, error) {
	exists, err := r.collectionExists(ctx, collection)
	if err != nil || !exists {
		return false, err
	}
	if _, ok := r.known.Load(collection); !ok {
		return false, fmt.Errorf("%w: collection %q differs only in case from an existing collection", core.ErrConflict, collection)
	}
	return true, nil
}

func (r *Repository) ensureCollection(ctx context.Context, collection string) error {
	if schema.IsReservedCollection(collection) {
		return fmt.Errorf("%w: collection %q is reserved", core.ErrInvalidDefinition, collection)
	}
	exists, err := r.checkOwned(ctx, collection)
	if err != nil || exists {
		return err
	}

	// Concurrent first writes to a new type share one CREATE.
	_, err, _ = r.creating.Do(collection, func() (any, error) {
		if _, ok := r.known.Load(collection); ok {
			return nil, nil
		}
		if err := r.interactor.CreateCollection(ctx, collection); err != nil {
			return nil, fmt.Errorf("failed to create table for %s: %w", collection, err)
		}
		r.known.Store(collection, struct{}{})
		r.logger.Debug("Created collection", zap.String("entityType", collection))
		return nil, nil
	})
	return err
}

func ofType(entityType string) *query.QueryFilter {
	return query.Eq(ColumnEntityType, entityType)
}

func environmentFilter(environment string) *query.QueryFilter {
	if environment == "" {
		return nil
	}
	return query.Eq(ColumnEnvironment, environment)
}

func oldestFirst() []query.SortConfiguration {
	return []query.SortConfiguration{
		{Field: ColumnCreatedAt, Direction: query.SortDirectionAsc},
		{Field: ColumnID, Direction: query.SortDirectionAsc},
	}
}

func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", core.ErrInvalidID, id)
	}
	return nil
}
