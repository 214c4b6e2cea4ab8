package persistence

import (
	"context"

	"github.com/asaidimu/anansi-fixtures/core/query"
)

// Envelope columns shared by every collection table. Dynamic attributes live
// inside the JSON column named by ColumnFields and are addressed in query
// filters with the FieldPrefix prefix, e.g. "fields.price".
const (
	ColumnID          = "id"
	ColumnEntityType  = "entityType"
	ColumnEnvironment = "environment"
	ColumnIsConsumed  = "isConsumed"
	ColumnCreatedAt   = "createdAt"
	ColumnUpdatedAt   = "updatedAt"
	ColumnFields      = "fields"

	FieldPrefix = ColumnFields + "."
)

// FieldPath returns the query path addressing a dynamic attribute.
func FieldPath(name string) string {
	return FieldPrefix + name
}

// Document is a raw row as returned by a DatabaseInteractor. Timestamps are
// Unix milliseconds, isConsumed is a bool and fields is a storage-native map.
type Document map[string]any

// InteractorOptions provides configuration for the interactor.
type InteractorOptions struct {
	// IfNotExists adds IF NOT EXISTS clause to CREATE TABLE statements.
	IfNotExists bool

	// CreateIndexes creates the claim and retention indexes along with the table.
	CreateIndexes bool

	// TablePrefix adds a prefix to all table names.
	TablePrefix string
}

// DefaultInteractorOptions returns the options used by the service.
func DefaultInteractorOptions() InteractorOptions {
	return InteractorOptions{IfNotExists: true, CreateIndexes: true}
}

// DatabaseInteractor defines the interface for interacting with the database.
// It can operate in either a non-transactional (default) or transactional mode.
// The transactional methods are only meaningful on an instance returned by
// StartTransaction.
type DatabaseInteractor interface {
	SelectDocuments(ctx context.Context, collection string, dsl *query.QueryDSL) ([]Document, error)
	InsertDocuments(ctx context.Context, collection string, records []map[string]any) ([]Document, error)
	UpdateDocuments(ctx context.Context, collection string, updates map[string]any, filters *query.QueryFilter) (int64, error)
	DeleteDocuments(ctx context.Context, collection string, filters *query.QueryFilter, unsafeDelete bool) (int64, error)

	// ClaimDocument applies updates to the first document matching filters in
	// sort order and returns it, as one atomic statement. It returns nil when
	// nothing matched.
	ClaimDocument(ctx context.Context, collection string, filters *query.QueryFilter, sort []query.SortConfiguration, updates map[string]any) (Document, error)

	// CreateCollection creates the table backing a collection.
	CreateCollection(ctx context.Context, collection string) error

	// DropCollection drops a table if it exists.
	DropCollection(ctx context.Context, collection string) error

	// CollectionExists checks if a table exists in the database.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// Collections lists every collection, reserved ones included, sorted by name.
	Collections(ctx context.Context) ([]string, error)

	// StartTransaction returns a new DatabaseInteractor bound to a transaction.
	// The original interactor instance remains non-transactional.
	StartTransaction(ctx context.Context) (DatabaseInteractor, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
