package query

// QueryGeneratorFactory defines the interface for a factory that creates
// QueryGenerator instances, one per collection.
type QueryGeneratorFactory interface {
	// CreateGenerator creates a new QueryGenerator for a specific collection.
	CreateGenerator(collection string) (QueryGenerator, error)
}

// QueryGenerator translates the abstract query representation for one
// collection into a concrete SQL dialect.
type QueryGenerator interface {
	// GenerateSelectSQL creates a SELECT statement and its parameters from a QueryDSL.
	GenerateSelectSQL(dsl *QueryDSL) (string, []any, error)

	// GenerateUpdateSQL creates an UPDATE statement. Keys of updates address
	// envelope columns; the dynamic field document is replaced as a whole
	// under the "fields" key.
	GenerateUpdateSQL(updates map[string]any, filters *QueryFilter) (string, []any, error)

	// GenerateInsertSQL creates an INSERT ... RETURNING statement for the records.
	GenerateInsertSQL(records []map[string]any) (string, []any, error)

	// GenerateDeleteSQL creates a DELETE statement. For safety, it requires a
	// WHERE clause unless unsafeDelete is set.
	GenerateDeleteSQL(filters *QueryFilter, unsafeDelete bool) (string, []any, error)

	// GenerateClaimSQL creates a single statement that marks the first row
	// matching filters (in sort order) as consumed and returns it.
	GenerateClaimSQL(filters *QueryFilter, sort []SortConfiguration, updates map[string]any) (string, []any, error)
}
