package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/asaidimu/anansi-fixtures/core"
	"github.com/asaidimu/anansi-fixtures/core/persistence"
	"github.com/asaidimu/anansi-fixtures/core/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "fixtures.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestInteractor(t *testing.T) persistence.DatabaseInteractor {
	t.Helper()
	return NewSQLiteInteractor(openTestDB(t), nil, nil, nil)
}

func record(id string, createdAt int64, env any, fields map[string]any) map[string]any {
	return map[string]any{
		persistence.ColumnID:          id,
		persistence.ColumnEntityType:  "Widget",
		persistence.ColumnEnvironment: env,
		persistence.ColumnIsConsumed:  false,
		persistence.ColumnCreatedAt:   createdAt,
		persistence.ColumnUpdatedAt:   createdAt,
		persistence.ColumnFields:      fields,
	}
}

func TestCollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	i := newTestInteractor(t)

	exists, err := i.CollectionExists(ctx, "Widget")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, i.CreateCollection(ctx, "Widget"))
	require.NoError(t, i.CreateCollection(ctx, "Widget"), "creation is idempotent")
	require.NoError(t, i.CreateCollection(ctx, "_schemas"))

	exists, err = i.CollectionExists(ctx, "Widget")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = i.CollectionExists(ctx, "wIdGeT")
	require.NoError(t, err)
	assert.True(t, exists, "table names resolve without regard to case")

	names, err := i.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Widget", "_schemas"}, names)

	require.NoError(t, i.DropCollection(ctx, "Widget"))
	exists, err = i.CollectionExists(ctx, "Widget")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCollections_TablePrefix(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	plain := NewSQLiteInteractor(db, nil, nil, nil)
	prefixed := NewSQLiteInteractor(db, nil, &persistence.InteractorOptions{IfNotExists: true, TablePrefix: "fx_"}, nil)

	require.NoError(t, plain.CreateCollection(ctx, "Other"))
	require.NoError(t, prefixed.CreateCollection(ctx, "Widget"))

	names, err := prefixed.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Widget"}, names)
}

func TestInsertAndSelectPreservesKinds(t *testing.T) {
	ctx := context.Background()
	i := newTestInteractor(t)
	require.NoError(t, i.CreateCollection(ctx, "Widget"))

	fields := map[string]any{
		"name":  "Gear",
		"price": float64(3),
		"qty":   int32(7),
		"big":   int64(1) << 40,
		"ok":    true,
		"tags":  []any{"a", int32(1)},
		"dims":  map[string]any{"w": 1.5},
		"none":  nil,
	}
	docs, err := i.InsertDocuments(ctx, "Widget", []map[string]any{record("id-1", 100, "qa", fields)})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Equal(t, "id-1", doc[persistence.ColumnID])
	assert.Equal(t, "qa", doc[persistence.ColumnEnvironment])
	assert.Equal(t, false, doc[persistence.ColumnIsConsumed])
	assert.Equal(t, int64(100), doc[persistence.ColumnCreatedAt])
	assert.Equal(t, fields, doc[persistence.ColumnFields])

	selected, err := i.SelectDocuments(ctx, "Widget", &query.QueryDSL{
		Filters: query.Eq(persistence.FieldPath("price"), float64(3)),
	})
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, fields, selected[0][persistence.ColumnFields])

	selected, err = i.SelectDocuments(ctx, "Widget", &query.QueryDSL{
		Filters: query.Eq(persistence.FieldPath("ok"), true),
	})
	require.NoError(t, err)
	assert.Len(t, selected, 1)
}

func TestInsertDuplicateIDIsConflict(t *testing.T) {
	ctx := context.Background()
	i := newTestInteractor(t)
	require.NoError(t, i.CreateCollection(ctx, "Widget"))

	_, err := i.InsertDocuments(ctx, "Widget", []map[string]any{record("dup", 1, nil, nil)})
	require.NoError(t, err)
	_, err = i.InsertDocuments(ctx, "Widget", []map[string]any{record("dup", 2, nil, nil)})
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	i := newTestInteractor(t)
	require.NoError(t, i.CreateCollection(ctx, "Widget"))
	_, err := i.InsertDocuments(ctx, "Widget", []map[string]any{
		record("a", 1, nil, map[string]any{"n": int32(1)}),
		record("b", 2, nil, map[string]any{"n": int32(2)}),
	})
	require.NoError(t, err)

	n, err := i.UpdateDocuments(ctx, "Widget",
		map[string]any{persistence.ColumnFields: map[string]any{"n": int32(9)}},
		query.Eq(persistence.ColumnID, "a"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	docs, err := i.SelectDocuments(ctx, "Widget", &query.QueryDSL{Filters: query.Eq(persistence.FieldPath("n"), int32(9))})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0][persistence.ColumnID])

	n, err = i.DeleteDocuments(ctx, "Widget", query.Lt(persistence.ColumnCreatedAt, int64(2)), false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = i.DeleteDocuments(ctx, "Widget", nil, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func claimArgs(env string) (*query.QueryFilter, []query.SortConfiguration, map[string]any) {
	var envFilter *query.QueryFilter
	if env != "" {
		envFilter = query.Eq(persistence.ColumnEnvironment, env)
	}
	return query.And(query.Eq(persistence.ColumnIsConsumed, false), envFilter),
		[]query.SortConfiguration{
			{Field: persistence.ColumnCreatedAt, Direction: query.SortDirectionAsc},
			{Field: persistence.ColumnID, Direction: query.SortDirectionAsc},
		},
		map[string]any{persistence.ColumnIsConsumed: true, persistence.ColumnUpdatedAt: int64(1000)}
}

func TestClaimDocument_OldestFirstThenNone(t *testing.T) {
	ctx := context.Background()
	i := newTestInteractor(t)
	require.NoError(t, i.CreateCollection(ctx, "Widget"))
	_, err := i.InsertDocuments(ctx, "Widget", []map[string]any{
		record("newer", 20, "qa", nil),
		record("older", 10, "qa", nil),
		record("other-env", 5, "dev", nil),
	})
	require.NoError(t, err)

	filters, sorts, updates := claimArgs("qa")

	doc, err := i.ClaimDocument(ctx, "Widget", filters, sorts, updates)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "older", doc[persistence.ColumnID])
	assert.Equal(t, true, doc[persistence.ColumnIsConsumed])
	assert.Equal(t, int64(1000), doc[persistence.ColumnUpdatedAt])

	doc, err = i.ClaimDocument(ctx, "Widget", filters, sorts, updates)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "newer", doc[persistence.ColumnID])

	doc, err = i.ClaimDocument(ctx, "Widget", filters, sorts, updates)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestClaimDocument_ConcurrentClaimsAreDisjoint(t *testing.T) {
	ctx := context.Background()
	i := newTestInteractor(t)
	require.NoError(t, i.CreateCollection(ctx, "Widget"))

	const records = 25
	const workers = 10
	batch := make([]map[string]any, 0, records)
	for n := 0; n < records; n++ {
		batch = append(batch, record(fmt.Sprintf("r-%02d", n), int64(n), nil, nil))
	}
	_, err := i.InsertDocuments(ctx, "Widget", batch)
	require.NoError(t, err)

	filters, sorts, updates := claimArgs("")

	var mu sync.Mutex
	claimed := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				doc, err := i.ClaimDocument(ctx, "Widget", filters, sorts, updates)
				if err != nil {
					t.Error(err)
					return
				}
				if doc == nil {
					return
				}
				mu.Lock()
				claimed[doc[persistence.ColumnID].(string)]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, records)
	for id, count := range claimed {
		assert.Equal(t, 1, count, "record %s claimed more than once", id)
	}
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	i := newTestInteractor(t)
	require.NoError(t, i.CreateCollection(ctx, "Widget"))

	assert.Error(t, i.Commit(ctx))
	assert.Error(t, i.Rollback(ctx))

	tx, err := i.StartTransaction(ctx)
	require.NoError(t, err)
	_, err = tx.StartTransaction(ctx)
	assert.Error(t, err)

	_, err = tx.InsertDocuments(ctx, "Widget", []map[string]any{record("x", 1, nil, nil)})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	docs, err := i.SelectDocuments(ctx, "Widget", &query.QueryDSL{})
	require.NoError(t, err)
	assert.Empty(t, docs)

	tx, err = i.StartTransaction(ctx)
	require.NoError(t, err)
	_, err = tx.InsertDocuments(ctx, "Widget", []map[string]any{record("y", 1, nil, nil)})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Rollback(ctx), "rollback after commit is a no-op")

	docs, err = i.SelectDocuments(ctx, "Widget", &query.QueryDSL{})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
