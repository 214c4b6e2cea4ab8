package persistence_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/asaidimu/anansi-fixtures/core/persistence"
	"github.com/asaidimu/anansi-fixtures/core/schema"
	"github.com/asaidimu/anansi-fixtures/sqlite"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock shared by registry and repository.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	interactor persistence.DatabaseInteractor
	registry   *persistence.Registry
	repo       *persistence.Repository
	hub        *persistence.EventHub
	clock      *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hub, err := persistence.NewEventHub()
	require.NoError(t, err)

	clock := newFakeClock()
	interactor := sqlite.NewSQLiteInteractor(db, nil, nil, nil)
	registry, err := persistence.NewRegistry(ctx, interactor, nil,
		persistence.WithRegistryClock(clock.Now),
		persistence.WithRegistryEvents(hub))
	require.NoError(t, err)

	repo := persistence.NewRepository(interactor, registry, nil,
		persistence.WithClock(clock.Now),
		persistence.WithEvents(hub))

	return &fixture{interactor: interactor, registry: registry, repo: repo, hub: hub, clock: clock}
}

func widgetSchema() schema.EntitySchema {
	return schema.EntitySchema{
		Name: "Widget",
		Fields: []schema.FieldDefinition{
			{Name: "sku", Type: schema.FieldTypeString, Required: true},
			{Name: "price", Type: schema.FieldTypeNumber},
		},
		Filterable: []string{"sku"},
		Unique:     []string{"sku"},
	}
}
