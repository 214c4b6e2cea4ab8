package persistence

import (
	"fmt"
	"time"

	"github.com/asaidimu/anansi-fixtures/core/value"
)

// DynamicEntity is a single stored fixture record: a fixed envelope plus an
// open set of schema-described attributes.
type DynamicEntity struct {
	ID          string    `json:"id"`
	EntityType  string    `json:"entityType"`
	Environment *string   `json:"environment,omitempty"`
	Fields      value.Map `json:"fields"`
	IsConsumed  bool      `json:"isConsumed"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// EnvironmentName returns the environment tag, or "" when untagged.
func (e *DynamicEntity) EnvironmentName() string {
	if e.Environment == nil {
		return ""
	}
	return *e.Environment
}

// Page bounds a list query. A zero Limit leaves the result unbounded.
type Page struct {
	Limit  int
	Offset int
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func newEntityRecord(id, entityType, environment string, fields value.Map, at time.Time) map[string]any {
	var env any
	if environment != "" {
		env = environment
	}
	ts := toMillis(at)
	return map[string]any{
		ColumnID:          id,
		ColumnEntityType:  entityType,
		ColumnEnvironment: env,
		ColumnIsConsumed:  false,
		ColumnCreatedAt:   ts,
		ColumnUpdatedAt:   ts,
		ColumnFields:      value.ToStorageMap(fields),
	}
}

func documentToEntity(doc Document) (*DynamicEntity, error) {
	id, ok := doc[ColumnID].(string)
	if !ok {
		return nil, fmt.Errorf("document has no string id: %v", doc[ColumnID])
	}

	entity := &DynamicEntity{ID: id}
	entity.EntityType, _ = doc[ColumnEntityType].(string)
	if env, ok := doc[ColumnEnvironment].(string); ok {
		entity.Environment = &env
	}
	entity.IsConsumed, _ = doc[ColumnIsConsumed].(bool)

	if ms, ok := doc[ColumnCreatedAt].(int64); ok {
		entity.CreatedAt = fromMillis(ms)
	}
	if ms, ok := doc[ColumnUpdatedAt].(int64); ok {
		entity.UpdatedAt = fromMillis(ms)
	}

	raw, _ := doc[ColumnFields].(map[string]any)
	fields, err := value.FromStorageFields(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding fields of %s: %w", id, err)
	}
	entity.Fields = fields
	return entity, nil
}

func documentsToEntities(docs []Document) ([]*DynamicEntity, error) {
	entities := make([]*DynamicEntity, 0, len(docs))
	for _, doc := range docs {
		entity, err := documentToEntity(doc)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}
