// Package service is the validating façade over the schema registry and the
// entity repository. It is what transports such as the REST API call.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/asaidimu/anansi-fixtures/core"
	"github.com/asaidimu/anansi-fixtures/core/notify"
	"github.com/asaidimu/anansi-fixtures/core/persistence"
	"github.com/asaidimu/anansi-fixtures/core/schema"
	"github.com/asaidimu/anansi-fixtures/core/value"
	"go.uber.org/zap"
)

// Schemas is the registry surface the service relies on.
type Schemas interface {
	Register(ctx context.Context, def schema.EntitySchema) (*schema.EntitySchema, error)
	Get(ctx context.Context, name string) (*schema.EntitySchema, error)
	List(ctx context.Context) ([]schema.EntitySchema, error)
	Update(ctx context.Context, name string, def schema.EntitySchema) (*schema.EntitySchema, error)
	Delete(ctx context.Context, name string) error
}

// Entities is the repository surface the service relies on.
type Entities interface {
	Create(ctx context.Context, entityType string, fields value.Map, environment string) (*persistence.DynamicEntity, error)
	GetByID(ctx context.Context, entityType, id string) (*persistence.DynamicEntity, error)
	Update(ctx context.Context, entityType, id string, fields value.Map) (*persistence.DynamicEntity, error)
	Delete(ctx context.Context, entityType, id string) error
	ListAll(ctx context.Context, entityType, environment string, page persistence.Page) ([]*persistence.DynamicEntity, error)
	FilterByField(ctx context.Context, entityType, field string, v value.Value, environment string, page persistence.Page) ([]*persistence.DynamicEntity, error)
	Exists(ctx context.Context, entityType string, match value.Map, excludeID string) (bool, error)
	ClaimNext(ctx context.Context, entityType, environment string) (*persistence.DynamicEntity, error)
	ResetAll(ctx context.Context, entityType, environment string) (int64, error)
	DeleteByField(ctx context.Context, entityType, field string, v value.Value, environment string) (int64, error)
	Collections(ctx context.Context) ([]string, error)
	DropCollection(ctx context.Context, entityType string) error
}

// Options wires the optional collaborators of a Service.
type Options struct {
	Publisher notify.Publisher
	Notifier  notify.Notifier
	Logger    *zap.Logger
	Now       func() time.Time
}

// Service validates records against their schema before they reach storage
// and announces every change.
type Service struct {
	schemas   Schemas
	entities  Entities
	publisher notify.Publisher
	notifier  notify.Notifier
	logger    *zap.Logger
	now       func() time.Time
}

func New(schemas Schemas, entities Entities, opts Options) *Service {
	s := &Service{
		schemas:   schemas,
		entities:  entities,
		publisher: opts.Publisher,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if s.publisher == nil {
		s.publisher = notify.Nop{}
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// RegisterSchema stores a new entity schema.
func (s *Service) RegisterSchema(ctx context.Context, def schema.EntitySchema) (*schema.EntitySchema, error) {
	return s.schemas.Register(ctx, def)
}

// GetSchema returns the schema of entityType.
func (s *Service) GetSchema(ctx context.Context, entityType string) (*schema.EntitySchema, error) {
	return s.schemas.Get(ctx, entityType)
}

// ListSchemas returns every schema ordered by name.
func (s *Service) ListSchemas(ctx context.Context) ([]schema.EntitySchema, error) {
	return s.schemas.List(ctx)
}

// UpdateSchema replaces the definition of entityType.
func (s *Service) UpdateSchema(ctx context.Context, entityType string, def schema.EntitySchema) (*schema.EntitySchema, error) {
	return s.schemas.Update(ctx, entityType, def)
}

// DeleteSchema removes the definition of entityType. Its records stay.
func (s *Service) DeleteSchema(ctx context.Context, entityType string) error {
	return s.schemas.Delete(ctx, entityType)
}

// Create validates fields against the schema of entityType and stores a new record.
func (s *Service) Create(ctx context.Context, entityType string, fields value.Map, environment string) (*persistence.DynamicEntity, error) {
	def, err := s.validate(ctx, entityType, fields)
	if err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, def, fields, ""); err != nil {
		return nil, err
	}

	entity, err := s.entities.Create(ctx, entityType, fields, environment)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, notify.Event{
		Type:        notify.EntityCreated,
		EntityType:  entityType,
		EntityID:    entity.ID,
		Environment: entity.EnvironmentName(),
		Entity:      entity,
	})
	return entity, nil
}

// Get returns one record by id.
func (s *Service) Get(ctx context.Context, entityType, id string) (*persistence.DynamicEntity, error) {
	return s.entities.GetByID(ctx, entityType, id)
}

// Update validates fields and replaces the dynamic fields of a record.
func (s *Service) Update(ctx context.Context, entityType, id string, fields value.Map) (*persistence.DynamicEntity, error) {
	def, err := s.validate(ctx, entityType, fields)
	if err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, def, fields, id); err != nil {
		return nil, err
	}

	entity, err := s.entities.Update(ctx, entityType, id, fields)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, notify.Event{
		Type:        notify.EntityUpdated,
		EntityType:  entityType,
		EntityID:    entity.ID,
		Environment: entity.EnvironmentName(),
		Entity:      entity,
	})
	return entity, nil
}

// Delete removes one record.
func (s *Service) Delete(ctx context.Context, entityType, id string) error {
	if err := s.entities.Delete(ctx, entityType, id); err != nil {
		return err
	}
	s.announce(ctx, notify.Event{Type: notify.EntityDeleted, EntityType: entityType, EntityID: id, Count: 1})
	return nil
}

// List returns one page of the records of entityType, optionally limited to
// one environment.
func (s *Service) List(ctx context.Context, entityType, environment string, page persistence.Page) ([]*persistence.DynamicEntity, error) {
	return s.entities.ListAll(ctx, entityType, environment, page)
}

// Filter returns the records whose filterable field equals raw, parsed
// according to the field's declared type.
func (s *Service) Filter(ctx context.Context, entityType, field, raw, environment string, page persistence.Page) ([]*persistence.DynamicEntity, error) {
	v, err := s.filterValue(ctx, entityType, field, raw)
	if err != nil {
		return nil, err
	}
	return s.entities.FilterByField(ctx, entityType, field, v, environment, page)
}

// DeleteByFilter removes every record whose filterable field equals raw.
func (s *Service) DeleteByFilter(ctx context.Context, entityType, field, raw, environment string) (int64, error) {
	v, err := s.filterValue(ctx, entityType, field, raw)
	if err != nil {
		return 0, err
	}
	n, err := s.entities.DeleteByField(ctx, entityType, field, v, environment)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.announce(ctx, notify.Event{Type: notify.EntityDeleted, EntityType: entityType, Environment: environment, Count: n})
	}
	return n, nil
}

// ClaimNext hands out the oldest unconsumed record and marks it consumed.
func (s *Service) ClaimNext(ctx context.Context, entityType, environment string) (*persistence.DynamicEntity, error) {
	entity, err := s.entities.ClaimNext(ctx, entityType, environment)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, notify.Event{
		Type:        notify.EntityClaimed,
		EntityType:  entityType,
		EntityID:    entity.ID,
		Environment: entity.EnvironmentName(),
		Entity:      entity,
	})
	return entity, nil
}

// ResetAll returns every consumed record of entityType to the pool.
func (s *Service) ResetAll(ctx context.Context, entityType, environment string) (int64, error) {
	n, err := s.entities.ResetAll(ctx, entityType, environment)
	if err != nil {
		return 0, err
	}
	s.announce(ctx, notify.Event{Type: notify.EntityReset, EntityType: entityType, Environment: environment, Count: n})
	return n, nil
}

// Collections lists the entity types that have stored records.
func (s *Service) Collections(ctx context.Context) ([]string, error) {
	return s.entities.Collections(ctx)
}

// DropCollection removes every record of entityType. The schema stays.
func (s *Service) DropCollection(ctx context.Context, entityType string) error {
	if err := s.entities.DropCollection(ctx, entityType); err != nil {
		return err
	}
	s.announce(ctx, notify.Event{Type: notify.EntityDeleted, EntityType: entityType})
	return nil
}

func (s *Service) validate(ctx context.Context, entityType string, fields value.Map) (*schema.EntitySchema, error) {
	def, err := s.schemas.Get(ctx, entityType)
	if err != nil {
		return nil, err
	}
	if err := value.CheckKeys(fields); err != nil {
		return nil, err
	}
	if ok, issues := schema.NewValidator(def).Validate(fields); !ok {
		return nil, core.NewValidationError(core.ErrValidation, issues)
	}
	return def, nil
}

// checkUnique rejects fields whose unique values are already taken by a
// record other than excludeID.
func (s *Service) checkUnique(ctx context.Context, def *schema.EntitySchema, fields value.Map, excludeID string) error {
	if len(def.Unique) == 0 {
		return nil
	}

	var groups []value.Map
	switch def.EffectiveUniqueMode() {
	case schema.UniqueModeCompound:
		tuple := make(value.Map, len(def.Unique))
		for _, name := range def.Unique {
			tuple[name] = fields[name]
		}
		groups = append(groups, tuple)
	default:
		for _, name := range def.Unique {
			v, ok := fields[name]
			if !ok || v.IsNull() {
				continue
			}
			groups = append(groups, value.Map{name: v})
		}
	}

	for _, match := range groups {
		taken, err := s.entities.Exists(ctx, def.Name, match, excludeID)
		if err != nil {
			return fmt.Errorf("failed to check unique fields of %s: %w", def.Name, err)
		}
		if taken {
			return fmt.Errorf("%w: %s already has a record with %s", core.ErrConflict, def.Name, describe(match))
		}
	}
	return nil
}

func (s *Service) filterValue(ctx context.Context, entityType, field, raw string) (value.Value, error) {
	def, err := s.schemas.Get(ctx, entityType)
	if err != nil {
		return value.Value{}, err
	}
	if !def.IsFilterable(field) {
		return value.Value{}, core.NewValidationError(core.ErrValidation, []core.Issue{{
			Code:     "FIELD_NOT_FILTERABLE",
			Message:  fmt.Sprintf("field '%s' is not filterable on %s", field, entityType),
			Path:     field,
			Severity: "error",
		}})
	}
	v, err := schema.ParseFilterValue(*def.FindField(field), raw)
	if err != nil {
		return value.Value{}, core.NewValidationError(core.ErrValidation, []core.Issue{{
			Code:     "INVALID_FILTER_VALUE",
			Message:  err.Error(),
			Path:     field,
			Severity: "error",
		}})
	}
	return v, nil
}

// announce publishes event and pushes it to subscribers. Failures are logged
// and never undo the change.
func (s *Service) announce(ctx context.Context, event notify.Event) {
	event.Timestamp = s.now().UTC()
	topic := event.Topic()

	payload, err := event.Payload()
	if err != nil {
		s.logger.Warn("Failed to encode notification", zap.String("topic", topic), zap.Error(err))
	} else if err := s.publisher.Publish(ctx, topic, payload); err != nil {
		s.logger.Warn("Failed to publish notification", zap.String("topic", topic), zap.Error(err))
	}

	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("Failed to notify subscribers", zap.String("topic", topic), zap.Error(err))
	}
}

func describe(match value.Map) string {
	var out string
	for i, k := range match.Keys() {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s=%s", k, match[k])
	}
	return out
}
