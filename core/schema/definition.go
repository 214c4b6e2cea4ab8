// Package schema defines entity schemas: the named, declared shape that every
// dynamic record of an entity type is validated against.
package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/asaidimu/anansi-fixtures/core"
	"github.com/asaidimu/anansi-fixtures/core/value"
)

// FieldType represents the field types a schema can declare.
type FieldType string

const (
	FieldTypeString   FieldType = "string"   // Text data
	FieldTypeNumber   FieldType = "number"   // Integer or floating point
	FieldTypeBoolean  FieldType = "boolean"  // True/false values
	FieldTypeDatetime FieldType = "datetime" // RFC 3339 timestamp carried as a string
)

// Valid reports whether t is one of the recognised field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeString, FieldTypeNumber, FieldTypeBoolean, FieldTypeDatetime:
		return true
	}
	return false
}

// UniqueMode selects how the unique field list is enforced.
type UniqueMode string

const (
	// UniqueModeSingle enforces uniqueness of each listed field on its own.
	UniqueModeSingle UniqueMode = "single"
	// UniqueModeCompound enforces uniqueness of the tuple of listed fields.
	UniqueModeCompound UniqueMode = "compound"
)

// Reserved collection names used by the store itself. Entity types can
// never take one of these names.
const (
	SchemasCollection      = "_schemas"
	SettingsCollection     = "_settings"
	APIKeysCollection      = "_api_keys"
	UsersCollection        = "_users"
	EnvironmentsCollection = "_environments"
)

var reservedCollections = map[string]struct{}{
	SchemasCollection:      {},
	SettingsCollection:     {},
	APIKeysCollection:      {},
	UsersCollection:        {},
	EnvironmentsCollection: {},
}

// IsReservedCollection reports whether name belongs to the store's infrastructure.
func IsReservedCollection(name string) bool {
	_, ok := reservedCollections[name]
	return ok
}

// FieldDefinition defines a single declared field of an entity type.
type FieldDefinition struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	// Description provides a brief explanation of the field.
	Description *string `json:"description,omitempty"`
}

// EntitySchema is the definition of one entity type.
type EntitySchema struct {
	ID             string            `json:"id,omitempty"`
	Name           string            `json:"entityType"`
	Description    *string           `json:"description,omitempty"`
	Fields         []FieldDefinition `json:"fields"`
	Filterable     []string          `json:"filterableFields,omitempty"`
	Unique         []string          `json:"uniqueFields,omitempty"`
	UniqueMode     UniqueMode        `json:"uniqueMode,omitempty"`
	ExcludeOnFetch bool              `json:"excludeOnFetch"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// FindField returns the declared field with the given name, or nil.
func (s *EntitySchema) FindField(name string) *FieldDefinition {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// IsFilterable reports whether name is declared filterable.
func (s *EntitySchema) IsFilterable(name string) bool {
	for _, f := range s.Filterable {
		if f == name {
			return true
		}
	}
	return false
}

// EffectiveUniqueMode returns the unique mode, defaulting to single.
func (s *EntitySchema) EffectiveUniqueMode() UniqueMode {
	if s.UniqueMode == "" {
		return UniqueModeSingle
	}
	return s.UniqueMode
}

// Normalize trims the entity type name and fills defaults in place.
func (s *EntitySchema) Normalize() {
	s.Name = strings.TrimSpace(s.Name)
	if s.UniqueMode == "" {
		s.UniqueMode = UniqueModeSingle
	}
}

// Validate checks the definition and returns an error wrapping
// core.ErrInvalidDefinition that lists every problem found.
func (s *EntitySchema) Validate() error {
	var issues []core.Issue
	add := func(code, path, format string, args ...any) {
		issues = append(issues, core.Issue{
			Code:     code,
			Message:  fmt.Sprintf(format, args...),
			Path:     path,
			Severity: "error",
		})
	}

	name := strings.TrimSpace(s.Name)
	switch {
	case name == "":
		add("EMPTY_ENTITY_TYPE", "entityType", "entity type name must not be empty")
	case strings.HasPrefix(name, "_"):
		add("RESERVED_ENTITY_TYPE", "entityType", "entity type name %q is reserved", name)
	case strings.HasPrefix(strings.ToLower(name), "sqlite_"):
		add("RESERVED_ENTITY_TYPE", "entityType", "entity type name %q is reserved by the storage engine", name)
	}

	seen := make(map[string]struct{}, len(s.Fields))
	for i, field := range s.Fields {
		path := fmt.Sprintf("fields[%d]", i)
		if strings.TrimSpace(field.Name) == "" {
			add("EMPTY_FIELD_NAME", path, "field %d has an empty name", i)
			continue
		}
		path = "fields." + field.Name
		if _, dup := seen[field.Name]; dup {
			add("DUPLICATE_FIELD", path, "field '%s' is declared more than once", field.Name)
		}
		seen[field.Name] = struct{}{}
		if value.IsReserved(field.Name) {
			add("RESERVED_FIELD_NAME", path, "field name '%s' is reserved", field.Name)
		}
		if !field.Type.Valid() {
			add("UNKNOWN_FIELD_TYPE", path, "field '%s' has unknown type '%s'", field.Name, field.Type)
		}
	}

	for _, f := range s.Filterable {
		if _, ok := seen[f]; !ok {
			add("UNKNOWN_FILTERABLE_FIELD", "filterableFields", "filterable field '%s' is not declared", f)
		}
	}
	for _, f := range s.Unique {
		if _, ok := seen[f]; !ok {
			add("UNKNOWN_UNIQUE_FIELD", "uniqueFields", "unique field '%s' is not declared", f)
		}
	}

	switch s.UniqueMode {
	case "", UniqueModeSingle, UniqueModeCompound:
	default:
		add("UNKNOWN_UNIQUE_MODE", "uniqueMode", "unique mode '%s' is not recognised", s.UniqueMode)
	}

	if len(issues) > 0 {
		return core.NewValidationError(core.ErrInvalidDefinition, issues)
	}
	return nil
}
