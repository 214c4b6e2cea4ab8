package schema

import (
	"errors"
	"testing"

	"github.com/asaidimu/anansi-fixtures/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func productSchema() *EntitySchema {
	return &EntitySchema{
		Name: "Product",
		Fields: []FieldDefinition{
			{Name: "name", Type: FieldTypeString, Required: true},
			{Name: "price", Type: FieldTypeNumber, Required: true},
			{Name: "active", Type: FieldTypeBoolean},
			{Name: "releasedAt", Type: FieldTypeDatetime},
		},
		Filterable: []string{"name"},
		Unique:     []string{"name"},
	}
}

func TestEntitySchema_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *EntitySchema)
		codes  []string
	}{
		{name: "valid", mutate: func(s *EntitySchema) {}},
		{name: "empty name", mutate: func(s *EntitySchema) { s.Name = "  " }, codes: []string{"EMPTY_ENTITY_TYPE"}},
		{name: "reserved name", mutate: func(s *EntitySchema) { s.Name = SchemasCollection }, codes: []string{"RESERVED_ENTITY_TYPE"}},
		{name: "sqlite name", mutate: func(s *EntitySchema) { s.Name = "sqlite_master" }, codes: []string{"RESERVED_ENTITY_TYPE"}},
		{
			name:   "unknown type",
			mutate: func(s *EntitySchema) { s.Fields[1].Type = "money" },
			codes:  []string{"UNKNOWN_FIELD_TYPE"},
		},
		{
			name:   "empty field name",
			mutate: func(s *EntitySchema) { s.Fields[2].Name = "" },
			codes:  []string{"EMPTY_FIELD_NAME"},
		},
		{
			name: "duplicate field",
			mutate: func(s *EntitySchema) {
				s.Fields = append(s.Fields, FieldDefinition{Name: "name", Type: FieldTypeString})
			},
			codes: []string{"DUPLICATE_FIELD"},
		},
		{
			name:   "reserved field",
			mutate: func(s *EntitySchema) { s.Fields[3].Name = "createdAt" },
			codes:  []string{"RESERVED_FIELD_NAME"},
		},
		{
			name: "undeclared filterable and unique",
			mutate: func(s *EntitySchema) {
				s.Filterable = []string{"colour"}
				s.Unique = []string{"sku"}
			},
			codes: []string{"UNKNOWN_FILTERABLE_FIELD", "UNKNOWN_UNIQUE_FIELD"},
		},
		{name: "bad unique mode", mutate: func(s *EntitySchema) { s.UniqueMode = "partial" }, codes: []string{"UNKNOWN_UNIQUE_MODE"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := productSchema()
			tt.mutate(s)
			err := s.Validate()
			if len(tt.codes) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrInvalidDefinition))

			var verr *core.ValidationError
			require.True(t, errors.As(err, &verr))
			var codes []string
			for _, issue := range verr.Issues {
				codes = append(codes, issue.Code)
			}
			assert.ElementsMatch(t, tt.codes, codes)
		})
	}
}

func TestEntitySchema_Helpers(t *testing.T) {
	s := productSchema()
	require.NotNil(t, s.FindField("price"))
	assert.Nil(t, s.FindField("colour"))
	assert.True(t, s.IsFilterable("name"))
	assert.False(t, s.IsFilterable("price"))
	assert.Equal(t, UniqueModeSingle, s.EffectiveUniqueMode())

	s.Name = "  Product "
	s.Normalize()
	assert.Equal(t, "Product", s.Name)
	assert.Equal(t, UniqueModeSingle, s.UniqueMode)
}
