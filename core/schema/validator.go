package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/asaidimu/anansi-fixtures/core"
	"github.com/asaidimu/anansi-fixtures/core/value"
)

// Validator checks dynamic records against an entity schema. Validation runs
// against the storage-coerced form of each value, so what is checked is what
// gets persisted.
type Validator struct {
	schema *EntitySchema
	issues []core.Issue
}

// NewValidator creates a Validator for the given schema. The returned
// validator can be reused for multiple validation operations.
func NewValidator(schema *EntitySchema) *Validator {
	return &Validator{schema: schema}
}

// Validate reports whether data satisfies the schema: every required field is
// present and non-null and every declared field holds a value of its declared
// type. Undeclared fields are accepted.
func (v *Validator) Validate(data value.Map) (bool, []core.Issue) {
	v.issues = make([]core.Issue, 0)

	for _, field := range v.schema.Fields {
		val, exists := data[field.Name]
		if !exists || val.IsNull() {
			if field.Required {
				v.addIssue("REQUIRED_FIELD_MISSING", fmt.Sprintf("Required field '%s' is missing", field.Name), field.Name)
			}
			continue
		}
		v.validateFieldType(val, field)
	}

	return len(v.issues) == 0, v.issues
}

func (v *Validator) validateFieldType(val value.Value, field FieldDefinition) {
	stored := value.ToStorage(val)
	switch field.Type {
	case FieldTypeString:
		if _, ok := stored.(string); ok {
			return
		}
	case FieldTypeNumber:
		switch stored.(type) {
		case int32, int64, float64:
			return
		}
	case FieldTypeBoolean:
		if _, ok := stored.(bool); ok {
			return
		}
	case FieldTypeDatetime:
		if s, ok := stored.(string); ok {
			if _, err := ParseDatetime(s); err != nil {
				v.addIssue("INVALID_DATETIME", fmt.Sprintf("Field '%s' is not an RFC 3339 timestamp: %q", field.Name, s), field.Name)
			}
			return
		}
	}
	v.addIssue("TYPE_MISMATCH", fmt.Sprintf("Field '%s' expects %s, got %s", field.Name, field.Type, val.Kind()), field.Name)
}

func (v *Validator) addIssue(code, message, path string) {
	v.issues = append(v.issues, core.Issue{
		Code:     code,
		Message:  message,
		Path:     path,
		Severity: "error",
	})
}

// ParseDatetime accepts RFC 3339 timestamps with or without fractional seconds.
func ParseDatetime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// ParseFilterValue converts a raw textual filter value, as it arrives from a
// URL path, into a Value of the field's declared type.
func ParseFilterValue(field FieldDefinition, raw string) (value.Value, error) {
	switch field.Type {
	case FieldTypeString, FieldTypeDatetime:
		return value.String(raw), nil
	case FieldTypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return value.Value{}, fmt.Errorf("field '%s' expects a boolean, got %q", field.Name, raw)
		}
		return value.Bool(b), nil
	case FieldTypeNumber:
		s := strings.TrimSpace(raw)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return value.Int(i), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return value.Value{}, fmt.Errorf("field '%s' expects a finite number, got %q", field.Name, raw)
		}
		return value.Float(f), nil
	default:
		return value.Value{}, fmt.Errorf("field '%s' has unknown type '%s'", field.Name, field.Type)
	}
}
