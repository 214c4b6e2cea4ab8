package value

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/asaidimu/anansi-fixtures/core"
)

// Reserved field names. They belong to the record envelope and can never be
// used as dynamic field keys.
const (
	FieldID          = "id"
	FieldMongoID     = "_id"
	FieldEntityType  = "entityType"
	FieldEnvironment = "environment"
	FieldIsConsumed  = "isConsumed"
	FieldCreatedAt   = "createdAt"
	FieldUpdatedAt   = "updatedAt"
)

var reservedFields = map[string]struct{}{
	FieldID:          {},
	FieldMongoID:     {},
	FieldEntityType:  {},
	FieldEnvironment: {},
	FieldIsConsumed:  {},
	FieldCreatedAt:   {},
	FieldUpdatedAt:   {},
}

// IsReserved reports whether name is owned by the record envelope.
func IsReserved(name string) bool {
	_, ok := reservedFields[name]
	return ok
}

// ReservedFields returns the reserved field names.
func ReservedFields() []string {
	names := make([]string, 0, len(reservedFields))
	for name := range reservedFields {
		names = append(names, name)
	}
	return names
}

// CheckKeys rejects maps that use a reserved or empty key.
func CheckKeys(m Map) error {
	for _, k := range m.Keys() {
		if k == "" {
			return core.NewValidationError(core.ErrValidation, []core.Issue{{
				Code:    "EMPTY_FIELD_NAME",
				Message: "field names must not be empty",
			}})
		}
		if IsReserved(k) {
			return fmt.Errorf("%w: %q", core.ErrReservedFieldName, k)
		}
	}
	return nil
}

// ToStorage converts v into the value handed to the storage engine.
// Integers narrow to int32 when they fit, otherwise stay int64. Null becomes
// an explicit nil rather than an absent key.
func ToStorage(v Value) any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		if v.i >= math.MinInt32 && v.i <= math.MaxInt32 {
			return int32(v.i)
		}
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = ToStorage(item)
		}
		return out
	case KindObject:
		return ToStorageMap(v.obj)
	default:
		return nil
	}
}

// ToStorageMap converts every entry of m with ToStorage.
func ToStorageMap(m Map) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = ToStorage(v)
	}
	return out
}

// FromStorage converts a storage-native or decoded-JSON value back into a
// Value. It is the inverse of ToStorage and also accepts the other Go shapes
// a driver may hand back.
func FromStorage(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint:
		return fromUnsigned(uint64(x)), nil
	case uint64:
		return fromUnsigned(x), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case json.Number:
		return parseNumber(x.String())
	case string:
		return String(x), nil
	case []byte:
		return String(string(x)), nil
	case time.Time:
		return String(x.UTC().Format(time.RFC3339Nano)), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := FromStorage(item)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = v
		}
		return Array(items...), nil
	case []Value:
		return Array(x...), nil
	case map[string]any:
		m, err := FromStorageMap(x)
		if err != nil {
			return Value{}, err
		}
		return Object(m), nil
	case Map:
		return Object(x), nil
	case map[string]Value:
		return Object(x), nil
	default:
		return Value{}, fmt.Errorf("unsupported storage value of type %T", raw)
	}
}

// FromStorageMap converts a storage document into a field map.
func FromStorageMap(raw map[string]any) (Map, error) {
	out := make(Map, len(raw))
	for k, item := range raw {
		v, err := FromStorage(item)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// FromStorageFields is FromStorageMap for the top level of a record: reserved
// envelope keys are dropped rather than surfaced as dynamic fields.
func FromStorageFields(raw map[string]any) (Map, error) {
	out := make(Map, len(raw))
	for k, item := range raw {
		if IsReserved(k) {
			continue
		}
		v, err := FromStorage(item)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func fromUnsigned(u uint64) Value {
	if u <= math.MaxInt64 {
		return Int(int64(u))
	}
	return Float(float64(u))
}
