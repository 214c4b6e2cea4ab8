package sqlite

import (
	"encoding/json"
	"fmt"

	"github.com/asaidimu/anansi-fixtures/core/value"
)

// encodeFields serialises a storage-native field map for the fields column.
// Floating-point values always carry a fraction or exponent so integers and
// floats decode back to the kind they were written as.
func encodeFields(fields map[string]any) (string, error) {
	m, err := value.FromStorageMap(fields)
	if err != nil {
		return "", fmt.Errorf("failed to convert fields: %w", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to serialize fields to JSON: %w", err)
	}
	return string(data), nil
}

func encodeValue(raw any) (string, error) {
	v, err := value.FromStorage(raw)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize value to JSON: %w", err)
	}
	return string(data), nil
}

func decodeFields(raw any) (map[string]any, error) {
	var data []byte
	switch x := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case []byte:
		data = x
	case string:
		data = []byte(x)
	default:
		return nil, fmt.Errorf("unexpected fields column type %T", raw)
	}

	var m value.Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode fields JSON: %w", err)
	}
	return value.ToStorageMap(m), nil
}
