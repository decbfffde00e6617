package dbtypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap stores free-form metadata in a json/jsonb column. It is written as text so
// the same value works with the simple protocol on Postgres and with SQLite.
type JSONMap map[string]any

func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}

	var raw []byte
	switch v := src.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("JSONMap: unsupported Scan type %T", src)
	}
	if len(raw) == 0 {
		*m = JSONMap{}
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("JSONMap: decode: %w", err)
	}
	*m = out
	return nil
}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("JSONMap: encode: %w", err)
	}
	return string(b), nil
}
