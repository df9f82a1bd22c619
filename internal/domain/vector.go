package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Vector is an embedding stored as a JSON array in Postgres. Dense corpus
// search goes through the vector index; these columns only back similarity
// checks over small per-user sets (facts, insights, summaries).
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (v *Vector) Scan(src any) error {
	if src == nil {
		*v = nil
		return nil
	}
	var raw []byte
	switch t := src.(type) {
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	default:
		return fmt.Errorf("vector: unsupported scan type %T", src)
	}
	if len(raw) == 0 {
		*v = nil
		return nil
	}
	var out []float32
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*v = out
	return nil
}

func (Vector) GormDataType() string { return "jsonb" }
