package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB maps a JSON object column to a Go map.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*j = JSONB{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("models: cannot scan %T into JSONB", value)
	}
	if len(raw) == 0 {
		*j = JSONB{}
		return nil
	}
	out := JSONB{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*j = out
	return nil
}

// Clone returns a deep copy via a JSON round trip; values that cannot be
// marshalled are dropped.
func (j JSONB) Clone() JSONB {
	if j == nil {
		return JSONB{}
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return JSONB{}
	}
	out := JSONB{}
	_ = json.Unmarshal(raw, &out)
	return out
}

// String fetches a string property, "" when absent or not a string.
func (j JSONB) String(key string) string {
	if v, ok := j[key].(string); ok {
		return v
	}
	return ""
}

// Bool fetches a boolean property.
func (j JSONB) Bool(key string) bool {
	if v, ok := j[key].(bool); ok {
		return v
	}
	return false
}
