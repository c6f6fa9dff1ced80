package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB wraps a value stored in a Postgres jsonb column. Webhook payloads
// land in jsonb verbatim so an event can be inspected exactly as it arrived.
type JSONB[T any] struct {
	Data T
}

func (j *JSONB[T]) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, &j.Data)
	case string:
		return json.Unmarshal([]byte(v), &j.Data)
	default:
		return fmt.Errorf("jsonb scan: unsupported source type %T", src)
	}
}

func (j JSONB[T]) Value() (driver.Value, error) {
	return json.Marshal(j.Data)
}
