package sqlite

import (
	"database/sql"
	"encoding/json"
)

// marshalJSON serializes a value for a JSON TEXT column. Nil and empty
// collections serialize to the empty string so the column stays NULL-ish.
func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unmarshalLenient deserializes a JSON TEXT column. Corrupted payloads
// degrade to the target's zero value rather than aborting the read.
func unmarshalLenient(column sql.NullString, target interface{}) {
	if !column.Valid || column.String == "" {
		return
	}
	// Ignore errors: a corrupt column reads as an empty collection.
	_ = json.Unmarshal([]byte(column.String), target)
}
