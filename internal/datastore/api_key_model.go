package datastore

import (
	"database/sql"
	"time"
)

// APIKey maps to the api_keys table in the database.
// The key column is the opaque bearer secret; it is unique across all rows.
// Keys are never physically deleted, deactivation flips active to false.
type APIKey struct {
	ID        string       `json:"id"`
	Key       string       `json:"-"`
	Name      string       `json:"name"`
	Active    bool         `json:"active"`
	CreatedAt time.Time    `json:"created_at"`
	LastUsed  sql.NullTime `json:"last_used,omitempty"`
}
