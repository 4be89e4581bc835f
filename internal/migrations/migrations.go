// Package migrations holds the database schema. The schema is embedded so
// the binary does not depend on a scripts directory at runtime.
package migrations

import (
	_ "embed"
)

//go:embed 001_initial_schema.sql
var initialSchema string

// GetInitialSchema returns the initial database schema
func GetInitialSchema() string {
	return initialSchema
}
