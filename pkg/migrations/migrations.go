// Package migrations embeds the SQL migrations applied to Postgres on boot.
package migrations

import "embed"

// Dir is the directory within FS holding the migration files.
const Dir = "sql"

// FS contains the up and down migrations, named
// <timestamp>_<snake_case_name>.{up,down}.sql
//
//go:embed sql/*.sql
var FS embed.FS
