package audit

import "embed"

// migrationsFS holds the SQL migrations for the audit tables.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS
