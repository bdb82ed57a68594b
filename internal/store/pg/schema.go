package pg

import "embed"

// Files holds the schema migrations and demo seeds applied by cmd/migrate.
//
//go:embed migrations/*.sql seeds/*.sql
var Files embed.FS

const (
	MigrationsDir = "migrations"
	SeedsDir      = "seeds"
)
