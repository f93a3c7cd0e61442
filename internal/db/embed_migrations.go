package db

import "embed"

// MigrationFS embeds SQL migration files from internal/db/migrations.
// The migrate runner (cmd/migrate) applies them against DATABASE_URL.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
