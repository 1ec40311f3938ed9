// Package migrations embeds the versioned schema of the PostgreSQL message sink.
package migrations

import "embed"

// FS contains the up and down migration files.
//
//go:embed *.sql
var FS embed.FS
