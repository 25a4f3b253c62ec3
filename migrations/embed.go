// Package migrations embeds the per-dialect SQL migration files.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
