// Package migrations embeds the catalog schema migrations.
package migrations

import "embed"

// FS holds the numbered up and down SQL files.
//
//go:embed *.sql
var FS embed.FS
