// Package migrations embeds the schema for the client-state database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
