// Package migrations embeds the Postgres schema for the outcome store.
package migrations

import "embed"

// FS holds the numbered .sql files, applied in name order.
//
//go:embed *.sql
var FS embed.FS
