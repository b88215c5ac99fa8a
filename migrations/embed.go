// Package migrations embeds the PostgreSQL schema for the KV backend.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
