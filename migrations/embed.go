// Package migrations embeds the SQLite schema for the blob store.
package migrations

import "embed"

// FS holds the NNNN_description.sql files at its root.
//
//go:embed *.sql
var FS embed.FS
