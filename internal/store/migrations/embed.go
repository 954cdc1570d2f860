// Package migrations holds the embedded SQL schema migrations for the local store.
package migrations

import "embed"

// FS contains the numbered up/down migration files.
//
//go:embed *.sql
var FS embed.FS
