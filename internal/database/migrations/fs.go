// Package migrations embeds the SQL migrations for the relational
// backend's fixed tables.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
