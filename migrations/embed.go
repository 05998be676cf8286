// Package migrations embeds the SQL schema applied by utils.Migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
