// Package migrations embeds the SQL schema applied to each tenant schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
