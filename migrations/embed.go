package migrations

import "embed"

// FS embeds the goose SQL migrations.
//
//go:embed *.sql
var FS embed.FS
