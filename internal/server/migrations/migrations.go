// Package migrations embeds the goose SQL migrations for the row-oriented
// state backing.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
