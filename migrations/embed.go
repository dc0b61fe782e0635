// Package migrations holds the SQL schema migrations applied by goose.
// Migrations that need typed row mapping are registered as Go migrations
// in the store package.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
