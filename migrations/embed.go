// Package migrations embeds the PostgreSQL schema migrations so the migrate
// command and integration tests do not depend on the working directory.
package migrations

import "embed"

// FS holds the *.up.sql / *.down.sql pairs read by golang-migrate's iofs source.
//
//go:embed *.sql
var FS embed.FS
