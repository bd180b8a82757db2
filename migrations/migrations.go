// Package migrations embeds the SQL schema migrations so the binary can
// apply them at startup without a checkout of the repo.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
