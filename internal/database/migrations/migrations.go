// Package migrations embeds the schema scripts applied at boot.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
