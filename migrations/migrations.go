// Package migrations embeds the SQL schema shared by both remote tiers.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
