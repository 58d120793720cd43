// Package appfs embeds non-Go assets needed at runtime so binaries stay self-contained.
package appfs

import "embed"

//go:embed migrations
var FS embed.FS
