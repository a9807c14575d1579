// Package appfs exposes assets embedded in the binary.
package appfs

import "embed"

//go:embed migrations
var FS embed.FS
