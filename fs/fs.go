package appfs

import "embed"

// templates holds "_" prefixed partials, hence all:
//
//go:embed migrations all:templates
var FS embed.FS
