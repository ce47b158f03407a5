// Package ui embeds the static browser client from ui/dist.
package ui

import "embed"

// FS holds the embedded client assets.
//
//go:embed dist
var FS embed.FS
