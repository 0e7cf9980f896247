// Package scripts embeds the Risor scripts shipped with sapling.
package scripts

import "embed"

// FS holds every bundled script, addressed by file name.
//
//go:embed *.risor
var FS embed.FS

// Outline logs the names of the top-level definitions of a buffer after
// each tree update.
const Outline = "outline.risor"
