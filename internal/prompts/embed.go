// Package prompts provides the adapt/fix/review/discover prompt
// templates with override support.
package prompts

import "embed"

//go:embed templates/*.md
var embeddedFS embed.FS
