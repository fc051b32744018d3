// Package prompts provides the embedded prompt templates for the agent
// steps, with optional on-disk overrides.
package prompts

import "embed"

//go:embed templates/*.md
var embeddedFS embed.FS
