// Package builtin embeds the skill bundles that ship with skillbook.
package builtin

import "embed"

// FS holds every builtin bundle as <name>/SKILL.md plus <name>/references/*.md.
//
//go:embed */SKILL.md */references/*.md
var FS embed.FS
