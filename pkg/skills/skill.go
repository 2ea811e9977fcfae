// Package skills loads skill bundles: directories holding a SKILL.md file whose
// YAML frontmatter names the skill and whose Markdown body carries a numbered
// checklist, a scope statement and links to reference chapters under references/.
//
// Skills are immutable once loaded. Reference chapters are not read here; see
// package references.
package skills

import (
	"fmt"
	"io/fs"
	"path"
	"strings"
)

const (
	skillFileName = "SKILL.md"
	referencesDir = "references"
)

// Source identifies where a skill bundle was discovered
type Source string

const (
	// SourceLocal is a bundle found in a configured skill directory
	SourceLocal Source = "local"
	// SourceBuiltin is a bundle embedded in the binary
	SourceBuiltin Source = "builtin"
)

// Skill represents a discovered skill with its metadata and parsed checklist
type Skill struct {
	Name        string // Unique name from frontmatter
	Description string // One-line description from frontmatter
	Collection  string // Optional collection; item numbers never overlap within one
	Version     string
	Source      Source
	Directory   string // Full path to the skill directory, empty for builtin skills
	Content     string // Body of SKILL.md, frontmatter removed
	Checklist   []GuidelineEntry
	Scope       []ItemRange
	References  []ChapterLink // Links listed in the Reference Navigation section
	FS          fs.FS         // Rooted at the bundle directory
}

// Metadata represents the YAML frontmatter in SKILL.md files
type Metadata struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Description string `yaml:"description" mapstructure:"description"`
	Collection  string `yaml:"collection" mapstructure:"collection"`
	Version     string `yaml:"version" mapstructure:"version"`
}

// GuidelineEntry is one numbered checklist item
type GuidelineEntry struct {
	Number    int
	Statement string
	Chapter   string // Reference path such as references/07-methods.md, if any
}

// ChapterLink is a navigation link from SKILL.md to a reference chapter
type ChapterLink struct {
	Title string
	Path  string
}

// ID returns the chapter identifier, the file name without its extension.
func (l ChapterLink) ID() string {
	return ChapterID(l.Path)
}

// ChapterID turns a reference path into its identifier.
func ChapterID(p string) string {
	return strings.TrimSuffix(path.Base(p), ".md")
}

// ItemRange is an inclusive range of item numbers
type ItemRange struct {
	From int
	To   int
}

// Contains reports whether n falls inside the range.
func (r ItemRange) Contains(n int) bool {
	return n >= r.From && n <= r.To
}

func (r ItemRange) String() string {
	if r.From == r.To {
		return fmt.Sprintf("%d", r.From)
	}
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// InScope reports whether item n is covered by the skill's scope statement.
// A skill without a scope statement covers nothing.
func (s *Skill) InScope(n int) bool {
	for _, r := range s.Scope {
		if r.Contains(n) {
			return true
		}
	}
	return false
}

// ScopeString renders the scope as "1-65, 74-78".
func (s *Skill) ScopeString() string {
	parts := make([]string, 0, len(s.Scope))
	for _, r := range s.Scope {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ", ")
}

// Entry returns the checklist entry numbered n.
func (s *Skill) Entry(n int) (GuidelineEntry, bool) {
	for _, e := range s.Checklist {
		if e.Number == n {
			return e, true
		}
	}
	return GuidelineEntry{}, false
}

// ValidName reports whether name can serve as a single directory name
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}

// Location describes where the skill came from for display purposes
func (s *Skill) Location() string {
	if s.Source == SourceBuiltin {
		return "builtin:" + s.Name
	}
	return s.Directory
}
