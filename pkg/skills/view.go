package skills

// View is the serializable form of a Skill used by the CLI, the HTTP API and
// the MCP server
type View struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description" yaml:"description"`
	Collection  string      `json:"collection,omitempty" yaml:"collection,omitempty"`
	Version     string      `json:"version,omitempty" yaml:"version,omitempty"`
	Source      Source      `json:"source" yaml:"source"`
	Location    string      `json:"location" yaml:"location"`
	Scope       string      `json:"scope,omitempty" yaml:"scope,omitempty"`
	Items       int         `json:"items" yaml:"items"`
	Checklist   []EntryView `json:"checklist,omitempty" yaml:"checklist,omitempty"`
	References  []LinkView  `json:"references,omitempty" yaml:"references,omitempty"`
	Content     string      `json:"content,omitempty" yaml:"content,omitempty"`
}

// EntryView is the serializable form of a GuidelineEntry
type EntryView struct {
	Number    int    `json:"number" yaml:"number"`
	Statement string `json:"statement" yaml:"statement"`
	Chapter   string `json:"chapter,omitempty" yaml:"chapter,omitempty"`
}

// LinkView is the serializable form of a ChapterLink
type LinkView struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	Path  string `json:"path" yaml:"path"`
}

// Summarize returns the metadata of a skill without its checklist or body
func Summarize(s *Skill) View {
	return View{
		Name:        s.Name,
		Description: s.Description,
		Collection:  s.Collection,
		Version:     s.Version,
		Source:      s.Source,
		Location:    s.Location(),
		Scope:       s.ScopeString(),
		Items:       len(s.Checklist),
	}
}

// Detail returns the full view of a skill. The Markdown body is included only
// when withContent is set.
func Detail(s *Skill, withContent bool) View {
	v := Summarize(s)

	v.Checklist = make([]EntryView, 0, len(s.Checklist))
	for _, e := range s.Checklist {
		chapter := ""
		if e.Chapter != "" {
			chapter = ChapterID(e.Chapter)
		}
		v.Checklist = append(v.Checklist, EntryView{Number: e.Number, Statement: e.Statement, Chapter: chapter})
	}

	v.References = make([]LinkView, 0, len(s.References))
	for _, l := range s.References {
		v.References = append(v.References, LinkView{ID: l.ID(), Title: l.Title, Path: l.Path})
	}

	if withContent {
		v.Content = s.Content
	}
	return v
}
