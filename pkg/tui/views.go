package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jingkaihe/skillbook/pkg/skills"
)

var (
	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("205"))
	chapterStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	statusStyle   = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(lipgloss.Color("236")).
			Padding(0, 1).
			Bold(true)
)

// RenderSkillList renders one line per skill with the cursor row highlighted
func RenderSkillList(list []*skills.Skill, cursor, width int) string {
	if len(list) == 0 {
		return dimStyle.Render("No skills found. Add bundles to ./.skillbook/skills or ~/.skillbook/skills.")
	}

	nameWidth := 0
	for _, s := range list {
		nameWidth = max(nameWidth, len(s.Name))
	}

	var b strings.Builder
	for i, s := range list {
		line := fmt.Sprintf("%-*s  %s", nameWidth, s.Name, s.Description)
		if width > 4 && len(line) > width-2 {
			line = line[:width-5] + "..."
		}
		if i == cursor {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		if i < len(list)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// RenderSkillDetail renders the checklist of a skill grouped by chapter,
// followed by its numbered reference chapters
func RenderSkillDetail(skill *skills.Skill) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(skill.Name))
	b.WriteString("\n")
	b.WriteString(skill.Description)
	b.WriteString("\n")
	meta := []string{"source: " + skill.Location()}
	if skill.Collection != "" {
		meta = append(meta, "collection: "+skill.Collection)
	}
	if len(skill.Scope) > 0 {
		meta = append(meta, "items: "+skill.ScopeString())
	}
	b.WriteString(dimStyle.Render(strings.Join(meta, " | ")))
	b.WriteString("\n")

	chapter := "\x00"
	for _, e := range skill.Checklist {
		if e.Chapter != chapter {
			chapter = e.Chapter
			b.WriteString("\n")
			if chapter != "" {
				b.WriteString(chapterStyle.Render(skills.ChapterID(chapter)))
				b.WriteString("\n")
			}
		}
		fmt.Fprintf(&b, "%4d. %s\n", e.Number, e.Statement)
	}

	if len(skill.References) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("References"))
		b.WriteString("\n")
		for i, l := range skill.References {
			fmt.Fprintf(&b, "  [%d] %s %s\n", i+1, l.Title, dimStyle.Render("("+l.ID()+")"))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// HelpText lists the key bindings of the current screen
func HelpText(m mode) string {
	switch m {
	case modeSkill:
		return "n/p: Chapters │ PgUp/PgDn: Scroll │ Esc: Back │ q: Quit"
	case modeChapter:
		return "n/p: Next/Prev chapter │ PgUp/PgDn: Scroll │ Esc: Checklist │ q: Quit"
	default:
		return "↑/↓: Select │ Enter: Open │ q: Quit"
	}
}
