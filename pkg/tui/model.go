// Package tui is an interactive terminal browser for skills and their
// reference chapters.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jingkaihe/skillbook/pkg/references"
	"github.com/jingkaihe/skillbook/pkg/skills"
)

// SkillLister lists the skills to browse
type SkillLister interface {
	List() []*skills.Skill
}

// ChapterLoader loads reference chapters on demand
type ChapterLoader interface {
	Load(ctx context.Context, skillName, chapterRef string) (*references.Chapter, error)
}

type mode int

const (
	modeList mode = iota
	modeSkill
	modeChapter
)

const chromeHeight = 2 // header and status line

// Model represents the browser state
type Model struct {
	ctx    context.Context
	skills []*skills.Skill
	loader ChapterLoader

	mode       mode
	cursor     int
	current    *skills.Skill
	chapterIdx int
	chapter    *references.Chapter

	viewport      viewport.Model
	ready         bool
	width         int
	height        int
	statusMessage string
}

// NewModel creates a browser over list
func NewModel(ctx context.Context, list []*skills.Skill, loader ChapterLoader) Model {
	vp := viewport.New(0, 0)
	vp.KeyMap.PageDown.SetEnabled(true)
	vp.KeyMap.PageUp.SetEnabled(true)

	return Model{
		ctx:           ctx,
		skills:        list,
		loader:        loader,
		chapterIdx:    -1,
		viewport:      vp,
		statusMessage: fmt.Sprintf("%d skills", len(list)),
	}
}

// chapterLoadedMsg carries the result of an asynchronous chapter load
type chapterLoadedMsg struct {
	index   int
	chapter *references.Chapter
	err     error
}

func (m Model) loadChapter(index int) tea.Cmd {
	skill := m.current
	link := skill.References[index]
	ctx := m.ctx
	loader := m.loader
	return func() tea.Msg {
		c, err := loader.Load(ctx, skill.Name, link.Path)
		return chapterLoadedMsg{index: index, chapter: c, err: err}
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles the message updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		h := max(msg.Height-chromeHeight, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, h)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = h
		}
		m.updateViewportContent()
		return m, nil

	case chapterLoadedMsg:
		if msg.err != nil {
			m.statusMessage = "Error: " + msg.err.Error()
			return m, nil
		}
		m.mode = modeChapter
		m.chapterIdx = msg.index
		m.chapter = msg.chapter
		m.statusMessage = fmt.Sprintf("Chapter %d/%d: %s", msg.index+1, len(m.current.References), msg.chapter.Title)
		m.updateViewportContent()
		m.viewport.GotoTop()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" || key == "q" {
		return m, tea.Quit
	}

	if m.mode == modeList {
		switch key {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.skills)-1 {
				m.cursor++
			}
		case "enter":
			if len(m.skills) == 0 {
				return m, nil
			}
			m.current = m.skills[m.cursor]
			m.mode = modeSkill
			m.chapterIdx = -1
			m.chapter = nil
			m.statusMessage = fmt.Sprintf("%s: %d items, %d chapters", m.current.Name, len(m.current.Checklist), len(m.current.References))
			m.viewport.GotoTop()
		}
		m.updateViewportContent()
		return m, nil
	}

	switch key {
	case "esc", "backspace":
		if m.mode == modeChapter {
			m.mode = modeSkill
			m.chapter = nil
			m.statusMessage = m.current.Name
		} else {
			m.mode = modeList
			m.current = nil
			m.chapterIdx = -1
			m.statusMessage = fmt.Sprintf("%d skills", len(m.skills))
		}
		m.updateViewportContent()
		m.viewport.GotoTop()
		return m, nil
	case "n":
		next := m.chapterIdx + 1
		if next >= len(m.current.References) {
			m.statusMessage = "No more chapters"
			return m, nil
		}
		return m, m.loadChapter(next)
	case "p":
		prev := m.chapterIdx - 1
		if prev < 0 {
			m.statusMessage = "Already at the first chapter"
			return m, nil
		}
		return m, m.loadChapter(prev)
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		idx := int(key[0]-'0') - 1
		if idx >= len(m.current.References) {
			m.statusMessage = fmt.Sprintf("No chapter %s", key)
			return m, nil
		}
		return m, m.loadChapter(idx)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// updateViewportContent renders the current screen into the viewport
func (m *Model) updateViewportContent() {
	var content string
	switch m.mode {
	case modeSkill:
		content = RenderSkillDetail(m.current)
	case modeChapter:
		content = m.chapter.Content
	default:
		content = RenderSkillList(m.skills, m.cursor, m.width)
	}
	if m.width > 0 {
		content = lipgloss.NewStyle().Width(m.width).Render(content)
	}
	m.viewport.SetContent(content)
}

// View renders the header, the viewport and the status line
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.headerView(),
		m.viewport.View(),
		m.statusView(),
	)
}

func (m Model) headerView() string {
	parts := []string{"skillbook"}
	if m.current != nil {
		parts = append(parts, m.current.Name)
	}
	if m.mode == modeChapter && m.chapter != nil {
		parts = append(parts, m.chapter.ID)
	}
	return titleStyle.Render(strings.Join(parts, " › "))
}

func (m Model) statusView() string {
	return statusStyle.Render(m.statusMessage + " │ " + HelpText(m.mode))
}
