package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jingkaihe/skillbook/pkg/references"
	"github.com/jingkaihe/skillbook/pkg/skills"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	loaded []string
	err    error
}

func (f *fakeLoader) Load(_ context.Context, skillName, chapterRef string) (*references.Chapter, error) {
	f.loaded = append(f.loaded, skillName+":"+chapterRef)
	if f.err != nil {
		return nil, f.err
	}
	id := skills.ChapterID(chapterRef)
	return &references.Chapter{
		Skill:   skillName,
		ID:      id,
		Path:    chapterRef,
		Title:   "Title of " + id,
		Content: "Body of " + id,
	}, nil
}

func keyMsg(key string) tea.KeyMsg {
	switch key {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

// press sends a key and runs any chapter load it triggers
func press(t *testing.T, m Model, key string) Model {
	t.Helper()
	m, cmd := update(t, m, keyMsg(key))
	if cmd != nil {
		if loaded, ok := cmd().(chapterLoadedMsg); ok {
			m, _ = update(t, m, loaded)
		}
	}
	return m
}

func newTestModel(t *testing.T, loader ChapterLoader) Model {
	t.Helper()
	m := NewModel(context.Background(), testSkills(), loader)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	return m
}

func TestViewBeforeWindowSize(t *testing.T) {
	m := NewModel(context.Background(), testSkills(), &fakeLoader{})
	assert.Equal(t, "Initializing...", m.View())
}

func TestWindowSize(t *testing.T) {
	m := newTestModel(t, &fakeLoader{})
	assert.True(t, m.ready)
	assert.Equal(t, 80, m.viewport.Width)
	assert.Equal(t, 22, m.viewport.Height)

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	assert.Equal(t, 100, m.viewport.Width)
	assert.Equal(t, 38, m.viewport.Height)

	view := m.View()
	assert.Contains(t, view, "skillbook")
	assert.Contains(t, view, "java-core")
	assert.Contains(t, view, "2 skills")
}

func TestCursorMovement(t *testing.T) {
	m := newTestModel(t, &fakeLoader{})

	m = press(t, m, "up")
	assert.Equal(t, 0, m.cursor)
	m = press(t, m, "j")
	assert.Equal(t, 1, m.cursor)
	m = press(t, m, "down")
	assert.Equal(t, 1, m.cursor, "cursor stays on the last skill")
	m = press(t, m, "k")
	assert.Equal(t, 0, m.cursor)
}

func TestOpenSkillAndBrowseChapters(t *testing.T) {
	loader := &fakeLoader{}
	m := newTestModel(t, loader)

	m = press(t, m, "enter")
	assert.Equal(t, modeSkill, m.mode)
	assert.Equal(t, "java-core", m.current.Name)
	assert.Contains(t, m.View(), "Use static factories")
	assert.Contains(t, m.statusMessage, "3 items, 2 chapters")

	m = press(t, m, "n")
	assert.Equal(t, modeChapter, m.mode)
	assert.Equal(t, 0, m.chapterIdx)
	assert.Contains(t, m.View(), "Body of 02-creating")
	assert.Contains(t, m.View(), "java-core › 02-creating")
	assert.Equal(t, "Chapter 1/2: Title of 02-creating", m.statusMessage)

	m = press(t, m, "n")
	assert.Equal(t, 1, m.chapterIdx)
	assert.Contains(t, m.View(), "Body of 03-common")

	m, cmd := update(t, m, keyMsg("n"))
	assert.Nil(t, cmd)
	assert.Equal(t, "No more chapters", m.statusMessage)

	m = press(t, m, "p")
	assert.Equal(t, 0, m.chapterIdx)

	m, cmd = update(t, m, keyMsg("p"))
	assert.Nil(t, cmd)
	assert.Equal(t, "Already at the first chapter", m.statusMessage)

	m = press(t, m, "2")
	assert.Equal(t, 1, m.chapterIdx)

	m, cmd = update(t, m, keyMsg("9"))
	assert.Nil(t, cmd)
	assert.Equal(t, "No chapter 9", m.statusMessage)

	assert.Equal(t, []string{
		"java-core:references/02-creating.md",
		"java-core:references/03-common.md",
		"java-core:references/02-creating.md",
		"java-core:references/03-common.md",
	}, loader.loaded)
}

func TestBackNavigation(t *testing.T) {
	m := newTestModel(t, &fakeLoader{})

	m = press(t, m, "enter")
	m = press(t, m, "n")
	require.Equal(t, modeChapter, m.mode)

	m = press(t, m, "esc")
	assert.Equal(t, modeSkill, m.mode)
	assert.Contains(t, m.View(), "Prefer builders")

	m = press(t, m, "esc")
	assert.Equal(t, modeList, m.mode)
	assert.Nil(t, m.current)
	assert.Equal(t, 0, m.cursor, "cursor position is kept")
	assert.Contains(t, m.View(), "java-concurrency")
}

func TestChapterLoadError(t *testing.T) {
	m := newTestModel(t, &fakeLoader{err: errors.New("reference '02-creating' not found")})

	m = press(t, m, "enter")
	m = press(t, m, "n")
	assert.Equal(t, modeSkill, m.mode)
	assert.Equal(t, -1, m.chapterIdx)
	assert.Equal(t, "Error: reference '02-creating' not found", m.statusMessage)
}

func TestSkillWithoutChapters(t *testing.T) {
	m := newTestModel(t, &fakeLoader{})

	m = press(t, m, "j")
	m = press(t, m, "enter")
	require.Equal(t, "java-concurrency", m.current.Name)

	m, cmd := update(t, m, keyMsg("n"))
	assert.Nil(t, cmd)
	assert.Equal(t, "No more chapters", m.statusMessage)
}

func TestEmptyList(t *testing.T) {
	m := NewModel(context.Background(), nil, &fakeLoader{})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})

	m = press(t, m, "enter")
	assert.Equal(t, modeList, m.mode)
	assert.Contains(t, m.View(), "No skills found")
}

func TestQuit(t *testing.T) {
	for _, key := range []string{"q", "ctrl+c"} {
		m := newTestModel(t, &fakeLoader{})
		m = press(t, m, "enter")

		_, cmd := update(t, m, keyMsg(key))
		require.NotNil(t, cmd, key)
		assert.Equal(t, tea.QuitMsg{}, cmd(), key)
	}
}
