package tui

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
)

// Browse runs the skill browser until the user quits or ctx is cancelled
func Browse(ctx context.Context, lister SkillLister, loader ChapterLoader) error {
	if !isTTY() {
		return errors.New("browse needs an interactive terminal")
	}

	p := tea.NewProgram(
		NewModel(ctx, lister.List(), loader),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "error running program")
	}
	return nil
}

func isTTY() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
