package chat

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TurnFunc runs one line of input and returns the rendered reply lines.
type TurnFunc func(ctx context.Context, input string) ([]string, error)

// RuntimeInfo is shown in the header.
type RuntimeInfo struct {
	Backend string
	Client  string
	ChatID  string
}

func RunInteractive(ctx context.Context, turnFn TurnFunc, info RuntimeInfo) error {
	model := newModel(ctx, turnFn, modeInteractive, "", info)
	program := tea.NewProgram(model, tea.WithMouseCellMotion())
	_, err := program.Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

func RunOneShot(ctx context.Context, turnFn TurnFunc, input string, info RuntimeInfo) error {
	model := newModel(ctx, turnFn, modeOneShot, input, info)
	program := tea.NewProgram(model)
	_, err := program.Run()
	return err
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("24")).
		Padding(1, 2)

	return style.Render("Conversation closed. See you next time.")
}
