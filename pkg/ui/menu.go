// Package ui provides the interactive start menu shown when no action flag
// is given on the command line.
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
)

// ErrAborted is returned when the user quits the menu without choosing.
var ErrAborted = errors.New("ui: selection aborted")

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			MarginBottom(1)

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	itemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)
)

type menuModel struct {
	title   string
	choices []string
	cursor  int
	chosen  string
	aborted bool
}

func (m menuModel) Init() tea.Cmd { return nil }

func (m menuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c", "q", "esc":
		m.aborted = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.choices)-1 {
			m.cursor++
		}
	case "enter", " ":
		m.chosen = m.choices[m.cursor]
		return m, tea.Quit
	}
	return m, nil
}

func (m menuModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	for i, choice := range m.choices {
		if i == m.cursor {
			b.WriteString(cursorStyle.Render(fmt.Sprintf("> %s", choice)))
		} else {
			b.WriteString(itemStyle.Render(fmt.Sprintf("  %s", choice)))
		}
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("up/down: move • enter: select • q: quit"))
	b.WriteString("\n")
	return b.String()
}

// SelectAction runs a full-screen-less menu and returns the chosen item.
func SelectAction(title string, choices []string) (string, error) {
	if len(choices) == 0 {
		return "", errors.New("ui: no choices to offer")
	}
	prog := tea.NewProgram(menuModel{title: title, choices: choices})
	out, err := prog.Run()
	if err != nil {
		return "", errors.Wrap(err, "ui: menu")
	}
	final := out.(menuModel)
	if final.aborted || final.chosen == "" {
		return "", ErrAborted
	}
	return final.chosen, nil
}
