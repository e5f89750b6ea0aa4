package chat

import "github.com/charmbracelet/lipgloss"

type theme struct {
	header     lipgloss.Style
	headerMeta lipgloss.Style
	divider    lipgloss.Style
	userBox    lipgloss.Style
	userTitle  lipgloss.Style
	botBox     lipgloss.Style
	botTitle   lipgloss.Style
	errorBox   lipgloss.Style
	errorTitle lipgloss.Style
	status     lipgloss.Style
	statusBusy lipgloss.Style
	statusErr  lipgloss.Style
	hint       lipgloss.Style
	inputLabel lipgloss.Style
	input      lipgloss.Style
	viewport   lipgloss.Style
}

// palette holds the console colors by role.
var palette = struct {
	accent, user, bot, danger, dangerBg, muted, panel lipgloss.Color
}{
	accent:   lipgloss.Color("31"),
	user:     lipgloss.Color("214"),
	bot:      lipgloss.Color("44"),
	danger:   lipgloss.Color("203"),
	dangerBg: lipgloss.Color("52"),
	muted:    lipgloss.Color("244"),
	panel:    lipgloss.Color("233"),
}

func fg(color lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(color)
}

// bubble is a bordered message box in the given color.
func bubble(border, background lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(border).
		Background(background).
		Padding(0, 1)
}

// tag is the inverted label drawn above a bubble.
func tag(text, background lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(text).Background(background).Padding(0, 1)
}

func defaultTheme() theme {
	return theme{
		header:     tag(lipgloss.Color("230"), lipgloss.Color("24")),
		headerMeta: fg(lipgloss.Color("223")),
		divider:    fg(palette.accent),
		userBox:    bubble(palette.user, lipgloss.Color("235")),
		userTitle:  tag(lipgloss.Color("16"), palette.user),
		botBox:     bubble(palette.bot, lipgloss.Color("234")),
		botTitle:   tag(lipgloss.Color("16"), palette.bot),
		errorBox:   bubble(palette.danger, palette.dangerBg).Foreground(palette.danger),
		errorTitle: tag(lipgloss.Color("231"), lipgloss.Color("160")),
		status:     fg(lipgloss.Color("250")).Bold(true),
		statusBusy: fg(lipgloss.Color("222")).Bold(true),
		statusErr:  fg(palette.danger).Bold(true),
		hint:       fg(palette.muted),
		inputLabel: fg(lipgloss.Color("229")).Bold(true),
		input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("173")).
			Background(lipgloss.Color("236")).
			Padding(0, 1),
		viewport: lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(palette.accent).
			Background(palette.panel).
			Padding(0, 1),
	}
}
