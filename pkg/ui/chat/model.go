package chat

import (
	"context"
	"fmt"
	"strings"

	"flowrelay/pkg/fault"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type mode int

const (
	modeInteractive mode = iota
	modeOneShot
)

const (
	roleUser   = "user"
	roleBot    = "bot"
	roleNotice = "notice"
	roleError  = "error"
)

const (
	mouseScrollLines = 3
	historyLimit     = 50
)

type chatMessage struct {
	role    string
	content string
}

type turnResultMsg struct {
	lines []string
	err   error
}

type model struct {
	ctx          context.Context
	turnFn       TurnFunc
	mode         mode
	oneShotInput string
	runtime      RuntimeInfo

	theme    theme
	spinner  spinner.Model
	input    textinput.Model
	viewport viewport.Model
	width    int
	height   int
	sized    bool

	messages  []chatMessage
	history   []string
	recall    int
	waiting   bool
	lastErr   string
	followLog bool
	turns     int
	dropped   int
}

func newModel(ctx context.Context, turnFn TurnFunc, runMode mode, input string, info RuntimeInfo) *model {
	spin := spinner.New(spinner.WithSpinner(spinner.MiniDot))
	spin.Style = lipgloss.NewStyle().Foreground(palette.bot)

	in := textinput.New()
	in.Prompt = "> "
	in.Placeholder = "Say something, #N for a button, < or > for carousel pages"
	in.Focus()

	return &model{
		ctx:          ctx,
		turnFn:       turnFn,
		mode:         runMode,
		oneShotInput: strings.TrimSpace(input),
		runtime:      info,
		theme:        defaultTheme(),
		spinner:      spin,
		input:        in,
		viewport:     viewport.New(80, 12),
		width:        100,
		height:       28,
		followLog:    true,
	}
}

func (m *model) Init() tea.Cmd {
	if m.mode == modeOneShot && m.oneShotInput != "" {
		return m.submit(m.oneShotInput)
	}
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = typed.Width, typed.Height
		m.sized = true
		m.layout()
		m.refreshViewport(false)
		return m, nil
	case tea.MouseMsg:
		if m.mode == modeInteractive {
			m.handleViewportMouse(typed)
		}
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(typed)
	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case turnResultMsg:
		m.applyTurnResult(typed)
		m.refreshViewport(false)
		if m.mode == modeOneShot {
			return m, tea.Quit
		}
		return m, nil
	}

	return m.updateInput(msg)
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" || key == "esc" {
		return m, tea.Quit
	}
	if m.mode == modeOneShot {
		return m, nil
	}
	if m.handleViewportKey(msg) {
		return m, nil
	}

	switch key {
	case "up":
		m.recallHistory(-1)
		return m, nil
	case "down":
		m.recallHistory(1)
		return m, nil
	case "enter":
		input := strings.TrimSpace(m.input.Value())
		if m.waiting || input == "" {
			return m, nil
		}
		if isExitCommand(input) {
			return m, tea.Quit
		}
		m.input.SetValue("")
		return m, m.submit(input)
	}

	return m.updateInput(msg)
}

func (m *model) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.mode != modeInteractive {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit records input as a user message and starts the turn.
func (m *model) submit(input string) tea.Cmd {
	m.messages = append(m.messages, chatMessage{role: roleUser, content: input})
	m.pushHistory(input)
	m.lastErr = ""
	m.waiting = true
	m.refreshViewport(true)

	ctx, turnFn := m.ctx, m.turnFn
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		lines, err := turnFn(ctx, input)
		return turnResultMsg{lines: lines, err: err}
	})
}

// applyTurnResult appends rendered lines first so a partial reply stays
// visible above the error that cut it short.
func (m *model) applyTurnResult(result turnResultMsg) {
	m.waiting = false
	m.turns++

	for _, line := range result.lines {
		m.messages = append(m.messages, chatMessage{role: roleBot, content: line})
	}

	switch {
	case result.err == nil:
		m.lastErr = ""
	case fault.IsProtocol(result.err):
		m.dropped++
		m.messages = append(m.messages, chatMessage{role: roleNotice, content: "ignored: " + fault.CategoryFromError(result.err)})
	default:
		m.lastErr = result.err.Error()
		m.messages = append(m.messages, chatMessage{role: roleError, content: result.err.Error()})
	}
}

func (m *model) pushHistory(input string) {
	if n := len(m.history); n == 0 || m.history[n-1] != input {
		m.history = append(m.history, input)
	}
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
	m.recall = len(m.history)
}

// recallHistory moves through previous inputs. Moving past the newest entry
// clears the input line.
func (m *model) recallHistory(step int) {
	if len(m.history) == 0 {
		return
	}
	m.recall = min(max(m.recall+step, 0), len(m.history))
	if m.recall == len(m.history) {
		m.input.SetValue("")
		return
	}
	m.input.SetValue(m.history[m.recall])
	m.input.CursorEnd()
}

func (m *model) View() string {
	if !m.sized {
		m.layout()
		m.refreshViewport(false)
	}
	if m.mode == modeOneShot {
		return m.oneShotView()
	}

	status := m.theme.status.Render("Enter send · ↑/↓ history · #N button · < > carousel · PgUp/PgDn scroll · Esc quit")
	switch {
	case m.waiting:
		status = m.theme.statusBusy.Render(m.spinner.View() + " waiting for the bot...")
	case m.lastErr != "":
		status = m.theme.statusErr.Render("last turn failed, try again")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.chrome(),
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("You")+" "+m.theme.hint.Render("(exit, quit or :q to leave)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) chrome() string {
	meta := fmt.Sprintf("backend:%s · client:%s · chat:%s · turns:%d · dropped:%d",
		orNA(m.runtime.Backend), orNA(m.runtime.Client), orNA(m.runtime.ChatID), m.turns, m.dropped)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.theme.header.Width(m.width-2).Render("flowrelay console"),
		m.theme.headerMeta.Render(meta),
		m.theme.divider.Render(strings.Repeat("─", max(8, m.width-2))),
	)
}

func (m *model) oneShotView() string {
	width := max(40, m.width-6)
	parts := make([]string, 0, len(m.messages)+1)
	for _, item := range m.messages {
		parts = append(parts, m.renderMessage(item, width))
	}
	if m.waiting {
		parts = append(parts, m.theme.statusBusy.Render(m.spinner.View()+" sending..."))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
}

func (m *model) layout() {
	reserved := 10
	if m.mode == modeOneShot {
		reserved = 6
	}

	m.viewport.Width = max(m.width-6, 50)
	m.viewport.Height = max(m.height-reserved, 8)
	m.input.Width = m.viewport.Width - 4
}

func (m *model) refreshViewport(forceBottom bool) {
	offset := m.viewport.YOffset
	sections := make([]string, len(m.messages))
	for i, item := range m.messages {
		sections[i] = m.renderMessage(item, m.viewport.Width)
	}
	m.viewport.SetContent(strings.Join(sections, "\n\n"))

	if m.followLog || forceBottom {
		m.followLog = true
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(min(offset, max(m.viewport.TotalLineCount()-m.viewport.Height, 0)))
}

func (m *model) renderMessage(item chatMessage, width int) string {
	body := strings.TrimSpace(item.content)

	var title, box lipgloss.Style
	label := ""
	switch item.role {
	case roleUser:
		title, box, label = m.theme.userTitle, m.theme.userBox, "you"
	case roleBot:
		title, box, label = m.theme.botTitle, m.theme.botBox, "bot"
	case roleNotice:
		return m.theme.hint.Render(body)
	default:
		title, box, label = m.theme.errorTitle, m.theme.errorBox, "error"
	}
	return lipgloss.JoinVertical(lipgloss.Left, title.Render(label), box.Width(width).Render(body))
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b":
		m.viewport.PageUp()
		m.followLog = false
	case "pgdown", "ctrl+f":
		m.viewport.PageDown()
		m.followLog = m.viewport.AtBottom()
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
	default:
		return false
	}
	return true
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(mouseScrollLines)
		m.followLog = false
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(mouseScrollLines)
		m.followLog = m.viewport.AtBottom()
	default:
		return false
	}
	return true
}

func orNA(value string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return "n/a"
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	}
	return false
}
