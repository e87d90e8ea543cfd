package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"codeberg.org/algopatterns/cowrite/cowrite/rooms"
	"codeberg.org/algopatterns/cowrite/internal/client"
	"codeberg.org/algopatterns/cowrite/internal/ot"
	"codeberg.org/algopatterns/cowrite/internal/websocket"
)

// returns a new room editor bound to a live session
func NewEditor(session Session, room *rooms.Room, userID string) *EditorModel {
	ti := textinput.New()
	ti.Placeholder = "type to insert at the cursor, /say to chat"
	ti.Focus()
	ti.CharLimit = 0
	ti.Width = 80
	ti.Prompt = "> "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(colorLightGray)
	ti.TextStyle = lipgloss.NewStyle().Foreground(colorWhite)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorPurple)

	content, version := session.Content()

	return &EditorModel{
		session:      session,
		room:         room,
		userID:       userID,
		input:        ti,
		viewport:     viewport.New(80, 20),
		spinner:      sp,
		content:      content,
		version:      version,
		cursor:       len([]rune(content)),
		state:        session.State(),
		participants: make(map[string]string),
	}
}

func (m *EditorModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForEvent(m.session))
}

func (m *EditorModel) Update(msg tea.Msg) (*EditorModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			line := m.input.Value()
			m.input.SetValue("")
			return m, m.run(line)

		case "ctrl+r":
			m.retry()
			return m, nil

		case "pgup", "pgdown":
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case SessionEventMsg:
		// events from a room we already left
		if msg.session != m.session || !msg.ok {
			return m, nil
		}
		m.apply(msg.Event)
		return m, waitForEvent(m.session)

	case spinner.TickMsg:
		if m.state == client.StateConnected {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// folds a session event into the view
func (m *EditorModel) apply(e client.Event) {
	switch e.Kind {
	case client.EventStateChanged:
		prev := m.state
		m.state = e.State
		if e.State == client.StateConnected {
			m.failed = false
			m.notice = ""
		}
		if prev == client.StateConnected && e.State != client.StateConnected {
			m.notice = "connection lost, edits are kept locally"
		}

	case client.EventRoomState:
		m.participants = make(map[string]string, len(e.Room.Participants))
		for _, p := range e.Room.Participants {
			m.participants[p.UserID] = p.Info.DisplayName
		}
		m.chat = append(m.chat[:0], e.Room.ChatMessages...)
		m.trimChat()

	case client.EventChat:
		m.chat = append(m.chat, *e.Chat)
		m.trimChat()

	case client.EventUserJoined:
		name := ""
		if e.User.UserInfo != nil {
			name = e.User.UserInfo.DisplayName
		}
		m.participants[e.User.UserID] = name

	case client.EventUserLeft:
		delete(m.participants, e.User.UserID)

	case client.EventConflict:
		m.notice = fmt.Sprintf("conflict %s resolved by %s (confidence %.2f)",
			e.Conflict.Type, e.Conflict.Strategy, e.Conflict.Confidence)
		if e.Conflict.DiscardPending {
			m.notice += ", local edits will be reapplied on the latest version"
		}

	case client.EventError:
		m.notice = e.Err.Error()

	case client.EventFailed:
		m.failed = true
		m.notice = "could not reconnect. press ctrl+r to retry"
		if errors.Is(e.Err, client.ErrRejected) {
			m.notice = fmt.Sprintf("%v. press ctrl+r to retry", e.Err)
		}
	}

	m.refresh()
}

// executes one typed line
func (m *EditorModel) run(line string) tea.Cmd {
	cmd, err := parseEditorCommand(line)
	if errors.Is(err, errEmptyCommand) {
		return nil
	}
	if err != nil {
		m.notice = err.Error()
		return nil
	}

	length := len([]rune(m.content))
	m.cursor = clampCursor(m.cursor, length)

	switch cmd.kind {
	case cmdInsert, cmdNewline:
		if m.edit(ot.Insert(m.cursor, cmd.text, m.userID)) {
			m.cursor += len([]rune(cmd.text))
		}

	case cmdDelete:
		if n := min(cmd.n, length-m.cursor); n > 0 {
			m.edit(ot.Delete(m.cursor, n, m.userID))
		}

	case cmdBackspace:
		if n := min(cmd.n, m.cursor); n > 0 && m.edit(ot.Delete(m.cursor-n, n, m.userID)) {
			m.cursor -= n
		}

	case cmdGoto:
		m.cursor = clampCursor(cmd.n, length)

	case cmdSay:
		if err := m.session.SendChat(cmd.text); err != nil {
			m.notice = fmt.Sprintf("chat not sent: %v", err)
		}

	case cmdRetry:
		m.retry()

	case cmdRaw:
		m.raw = !m.raw

	case cmdLeave:
		return func() tea.Msg {
			return LeaveRoomMsg{}
		}
	}

	m.refresh()
	m.sharePresence()

	return nil
}

func (m *EditorModel) edit(op ot.Operation) bool {
	if err := m.session.Edit(op); err != nil {
		m.notice = fmt.Sprintf("edit rejected: %v", err)
		return false
	}
	return true
}

func (m *EditorModel) retry() {
	if !m.failed {
		return
	}
	m.failed = false
	m.notice = "retrying..."
	m.session.Retry()
}

// tells the room where the cursor is; offline updates are dropped
func (m *EditorModel) sharePresence() {
	cursor := m.cursor
	_ = m.session.UpdatePresence(websocket.PresenceUpdatePayload{CursorPosition: &cursor})
}

// pulls the replica's content, which already includes unconfirmed edits
func (m *EditorModel) refresh() {
	m.content, m.version = m.session.Content()
	m.cursor = clampCursor(m.cursor, len([]rune(m.content)))
	m.viewport.SetContent(m.renderDocument())
}

func (m *EditorModel) renderDocument() string {
	text := withCursor(m.content, m.cursor)
	if m.raw || m.renderer == nil {
		return text
	}

	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}

	return out
}

func (m *EditorModel) resize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = max(10, width-10)

	m.viewport.Width = max(20, width-sidebarWidth-6)
	m.viewport.Height = max(5, height-9)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(m.viewport.Width-2),
	)
	if err == nil {
		m.renderer = renderer
	}

	m.viewport.SetContent(m.renderDocument())
}

func (m *EditorModel) trimChat() {
	if len(m.chat) > chatLogSize {
		m.chat = m.chat[len(m.chat)-chatLogSize:]
	}
}

func (m *EditorModel) View() string {
	var b strings.Builder

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorWhite).
		Render(strings.ToUpper(roomTitle(m.room)))

	help := lipgloss.NewStyle().
		Foreground(colorGray).
		Render("[Enter: Apply] [/say: Chat] [/raw: Toggle Markdown] [Ctrl+C: Leave]")

	headerLine := lipgloss.JoinHorizontal(lipgloss.Left,
		header,
		strings.Repeat(" ", max(0, m.width-lipgloss.Width(header)-lipgloss.Width(help)-2)),
		help,
	)

	b.WriteString(headerLine)
	b.WriteString("\n\n")

	document := borderStyle.
		Width(m.viewport.Width).
		Height(m.viewport.Height).
		Render(m.viewport.View())

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, document, " ", m.sidebarView()))
	b.WriteString("\n")
	b.WriteString(m.statusView())
	b.WriteString("\n")
	b.WriteString(m.input.View())

	return b.String()
}

func (m *EditorModel) sidebarView() string {
	var b strings.Builder

	b.WriteString(commandStyle.Render("here now"))
	b.WriteString("\n")
	for _, name := range sortedNames(m.participants) {
		b.WriteString(menuItemStyle.Render(truncate(name, sidebarWidth-4)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(commandStyle.Render("chat"))
	b.WriteString("\n")

	// newest last, as many as fit
	fit := max(1, m.viewport.Height-len(m.participants)-4)
	start := max(0, len(m.chat)-fit)
	for _, msg := range m.chat[start:] {
		who := msg.DisplayName
		if who == "" {
			who = shortID(msg.UserID)
		}
		line := fmt.Sprintf("%s: %s", who, msg.Body)
		b.WriteString(promptStyle.Render(truncate(line, sidebarWidth-2)))
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().Width(sidebarWidth).Render(b.String())
}

func (m *EditorModel) statusView() string {
	var state string
	switch {
	case m.failed:
		state = errorStyle.Render("offline")
	case m.state == client.StateConnected:
		state = successStyle.Render("connected")
	default:
		state = m.spinner.View() + infoStyle.Render(m.state.String())
	}

	line := fmt.Sprintf("%s  %s  cursor %d", state, versionLine(m.version, m.session.Pending()), m.cursor)
	if m.notice != "" {
		line += "  " + infoStyle.Render(m.notice)
	}

	return line
}
