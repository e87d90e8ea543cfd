package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

func NewApp(cfg Config) *Model {
	return &Model{
		state:   StateWelcome,
		welcome: NewWelcome(cfg.ProjectID, cfg.Rooms),
		connect: cfg.Connect,
		userID:  cfg.UserID,
	}
}

func (m *Model) Init() tea.Cmd {
	return m.welcome.Init()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// only quit from welcome screen, not from editor
		if msg.String() == "ctrl+c" && m.state == StateWelcome {
			return m, tea.Quit
		}

		// in editor, ctrl+c leaves the room
		if msg.String() == "ctrl+c" && m.state == StateEditor {
			return m.leave()
		}

		// any key dismisses an error
		if m.err != nil {
			m.err = nil
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		if m.state == StateEditor {
			m.editor, _ = m.editor.Update(msg)
		}
		return m, nil

	case ErrorMsg:
		m.err = msg.err
		return m, nil

	case EnterEditorMsg:
		return m.enter(msg)

	case LeaveRoomMsg:
		return m.leave()
	}

	switch m.state {
	case StateWelcome:
		return m.updateWelcome(msg)

	case StateEditor:
		return m.updateEditor(msg)

	default:
		return m, nil
	}
}

func (m *Model) View() string {
	if m.err != nil {
		return errorView(m.err)
	}

	switch m.state {
	case StateWelcome:
		return m.welcome.View()

	case StateEditor:
		return m.editor.View()

	default:
		return "Unknown state"
	}
}

func (m *Model) enter(msg EnterEditorMsg) (tea.Model, tea.Cmd) {
	session, err := m.connect(msg.Room.ID)
	if err != nil {
		m.err = fmt.Errorf("failed to open room: %w", err)
		return m, nil
	}

	m.editor = NewEditor(session, msg.Room, m.userID)
	m.state = StateEditor

	if m.width > 0 {
		m.editor, _ = m.editor.Update(tea.WindowSizeMsg{Width: m.width, Height: m.height})
	}

	return m, m.editor.Init()
}

func (m *Model) leave() (tea.Model, tea.Cmd) {
	if m.editor != nil {
		if err := m.editor.session.Close(); err != nil {
			m.err = fmt.Errorf("failed to close room: %w", err)
		}
		m.editor = nil
	}

	m.state = StateWelcome
	return m, loadRooms(m.welcome.lister, m.welcome.projectID)
}

func (m *Model) updateWelcome(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.welcome, cmd = m.welcome.Update(msg)

	return m, cmd
}

func (m *Model) updateEditor(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)

	return m, cmd
}

func errorView(err error) string {
	return fmt.Sprintf("\n  Error: %v\n\n  Press any key to continue, Ctrl+C to exit\n", err)
}
