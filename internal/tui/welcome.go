package tui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"codeberg.org/algopatterns/cowrite/cowrite/rooms"
)

// returns a new welcome screen
func NewWelcome(projectID string, lister RoomLister) *Welcome {
	commands := []Command{
		{Name: "rooms", Description: "refresh the room list"},
		{Name: "new <title>", Description: "create a room and join it"},
		{Name: "join <n|id>", Description: "join a listed room by number or id"},
		{Name: "quit", Description: "exit cowrite"},
	}

	return &Welcome{
		projectID: projectID,
		lister:    lister,
		commands:  commands,
		status:    "loading rooms...",
	}
}

func (m *Welcome) Init() tea.Cmd {
	return loadRooms(m.lister, m.projectID)
}

func (m *Welcome) Update(msg tea.Msg) (*Welcome, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			cmd := m.executeCommand()
			m.input = ""
			return m, cmd
		case tea.KeyBackspace:
			if runes := []rune(m.input); len(runes) > 0 {
				m.input = string(runes[:len(runes)-1])
			}
		case tea.KeySpace:
			m.input += " "
		case tea.KeyRunes:
			m.input += string(msg.Runes)
		}

	case RoomsLoadedMsg:
		m.rooms = msg.Rooms
		m.status = ""
		if len(m.rooms) == 0 {
			m.status = "no rooms yet. create one with: new <title>"
		}
	}

	return m, nil
}

func (m *Welcome) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(logo))
	b.WriteString("\n")
	b.WriteString(subtitleStyle.Render("write together, in real time"))
	b.WriteString("\n\n")

	b.WriteString(infoStyle.Render(fmt.Sprintf("project: %s", m.projectID)))
	b.WriteString("\n\n")

	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(colorWhite).Render("rooms:"))
	b.WriteString("\n\n")

	for i, room := range m.rooms {
		b.WriteString(menuItemStyle.Render(fmt.Sprintf("%d. %s", i+1, roomTitle(room))))
		b.WriteString(commandDescStyle.Render(shortID(room.ID)))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString(infoStyle.Render("  " + m.status))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(colorWhite).Render("commands:"))
	b.WriteString("\n\n")

	for _, cmd := range m.commands {
		line := fmt.Sprintf("  %s %s",
			commandStyle.Render(cmd.Name),
			commandDescStyle.Render("- "+cmd.Description),
		)
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")

	prompt := promptStyle.Render("> ")
	input := inputStyle.Render(m.input + "_")
	b.WriteString(prompt + input)
	b.WriteString("\n\n")

	b.WriteString(helpStyle.Render("type a command and press enter. press ctrl+c to quit."))

	return b.String()
}

func (m *Welcome) executeCommand() tea.Cmd {
	name, arg, _ := strings.Cut(strings.TrimSpace(m.input), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "quit":
		return tea.Quit

	case "rooms":
		m.status = "loading rooms..."
		return loadRooms(m.lister, m.projectID)

	case "new":
		m.status = "creating room..."
		return createRoom(m.lister, m.projectID, arg)

	case "join":
		room, err := m.pick(arg)
		if err != nil {
			return errorCmd(err)
		}
		return func() tea.Msg {
			return EnterEditorMsg{Room: room}
		}

	case "":
		return nil

	default:
		return errorCmd(fmt.Errorf("unknown command: %s", name))
	}
}

// resolves a list number, an id, or an id prefix
func (m *Welcome) pick(arg string) (*rooms.Room, error) {
	if arg == "" {
		return nil, fmt.Errorf("join needs a room number or id")
	}

	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(m.rooms) {
			return nil, fmt.Errorf("no room numbered %d", n)
		}
		return m.rooms[n-1], nil
	}

	for _, room := range m.rooms {
		if strings.HasPrefix(room.ID, arg) {
			return room, nil
		}
	}

	// unlisted ids are joined directly; the server decides access
	return &rooms.Room{ID: arg}, nil
}

func roomTitle(room *rooms.Room) string {
	if room.Title == "" {
		return "untitled"
	}
	return room.Title
}

func errorCmd(err error) tea.Cmd {
	return func() tea.Msg {
		return ErrorMsg{err: err}
	}
}
