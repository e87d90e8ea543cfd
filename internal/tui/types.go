package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"

	"codeberg.org/algopatterns/cowrite/cowrite/rooms"
	"codeberg.org/algopatterns/cowrite/internal/chat"
	"codeberg.org/algopatterns/cowrite/internal/client"
	"codeberg.org/algopatterns/cowrite/internal/ot"
	"codeberg.org/algopatterns/cowrite/internal/websocket"
)

// represents the current state of the TUI
type AppState int

const (
	StateWelcome AppState = iota
	StateEditor
)

// Session is the live room the editor drives. *client.Manager satisfies
// everything but Close, which the caller wires to its run loop.
type Session interface {
	Events() <-chan client.Event
	State() client.State
	Content() (string, int64)
	Pending() int
	Edit(ops ...ot.Operation) error
	SendChat(body string) error
	UpdatePresence(update websocket.PresenceUpdatePayload) error
	Retry()
	Close() error
}

// Connector opens a session for a room.
type Connector func(roomID string) (Session, error)

// RoomLister is the REST surface the welcome screen needs.
type RoomLister interface {
	ListRooms(projectID string) ([]*rooms.Room, error)
	CreateRoom(projectID, title string) (*rooms.Room, error)
}

// Config wires the app to its collaborators.
type Config struct {
	ProjectID string
	UserID    string
	Rooms     RoomLister
	Connect   Connector
}

// main TUI application model
type Model struct {
	state   AppState
	width   int
	height  int
	err     error
	welcome *Welcome
	editor  *EditorModel
	connect Connector
	userID  string
}

// sent when an error occurs
type ErrorMsg struct {
	err error
}

// sent to transition to the editor state
type EnterEditorMsg struct {
	Room *rooms.Room
}

// sent when the room list arrives
type RoomsLoadedMsg struct {
	Rooms []*rooms.Room
}

// sent for every event the session emits
type SessionEventMsg struct {
	Event   client.Event
	session Session
	ok      bool
}

// sent when the user leaves a room
type LeaveRoomMsg struct{}

// room editor
type EditorModel struct {
	session  Session
	room     *rooms.Room
	userID   string
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	width  int
	height int

	content      string
	version      int64
	cursor       int
	state        client.State
	participants map[string]string
	chat         []chat.Message
	notice       string
	failed       bool
	raw          bool
}

// welcome screen model
type Welcome struct {
	projectID string
	input     string
	rooms     []*rooms.Room
	status    string
	lister    RoomLister
	commands  []Command
}

// represents an available TUI command
type Command struct {
	Name        string
	Description string
}
