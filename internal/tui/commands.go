package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// editor command kinds
const (
	cmdInsert = iota + 1
	cmdNewline
	cmdDelete
	cmdBackspace
	cmdGoto
	cmdSay
	cmdRetry
	cmdRaw
	cmdLeave
)

type editorCommand struct {
	kind int
	text string
	n    int
}

var errEmptyCommand = errors.New("nothing to do")

// parses one line typed into the editor. Plain text is inserted at the
// cursor, slash commands do everything else.
func parseEditorCommand(line string) (editorCommand, error) {
	if strings.TrimSpace(line) == "" {
		return editorCommand{}, errEmptyCommand
	}

	if !strings.HasPrefix(line, "/") {
		return editorCommand{kind: cmdInsert, text: line}, nil
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")

	switch name {
	case "nl":
		return editorCommand{kind: cmdNewline, text: "\n"}, nil
	case "del", "bs", "goto":
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil || n < 0 {
			return editorCommand{}, fmt.Errorf("/%s needs a non-negative number", name)
		}

		kind := map[string]int{"del": cmdDelete, "bs": cmdBackspace, "goto": cmdGoto}[name]
		return editorCommand{kind: kind, n: n}, nil
	case "say":
		if strings.TrimSpace(arg) == "" {
			return editorCommand{}, errors.New("/say needs a message")
		}
		return editorCommand{kind: cmdSay, text: arg}, nil
	case "retry":
		return editorCommand{kind: cmdRetry}, nil
	case "raw":
		return editorCommand{kind: cmdRaw}, nil
	case "leave":
		return editorCommand{kind: cmdLeave}, nil
	}

	// "//text" inserts text starting with a slash
	if strings.HasPrefix(name, "/") {
		return editorCommand{kind: cmdInsert, text: strings.TrimPrefix(line, "/")}, nil
	}

	return editorCommand{}, fmt.Errorf("unknown command: /%s", name)
}

func loadRooms(lister RoomLister, projectID string) tea.Cmd {
	return func() tea.Msg {
		list, err := lister.ListRooms(projectID)
		if err != nil {
			return ErrorMsg{err: fmt.Errorf("failed to list rooms: %w", err)}
		}
		return RoomsLoadedMsg{Rooms: list}
	}
}

func createRoom(lister RoomLister, projectID, title string) tea.Cmd {
	return func() tea.Msg {
		room, err := lister.CreateRoom(projectID, title)
		if err != nil {
			return ErrorMsg{err: fmt.Errorf("failed to create room: %w", err)}
		}
		return EnterEditorMsg{Room: room}
	}
}

// waits for the next session event
func waitForEvent(s Session) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-s.Events()
		return SessionEventMsg{Event: e, session: s, ok: ok}
	}
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}
