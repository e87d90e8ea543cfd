package tui

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/algopatterns/cowrite/cowrite/rooms"
)

type fakeLister struct {
	rooms []*rooms.Room
}

func (f *fakeLister) ListRooms(string) ([]*rooms.Room, error) { return f.rooms, nil }

func (f *fakeLister) CreateRoom(projectID, title string) (*rooms.Room, error) {
	room := &rooms.Room{ID: "new-room", ProjectID: projectID, Title: title}
	f.rooms = append(f.rooms, room)
	return room, nil
}

func TestApp_EnterAndLeaveRoom(t *testing.T) {
	session := newFakeSession("hello")
	var opened string

	app := NewApp(Config{
		ProjectID: "proj",
		UserID:    "alice",
		Rooms:     &fakeLister{},
		Connect: func(roomID string) (Session, error) {
			opened = roomID
			return session, nil
		},
	})

	app.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	app.Update(EnterEditorMsg{Room: &rooms.Room{ID: "room-1", Title: "notes"}})

	assert.Equal(t, "room-1", opened)
	assert.Equal(t, StateEditor, app.state)
	assert.Equal(t, "hello", app.editor.content)
	assert.Contains(t, app.View(), "NOTES")

	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.NotNil(t, cmd)
	assert.True(t, session.closed)
	assert.Equal(t, StateWelcome, app.state)
}

func TestApp_ConnectFailureShowsError(t *testing.T) {
	app := NewApp(Config{
		ProjectID: "proj",
		Rooms:     &fakeLister{},
		Connect: func(string) (Session, error) {
			return nil, errors.New("outbox locked")
		},
	})

	app.Update(EnterEditorMsg{Room: &rooms.Room{ID: "room-1"}})

	assert.Equal(t, StateWelcome, app.state)
	assert.Contains(t, app.View(), "outbox locked")

	app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.NotContains(t, app.View(), "outbox locked")
}

func TestWelcome_Pick(t *testing.T) {
	w := NewWelcome("proj", &fakeLister{})
	w, _ = w.Update(RoomsLoadedMsg{Rooms: []*rooms.Room{
		{ID: "aaaa-1111", Title: "one"},
		{ID: "bbbb-2222", Title: "two"},
	}})

	room, err := w.pick("2")
	require.NoError(t, err)
	assert.Equal(t, "two", room.Title)

	room, err = w.pick("aaaa")
	require.NoError(t, err)
	assert.Equal(t, "one", room.Title)

	room, err = w.pick("cccc-3333")
	require.NoError(t, err)
	assert.Equal(t, "cccc-3333", room.ID)

	_, err = w.pick("3")
	assert.Error(t, err)

	_, err = w.pick("")
	assert.Error(t, err)
}

func TestWelcome_JoinCommand(t *testing.T) {
	w := NewWelcome("proj", &fakeLister{})
	w, _ = w.Update(RoomsLoadedMsg{Rooms: []*rooms.Room{{ID: "room-1", Title: "one"}}})

	for _, r := range "join 1" {
		if r == ' ' {
			w, _ = w.Update(tea.KeyMsg{Type: tea.KeySpace})
			continue
		}
		w, _ = w.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}

	w, cmd := w.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Empty(t, w.input)

	msg, ok := cmd().(EnterEditorMsg)
	require.True(t, ok)
	assert.Equal(t, "room-1", msg.Room.ID)
}

func TestRoomsClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	router.GET("/api/v1/rooms", func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer tok" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "missing token"})
			return
		}
		assert.Equal(t, "proj", c.Query("project_id"))
		c.JSON(http.StatusOK, gin.H{"rooms": []*rooms.Room{{ID: "room-1", Title: "one"}}})
	})
	router.POST("/api/v1/rooms", func(c *gin.Context) {
		var req rooms.CreateRoomRequest
		if !assert.NoError(t, c.ShouldBindJSON(&req)) {
			return
		}
		c.JSON(http.StatusCreated, rooms.Room{ID: "room-2", ProjectID: req.ProjectID, Title: req.Title})
	})

	srv := httptest.NewServer(router)
	defer srv.Close()

	c := NewRoomsClient(srv.URL+"/", "tok")

	list, err := c.ListRooms("proj")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "one", list[0].Title)

	room, err := c.CreateRoom("proj", "two")
	require.NoError(t, err)
	assert.Equal(t, "room-2", room.ID)
	assert.Equal(t, "two", room.Title)

	_, err = NewRoomsClient(srv.URL, "bad").ListRooms("proj")
	assert.ErrorContains(t, err, "unauthorized: missing token")
}
