package rooms

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/auth"
	"codeberg.org/algopatterns/cowrite/internal/chat"
	"codeberg.org/algopatterns/cowrite/internal/sessions"
	"github.com/google/uuid"
)

// MemoryRepository keeps rooms in process memory. Used when no database
// is configured and in tests.
type MemoryRepository struct {
	mu        sync.RWMutex
	rooms     map[string]*Room
	members   map[string]map[string]*Member
	documents map[string]*Document
	messages  map[string][]chat.Message
	now       func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rooms:     make(map[string]*Room),
		members:   make(map[string]map[string]*Member),
		documents: make(map[string]*Document),
		messages:  make(map[string][]chat.Message),
		now:       time.Now,
	}
}

func (m *MemoryRepository) CreateRoom(_ context.Context, req *CreateRoomRequest) (*Room, error) {
	if req.ProjectID == "" || req.CreatedBy == "" {
		return nil, ErrInvalidRoom
	}

	settings := sessions.DefaultSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}

	now := m.now()
	room := &Room{
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		Title:     req.Title,
		CreatedBy: req.CreatedBy,
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rooms[room.ID] = room
	m.members[room.ID] = map[string]*Member{
		req.CreatedBy: {RoomID: room.ID, UserID: req.CreatedBy, Role: auth.RoleOwner, AddedAt: now},
	}

	copied := *room
	return &copied, nil
}

func (m *MemoryRepository) GetRoom(_ context.Context, roomID string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}

	copied := *room
	return &copied, nil
}

func (m *MemoryRepository) ListRooms(_ context.Context, projectID string, limit, offset int) ([]*Room, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Room
	for _, room := range m.rooms {
		if room.ProjectID == projectID {
			copied := *room
			matched = append(matched, &copied)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return []*Room{}, total, nil
	}

	end := min(offset+limit, total)
	return matched[offset:end], total, nil
}

func (m *MemoryRepository) SetMemberRole(_ context.Context, roomID, userID, role string) (*Member, error) {
	if !auth.ValidRole(role) {
		return nil, fmt.Errorf("%w: %q", auth.ErrUnknownRole, role)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; !ok {
		return nil, ErrRoomNotFound
	}

	member, ok := m.members[roomID][userID]
	if !ok {
		member = &Member{RoomID: roomID, UserID: userID, AddedAt: m.now()}
		m.members[roomID][userID] = member
	}
	member.Role = role

	copied := *member
	return &copied, nil
}

func (m *MemoryRepository) MemberRole(_ context.Context, roomID, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, ok := m.members[roomID][userID]
	if !ok {
		return "", auth.ErrNotMember
	}

	return member.Role, nil
}

func (m *MemoryRepository) ListMembers(_ context.Context, roomID string) ([]*Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := []*Member{}
	for _, member := range m.members[roomID] {
		copied := *member
		members = append(members, &copied)
	}

	sort.Slice(members, func(i, j int) bool {
		if members[i].AddedAt.Equal(members[j].AddedAt) {
			return members[i].UserID < members[j].UserID
		}
		return members[i].AddedAt.Before(members[j].AddedAt)
	})

	return members, nil
}

func (m *MemoryRepository) SaveDocument(_ context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.documents[doc.RoomID]; ok && existing.Version >= doc.Version {
		return nil
	}

	copied := *doc
	m.documents[doc.RoomID] = &copied
	return nil
}

func (m *MemoryRepository) LoadDocument(_ context.Context, roomID string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[roomID]
	if !ok {
		return nil, nil
	}

	copied := *doc
	return &copied, nil
}

func (m *MemoryRepository) AppendMessages(_ context.Context, msgs []chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range msgs {
		if m.hasMessage(msg.SessionID, msg.ID) {
			continue
		}

		log := append(m.messages[msg.SessionID], msg)
		sort.SliceStable(log, func(i, j int) bool { return log[i].Seq < log[j].Seq })
		m.messages[msg.SessionID] = log
	}

	return nil
}

func (m *MemoryRepository) hasMessage(roomID, id string) bool {
	for _, existing := range m.messages[roomID] {
		if existing.ID == id {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) ListMessages(_ context.Context, roomID string, limit int, before string) ([]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.messages[roomID]
	end := len(log)

	if before != "" {
		end = -1
		for i, msg := range log {
			if msg.ID == before {
				end = i
				break
			}
		}
		if end < 0 {
			return []chat.Message{}, nil
		}
	}

	start := max(end-limit, 0)
	return append([]chat.Message{}, log[start:end]...), nil
}
