package rooms

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"codeberg.org/algopatterns/cowrite/internal/auth"
	"codeberg.org/algopatterns/cowrite/internal/chat"
	"codeberg.org/algopatterns/cowrite/internal/sessions"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// creates the tables if they do not exist
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply rooms schema: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*Room, error) {
	var room Room

	err := row.Scan(
		&room.ID,
		&room.ProjectID,
		&room.Title,
		&room.CreatedBy,
		&room.Settings.MaxParticipants,
		&room.Settings.ReadOnly,
		&room.Settings.ChatEnabled,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}

	return &room, nil
}

// creates a room and makes its creator the owner, in one transaction
func (r *repository) CreateRoom(ctx context.Context, req *CreateRoomRequest) (*Room, error) {
	if req.ProjectID == "" || req.CreatedBy == "" {
		return nil, ErrInvalidRoom
	}

	settings := sessions.DefaultSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	room, err := scanRoom(tx.QueryRow(
		ctx,
		queryCreateRoom,
		req.ProjectID,
		req.Title,
		req.CreatedBy,
		settings.MaxParticipants,
		settings.ReadOnly,
		settings.ChatEnabled,
	))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, querySetMemberRole, room.ID, req.CreatedBy, auth.RoleOwner); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return room, nil
}

func (r *repository) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	return scanRoom(r.db.QueryRow(ctx, queryGetRoom, roomID))
}

// lists a project's rooms, newest first, with the total count
func (r *repository) ListRooms(ctx context.Context, projectID string, limit, offset int) ([]*Room, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, queryCountRooms, projectID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, queryListRooms, projectID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	rooms := []*Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, 0, err
		}
		rooms = append(rooms, room)
	}

	return rooms, total, rows.Err()
}

func (r *repository) SetMemberRole(ctx context.Context, roomID, userID, role string) (*Member, error) {
	if !auth.ValidRole(role) {
		return nil, fmt.Errorf("%w: %q", auth.ErrUnknownRole, role)
	}

	var m Member
	err := r.db.QueryRow(ctx, querySetMemberRole, roomID, userID, role).Scan(
		&m.RoomID,
		&m.UserID,
		&m.Role,
		&m.AddedAt,
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

func (r *repository) MemberRole(ctx context.Context, roomID, userID string) (string, error) {
	var role string

	err := r.db.QueryRow(ctx, queryMemberRole, roomID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", auth.ErrNotMember
	}
	if err != nil {
		return "", err
	}

	return role, nil
}

func (r *repository) ListMembers(ctx context.Context, roomID string) ([]*Member, error) {
	rows, err := r.db.Query(ctx, queryListMembers, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []*Member{}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.Role, &m.AddedAt); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}

	return members, rows.Err()
}

func (r *repository) SaveDocument(ctx context.Context, doc *Document) error {
	_, err := r.db.Exec(
		ctx,
		querySaveDocument,
		doc.RoomID,
		doc.Content,
		doc.Version,
		doc.LastModified,
		doc.LastModifiedBy,
	)
	return err
}

// returns nil when the room has never been checkpointed
func (r *repository) LoadDocument(ctx context.Context, roomID string) (*Document, error) {
	var doc Document

	err := r.db.QueryRow(ctx, queryLoadDocument, roomID).Scan(
		&doc.RoomID,
		&doc.Content,
		&doc.Version,
		&doc.LastModified,
		&doc.LastModifiedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &doc, nil
}

// writes messages in one round trip
func (r *repository) AppendMessages(ctx context.Context, msgs []chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(
			queryAppendMessage,
			m.ID,
			m.SessionID,
			m.UserID,
			m.DisplayName,
			m.Body,
			m.Type,
			m.ReplyTo,
			m.Metadata,
			int64(m.Seq), //nolint:gosec // sequence numbers stay far below MaxInt64
			m.Timestamp,
		)
	}

	return r.db.SendBatch(ctx, batch).Close()
}

// returns up to limit messages older than before (or the latest), oldest first
func (r *repository) ListMessages(ctx context.Context, roomID string, limit int, before string) ([]chat.Message, error) {
	rows, err := r.db.Query(ctx, queryListMessages, roomID, limit, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []chat.Message{}
	for rows.Next() {
		var (
			m   chat.Message
			seq int64
		)

		err := rows.Scan(
			&m.ID,
			&m.SessionID,
			&m.UserID,
			&m.DisplayName,
			&m.Body,
			&m.Type,
			&m.ReplyTo,
			&m.Metadata,
			&seq,
			&m.Timestamp,
		)
		if err != nil {
			return nil, err
		}

		m.Seq = uint64(seq) //nolint:gosec // stored from a uint64
		messages = append(messages, m)
	}

	return messages, rows.Err()
}
