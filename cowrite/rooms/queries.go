package rooms

const (
	queryCreateRoom = `
		INSERT INTO rooms (project_id, title, created_by, max_participants, read_only, chat_enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, project_id, title, created_by, max_participants, read_only, chat_enabled, created_at, updated_at
	`

	queryGetRoom = `
		SELECT id, project_id, title, created_by, max_participants, read_only, chat_enabled, created_at, updated_at
		FROM rooms
		WHERE id = $1
	`

	queryListRooms = `
		SELECT id, project_id, title, created_by, max_participants, read_only, chat_enabled, created_at, updated_at
		FROM rooms
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	queryCountRooms = `
		SELECT COUNT(*) FROM rooms WHERE project_id = $1
	`

	querySetMemberRole = `
		INSERT INTO room_members (room_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id, user_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING room_id, user_id, role, added_at
	`

	queryMemberRole = `
		SELECT role FROM room_members
		WHERE room_id = $1 AND user_id = $2
	`

	queryListMembers = `
		SELECT room_id, user_id, role, added_at
		FROM room_members
		WHERE room_id = $1
		ORDER BY added_at ASC
	`

	querySaveDocument = `
		INSERT INTO room_documents (room_id, content, version, last_modified, last_modified_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (room_id) DO UPDATE
		SET content = EXCLUDED.content,
		    version = EXCLUDED.version,
		    last_modified = EXCLUDED.last_modified,
		    last_modified_by = EXCLUDED.last_modified_by
		WHERE room_documents.version < EXCLUDED.version
	`

	queryLoadDocument = `
		SELECT room_id, content, version, last_modified, last_modified_by
		FROM room_documents
		WHERE room_id = $1
	`

	queryAppendMessage = `
		INSERT INTO room_messages (id, room_id, user_id, display_name, body, message_type, reply_to, metadata, seq, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	queryListMessages = `
		SELECT id, room_id, user_id, display_name, body, message_type, reply_to, metadata, seq, created_at
		FROM (
			SELECT * FROM room_messages
			WHERE room_id = $1
			  AND ($3 = '' OR seq < (SELECT seq FROM room_messages WHERE id = $3 AND room_id = $1))
			ORDER BY seq DESC
			LIMIT $2
		) page
		ORDER BY seq ASC
	`
)
