package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/auth"
	"codeberg.org/algopatterns/cowrite/internal/chat"
	"codeberg.org/algopatterns/cowrite/internal/conflict"
	"codeberg.org/algopatterns/cowrite/internal/document"
	"codeberg.org/algopatterns/cowrite/internal/events"
	"codeberg.org/algopatterns/cowrite/internal/logger"
	"codeberg.org/algopatterns/cowrite/internal/presence"
	"codeberg.org/algopatterns/cowrite/internal/sessions"
)

// Deps are the components a Service coordinates. All are required except
// Checkpointer and Logger.
type Deps struct {
	Registry     *sessions.Registry
	Documents    *document.Store
	Presence     *presence.Tracker
	Chat         *chat.Channel
	Bus          *events.Bus
	Authorizer   auth.Authorizer
	Checkpointer Checkpointer
	Logger       *slog.Logger
}

// Options tune persistence.
type Options struct {
	CheckpointInterval time.Duration
	ChatPreload        int
}

// Service is the entry point for everything a connected client does.
type Service struct {
	registry *sessions.Registry
	docs     *document.Store
	presence *presence.Tracker
	chat     *chat.Channel
	bus      *events.Bus
	authz    auth.Authorizer
	store    Checkpointer
	log      *slog.Logger

	checkpointInterval time.Duration
	chatPreload        int

	// serializes document open on join against teardown, per room;
	// Shutdown takes it exclusively
	lifecycle sync.RWMutex
	rooms     *roomLocks

	dirtyMu sync.Mutex
	dirty   map[string]struct{}
}

func NewService(deps Deps, opts Options) *Service {
	if deps.Checkpointer == nil {
		deps.Checkpointer = NopCheckpointer{}
	}

	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = defaultCheckpointInterval
	}

	if opts.ChatPreload <= 0 {
		opts.ChatPreload = defaultChatPreload
	}

	s := &Service{
		registry:           deps.Registry,
		docs:               deps.Documents,
		presence:           deps.Presence,
		chat:               deps.Chat,
		bus:                deps.Bus,
		authz:              deps.Authorizer,
		store:              deps.Checkpointer,
		log:                logger.Or(deps.Logger),
		checkpointInterval: opts.CheckpointInterval,
		chatPreload:        opts.ChatPreload,
		rooms:              newRoomLocks(),
		dirty:              make(map[string]struct{}),
	}

	s.docs.OnCommit(s.committed)
	s.registry.OnTeardown(s.teardown)

	return s
}

// Join adds the user to the room, loading the document from the
// checkpointer if the room is not live yet.
func (s *Service) Join(ctx context.Context, req sessions.JoinRequest) (*Joined, error) {
	if req.SessionID == "" || req.UserID == "" {
		return nil, sessions.ErrInvalidJoin
	}

	unlock := s.lockRoom(req.SessionID)
	if err := s.ensureDocument(ctx, req.SessionID); err != nil {
		unlock()
		return nil, err
	}

	result, err := s.registry.Join(ctx, req)
	if err != nil {
		if _, live := s.registry.Settings(req.SessionID); !live {
			s.closeDocument(req.SessionID)
		}
		unlock()
		return nil, err
	}
	unlock()

	state, err := s.RoomState(ctx, req.SessionID, req.UserID, nil, "")
	if err != nil {
		return nil, err
	}

	s.log.Debug("user joined room",
		"session_id", req.SessionID,
		"user_id", req.UserID,
		"created", result.Created,
		"version", state.Document.Version,
	)

	return &Joined{JoinResult: result, State: state}, nil
}

// Leave removes the user's presence and membership. Safe to repeat.
func (s *Service) Leave(sessionID, userID string) {
	s.presence.Remove(sessionID, userID)
	s.registry.Leave(sessionID, userID)
}

func (s *Service) Participants(sessionID string) []sessions.Participant {
	return s.registry.Participants(sessionID)
}

func (s *Service) IsParticipant(sessionID, userID string) bool {
	return s.registry.IsParticipant(sessionID, userID)
}

// SubmitOperations checks edit permission for the batch, then hands it to
// the document's apply loop. A batch whose base fell out of the history
// window is escalated as a version mismatch and ErrStaleVersion returned.
func (s *Service) SubmitOperations(ctx context.Context, sessionID, userID string, sub document.Submission) (*SubmitResult, error) {
	p, err := s.registry.Participant(sessionID, userID)
	if err != nil {
		return nil, err
	}

	if !p.Permissions.CanEdit || !s.allowed(ctx, userID, sessionID, auth.ResourceDocument, auth.ActionEdit) {
		return nil, ErrPermissionDenied
	}

	sub.UserID = userID
	s.registry.Touch(sessionID, userID)

	applied, err := s.docs.Apply(ctx, sessionID, sub)
	if err == nil {
		return &SubmitResult{Applied: applied}, nil
	}

	if !errors.Is(err, document.ErrStaleVersion) {
		return nil, err
	}

	resolved, rerr := s.docs.Resolve(ctx, sessionID, document.ResolveRequest{
		Type:        conflict.TypeVersionMismatch,
		UserID:      userID,
		ReplicaID:   sub.ReplicaID,
		Operations:  sub.Operations,
		BaseVersion: sub.BaseVersion,
	})
	if rerr != nil {
		return nil, errors.Join(err, rerr)
	}

	s.log.Info("stale submission resynced",
		"session_id", sessionID,
		"user_id", userID,
		"base_version", sub.BaseVersion,
		"version", resolved.Version,
	)

	return &SubmitResult{Conflict: &resolved.Record}, err
}

// Snapshot returns the live document.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (document.Snapshot, error) {
	return s.docs.Snapshot(ctx, sessionID)
}

// RoomState builds a participant's resync payload. With since set and
// still retained, Operations holds every entry after it and Replayable is
// true; otherwise the client rebuilds from Document.
func (s *Service) RoomState(ctx context.Context, sessionID, userID string, since *int64, replicaID string) (RoomState, error) {
	if !s.registry.IsParticipant(sessionID, userID) {
		return RoomState{}, sessions.ErrNotInSession
	}

	var (
		snap     document.Snapshot
		entries  []document.HistoryEntry
		retained bool
		err      error
	)

	if since != nil {
		snap, entries, retained, err = s.docs.Sync(ctx, sessionID, *since)
	} else {
		snap, err = s.docs.Snapshot(ctx, sessionID)
	}
	if err != nil {
		return RoomState{}, err
	}

	state := RoomState{
		Document:     snap,
		Participants: s.registry.Participants(sessionID),
		Presences:    s.presence.Active(sessionID),
		ChatMessages: s.chat.Recent(sessionID, s.chatPreload),
		Replayable:   retained,
	}

	if retained {
		state.Operations = entries
	}

	if replicaID != "" {
		state.LastClientSeq = snap.ReplicaSeqs[replicaID]
	}

	return state, nil
}

// UpdatePresence merges and broadcasts a presence change.
func (s *Service) UpdatePresence(sessionID, userID string, f presence.Fields) (presence.Entry, error) {
	entry, err := s.presence.Update(sessionID, userID, f)
	if err != nil {
		return entry, err
	}

	s.registry.Touch(sessionID, userID)
	return entry, nil
}

// SendChat appends a participant's message and queues it for persistence.
func (s *Service) SendChat(ctx context.Context, sessionID, userID string, req ChatRequest) (chat.Message, error) {
	p, err := s.registry.Participant(sessionID, userID)
	if err != nil {
		return chat.Message{}, err
	}

	if settings, ok := s.registry.Settings(sessionID); ok && !settings.ChatEnabled {
		return chat.Message{}, ErrChatDisabled
	}

	if req.Type == chat.TypeSystem {
		return chat.Message{}, fmt.Errorf("%w: system messages are server-only", chat.ErrInvalidType)
	}

	if !p.Permissions.CanComment || !s.allowed(ctx, userID, sessionID, auth.ResourceChat, auth.ActionComment) {
		return chat.Message{}, ErrPermissionDenied
	}

	msg, err := s.chat.Send(chat.SendRequest{
		SessionID:   sessionID,
		UserID:      userID,
		DisplayName: p.Info.DisplayName,
		Body:        req.Body,
		Type:        req.Type,
		ReplyTo:     req.ReplyTo,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return msg, err
	}

	s.registry.Touch(sessionID, userID)

	if err := s.store.AppendChat(ctx, msg); err != nil {
		s.log.Error("failed to persist chat message", "session_id", sessionID, "message_id", msg.ID, "error", err)
	}

	return msg, nil
}

// SystemMessage posts a server-authored chat line.
func (s *Service) SystemMessage(ctx context.Context, sessionID, body string) (chat.Message, error) {
	msg, err := s.chat.Send(chat.SendRequest{SessionID: sessionID, Body: body, Type: chat.TypeSystem})
	if err != nil {
		return msg, err
	}

	if err := s.store.AppendChat(ctx, msg); err != nil {
		s.log.Error("failed to persist chat message", "session_id", sessionID, "message_id", msg.ID, "error", err)
	}

	return msg, nil
}

// ChatHistory pages through the live room's chat.
func (s *Service) ChatHistory(sessionID string, limit int, before string) (chat.Page, error) {
	return s.chat.History(sessionID, limit, before)
}

// ResolveConflict merges a client's divergent copy, branched at
// baseVersion, into the live document. Users without edit permission get a
// permission_conflict record and the document keeps its content. Both
// authors are notified of the outcome, including when it fails closed.
func (s *Service) ResolveConflict(ctx context.Context, sessionID, userID string, baseVersion int64, content string) (*document.ResolveResult, error) {
	p, err := s.registry.Participant(sessionID, userID)
	if err != nil {
		return nil, err
	}

	req := document.ResolveRequest{
		Type:        conflict.TypeConcurrentEdit,
		UserID:      userID,
		BaseVersion: baseVersion,
		Content:     content,
	}

	if !p.Permissions.CanEdit || !s.allowed(ctx, userID, sessionID, auth.ResourceDocument, auth.ActionEdit) {
		snap, err := s.docs.Snapshot(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		req.Type = conflict.TypePermissionConflict
		req.Contenders = []conflict.Contender{
			{UserID: userID, Rank: 0},
			{UserID: snap.LastModifiedBy, Rank: 1},
		}
	}

	result, err := s.docs.Resolve(ctx, sessionID, req)
	if result != nil {
		s.bus.Publish(events.Event{
			Kind:      events.KindConflictResolved,
			SessionID: sessionID,
			UserID:    userID,
			Payload:   ConflictNotice{FileID: sessionID, Record: result.Record},
			Timestamp: result.Record.Timestamp,
		})
	}

	if err != nil {
		s.log.Warn("conflict resolution failed",
			"session_id", sessionID,
			"user_id", userID,
			"type", req.Type,
			"error", err,
		)
		return result, err
	}

	if req.Type == conflict.TypePermissionConflict {
		return result, ErrPermissionDenied
	}

	return result, nil
}

// Conflicts returns the live document's recent conflict records.
func (s *Service) Conflicts(ctx context.Context, sessionID string) ([]conflict.Record, error) {
	return s.docs.Conflicts(ctx, sessionID)
}

// Run checkpoints dirty documents until ctx is canceled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkpointDirty(ctx)
		}
	}
}

// Shutdown stops every document and saves its final state.
func (s *Service) Shutdown(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	var errs []error
	for id, snap := range s.docs.CloseAll() {
		if err := s.store.SaveDocument(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", id, err))
		}
	}

	s.dirtyMu.Lock()
	clear(s.dirty)
	s.dirtyMu.Unlock()

	return errors.Join(errs...)
}

// runs on the document worker; must not block
func (s *Service) committed(sessionID string, entry document.HistoryEntry) {
	s.dirtyMu.Lock()
	s.dirty[sessionID] = struct{}{}
	s.dirtyMu.Unlock()

	s.bus.Publish(events.Event{
		Kind:      events.KindOperationApplied,
		SessionID: sessionID,
		UserID:    entry.UserID,
		ClientID:  entry.ReplicaID,
		Payload:   AppliedEdit{FileID: sessionID, Entry: entry},
		Timestamp: entry.AppliedAt,
	})
}

func (s *Service) checkpointDirty(ctx context.Context) {
	s.dirtyMu.Lock()
	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	clear(s.dirty)
	s.dirtyMu.Unlock()

	for _, id := range ids {
		snap, err := s.docs.Snapshot(ctx, id)
		if err != nil {
			// torn down in the meantime; teardown saved it
			continue
		}

		if err := s.store.SaveDocument(ctx, snap); err != nil {
			s.log.Error("checkpoint failed", "session_id", id, "version", snap.Version, "error", err)

			s.dirtyMu.Lock()
			s.dirty[id] = struct{}{}
			s.dirtyMu.Unlock()
		}
	}
}

// lockRoom holds the room's lifecycle lock until the returned func runs.
func (s *Service) lockRoom(sessionID string) func() {
	s.lifecycle.RLock()
	unlock := s.rooms.lock(sessionID)

	return func() {
		unlock()
		s.lifecycle.RUnlock()
	}
}

// caller holds the room lock
func (s *Service) ensureDocument(ctx context.Context, sessionID string) error {
	if s.docs.Has(sessionID) {
		return nil
	}

	seed, err := s.store.LoadDocument(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	if seed == nil {
		seed = &document.Seed{}
	}
	s.docs.Open(sessionID, *seed)

	msgs, err := s.store.LoadChat(ctx, sessionID, s.chatPreload)
	if err != nil {
		s.log.Warn("failed to load chat history", "session_id", sessionID, "error", err)
		return nil
	}
	s.chat.Load(sessionID, msgs)

	return nil
}

func (s *Service) teardown(sessionID string) {
	defer s.lockRoom(sessionID)()

	// someone rejoined between the last leave and now
	if _, live := s.registry.Settings(sessionID); live {
		return
	}

	s.closeDocument(sessionID)
}

// caller holds the room lock
func (s *Service) closeDocument(sessionID string) {
	snap, err := s.docs.Close(sessionID)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := s.store.SaveDocument(ctx, snap); err != nil {
			s.log.Error("final checkpoint failed", "session_id", sessionID, "version", snap.Version, "error", err)
		}
		cancel()
	}

	s.presence.DropSession(sessionID)
	s.chat.Drop(sessionID)

	s.dirtyMu.Lock()
	delete(s.dirty, sessionID)
	s.dirtyMu.Unlock()

	s.log.Debug("room torn down", "session_id", sessionID)
}

// fails closed
func (s *Service) allowed(ctx context.Context, userID, sessionID, resource, action string) bool {
	ok, err := s.authz.Authorize(ctx, userID, sessionID, resource, action)
	if err != nil {
		s.log.Warn("authorization failed, denying",
			"session_id", sessionID,
			"user_id", userID,
			"action", action,
			"error", err,
		)
		return false
	}
	return ok
}
