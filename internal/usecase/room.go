package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"collabnotes/internal/domain"
)

// roomMsg is the closed set of messages a room actor processes, strictly one
// at a time, in arrival order.
type roomMsg interface{ roomMsg() }

type joinMsg struct {
	conn  *Connection
	grant *domain.ShareGrant
	reply chan joinReply
}

type joinReply struct {
	snap *domain.Snapshot
	err  error
}

type leaveMsg struct {
	conn       *Connection
	disconnect bool
}

type changeMsg struct {
	conn *Connection
	req  *domain.SubmitChange
}

type titleMsg struct {
	conn *Connection
	req  *domain.SubmitTitleChange
}

type saveMsg struct {
	conn *Connection
	req  *domain.ManualSave
}

type relayMsg struct {
	excludeConnID string
	msg           domain.Outbound
}

type membersMsg struct {
	reply chan []domain.Member
}

type persistStatusMsg struct {
	healthy bool
}

func (joinMsg) roomMsg()          {}
func (leaveMsg) roomMsg()         {}
func (changeMsg) roomMsg()        {}
func (titleMsg) roomMsg()         {}
func (saveMsg) roomMsg()          {}
func (relayMsg) roomMsg()         {}
func (membersMsg) roomMsg()       {}
func (persistStatusMsg) roomMsg() {}

// member is one room membership entry. canWrite is resolved once at join so
// the actor never blocks on the permission store mid-stream.
type member struct {
	conn     *Connection
	canWrite bool
}

// RoomManagerOptions tune actor queue depth and persistence retries.
type RoomManagerOptions struct {
	// InboxSize is the per-room inbound queue depth.
	InboxSize int
	// PersistTimeout bounds a single durable-storage call.
	PersistTimeout time.Duration
	// PersistMaxElapsed bounds one backoff cycle before the room is flagged
	// as persistence-unavailable.
	PersistMaxElapsed time.Duration
	// PersistRetryPause is the wait between exhausted backoff cycles while
	// storage stays down.
	PersistRetryPause time.Duration
}

// DefaultRoomManagerOptions returns the production defaults.
func DefaultRoomManagerOptions() RoomManagerOptions {
	return RoomManagerOptions{
		InboxSize:         64,
		PersistTimeout:    5 * time.Second,
		PersistMaxElapsed: 30 * time.Second,
		PersistRetryPause: 10 * time.Second,
	}
}

func (o RoomManagerOptions) withDefaults() RoomManagerOptions {
	d := DefaultRoomManagerOptions()
	if o.InboxSize <= 0 {
		o.InboxSize = d.InboxSize
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = d.PersistTimeout
	}
	if o.PersistMaxElapsed <= 0 {
		o.PersistMaxElapsed = d.PersistMaxElapsed
	}
	if o.PersistRetryPause <= 0 {
		o.PersistRetryPause = d.PersistRetryPause
	}
	return o
}

// RoomManager owns, per document id, the set of attached connections. Rooms
// are created lazily on first join and destroyed synchronously when the last
// member leaves or disconnects. All mutation of a document's state and
// membership happens on that document's actor goroutine; proposals for
// different documents proceed fully in parallel.
type RoomManager struct {
	mu    sync.Mutex
	rooms map[string]*room

	docs   domain.DocumentRepository
	engine *Engine
	opts   RoomManagerOptions
	logger *zap.Logger
}

// NewRoomManager creates the manager and binds the registry and presence
// broadcaster to it.
func NewRoomManager(registry *Registry, presence *PresenceBroadcaster, docs domain.DocumentRepository, engine *Engine, opts RoomManagerOptions, logger *zap.Logger) *RoomManager {
	m := &RoomManager{
		rooms:  make(map[string]*room),
		docs:   docs,
		engine: engine,
		opts:   opts.withDefaults(),
		logger: logger,
	}
	presence.rooms = m
	registry.Bind(m, presence)
	return m
}

// Join adds the connection to the document's room, creating and hydrating
// the room if this is the first member, and returns the current snapshot.
// Existing members receive a member-joined event; the joiner receives the
// presence roster.
func (m *RoomManager) Join(ctx context.Context, conn *Connection, documentID string, grant *domain.ShareGrant) (*domain.Snapshot, error) {
	for {
		m.mu.Lock()
		r, ok := m.rooms[documentID]
		if !ok {
			r = newRoom(m, documentID)
			m.rooms[documentID] = r
			go r.run()
			go r.persistLoop()
		}
		m.mu.Unlock()

		reply := make(chan joinReply, 1)
		select {
		case r.inbox <- joinMsg{conn: conn, grant: grant, reply: reply}:
		case <-r.done:
			// Raced with the room's destruction; recreate and retry.
			continue
		}

		select {
		case res := <-reply:
			return res.snap, res.err
		case <-r.done:
			// The actor may have replied just before exiting, or it may
			// have exited with our message still queued.
			select {
			case res := <-reply:
				return res.snap, res.err
			default:
				continue
			}
		}
	}
}

// Leave removes the connection from the room, notifies remaining members
// and destroys the room when it becomes empty. A no-op if the room is gone.
func (m *RoomManager) Leave(conn *Connection, documentID string, disconnect bool) {
	m.send(documentID, leaveMsg{conn: conn, disconnect: disconnect})
}

// SubmitChange queues a content proposal for the document's actor.
func (m *RoomManager) SubmitChange(conn *Connection, req *domain.SubmitChange) {
	m.send(req.DocumentID, changeMsg{conn: conn, req: req})
}

// SubmitTitleChange queues a title proposal for the document's actor.
func (m *RoomManager) SubmitTitleChange(conn *Connection, req *domain.SubmitTitleChange) {
	m.send(req.DocumentID, titleMsg{conn: conn, req: req})
}

// ManualSave queues an explicit save for the document's actor.
func (m *RoomManager) ManualSave(conn *Connection, req *domain.ManualSave) {
	m.send(req.DocumentID, saveMsg{conn: conn, req: req})
}

// Broadcast delivers a message to every room member except the excluded
// connection. A no-op, not an error, if the room has since been destroyed.
func (m *RoomManager) Broadcast(documentID, excludeConnID string, msg domain.Outbound) {
	m.send(documentID, relayMsg{excludeConnID: excludeConnID, msg: msg})
}

// ListMembers returns the current membership for presence snapshots, or nil
// if the room does not exist.
func (m *RoomManager) ListMembers(documentID string) []domain.Member {
	reply := make(chan []domain.Member, 1)
	r, ok := m.send(documentID, membersMsg{reply: reply})
	if !ok {
		return nil
	}
	select {
	case members := <-reply:
		return members
	case <-r.done:
		select {
		case members := <-reply:
			return members
		default:
			return nil
		}
	}
}

// RoomCount returns the number of live rooms.
func (m *RoomManager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// send queues a message for the document's actor. It reports false when the
// room does not exist or died before accepting the message.
func (m *RoomManager) send(documentID string, msg roomMsg) (*room, bool) {
	m.mu.Lock()
	r, ok := m.rooms[documentID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case r.inbox <- msg:
		return r, true
	case <-r.done:
		return nil, false
	}
}

// room is one document's collaboration session: its members, its
// authoritative state and the actor that serializes every mutation.
type room struct {
	manager    *RoomManager
	documentID string
	createdAt  time.Time

	inbox chan roomMsg
	done  chan struct{}

	members  map[string]*member
	state    DocState
	hydrated bool

	// persistQ holds at most the latest unsaved commit; the persist worker
	// coalesces bursts into the newest snapshot.
	persistQ      chan persistJob
	persistBroken bool
}

type persistJob struct {
	doc domain.Document
	rev domain.Revision
}

func newRoom(m *RoomManager, documentID string) *room {
	return &room{
		manager:    m,
		documentID: documentID,
		createdAt:  time.Now(),
		inbox:      make(chan roomMsg, m.opts.InboxSize),
		done:       make(chan struct{}),
		members:    make(map[string]*member),
		persistQ:   make(chan persistJob, 1),
	}
}

// run is the room actor. It alone mutates members and state.
func (r *room) run() {
	log := r.manager.logger.With(zap.String("document_id", r.documentID))
	log.Debug("room actor started")

	for msg := range r.inbox {
		switch t := msg.(type) {
		case joinMsg:
			r.handleJoin(t)
		case leaveMsg:
			r.handleLeave(t)
		case changeMsg:
			r.handleChange(t)
		case titleMsg:
			r.handleTitle(t)
		case saveMsg:
			r.handleSave(t)
		case relayMsg:
			r.broadcast(t.excludeConnID, t.msg)
		case membersMsg:
			t.reply <- r.memberList()
		case persistStatusMsg:
			r.persistBroken = !t.healthy
			if t.healthy {
				log.Info("persistence recovered, accepting commits again")
			} else {
				log.Error("persistence retries exhausted, rejecting further commits")
			}
		}

		if len(r.members) == 0 {
			r.destroy(log)
			return
		}
	}
}

// destroy removes the room from the manager and stops its workers. In-memory
// state is discarded: durable storage already holds the last committed
// version (the persist worker drains any pending job first).
func (r *room) destroy(log *zap.Logger) {
	close(r.done)
	r.manager.mu.Lock()
	delete(r.manager.rooms, r.documentID)
	r.manager.mu.Unlock()
	close(r.persistQ)
	log.Debug("room destroyed", zap.Duration("lifetime", time.Since(r.createdAt)))
}

func (r *room) handleJoin(msg joinMsg) {
	conn := msg.conn

	if _, ok := r.members[conn.ID]; ok {
		// Already attached to this document; attach is idempotent.
		snap := r.snapshot()
		msg.reply <- joinReply{snap: &snap}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.manager.opts.PersistTimeout)
	defer cancel()

	if !r.hydrated {
		doc, err := r.manager.docs.Load(ctx, r.documentID)
		if err != nil {
			msg.reply <- joinReply{err: err}
			return
		}
		r.state = DocState{
			DocumentID:   doc.ID,
			Version:      doc.Version,
			Content:      doc.Content,
			Title:        doc.Title,
			LastEditorID: doc.LastEditedBy,
		}
		r.hydrated = true
	}

	canWrite, err := r.resolveAccess(ctx, conn, msg.grant)
	if err != nil {
		msg.reply <- joinReply{err: err}
		return
	}

	r.members[conn.ID] = &member{conn: conn, canWrite: canWrite}

	r.broadcast(conn.ID, &domain.MemberJoined{
		Type:       domain.MsgMemberJoined,
		DocumentID: r.documentID,
		Member:     conn.Member(),
	})
	r.sendTo(conn, &domain.PresenceRoster{
		Type:       domain.MsgPresenceRoster,
		DocumentID: r.documentID,
		Members:    r.memberList(),
	})

	r.manager.logger.Info("member joined room",
		zap.String("document_id", r.documentID),
		zap.String("connection_id", conn.ID),
		zap.String("user_id", conn.Identity.UserID),
		zap.Int("member_count", len(r.members)))

	snap := r.snapshot()
	msg.reply <- joinReply{snap: &snap}
}

// resolveAccess decides read admission and caches write permission for the
// member. Share grants carry their own permission; everyone else is checked
// against the collaborator list.
func (r *room) resolveAccess(ctx context.Context, conn *Connection, grant *domain.ShareGrant) (bool, error) {
	if grant != nil {
		if grant.DocumentID != r.documentID || grant.Expired(time.Now()) {
			return false, domain.ErrForbidden
		}
		return grant.CanWrite(), nil
	}
	ok, err := r.manager.docs.CanRead(ctx, conn.Identity.UserID, r.documentID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, domain.ErrForbidden
	}
	return r.manager.docs.CanWrite(ctx, conn.Identity.UserID, r.documentID)
}

func (r *room) handleLeave(msg leaveMsg) {
	conn := msg.conn
	if _, ok := r.members[conn.ID]; !ok {
		return
	}
	delete(r.members, conn.ID)

	r.broadcast(conn.ID, &domain.MemberLeft{
		Type:       domain.MsgMemberLeft,
		DocumentID: r.documentID,
		Member:     conn.Member(),
	})

	r.manager.logger.Info("member left room",
		zap.String("document_id", r.documentID),
		zap.String("connection_id", conn.ID),
		zap.Bool("disconnect", msg.disconnect),
		zap.Int("member_count", len(r.members)))
}

// admitWrite runs the common gate for every commit path: membership, write
// permission and persistence health.
func (r *room) admitWrite(conn *Connection) bool {
	mem, ok := r.members[conn.ID]
	if !ok {
		r.sendTo(conn, operationError(domain.ErrNotInRoom))
		return false
	}
	if !mem.canWrite {
		r.sendTo(conn, operationError(domain.ErrForbidden))
		return false
	}
	if r.persistBroken {
		r.sendTo(conn, operationError(domain.ErrPersistenceUnavailable))
		return false
	}
	return true
}

func (r *room) handleChange(msg changeMsg) {
	if !r.admitWrite(msg.conn) {
		return
	}

	switch r.manager.engine.ApplyChange(&r.state, msg.req.BaseVersion, msg.req.Payload, msg.conn.Identity.UserID) {
	case StaleBase:
		r.sendTo(msg.conn, r.versionMismatch())
	case PatchRejected:
		r.sendTo(msg.conn, &domain.ResyncRequired{
			Type:       domain.MsgResyncRequired,
			DocumentID: r.documentID,
			Content:    r.state.Content,
		})
	case Accepted:
		r.broadcast(msg.conn.ID, &domain.ChangeBroadcast{
			Type:         domain.MsgChangeBroadcast,
			DocumentID:   r.documentID,
			Payload:      msg.req.Payload,
			Version:      r.state.Version,
			EditorUserID: msg.conn.Identity.UserID,
			EditorName:   msg.conn.Identity.DisplayName,
			ClientEchoID: msg.req.ClientEchoID,
		})
		r.sendTo(msg.conn, &domain.ChangeAccepted{
			Type:       domain.MsgChangeAccepted,
			DocumentID: r.documentID,
			Version:    r.state.Version,
		})
		r.schedulePersist("content")
	}
}

func (r *room) handleTitle(msg titleMsg) {
	if !r.admitWrite(msg.conn) {
		return
	}

	switch r.manager.engine.ApplyTitle(&r.state, msg.req.BaseVersion, msg.req.Title, msg.conn.Identity.UserID) {
	case StaleBase:
		r.sendTo(msg.conn, r.versionMismatch())
	case Accepted:
		r.broadcast(msg.conn.ID, &domain.TitleBroadcast{
			Type:         domain.MsgTitleBroadcast,
			DocumentID:   r.documentID,
			Title:        r.state.Title,
			Version:      r.state.Version,
			EditorUserID: msg.conn.Identity.UserID,
			EditorName:   msg.conn.Identity.DisplayName,
		})
		r.sendTo(msg.conn, &domain.ChangeAccepted{
			Type:       domain.MsgChangeAccepted,
			DocumentID: r.documentID,
			Version:    r.state.Version,
		})
		r.schedulePersist("title")
	}
}

func (r *room) handleSave(msg saveMsg) {
	if !r.admitWrite(msg.conn) {
		return
	}

	switch r.manager.engine.ApplySave(&r.state, msg.req.BaseVersion, msg.req.Content, msg.req.Title, msg.conn.Identity.UserID) {
	case StaleBase:
		r.sendTo(msg.conn, r.versionMismatch())
	case Accepted:
		if msg.req.Content != nil {
			// Keep other members' content converged with the saved text.
			r.broadcast(msg.conn.ID, &domain.ChangeBroadcast{
				Type:         domain.MsgChangeBroadcast,
				DocumentID:   r.documentID,
				Payload:      domain.ChangePayload{Kind: domain.PayloadFull, Content: r.state.Content},
				Version:      r.state.Version,
				EditorUserID: msg.conn.Identity.UserID,
				EditorName:   msg.conn.Identity.DisplayName,
			})
		}
		r.broadcast(msg.conn.ID, &domain.NoteSavedByOther{
			Type:       domain.MsgNoteSavedByOther,
			DocumentID: r.documentID,
			UserID:     msg.conn.Identity.UserID,
			Username:   msg.conn.Identity.DisplayName,
			Version:    r.state.Version,
		})
		r.sendTo(msg.conn, &domain.NoteSaved{
			Type:       domain.MsgNoteSaved,
			DocumentID: r.documentID,
			Version:    r.state.Version,
		})
		r.schedulePersist("save")
	}
}

func (r *room) versionMismatch() *domain.VersionMismatch {
	return &domain.VersionMismatch{
		Type:           domain.MsgVersionMismatch,
		DocumentID:     r.documentID,
		CurrentVersion: r.state.Version,
		CurrentContent: r.state.Content,
	}
}

// schedulePersist hands the committed state to the persist worker without
// blocking the actor. Bursts coalesce into the newest snapshot; the worker
// observes completion asynchronously.
func (r *room) schedulePersist(kind string) {
	now := time.Now()
	job := persistJob{
		doc: domain.Document{
			ID:           r.documentID,
			Title:        r.state.Title,
			Content:      r.state.Content,
			Version:      r.state.Version,
			LastEditedBy: r.state.LastEditorID,
			UpdatedAt:    now,
		},
		rev: domain.Revision{
			DocumentID: r.documentID,
			Version:    r.state.Version,
			EditorID:   r.state.LastEditorID,
			Kind:       kind,
			Timestamp:  now,
		},
	}
	for {
		select {
		case r.persistQ <- job:
			return
		default:
		}
		select {
		case <-r.persistQ: // drop the superseded snapshot
		default:
		}
	}
}

// persistLoop writes committed state back to durable storage, retrying with
// exponential backoff. When one backoff cycle is exhausted the room is
// flagged and commits are rejected until a later attempt succeeds, so memory
// and disk cannot silently diverge.
func (r *room) persistLoop() {
	log := r.manager.logger.With(zap.String("document_id", r.documentID))

	for job := range r.persistQ {
		broken := false
		for {
			// A newer snapshot supersedes the one about to be written.
			select {
			case next, ok := <-r.persistQ:
				if ok {
					job = next
				}
			default:
			}

			err := r.persistOnce(job)
			if err == nil {
				if broken {
					r.notifyPersistStatus(true)
				}
				break
			}

			log.Warn("document save failed after retries",
				zap.Int64("version", job.doc.Version),
				zap.Error(err))

			if !broken {
				broken = true
				r.notifyPersistStatus(false)
			}

			select {
			case <-r.done:
				// Room destroyed with an unsaved tail; give up loudly.
				log.Error("discarding unsaved document state",
					zap.Int64("version", job.doc.Version),
					zap.Error(err))
				return
			case <-time.After(r.manager.opts.PersistRetryPause):
				// Pause before the next backoff cycle.
			}
		}
	}
}

// persistOnce runs one bounded backoff cycle of save + revision append.
func (r *room) persistOnce(job persistJob) error {
	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), r.manager.opts.PersistTimeout)
		defer cancel()
		if err := r.manager.docs.Save(ctx, &job.doc); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrWriteError, err)
		}
		if err := r.manager.docs.AppendRevision(ctx, &job.rev); err != nil {
			// History is best-effort; the document itself is safe.
			r.manager.logger.Warn("revision append failed",
				zap.String("document_id", job.doc.ID),
				zap.Int64("version", job.rev.Version),
				zap.Error(err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = r.manager.opts.PersistMaxElapsed
	return backoff.Retry(op, bo)
}

func (r *room) notifyPersistStatus(healthy bool) {
	select {
	case r.inbox <- persistStatusMsg{healthy: healthy}:
	case <-r.done:
	}
}

func (r *room) snapshot() domain.Snapshot {
	return domain.Snapshot{
		DocumentID: r.documentID,
		Content:    r.state.Content,
		Version:    r.state.Version,
		Title:      r.state.Title,
	}
}

func (r *room) memberList() []domain.Member {
	out := make([]domain.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.conn.Member())
	}
	return out
}

// broadcast delivers to every member except the excluded connection.
// Delivery order across members is unspecified; each member still observes
// the total order of accepted changes because the actor emits them in order.
func (r *room) broadcast(excludeConnID string, msg domain.Outbound) {
	for id, m := range r.members {
		if id == excludeConnID {
			continue
		}
		r.sendTo(m.conn, msg)
	}
}

func (r *room) sendTo(conn *Connection, msg domain.Outbound) {
	if err := conn.Send(msg); err != nil && !errors.Is(err, domain.ErrConnectionClosed) {
		r.manager.logger.Debug("send to member failed",
			zap.String("document_id", r.documentID),
			zap.String("connection_id", conn.ID),
			zap.Error(err))
	}
}

func operationError(err error) *domain.OperationError {
	return &domain.OperationError{Type: domain.MsgOperationError, Reason: err.Error()}
}
