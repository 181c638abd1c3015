package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabnotes/internal/domain"
	"collabnotes/internal/usecase"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before it is
	// considered dead. Pings go out at pingPeriod to keep it alive.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize caps one inbound frame.
	maxMessageSize = 512 * 1024
	// sendBufferSize is the outbound queue depth per connection. A client
	// that cannot drain it is disconnected rather than allowed to stall
	// room broadcasts.
	sendBufferSize = 64

	// joinTimeout bounds the room join, including the lazy document load.
	joinTimeout = 10 * time.Second

	// typingTimeout synthesizes a typing-stop when a client signalled
	// typing-start and then went quiet without sending the stop itself.
	typingTimeout = 5 * time.Second
)

// client binds one websocket to one registered connection. The read pump
// dispatches inbound frames; the write pump owns the socket's write side and
// drains the buffered send queue.
type client struct {
	handler *Handler
	ws      *websocket.Conn
	conn    *usecase.Connection
	logger  *zap.Logger

	send chan domain.Outbound

	closeOnce sync.Once
	closed    chan struct{}

	typingMu    sync.Mutex
	typingTimer *time.Timer
}

func newClient(h *Handler, ws *websocket.Conn, identity domain.UserIdentity) *client {
	c := &client{
		handler: h,
		ws:      ws,
		send:    make(chan domain.Outbound, sendBufferSize),
		closed:  make(chan struct{}),
	}
	c.conn = h.registry.Register(identity, c)
	c.logger = h.logger.With(
		zap.String("connection_id", c.conn.ID),
		zap.String("user_id", identity.UserID))
	return c
}

func (c *client) start() {
	go c.writePump()
	go c.readPump()
}

// Send queues an outbound message. A full queue means the client cannot keep
// up with the room; it is disconnected and the message dropped, never allowed
// to block the caller.
func (c *client) Send(msg domain.Outbound) error {
	select {
	case <-c.closed:
		return domain.ErrConnectionClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		c.logger.Warn("send queue full, disconnecting slow consumer")
		// Teardown re-enters the sync layer (registry, room inbox) and must
		// not run on the delivering goroutine: a room actor calling Send
		// would otherwise block producing into its own inbox.
		go c.close()
		return domain.ErrConnectionClosed
	}
}

// close tears the connection down exactly once: registry cleanup (which runs
// the implicit room departure and typing stop) and socket close.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.stopTypingTimeout()
		c.handler.registry.Remove(c.conn.ID)
		_ = c.ws.Close()
	})
}

// armTypingTimeout (re)starts the quiet-period timer for a typing-start.
// Each fresh typing-start pushes the deadline out; firing relays the stop the
// client failed to send.
func (c *client) armTypingTimeout(documentID string) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingTimer = time.AfterFunc(c.handler.typingIdle, func() {
		if c.conn.Typing() && c.attachedTo(documentID) {
			c.handler.presence.TypingStop(c.conn, documentID)
		}
	})
}

func (c *client) stopTypingTimeout() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
}

func (c *client) readPump() {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		msg, err := domain.DecodeInbound(data)
		if err != nil {
			c.logger.Debug("dropping malformed frame", zap.Error(err))
			c.sendError(err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// dispatch routes one decoded frame. Messages that operate on a document
// require the connection to be attached to that document; join is the only
// way to attach.
func (c *client) dispatch(msg domain.Inbound) {
	switch m := msg.(type) {
	case *domain.JoinDocument:
		c.handleJoin(m)

	case *domain.LeaveDocument:
		if !c.attachedTo(m.DocumentID) {
			return
		}
		c.handler.registry.Detach(c.conn.ID)

	case *domain.SubmitChange:
		if !c.requireAttached(m.DocumentID) {
			return
		}
		c.handler.rooms.SubmitChange(c.conn, m)

	case *domain.SubmitTitleChange:
		if !c.requireAttached(m.DocumentID) {
			return
		}
		c.handler.rooms.SubmitTitleChange(c.conn, m)

	case *domain.ManualSave:
		if !c.requireAttached(m.DocumentID) {
			return
		}
		c.handler.rooms.ManualSave(c.conn, m)

	case *domain.CursorUpdate:
		if !c.requireAttached(m.DocumentID) {
			return
		}
		c.handler.presence.CursorMoved(c.conn, m)

	case *domain.TypingStart:
		if !c.requireAttached(m.DocumentID) {
			return
		}
		c.handler.presence.TypingStart(c.conn, m.DocumentID)
		c.armTypingTimeout(m.DocumentID)

	case *domain.TypingStop:
		if !c.requireAttached(m.DocumentID) {
			return
		}
		c.stopTypingTimeout()
		c.handler.presence.TypingStop(c.conn, m.DocumentID)

	case *domain.LivenessProbe:
		_ = c.Send(&domain.LivenessAck{Type: domain.MsgLivenessAck})
	}
}

// handleJoin resolves an optional share token, joins the room and answers
// with the authoritative snapshot.
func (c *client) handleJoin(m *domain.JoinDocument) {
	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()

	var grant *domain.ShareGrant
	if m.ShareToken != "" {
		g, err := c.handler.shares.TouchAccess(ctx, m.ShareToken)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				c.sendError(domain.ErrForbidden)
			} else {
				c.logger.Warn("share token lookup failed", zap.Error(err))
				c.sendError(err)
			}
			return
		}
		grant = g
	}

	snap, err := c.handler.registry.Attach(ctx, c.conn.ID, m.DocumentID, grant)
	if err != nil {
		c.logger.Warn("join rejected",
			zap.String("document_id", m.DocumentID),
			zap.Error(err))
		c.sendError(err)
		return
	}

	_ = c.Send(&domain.DocumentSnapshot{
		Type:       domain.MsgDocumentSnapshot,
		DocumentID: snap.DocumentID,
		Content:    snap.Content,
		Version:    snap.Version,
		Title:      snap.Title,
	})
}

func (c *client) attachedTo(documentID string) bool {
	return c.conn.AttachedDoc() == documentID
}

func (c *client) requireAttached(documentID string) bool {
	if c.attachedTo(documentID) {
		return true
	}
	c.sendError(domain.ErrNotInRoom)
	return false
}

func (c *client) sendError(err error) {
	_ = c.Send(&domain.OperationError{Type: domain.MsgOperationError, Reason: err.Error()})
}
