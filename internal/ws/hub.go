package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/sketchwire/backend/internal/metrics"
	"github.com/sketchwire/backend/internal/protocol"
	"github.com/sketchwire/backend/internal/room"
	"github.com/sketchwire/backend/internal/store"
)

type clientMessage struct {
	client *Client
	frame  []byte
}

// Hub owns every live connection and serializes all room mutations: Run is a
// single goroutine, so one message is handled to completion before the next.
// That alone guarantees the stroke-log ordering the protocol promises — no
// per-room locking is layered on top, and none should be.
type Hub struct {
	registry *room.Registry
	log      *zap.Logger

	register   chan *Client
	unregister chan *Client
	inbound    chan *clientMessage

	mu sync.RWMutex

	// All open connections, joined or not.
	clients map[*Client]bool

	// Fan-out sets per room code. A joiner is added here only after its
	// history snapshot has been queued, so it can never see a live relay
	// for a stroke its snapshot already contains.
	members map[string]map[*Client]bool
}

func NewHub(registry *room.Registry, log *zap.Logger) *Hub {
	return &Hub{
		registry:   registry,
		log:        log,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *clientMessage),
		clients:    make(map[*Client]bool),
		members:    make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

			metrics.ClientConnected()
			h.log.Debug("client connected", zap.String("user", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
			}
			h.mu.Unlock()

			if !ok {
				break
			}

			h.handleLeave(client)
			close(client.send)
			metrics.ClientDisconnected()
			h.log.Debug("client disconnected", zap.String("user", client.id))

		case msg := <-h.inbound:
			h.dispatch(msg.client, msg.frame)
		}
	}
}

func (h *Hub) dispatch(c *Client, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		h.log.Debug("discarding unparseable frame", zap.String("user", c.id), zap.Error(err))
		return
	}

	switch env.Type {
	case protocol.TypeJoin:
		metrics.MessageReceived(string(env.Type))
		h.handleJoin(c, env.Data)
	case protocol.TypeStrokeDraw:
		metrics.MessageReceived(string(env.Type))
		h.handleStrokeDraw(c, env.Data)
	case protocol.TypeUndo:
		metrics.MessageReceived(string(env.Type))
		h.handleUndo(c)
	case protocol.TypeCursor:
		metrics.MessageReceived(string(env.Type))
		h.handleCursor(c, env.Data)
	default:
		// Unknown kinds are not counted: the label would be
		// client-controlled.
		h.log.Debug("discarding unknown message type",
			zap.String("user", c.id), zap.String("type", string(env.Type)))
	}
}

func (h *Hub) handleJoin(c *Client, data json.RawMessage) {
	if c.room != nil {
		h.log.Debug("ignoring join from already-joined client", zap.String("user", c.id))
		return
	}

	var req protocol.JoinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.log.Debug("discarding malformed join", zap.String("user", c.id), zap.Error(err))
		return
	}

	rm, ok := h.registry.Get(req.Code)
	if !ok {
		// Joining is requestor-driven, never creator: unknown codes are
		// rejected, not auto-created.
		h.sendTo(c, protocol.ErrorFrame(room.ErrRoomNotFound.Error()))
		return
	}

	user := rm.Join(c.id, req.Name)

	snapshot, err := rm.Snapshot()
	if err != nil {
		h.log.Error("failed to load room history",
			zap.String("code", rm.Code), zap.Error(err))
		rm.Leave(c.id)
		h.registry.DestroyIfEmpty(rm.Code)
		h.sendTo(c, protocol.ErrorFrame("failed to load room history"))
		return
	}

	// History first, fan-out membership second. Both happen inside this one
	// hub event, so no stroke can slip between them.
	redraw, err := protocol.Encode(protocol.TypeRedraw, snapshot)
	if err != nil {
		h.log.Error("failed to encode snapshot", zap.String("code", rm.Code), zap.Error(err))
		return
	}
	h.sendTo(c, redraw)

	c.room = rm
	h.mu.Lock()
	if h.members[rm.Code] == nil {
		h.members[rm.Code] = make(map[*Client]bool)
	}
	h.members[rm.Code][c] = true
	h.mu.Unlock()

	h.broadcastRoster(rm)

	h.log.Info("user joined room",
		zap.String("code", rm.Code),
		zap.String("user", c.id),
		zap.String("name", user.Name))
}

func (h *Hub) handleStrokeDraw(c *Client, data json.RawMessage) {
	if c.room == nil {
		return
	}

	var in protocol.StrokeInput
	if err := json.Unmarshal(data, &in); err != nil {
		h.log.Debug("discarding malformed stroke", zap.String("user", c.id), zap.Error(err))
		return
	}

	stored, err := c.room.AppendStroke(store.Stroke{
		StrokeID: in.StrokeID,
		UserID:   c.id,
		X1:       in.X1,
		Y1:       in.Y1,
		X2:       in.X2,
		Y2:       in.Y2,
		Tool:     in.Tool,
		Color:    in.Color,
		Width:    in.Width,
	})
	if err != nil {
		h.log.Error("failed to append stroke",
			zap.String("code", c.room.Code), zap.String("user", c.id), zap.Error(err))
		return
	}

	metrics.StrokeCommitted()

	frame, err := protocol.Encode(protocol.TypeStrokeDraw, stored)
	if err != nil {
		h.log.Error("failed to encode stroke", zap.Error(err))
		return
	}
	h.broadcast(c.room.Code, frame, c)
}

func (h *Hub) handleUndo(c *Client) {
	if c.room == nil {
		return
	}

	_, ok, err := c.room.UndoLast(c.id)
	if err != nil {
		h.log.Error("undo failed",
			zap.String("code", c.room.Code), zap.String("user", c.id), zap.Error(err))
		return
	}
	if !ok {
		// Nothing by this user left to undo; the log is unchanged and no
		// broadcast goes out.
		return
	}

	metrics.UndoApplied()

	snapshot, err := c.room.Snapshot()
	if err != nil {
		h.log.Error("failed to load corrected log",
			zap.String("code", c.room.Code), zap.Error(err))
		return
	}

	frame, err := protocol.Encode(protocol.TypeRedraw, snapshot)
	if err != nil {
		h.log.Error("failed to encode corrected log", zap.Error(err))
		return
	}

	// Everyone, including the undoer, repaints from the corrected log.
	h.broadcast(c.room.Code, frame, nil)
}

func (h *Hub) handleCursor(c *Client, data json.RawMessage) {
	if c.room == nil {
		return
	}

	user, ok := c.room.GetUser(c.id)
	if !ok {
		return
	}

	var in protocol.CursorInput
	if err := json.Unmarshal(data, &in); err != nil {
		return
	}

	frame, err := protocol.Encode(protocol.TypeCursor, protocol.CursorUpdate{
		UserID: user.ID,
		Name:   user.Name,
		Color:  user.Color,
		X:      in.X,
		Y:      in.Y,
	})
	if err != nil {
		return
	}

	// Never echoed to the origin connection.
	h.broadcast(c.room.Code, frame, c)
}

// handleLeave removes a client from its room, tells the remaining members,
// and tears the room down if it is now empty. Disconnect and leave are the
// same thing; calling this for a client that never joined is a no-op.
func (h *Hub) handleLeave(c *Client) {
	if c.room == nil {
		return
	}

	rm := c.room
	c.room = nil

	rm.Leave(c.id)

	h.mu.Lock()
	if set, ok := h.members[rm.Code]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.members, rm.Code)
		}
	}
	h.mu.Unlock()

	h.broadcastRoster(rm)
	h.registry.DestroyIfEmpty(rm.Code)

	h.log.Info("user left room", zap.String("code", rm.Code), zap.String("user", c.id))
}

func (h *Hub) broadcastRoster(rm *room.Room) {
	frame, err := protocol.Encode(protocol.TypeUserUpdate, rm.Users())
	if err != nil {
		h.log.Error("failed to encode roster", zap.String("code", rm.Code), zap.Error(err))
		return
	}
	h.broadcast(rm.Code, frame, nil)
}

// broadcast queues a frame for every member of a room, minus the excluded
// sender. A member whose send buffer is full has its connection closed; the
// read pump then unregisters it normally.
func (h *Hub) broadcast(code string, frame []byte, except *Client) {
	var slow []*Client

	h.mu.RLock()
	for client := range h.members[code] {
		if client == except {
			continue
		}
		select {
		case client.send <- frame:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.log.Warn("dropping slow client", zap.String("user", client.id))
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// sendTo queues a frame for a single client.
func (h *Hub) sendTo(c *Client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		h.log.Warn("dropping slow client", zap.String("user", c.id))
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
