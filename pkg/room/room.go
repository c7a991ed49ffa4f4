package room

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"doc-sync/pkg/metrics"
)

// Client represents a connected session in a room. Every client owns a
// bounded outbound queue drained by its connection writer.
type Client struct {
	ID       string `json:"id"`
	Identity string `json:"identity"`
	Role     string `json:"role"`

	send        chan []byte
	mu          sync.Mutex
	closed      bool
	lastVersion int
}

// NewClient creates a client whose queue holds at most buffer messages
func NewClient(id, identity, role string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		ID:       id,
		Identity: identity,
		Role:     role,
		send:     make(chan []byte, buffer),
	}
}

// Outbound is drained by the connection writer. It is closed when the client
// leaves its room or is dropped.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Enqueue queues an unversioned message. It never blocks and returns false
// when the queue is full or the client is closed.
func (c *Client) Enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueueLocked(msg)
}

// Deliver queues a message describing document version. Messages older than
// the newest version already delivered are skipped (reported as delivered).
func (c *Client) Deliver(version int, msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if version < c.lastVersion {
		return !c.closed
	}
	if !c.enqueueLocked(msg) {
		return false
	}
	c.lastVersion = version
	return true
}

func (c *Client) enqueueLocked(msg []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close closes the outbound queue. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Room is the set of clients subscribed to one document.
type Room struct {
	ID      string
	clients map[string]*Client
}

// Relay forwards broadcasts to other instances.
type Relay interface {
	Publish(ctx context.Context, documentID string, version int, msg []byte) error
}

// RoomManager manages all rooms
type RoomManager struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	relay  Relay
	logger *zap.SugaredLogger
}

// NewRoomManager creates a new room manager
func NewRoomManager(logger *zap.SugaredLogger) *RoomManager {
	return &RoomManager{
		rooms:  make(map[string]*Room),
		logger: logger,
	}
}

// SetRelay installs a cross-instance relay. Call before serving traffic.
func (rm *RoomManager) SetRelay(relay Relay) {
	rm.relay = relay
}

// Join adds client to the room of documentID, creating the room if needed.
func (rm *RoomManager) Join(documentID string, client *Client) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[documentID]
	if !ok {
		room = &Room{ID: documentID, clients: make(map[string]*Client)}
		rm.rooms[documentID] = room
	}
	room.clients[client.ID] = client

	rm.logger.Infow("Client joined room", "client_id", client.ID, "document_id", documentID, "role", client.Role, "members", len(room.clients))
}

// Leave removes client from the room and closes its queue. It reports whether
// the client was a member; calling it again is a no-op.
func (rm *RoomManager) Leave(documentID string, client *Client) bool {
	rm.mu.Lock()
	removed := false
	if room, ok := rm.rooms[documentID]; ok {
		if member, ok := room.clients[client.ID]; ok && member == client {
			delete(room.clients, client.ID)
			removed = true
		}
		if len(room.clients) == 0 {
			delete(rm.rooms, documentID)
		}
	}
	rm.mu.Unlock()

	client.Close()
	if removed {
		rm.logger.Infow("Client left room", "client_id", client.ID, "document_id", documentID)
	}
	return removed
}

// CloseRoom removes every member of documentID's room and closes their
// queues. It returns the number of clients disconnected.
func (rm *RoomManager) CloseRoom(documentID string) int {
	rm.mu.Lock()
	room, ok := rm.rooms[documentID]
	delete(rm.rooms, documentID)
	rm.mu.Unlock()
	if !ok {
		return 0
	}

	for _, client := range room.clients {
		client.Close()
	}
	rm.logger.Infow("Room closed", "document_id", documentID, "members", len(room.clients))
	return len(room.clients)
}

// Broadcast delivers msg to every member of the room and forwards it to the
// relay. It returns the number of local members that accepted the message.
func (rm *RoomManager) Broadcast(ctx context.Context, documentID string, version int, msg []byte) int {
	delivered := rm.DeliverLocal(documentID, version, msg)

	if rm.relay != nil {
		if err := rm.relay.Publish(ctx, documentID, version, msg); err != nil {
			rm.logger.Warnw("Failed to relay broadcast", "document_id", documentID, "version", version, "error", err)
		}
	}
	return delivered
}

// DeliverLocal delivers msg to the members connected to this instance. A
// member whose queue is full is dropped instead of stalling the others.
func (rm *RoomManager) DeliverLocal(documentID string, version int, msg []byte) int {
	members := rm.members(documentID)

	delivered := 0
	for _, client := range members {
		if client.Deliver(version, msg) {
			delivered++
			continue
		}
		metrics.BroadcastDrops.Inc()
		rm.logger.Warnw("Dropping slow client", "client_id", client.ID, "document_id", documentID, "version", version)
		rm.Leave(documentID, client)
	}
	return delivered
}

func (rm *RoomManager) members(documentID string) []*Client {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	room, ok := rm.rooms[documentID]
	if !ok {
		return nil
	}
	members := make([]*Client, 0, len(room.clients))
	for _, client := range room.clients {
		members = append(members, client)
	}
	return members
}

// Member describes a connected client for presence listings.
type Member struct {
	ID       string `json:"id"`
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

// Members returns the clients of a room ordered by id.
func (rm *RoomManager) Members(documentID string) []Member {
	members := rm.members(documentID)
	out := make([]Member, 0, len(members))
	for _, c := range members {
		out = append(out, Member{ID: c.ID, Identity: c.Identity, Role: c.Role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RoomCount returns the number of rooms with at least one member.
func (rm *RoomManager) RoomCount() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms)
}
