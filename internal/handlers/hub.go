// internal/handlers/hub.go
package handlers

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/storyteller/internal/game"
	"github.com/sirupsen/logrus"
)

// outQueueSize bounds each connection's pending messages; a client that falls
// this far behind starts losing events rather than stalling its room.
const outQueueSize = 64

// RoomConnection is one websocket client. Messages for it are queued on out and
// written by its write pump, so senders never block on the network.
type RoomConnection struct {
	out    chan interface{}
	done   chan struct{}
	once   sync.Once
	remote string

	mu       sync.Mutex
	roomID   uuid.UUID
	playerID uuid.UUID
}

// NewRoomConnection creates an unbound connection.
func NewRoomConnection(remote string) *RoomConnection {
	return &RoomConnection{
		out:    make(chan interface{}, outQueueSize),
		done:   make(chan struct{}),
		remote: remote,
	}
}

// Send queues a room event without blocking. It reports false when the
// connection is closed or its queue is full.
func (rc *RoomConnection) Send(ev game.RoomEvent) bool {
	return rc.write(ev)
}

func (rc *RoomConnection) write(msg interface{}) bool {
	select {
	case <-rc.done:
		return false
	default:
	}
	select {
	case rc.out <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump. Safe to call more than once.
func (rc *RoomConnection) Close() {
	rc.once.Do(func() { close(rc.done) })
}

// Bind records the room and player this connection plays as.
func (rc *RoomConnection) Bind(roomID, playerID uuid.UUID) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.roomID, rc.playerID = roomID, playerID
}

// Binding returns the bound room and player, uuid.Nil when unbound.
func (rc *RoomConnection) Binding() (roomID, playerID uuid.UUID) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.roomID, rc.playerID
}

// detach drops the binding if it still points at roomID.
func (rc *RoomConnection) detach(roomID uuid.UUID) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.roomID == roomID {
		rc.roomID, rc.playerID = uuid.Nil, uuid.Nil
	}
}

// Hub is the room-scoped connection registry. It implements game.Publisher.
type Hub struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[uuid.UUID]map[game.Subscriber]struct{}
	log   *logrus.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		rooms: make(map[uuid.UUID]map[uuid.UUID]map[game.Subscriber]struct{}),
		log:   logger,
	}
}

// Subscribe attaches sub to a player in a room.
func (h *Hub) Subscribe(roomID, playerID uuid.UUID, sub game.Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	players, ok := h.rooms[roomID]
	if !ok {
		players = make(map[uuid.UUID]map[game.Subscriber]struct{})
		h.rooms[roomID] = players
	}
	subs, ok := players[playerID]
	if !ok {
		subs = make(map[game.Subscriber]struct{})
		players[playerID] = subs
	}
	subs[sub] = struct{}{}
}

// Unsubscribe detaches sub, or every connection of the player when sub is nil.
func (h *Hub) Unsubscribe(roomID, playerID uuid.UUID, sub game.Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	players, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if sub == nil {
		delete(players, playerID)
	} else if subs, ok := players[playerID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(players, playerID)
		}
	}
	if len(players) == 0 {
		delete(h.rooms, roomID)
	}
}

// Broadcast sends ev to every connection in the room.
func (h *Hub) Broadcast(roomID uuid.UUID, ev game.RoomEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for playerID, subs := range h.rooms[roomID] {
		for sub := range subs {
			if !sub.Send(ev) {
				h.dropped(roomID, playerID, ev)
			}
		}
	}
}

// SendToPlayer sends ev to every connection of one player.
func (h *Hub) SendToPlayer(roomID, playerID uuid.UUID, ev game.RoomEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.rooms[roomID][playerID] {
		if !sub.Send(ev) {
			h.dropped(roomID, playerID, ev)
		}
	}
}

// CloseRoom forgets every subscription of the room and unbinds its connections.
func (h *Hub) CloseRoom(roomID uuid.UUID) {
	h.mu.Lock()
	players := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()

	for _, subs := range players {
		for sub := range subs {
			if rc, ok := sub.(*RoomConnection); ok {
				rc.detach(roomID)
			}
		}
	}
}

// Connections counts the live subscriptions across every room.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for roomID := range h.rooms {
		n += h.roomConnectionsLocked(roomID)
	}
	return n
}

func (h *Hub) roomConnections(roomID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.roomConnectionsLocked(roomID)
}

func (h *Hub) roomConnectionsLocked(roomID uuid.UUID) int {
	n := 0
	for _, subs := range h.rooms[roomID] {
		n += len(subs)
	}
	return n
}

func (h *Hub) dropped(roomID, playerID uuid.UUID, ev game.RoomEvent) {
	h.log.WithFields(logrus.Fields{
		"room_id":   roomID,
		"player_id": playerID,
		"event":     ev.Type,
	}).Warn("connection queue full or closed, event dropped")
}
