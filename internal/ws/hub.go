package ws

import (
	"sync"
)

// Hub is the connection registry: every admitted connection, indexed
// globally, by identity (one identity may hold several tabs) and by
// lobby room. Room subscription is a pure presence concern — it is not
// linked to durable membership, so spectators can watch a lobby without
// counting toward its player cap.
type Hub struct {
	mu         sync.RWMutex
	conns      map[*clientConn]struct{}
	byIdentity map[string]map[*clientConn]struct{}
	rooms      map[string]map[*clientConn]struct{}
	connRooms  map[*clientConn]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns:      make(map[*clientConn]struct{}),
		byIdentity: make(map[string]map[*clientConn]struct{}),
		rooms:      make(map[string]map[*clientConn]struct{}),
		connRooms:  make(map[*clientConn]map[string]struct{}),
	}
}

func (h *Hub) Register(c *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
	set, ok := h.byIdentity[c.identity]
	if !ok {
		set = make(map[*clientConn]struct{})
		h.byIdentity[c.identity] = set
	}
	set[c] = struct{}{}
}

// Unregister removes the connection from every index and closes it.
func (h *Hub) Unregister(c *clientConn) {
	h.mu.Lock()
	delete(h.conns, c)
	if set, ok := h.byIdentity[c.identity]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byIdentity, c.identity)
		}
	}
	for roomID := range h.connRooms[c] {
		h.dropFromRoom(roomID, c)
	}
	delete(h.connRooms, c)
	h.mu.Unlock()

	c.close()
}

func (h *Hub) JoinRoom(lobbyID string, c *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return // never index a connection that was already dropped
	}
	room, ok := h.rooms[lobbyID]
	if !ok {
		room = make(map[*clientConn]struct{})
		h.rooms[lobbyID] = room
	}
	room[c] = struct{}{}

	subs, ok := h.connRooms[c]
	if !ok {
		subs = make(map[string]struct{})
		h.connRooms[c] = subs
	}
	subs[lobbyID] = struct{}{}
}

func (h *Hub) LeaveRoom(lobbyID string, c *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropFromRoom(lobbyID, c)
	if subs, ok := h.connRooms[c]; ok {
		delete(subs, lobbyID)
	}
}

// dropFromRoom requires h.mu held.
func (h *Hub) dropFromRoom(lobbyID string, c *clientConn) {
	if room, ok := h.rooms[lobbyID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, lobbyID)
		}
	}
}

// BroadcastRoom pushes msg to every subscriber of the lobby's room.
func (h *Hub) BroadcastRoom(lobbyID string, msg []byte) {
	h.mu.RLock()
	targets := make([]*clientConn, 0, len(h.rooms[lobbyID]))
	for c := range h.rooms[lobbyID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	h.push(targets, msg)
}

// BroadcastAll pushes msg to every live connection.
func (h *Hub) BroadcastAll(msg []byte) {
	h.mu.RLock()
	targets := make([]*clientConn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	h.push(targets, msg)
}

// SendToIdentity delivers msg to one live connection of the identity —
// the first match when several tabs are open. Returns false when the
// identity has no connection.
func (h *Hub) SendToIdentity(identity string, msg []byte) bool {
	h.mu.RLock()
	var target *clientConn
	for c := range h.byIdentity[identity] {
		target = c
		break
	}
	h.mu.RUnlock()

	if target == nil {
		return false
	}
	if !target.enqueue(msg) {
		h.Unregister(target)
		return false
	}
	return true
}

// push enqueues outside the lock and prunes slow consumers.
func (h *Hub) push(targets []*clientConn, msg []byte) {
	var failed []*clientConn
	for _, c := range targets {
		if !c.enqueue(msg) {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		h.Unregister(c)
	}
}

// NumConns is used by tests and the health surface.
func (h *Hub) NumConns() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// RoomSize reports the live subscriber count of a lobby room.
func (h *Hub) RoomSize(lobbyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[lobbyID])
}
