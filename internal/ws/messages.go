package ws

import (
	"encoding/json"

	"gamelobbygo/internal/services/chat"
	"gamelobbygo/internal/store/lobbystore"
)

// Envelope wraps every WS frame.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "lobby/join_room"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON object
}

// Client → server events.
const (
	EvtJoinRoom     = "lobby/join_room"
	EvtLeaveRoom    = "lobby/leave_room"
	EvtRequestState = "lobby/state"
	EvtSignal       = "signal"
	EvtChatSend     = "chat/send"
)

// Server → client events.
const (
	EvtLobbyState  = "lobby/state"
	EvtCountdown   = "lobby/countdown"
	EvtGameStart   = "lobby/game_start"
	EvtUserJoined  = "lobby/user_joined"
	EvtUserLeft    = "lobby/user_left"
	EvtChatMessage = "chat/message"
	EvtChatHistory = "chat/history"
)

// Relayed signaling kinds. Payloads are opaque to the server.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice-candidate"
)

// ──────────────────────────── Request / Response DTOs ─────────────────────────

type RoomRequest struct {
	LobbyID string `json:"lobby_id"`
}

type SignalRequest struct {
	Kind    string          `json:"kind"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

type ChatSendRequest struct {
	Text string `json:"text"`
}

// Empty ACK body (useful for many handlers).
type AckBody struct{}

// ErrorBody is returned for failures.
type ErrorBody struct {
	Error string `json:"error"`
}

// ──────────────────────────── Server-pushed bodies ────────────────────────────

// LobbyStateBody is the authoritative snapshot. Version is monotonic per
// lobby; consumers drop any snapshot older than the last one they applied.
type LobbyStateBody struct {
	Lobby   *lobbystore.Lobby   `json:"lobby"`
	Players []lobbystore.Player `json:"players"`
	Version int64               `json:"version"`
}

type CountdownBody struct {
	LobbyID          string `json:"lobby_id"`
	SecondsRemaining int    `json:"seconds_remaining"`
}

type GameStartBody struct {
	LobbyID string `json:"lobby_id"`
}

type PresenceBody struct {
	LobbyID  string `json:"lobby_id"`
	Identity string `json:"identity"`
}

type SignalBody struct {
	Kind    string          `json:"kind"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type ChatHistoryBody struct {
	Messages []chat.Message `json:"messages"`
}

// envelope marshals a server-initiated frame. Marshal errors only happen
// for non-serializable bodies, which is a programming error.
func envelope(event string, body interface{}) []byte {
	out, _ := json.Marshal(map[string]interface{}{
		"event": event,
		"body":  body,
	})
	return out
}
