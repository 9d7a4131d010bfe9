package ws

import (
	"context"

	"go.uber.org/zap"

	"gamelobbygo/internal/store/lobbystore"
)

// Broadcaster turns lobby side effects into websocket pushes. Countdown
// and game-start frames go to the lobby's room only; presence frames go
// to every connection so lobby-browser views refresh their counts
// without subscribing to each room. Each presence change also carries a
// fresh versioned snapshot to the room; any one push is advisory and
// clients reconcile with an explicit state request.
type Broadcaster struct {
	ctx   context.Context
	hub   *Hub
	store lobbystore.Store
}

func NewBroadcaster(ctx context.Context, hub *Hub, store lobbystore.Store) *Broadcaster {
	return &Broadcaster{ctx: ctx, hub: hub, store: store}
}

func (b *Broadcaster) OnPlayerJoined(lobbyID, identity string) {
	b.hub.BroadcastAll(envelope(EvtUserJoined, PresenceBody{LobbyID: lobbyID, Identity: identity}))
	b.pushState(lobbyID)
}

func (b *Broadcaster) OnPlayerLeft(lobbyID, identity string) {
	b.hub.BroadcastAll(envelope(EvtUserLeft, PresenceBody{LobbyID: lobbyID, Identity: identity}))
	b.pushState(lobbyID)
}

func (b *Broadcaster) OnCountdownUpdate(lobbyID string, secondsRemaining int) {
	b.hub.BroadcastRoom(lobbyID, envelope(EvtCountdown, CountdownBody{
		LobbyID:          lobbyID,
		SecondsRemaining: secondsRemaining,
	}))
}

func (b *Broadcaster) OnGameStart(lobbyID string) {
	b.hub.BroadcastRoom(lobbyID, envelope(EvtGameStart, GameStartBody{LobbyID: lobbyID}))
}

func (b *Broadcaster) pushState(lobbyID string) {
	lb, err := b.store.GetLobby(b.ctx, lobbyID)
	if err != nil {
		zap.L().Warn("broadcast.snapshot_lobby", zap.String("lobby_id", lobbyID), zap.Error(err))
		return
	}
	players, err := b.store.GetLobbyPlayers(b.ctx, lobbyID)
	if err != nil {
		zap.L().Warn("broadcast.snapshot_players", zap.String("lobby_id", lobbyID), zap.Error(err))
		return
	}
	b.hub.BroadcastRoom(lobbyID, envelope(EvtLobbyState, LobbyStateBody{
		Lobby:   lb,
		Players: players,
		Version: lb.Version,
	}))
}
