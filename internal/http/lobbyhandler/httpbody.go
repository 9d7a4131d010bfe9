package lobbyhandler

import "gamelobbygo/internal/store/lobbystore"

type CreateLobbyBody struct {
	BetAmount  float64 `json:"bet_amount"  binding:"gte=0"              example:"0"`
	MaxPlayers int     `json:"max_players" binding:"required,gte=2"     example:"50"`
} // @name CreateLobbyRequest

type LobbyStateResponse struct {
	Lobby   *lobbystore.Lobby   `json:"lobby"`
	Players []lobbystore.Player `json:"players"`
} // @name LobbyStateResponse

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

type ListLobbiesQuery struct {
	Status string `form:"status"  binding:"omitempty,oneof=waiting starting active completed"`
	Limit  int    `form:"limit,default=10"  binding:"gte=0,lte=100"`
	Offset int    `form:"offset,default=0"  binding:"gte=0"`
} // @name ListLobbiesQuery
