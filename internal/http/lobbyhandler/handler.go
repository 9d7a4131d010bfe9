package lobbyhandler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gamelobbygo/internal/identity"
	"gamelobbygo/internal/services/lobby"
)

const identityKey = "identity"

type Handler struct {
	svc       lobby.ILobbyService
	validator identity.Validator
}

func New(svc lobby.ILobbyService, validator identity.Validator) *Handler {
	return &Handler{svc: svc, validator: validator}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/lobbies", h.create)
	r.GET("/lobbies", h.list)
	r.GET("/lobbies/:id", h.info)
	r.POST("/lobbies/:id/join", h.authRequired, h.join)
	r.POST("/lobbies/:id/leave", h.authRequired, h.leave)
}

// authRequired resolves the bearer token to an identity. 401 here is the
// client coordinator's cue to (re)run its authentication cycle.
func (h *Handler) authRequired(ginCtx *gin.Context) {
	token := strings.TrimPrefix(ginCtx.GetHeader("Authorization"), "Bearer ")
	ident, err := h.validator.Validate(ginCtx.Request.Context(), token)
	if err != nil {
		ginCtx.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credential"})
		return
	}
	ginCtx.Set(identityKey, ident)
	ginCtx.Next()
}

// @Summary		Create a lobby
// @Description	Opens a new waiting lobby for the given bet tier.
// @Tags			Lobbies
// @Param			body	body		CreateLobbyBody	true	"Lobby parameters"
// @Success		201		{object}	lobbystore.Lobby
// @Failure		400		{object}	ErrorResponse
// @Router			/lobbies [post]
func (h *Handler) create(ginCtx *gin.Context) {
	var body CreateLobbyBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}

	lb, err := h.svc.CreateLobby(ginCtx.Request.Context(), body.BetAmount, body.MaxPlayers)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, lobby.ErrInvalidLobby) {
			status = http.StatusBadRequest
		}
		ginCtx.JSON(status, &ErrorResponse{Error: err.Error()})
		return
	}
	ginCtx.JSON(http.StatusCreated, lb)
}

// @Summary		List lobbies
// @Description	Retrieves a paginated list of lobbies, optionally filtered by status.
// @Tags			Lobbies
// @Param			status	query		string	false	"Status filter"			Enums(waiting,starting,active,completed)
// @Param			limit	query		int		false	"Max results (0‑100)"	minimum(0)	maximum(100)	default(10)
// @Param			offset	query		int		false	"Offset for pagination"	minimum(0)	default(0)
// @Success		200		{array}		lobbystore.Lobby
// @Failure		400		{object}	ErrorResponse
// @Failure		500		{object}	ErrorResponse
// @Router			/lobbies [get]
func (h *Handler) list(ginCtx *gin.Context) {
	var q ListLobbiesQuery
	if err := ginCtx.ShouldBindQuery(&q); err != nil {
		ginCtx.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	out, err := h.svc.ListLobbies(ginCtx.Request.Context(), q.Status, q.Limit, q.Offset)
	if err != nil {
		ginCtx.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	ginCtx.JSON(http.StatusOK, out)
}

// @Summary		Get lobby details
// @Description	Returns the lobby record plus its current member list.
// @Tags			Lobbies
// @Param			id	path		string	true	"Lobby ID"
// @Success		200	{object}	LobbyStateResponse
// @Failure		404	{object}	ErrorResponse
// @Router			/lobbies/{id} [get]
func (h *Handler) info(ginCtx *gin.Context) {
	lb, players, err := h.svc.GetLobbyWithPlayers(ginCtx.Request.Context(), ginCtx.Param("id"))
	if err != nil {
		ginCtx.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	ginCtx.JSON(http.StatusOK, LobbyStateResponse{Lobby: lb, Players: players})
}

// @Summary		Join a lobby
// @Description	Adds the authenticated player; idempotent when already a member.
// @Tags			Lobbies
// @Security		BearerAuth
// @Param			id	path		string	true	"Lobby ID"
// @Success		200	{object}	LobbyStateResponse
// @Failure		401	{object}	ErrorResponse
// @Failure		404	{object}	ErrorResponse
// @Failure		409	{object}	ErrorResponse
// @Router			/lobbies/{id}/join [post]
func (h *Handler) join(ginCtx *gin.Context) {
	lobbyID := ginCtx.Param("id")
	ident := ginCtx.GetString(identityKey)

	if err := h.svc.JoinLobby(ginCtx.Request.Context(), lobbyID, ident); err != nil {
		ginCtx.JSON(rejectStatus(err), &ErrorResponse{Error: err.Error()})
		return
	}
	h.reply(ginCtx, lobbyID)
}

// @Summary		Leave a lobby
// @Description	Removes the authenticated player from the lobby.
// @Tags			Lobbies
// @Security		BearerAuth
// @Param			id	path		string	true	"Lobby ID"
// @Success		200	{object}	LobbyStateResponse
// @Failure		401	{object}	ErrorResponse
// @Failure		404	{object}	ErrorResponse
// @Router			/lobbies/{id}/leave [post]
func (h *Handler) leave(ginCtx *gin.Context) {
	lobbyID := ginCtx.Param("id")
	ident := ginCtx.GetString(identityKey)

	if err := h.svc.LeaveLobby(ginCtx.Request.Context(), lobbyID, ident); err != nil {
		ginCtx.JSON(rejectStatus(err), &ErrorResponse{Error: err.Error()})
		return
	}
	h.reply(ginCtx, lobbyID)
}

// reply returns the post-mutation snapshot directly, so callers never
// need a second read that could race the next change.
func (h *Handler) reply(ginCtx *gin.Context, lobbyID string) {
	lb, players, err := h.svc.GetLobbyWithPlayers(ginCtx.Request.Context(), lobbyID)
	if err != nil {
		ginCtx.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	ginCtx.JSON(http.StatusOK, LobbyStateResponse{Lobby: lb, Players: players})
}

func rejectStatus(err error) int {
	switch {
	case errors.Is(err, lobby.ErrLobbyNotFound):
		return http.StatusNotFound
	case errors.Is(err, lobby.ErrLobbyFull),
		errors.Is(err, lobby.ErrLobbyClosed),
		errors.Is(err, lobby.ErrInsufficientFunds):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
