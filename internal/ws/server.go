package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gamelobbygo/internal/identity"
	"gamelobbygo/internal/services/chat"
	"gamelobbygo/internal/services/lobby"
)

const dispatchTimeout = 1900 * time.Millisecond

type WsServer struct {
	hub          *Hub
	router       *Router
	lobbySvc     lobby.ILobbyService
	chatSvc      chat.IChatService
	validator    identity.Validator
	historyLimit int64
	upgrader     websocket.Upgrader
}

func NewWsServer(h *Hub, lobbySvc lobby.ILobbyService, chatSvc chat.IChatService,
	validator identity.Validator, historyLimit int64) *WsServer {
	srv := &WsServer{
		hub:          h,
		router:       NewRouter(),
		lobbySvc:     lobbySvc,
		chatSvc:      chatSvc,
		validator:    validator,
		historyLimit: historyLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev‑only
		},
	}
	srv.registerHandlers() // ← all WS endpoints configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry‑point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	token := ginCtx.Query("token")
	if token == "" {
		token = strings.TrimPrefix(ginCtx.GetHeader("Authorization"), "Bearer ")
	}

	// Rejected credentials never reach the registry.
	ident, err := s.validator.Validate(ginCtx.Request.Context(), token)
	if err != nil {
		ginCtx.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
		return
	}

	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.upgrade", zap.Error(err))
		return
	}

	// ─────────────────── Client admitted ────────────────────────
	c := newClientConn(ident, rawConn)
	s.hub.Register(c)
	go c.writePump()

	// Recent chat so a fresh tab has context. Best effort.
	if history, err := s.chatSvc.History(ginCtx.Request.Context(), s.historyLimit); err == nil && len(history) > 0 {
		c.enqueue(envelope(EvtChatHistory, ChatHistoryBody{Messages: history}))
	}

	go s.reader(c)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) registerHandlers() {
	// 🔹 lobby/join_room ------------------------------------------------------
	Register(
		s.router,
		EvtJoinRoom,
		func(ctx context.Context, cc *ConnContext, req RoomRequest) (LobbyStateBody, error) {
			if req.LobbyID == "" {
				return LobbyStateBody{}, errors.New("missing_lobby_id")
			}
			// Subscribing is presence only; the reply carries the current
			// snapshot so spectators render immediately.
			body, err := s.stateBody(ctx, req.LobbyID)
			if err != nil {
				return LobbyStateBody{}, err
			}
			s.hub.JoinRoom(req.LobbyID, cc.Conn)
			return body, nil
		},
	)

	// 🔹 lobby/leave_room -----------------------------------------------------
	Register(
		s.router,
		EvtLeaveRoom,
		func(ctx context.Context, cc *ConnContext, req RoomRequest) (AckBody, error) {
			if req.LobbyID == "" {
				return AckBody{}, errors.New("missing_lobby_id")
			}
			s.hub.LeaveRoom(req.LobbyID, cc.Conn)
			return AckBody{}, nil
		},
	)

	// 🔹 lobby/state ----------------------------------------------------------
	Register(
		s.router,
		EvtRequestState,
		func(ctx context.Context, cc *ConnContext, req RoomRequest) (LobbyStateBody, error) {
			if req.LobbyID == "" {
				return LobbyStateBody{}, errors.New("missing_lobby_id")
			}
			return s.stateBody(ctx, req.LobbyID)
		},
	)

	// 🔹 signal ---------------------------------------------------------------
	Register(
		s.router,
		EvtSignal,
		func(ctx context.Context, cc *ConnContext, req SignalRequest) (AckBody, error) {
			switch req.Kind {
			case SignalOffer, SignalAnswer, SignalICECandidate:
			default:
				return AckBody{}, errors.New("unknown_signal_kind")
			}
			if req.Target == "" {
				return AckBody{}, errors.New("missing_target")
			}

			forwarded := envelope(EvtSignal, SignalBody{
				Kind:    req.Kind,
				From:    cc.Identity,
				Payload: req.Payload,
			})
			// Fire-and-forget: an unreachable target is the sender's
			// timeout problem, not an error on this side.
			if !s.hub.SendToIdentity(req.Target, forwarded) {
				zap.L().Debug("signal.unreachable",
					zap.String("kind", req.Kind), zap.String("target", req.Target))
			}
			return AckBody{}, nil
		},
	)

	// 🔹 chat/send ------------------------------------------------------------
	Register(
		s.router,
		EvtChatSend,
		func(ctx context.Context, cc *ConnContext, req ChatSendRequest) (AckBody, error) {
			text := strings.TrimSpace(req.Text)
			if text == "" {
				return AckBody{}, errors.New("empty_message")
			}
			if err := s.chatSvc.Publish(ctx, cc.Identity, text); err != nil {
				// Fan-out path down → deliver locally, chat must not stall.
				zap.L().Warn("chat.publish_failed", zap.Error(err))
				s.hub.BroadcastAll(envelope(EvtChatMessage, chat.Message{
					From:   cc.Identity,
					Text:   text,
					SentAt: time.Now().Unix(),
				}))
			}
			return AckBody{}, nil
		},
	)
}

func (s *WsServer) stateBody(ctx context.Context, lobbyID string) (LobbyStateBody, error) {
	lb, players, err := s.lobbySvc.GetLobbyWithPlayers(ctx, lobbyID)
	if err != nil {
		return LobbyStateBody{}, err
	}
	return LobbyStateBody{Lobby: lb, Players: players, Version: lb.Version}, nil
}

func (s *WsServer) reader(c *clientConn) {
	defer s.hub.Unregister(c)

	c.rawConn.SetReadLimit(maxMessageSize)
	_ = c.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	c.rawConn.SetPongHandler(func(string) error {
		return c.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	cc := &ConnContext{Identity: c.identity, Conn: c, Server: s}

	for {
		_, data, err := c.rawConn.ReadMessage()
		if err != nil {
			return // client closed or errored
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.enqueueJSON(map[string]any{
				"event": "error",
				"body":  ErrorBody{Error: "bad_json"},
			})
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		res, err := s.router.dispatch(ctx, cc, env)
		cancel()

		// ---- error -> {"event":"error", "body":{...}} ---------------
		if err != nil {
			c.enqueueJSON(map[string]any{
				"event": "error",
				"body":  ErrorBody{Error: err.Error()},
			})
			continue
		}

		// ---- success -> {"event":"<evt>-ack", "body":{...}} --------
		reply := map[string]any{"event": env.Event + "-ack"}
		if res != nil {
			reply["body"] = res
		}
		c.enqueueJSON(reply)
	}
}
