package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gamelobbygo/internal/config"
	"gamelobbygo/internal/database/db_client"
	"gamelobbygo/internal/http/http_server"
	"gamelobbygo/internal/identity"
	"gamelobbygo/internal/redis/redis_client"
	"gamelobbygo/internal/services/chat"
	"gamelobbygo/internal/services/lobby"
	"gamelobbygo/internal/store/lobbystore"
	"gamelobbygo/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	var err error
	var cfg *config.Config
	var redisClient *redis.Client

	// 1. Load configuration
	cfg, err = config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis (sessions written by the auth service, chat stream/fan-out)
	redisClient, err = redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort))
	if err != nil {
		Log.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()
	Log.Debug("Redis client created successfully")

	// 4. Postgres db client + lobby store
	pgDb, err := db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	if err != nil {
		Log.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()
	store := lobbystore.New(pgDb)

	// 5. Collaborators: identity validation + chat persistence
	validator := identity.NewRedisValidator(redisClient)
	chatService := chat.NewChatService(redisClient)

	// 6. WebSockets hub + broadcast router
	hub := ws.NewHub()
	broadcaster := ws.NewBroadcaster(ctx, hub, store)

	// 7. Lobby lifecycle engine (scheduler + manager)
	sched := lobby.NewScheduler(clockwork.NewRealClock())
	lobbyService := lobby.NewLobbyService(ctx, store, sched, broadcaster,
		lobby.AllowAllGate(), cfg.LobbyMinPlayers, cfg.LobbyCountdownSeconds)

	// 8. Background: cross-instance chat fan‑out ➜ local hub
	go ws.SubscribeRedisChatEvents(ctx, redisClient, hub)

	// 9. WS server
	wsSrv := ws.NewWsServer(hub, lobbyService, chatService, validator, cfg.ChatHistoryLimit)

	// 10. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, lobbyService, validator)
	if err := httpServer.Start(); err != nil {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}

}
