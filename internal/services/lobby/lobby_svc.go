package lobby

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"gamelobbygo/internal/store/lobbystore"
)

var (
	ErrLobbyNotFound     = lobbystore.ErrLobbyNotFound
	ErrLobbyFull         = lobbystore.ErrLobbyFull
	ErrLobbyClosed       = errors.New("lobby closed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidLobby      = errors.New("invalid lobby parameters")
)

// Observer receives the manager's side effects. The transport layer
// implements it; tests substitute a recorder.
type Observer interface {
	OnPlayerJoined(lobbyID, identity string)
	OnPlayerLeft(lobbyID, identity string)
	OnCountdownUpdate(lobbyID string, secondsRemaining int)
	OnGameStart(lobbyID string)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) OnPlayerJoined(string, string) {}
func (NopObserver) OnPlayerLeft(string, string)   {}
func (NopObserver) OnCountdownUpdate(string, int) {}
func (NopObserver) OnGameStart(string)            {}

// WalletGate reserves a player's stake before they join a paid lobby.
// The real funds ledger lives in the wallet service; this engine only
// consumes the yes/no answer.
type WalletGate interface {
	Reserve(ctx context.Context, identity string, amount float64) error
}

type allowAllGate struct{}

func (allowAllGate) Reserve(context.Context, string, float64) error { return nil }

func AllowAllGate() WalletGate { return allowAllGate{} }

type ILobbyService interface {
	CreateLobby(ctx context.Context, betAmount float64, maxPlayers int) (*lobbystore.Lobby, error)
	JoinLobby(ctx context.Context, lobbyID, identity string) error
	LeaveLobby(ctx context.Context, lobbyID, identity string) error
	GetLobbyWithPlayers(ctx context.Context, lobbyID string) (*lobbystore.Lobby, []lobbystore.Player, error)
	ListLobbies(ctx context.Context, status string, limit, offset int) ([]lobbystore.Lobby, error)
}

type lobbyService struct {
	ctx   context.Context // service lifetime; countdown timers outlive requests
	store lobbystore.Store
	sched *Scheduler
	obs   Observer
	gate  WalletGate

	minPlayers       int
	countdownSeconds int
}

func NewLobbyService(ctx context.Context, store lobbystore.Store, sched *Scheduler,
	obs Observer, gate WalletGate, minPlayers, countdownSeconds int) ILobbyService {
	if obs == nil {
		obs = NopObserver{}
	}
	if gate == nil {
		gate = AllowAllGate()
	}
	return &lobbyService{
		ctx:              ctx,
		store:            store,
		sched:            sched,
		obs:              obs,
		gate:             gate,
		minPlayers:       minPlayers,
		countdownSeconds: countdownSeconds,
	}
}

func (svc *lobbyService) CreateLobby(ctx context.Context, betAmount float64, maxPlayers int) (*lobbystore.Lobby, error) {
	if betAmount < 0 || maxPlayers < svc.minPlayers {
		return nil, ErrInvalidLobby
	}
	return svc.store.CreateLobby(ctx, betAmount, maxPlayers)
}

func (svc *lobbyService) JoinLobby(ctx context.Context, lobbyID, identity string) error {
	lb, err := svc.store.GetLobby(ctx, lobbyID)
	if err != nil {
		return err
	}
	if lb.Status == lobbystore.StatusActive || lb.Status == lobbystore.StatusCompleted {
		return ErrLobbyClosed
	}

	players, err := svc.store.GetLobbyPlayers(ctx, lobbyID)
	if err != nil {
		return err
	}
	for _, p := range players {
		if p.Identity == identity {
			return nil // already a member, no duplicate write or side effect
		}
	}
	if len(players) >= lb.MaxPlayers {
		return ErrLobbyFull
	}

	if lb.BetAmount > 0 {
		if err := svc.gate.Reserve(ctx, identity, lb.BetAmount); err != nil {
			zap.L().Info("lobby.join_rejected_funds",
				zap.String("lobby_id", lobbyID), zap.String("identity", identity), zap.Error(err))
			return ErrInsufficientFunds
		}
	}

	if err := svc.store.JoinLobby(ctx, lobbyID, identity); err != nil {
		return err
	}
	svc.obs.OnPlayerJoined(lobbyID, identity)

	// The store, not the pre-join read, is the authority on the count.
	players, err = svc.store.GetLobbyPlayers(ctx, lobbyID)
	if err != nil {
		zap.L().Warn("lobby.recount_failed", zap.String("lobby_id", lobbyID), zap.Error(err))
		return nil // the join itself succeeded
	}
	cur, err := svc.store.GetLobby(ctx, lobbyID)
	if err == nil && len(players) >= svc.minPlayers && cur.Status == lobbystore.StatusWaiting {
		if err := svc.startCountdown(ctx, lobbyID); err != nil {
			zap.L().Warn("lobby.countdown_start_failed", zap.String("lobby_id", lobbyID), zap.Error(err))
		}
	}
	return nil
}

func (svc *lobbyService) LeaveLobby(ctx context.Context, lobbyID, identity string) error {
	lb, err := svc.store.GetLobby(ctx, lobbyID)
	if err != nil {
		return err
	}

	players, err := svc.store.GetLobbyPlayers(ctx, lobbyID)
	if err != nil {
		return err
	}
	member := false
	for _, p := range players {
		if p.Identity == identity {
			member = true
			break
		}
	}
	if !member {
		return nil // not a member, no write and no side effect
	}

	if err := svc.store.LeaveLobby(ctx, lobbyID, identity); err != nil {
		return err
	}

	if lb.Status == lobbystore.StatusStarting {
		rest, err := svc.store.GetLobbyPlayers(ctx, lobbyID)
		if err == nil && len(rest) < svc.minPlayers {
			svc.cancelCountdown(ctx, lobbyID)
		}
	}

	// Emitted after any revert so the snapshot broadcast that follows
	// this event already shows the lobby back in waiting.
	svc.obs.OnPlayerLeft(lobbyID, identity)
	return nil
}

func (svc *lobbyService) GetLobbyWithPlayers(ctx context.Context, lobbyID string) (*lobbystore.Lobby, []lobbystore.Player, error) {
	lb, err := svc.store.GetLobby(ctx, lobbyID)
	if err != nil {
		return nil, nil, err
	}
	players, err := svc.store.GetLobbyPlayers(ctx, lobbyID)
	if err != nil {
		return nil, nil, err
	}

	// Self-healing: a lobby persisted as starting with no live timer in
	// this process (restart, or the countdown originated elsewhere) gets
	// its timer rebuilt from the persisted seconds. Operating assumption:
	// exactly one process arms timers for a given lobby.
	if lb.Status == lobbystore.StatusStarting && !svc.sched.Active(lobbyID) {
		secs := svc.countdownSeconds
		if lb.CountdownSeconds != nil {
			secs = *lb.CountdownSeconds
		}
		zap.L().Info("lobby.countdown_rearmed",
			zap.String("lobby_id", lobbyID), zap.Int("seconds", secs))
		svc.armCountdown(lobbyID, secs)
	}
	return lb, players, nil
}

func (svc *lobbyService) ListLobbies(ctx context.Context, status string, limit, offset int) ([]lobbystore.Lobby, error) {
	return svc.store.ListLobbies(ctx, status, limit, offset)
}

func (svc *lobbyService) startCountdown(ctx context.Context, lobbyID string) error {
	// Never two timers for one lobby: clear any leftover handle first.
	svc.sched.Cancel(lobbyID)

	secs := svc.countdownSeconds
	if err := svc.store.UpdateLobbyStatus(ctx, lobbyID, lobbystore.StatusStarting, &secs); err != nil {
		return err
	}
	svc.armCountdown(lobbyID, secs)
	return nil
}

func (svc *lobbyService) armCountdown(lobbyID string, fromSeconds int) {
	remaining := fromSeconds
	svc.sched.Arm(svc.ctx, lobbyID, time.Second, func(tctx context.Context) {
		svc.tick(tctx, lobbyID, &remaining)
	})
}

func (svc *lobbyService) cancelCountdown(ctx context.Context, lobbyID string) {
	svc.sched.Cancel(lobbyID)
	if err := svc.store.UpdateLobbyStatus(ctx, lobbyID, lobbystore.StatusWaiting, nil); err != nil {
		zap.L().Error("lobby.countdown_revert_failed",
			zap.String("lobby_id", lobbyID), zap.Error(err))
	}
}

// tick runs once per second while a lobby is starting. A store failure
// aborts this tick's side effects only; the timer keeps scheduling and
// the next tick retries against fresh state.
func (svc *lobbyService) tick(ctx context.Context, lobbyID string, remaining *int) {
	// A stray timer (re-armed through the self-healing read while the
	// game-start flip was in flight) must find out it lost and tear
	// itself down, never touch a lobby that left starting.
	lb, err := svc.store.GetLobby(ctx, lobbyID)
	if err != nil {
		if errors.Is(err, lobbystore.ErrLobbyNotFound) {
			svc.sched.Cancel(lobbyID)
			return
		}
		zap.L().Warn("lobby.tick_read_failed", zap.String("lobby_id", lobbyID), zap.Error(err))
		return
	}
	if lb.Status != lobbystore.StatusStarting {
		svc.sched.Cancel(lobbyID)
		return
	}

	players, err := svc.store.GetLobbyPlayers(ctx, lobbyID)
	if err != nil {
		zap.L().Warn("lobby.tick_read_failed", zap.String("lobby_id", lobbyID), zap.Error(err))
		return
	}
	if len(players) < svc.minPlayers {
		svc.cancelCountdown(ctx, lobbyID)
		return
	}

	next := *remaining - 1
	if next <= 0 {
		// Cancel before the flip: a failed status write must not leave a
		// ticking timer behind.
		svc.sched.Cancel(lobbyID)
		flipped, err := svc.store.ActivateLobby(ctx, lobbyID)
		if err != nil {
			zap.L().Error("lobby.game_start_persist_failed",
				zap.String("lobby_id", lobbyID), zap.Error(err))
			return
		}
		if !flipped {
			return // a racing timer already started the game
		}
		svc.obs.OnGameStart(lobbyID)
		return
	}

	if err := svc.store.UpdateLobbyStatus(ctx, lobbyID, lobbystore.StatusStarting, &next); err != nil {
		zap.L().Warn("lobby.tick_persist_failed", zap.String("lobby_id", lobbyID), zap.Error(err))
		return
	}
	*remaining = next
	svc.obs.OnCountdownUpdate(lobbyID, next)
}
