package lobbystore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusStarting  Status = "starting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

var (
	ErrLobbyNotFound = errors.New("lobby not found")
	ErrLobbyFull     = errors.New("lobby full")
)

type Lobby struct {
	ID               string     `json:"id"`
	BetAmount        float64    `json:"bet_amount"`
	Status           Status     `json:"status"     example:"waiting"`
	MaxPlayers       int        `json:"max_players"`
	CountdownSeconds *int       `json:"countdown_seconds,omitempty"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

type Player struct {
	Identity string    `json:"identity"`
	JoinedAt time.Time `json:"joined_at"`
}

// Store is the narrow durable surface the lobby engine consumes. The
// persisted row (status + countdown_seconds + version) is the only
// source of truth usable for recovery; everything else in the engine is
// process-local.
type Store interface {
	CreateLobby(ctx context.Context, betAmount float64, maxPlayers int) (*Lobby, error)
	GetLobby(ctx context.Context, id string) (*Lobby, error)
	GetLobbyPlayers(ctx context.Context, id string) ([]Player, error)
	JoinLobby(ctx context.Context, id, identity string) error
	LeaveLobby(ctx context.Context, id, identity string) error
	UpdateLobbyStatus(ctx context.Context, id string, status Status, countdownSeconds *int) error
	ActivateLobby(ctx context.Context, id string) (bool, error)
	ListLobbies(ctx context.Context, status string, limit, offset int) ([]Lobby, error)
}

type pgStore struct {
	db *sql.DB
}

func New(db *sql.DB) Store { return &pgStore{db: db} }

func (s *pgStore) CreateLobby(ctx context.Context, betAmount float64, maxPlayers int) (*Lobby, error) {
	id := uuid.NewString()
	const q = `
	  INSERT INTO lobbies (id, bet_amount, status, max_players, version, created_at)
	       VALUES ($1, $2, 'waiting', $3, 1, now())
	    RETURNING created_at`

	var createdAt time.Time
	if err := s.db.QueryRowContext(ctx, q, id, betAmount, maxPlayers).Scan(&createdAt); err != nil {
		return nil, err
	}
	return &Lobby{
		ID:         id,
		BetAmount:  betAmount,
		Status:     StatusWaiting,
		MaxPlayers: maxPlayers,
		Version:    1,
		CreatedAt:  createdAt,
	}, nil
}

func (s *pgStore) GetLobby(ctx context.Context, id string) (*Lobby, error) {
	const q = `SELECT id, bet_amount, status, max_players, countdown_seconds,
	                  version, created_at, started_at, completed_at
	             FROM lobbies WHERE id = $1`

	lb := &Lobby{}
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&lb.ID, &lb.BetAmount, &lb.Status, &lb.MaxPlayers, &lb.CountdownSeconds,
		&lb.Version, &lb.CreatedAt, &lb.StartedAt, &lb.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLobbyNotFound
		}
		return nil, err
	}
	return lb, nil
}

func (s *pgStore) GetLobbyPlayers(ctx context.Context, id string) ([]Player, error) {
	const q = `SELECT identity, joined_at
	             FROM lobby_players
	            WHERE lobby_id = $1
	         ORDER BY joined_at`

	rows, err := s.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	players := []Player{}
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.Identity, &p.JoinedAt); err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// JoinLobby is idempotent on a duplicate (lobby, identity) pair. The
// lobby row is locked first so the capacity check and the insert are
// one atomic step: two joins racing for the last slot serialize here
// and the loser gets ErrLobbyFull. The version bump keeps snapshot
// consumers able to order membership changes.
func (s *pgStore) JoinLobby(ctx context.Context, id, identity string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const lock = `SELECT max_players FROM lobbies WHERE id = $1 FOR UPDATE`
	var maxPlayers int
	if err := tx.QueryRowContext(ctx, lock, id).Scan(&maxPlayers); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrLobbyNotFound
		}
		return err
	}

	const ins = `
	  INSERT INTO lobby_players (lobby_id, identity, joined_at)
	       VALUES ($1, $2, now())
	  ON CONFLICT (lobby_id, identity) DO NOTHING`
	res, err := tx.ExecContext(ctx, ins, id, identity)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already a member: nothing changed, keep the version as is.
		return tx.Commit()
	}

	const count = `SELECT count(*) FROM lobby_players WHERE lobby_id = $1`
	var members int
	if err := tx.QueryRowContext(ctx, count, id).Scan(&members); err != nil {
		return err
	}
	if members > maxPlayers {
		return ErrLobbyFull // rollback removes the insert
	}

	const bump = `UPDATE lobbies SET version = version + 1 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, bump, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgStore) LeaveLobby(ctx context.Context, id, identity string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const del = `DELETE FROM lobby_players WHERE lobby_id = $1 AND identity = $2`
	if _, err := tx.ExecContext(ctx, del, id, identity); err != nil {
		return err
	}

	const bump = `UPDATE lobbies SET version = version + 1 WHERE id = $1`
	res, err := tx.ExecContext(ctx, bump, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLobbyNotFound
	}
	return tx.Commit()
}

func (s *pgStore) UpdateLobbyStatus(ctx context.Context, id string, status Status, countdownSeconds *int) error {
	const q = `
	  UPDATE lobbies
	     SET status            = $2,
	         countdown_seconds = $3,
	         version           = version + 1,
	         started_at        = CASE WHEN $2 = 'active'    THEN now() ELSE started_at   END,
	         completed_at      = CASE WHEN $2 = 'completed' THEN now() ELSE completed_at END
	   WHERE id = $1`

	res, err := s.db.ExecContext(ctx, q, id, status, countdownSeconds)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLobbyNotFound
	}
	return nil
}

// ActivateLobby flips starting -> active, but only when the lobby is
// still starting, so racing countdown timers cannot start one game
// twice. Reports whether this caller performed the flip.
func (s *pgStore) ActivateLobby(ctx context.Context, id string) (bool, error) {
	const q = `
	  UPDATE lobbies
	     SET status            = 'active',
	         countdown_seconds = NULL,
	         version           = version + 1,
	         started_at        = now()
	   WHERE id = $1 AND status = 'starting'`

	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *pgStore) ListLobbies(ctx context.Context, status string, limit, offset int) ([]Lobby, error) {
	const base = `SELECT id, bet_amount, status, max_players, countdown_seconds,
	                     version, created_at, started_at, completed_at
	                FROM lobbies`

	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = s.db.QueryContext(ctx,
			base+` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			status, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx,
			base+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Lobby{}
	for rows.Next() {
		var lb Lobby
		if err := rows.Scan(
			&lb.ID, &lb.BetAmount, &lb.Status, &lb.MaxPlayers, &lb.CountdownSeconds,
			&lb.Version, &lb.CreatedAt, &lb.StartedAt, &lb.CompletedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, lb)
	}
	return out, rows.Err()
}
