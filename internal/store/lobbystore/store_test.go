package lobbystore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestCreateLobby(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO lobbies").
		WithArgs(sqlmock.AnyArg(), 2.5, 50).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	lb, err := s.CreateLobby(context.Background(), 2.5, 50)
	require.NoError(t, err)
	assert.NotEmpty(t, lb.ID)
	assert.Equal(t, StatusWaiting, lb.Status)
	assert.Equal(t, int64(1), lb.Version)
	assert.Nil(t, lb.CountdownSeconds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLobby_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM lobbies WHERE").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetLobby(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrLobbyNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinLobby_BumpsVersion(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT max_players FROM lobbies").
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows([]string{"max_players"}).AddRow(4))
	mock.ExpectExec("INSERT INTO lobby_players").
		WithArgs("l1", "wallet-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT count").
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec("UPDATE lobbies SET version").
		WithArgs("l1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.JoinLobby(context.Background(), "l1", "wallet-a"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinLobby_DuplicatePairIsIdempotent(t *testing.T) {
	s, mock := newMockStore(t)

	// ON CONFLICT DO NOTHING: zero rows inserted, join still succeeds
	// and leaves the version alone.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT max_players FROM lobbies").
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows([]string{"max_players"}).AddRow(4))
	mock.ExpectExec("INSERT INTO lobby_players").
		WithArgs("l1", "wallet-a").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, s.JoinLobby(context.Background(), "l1", "wallet-a"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinLobby_UnknownLobby(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT max_players FROM lobbies").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.JoinLobby(context.Background(), "ghost", "wallet-a")
	assert.ErrorIs(t, err, ErrLobbyNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinLobby_LastSlotRace(t *testing.T) {
	s, mock := newMockStore(t)

	// The row lock serializes concurrent joins; the loser sees the
	// member count already past the cap and its insert rolls back.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT max_players FROM lobbies").
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows([]string{"max_players"}).AddRow(2))
	mock.ExpectExec("INSERT INTO lobby_players").
		WithArgs("l1", "wallet-c").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT count").
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	err := s.JoinLobby(context.Background(), "l1", "wallet-c")
	assert.ErrorIs(t, err, ErrLobbyFull)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLobbyStatus(t *testing.T) {
	s, mock := newMockStore(t)

	secs := 30
	mock.ExpectExec("UPDATE lobbies").
		WithArgs("l1", StatusStarting, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpdateLobbyStatus(context.Background(), "l1", StatusStarting, &secs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLobbyStatus_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE lobbies").
		WithArgs("ghost", StatusActive, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateLobbyStatus(context.Background(), "ghost", StatusActive, nil)
	assert.ErrorIs(t, err, ErrLobbyNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateLobby_FlipsOnlyFromStarting(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE lobbies").
		WithArgs("l1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	flipped, err := s.ActivateLobby(context.Background(), "l1")
	require.NoError(t, err)
	assert.True(t, flipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateLobby_AlreadyActiveIsNoOp(t *testing.T) {
	s, mock := newMockStore(t)

	// The status guard matches zero rows once the lobby left starting.
	mock.ExpectExec("UPDATE lobbies").
		WithArgs("l1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	flipped, err := s.ActivateLobby(context.Background(), "l1")
	require.NoError(t, err)
	assert.False(t, flipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLobbyPlayers(t *testing.T) {
	s, mock := newMockStore(t)

	joined := time.Now()
	mock.ExpectQuery("SELECT identity, joined_at").
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows([]string{"identity", "joined_at"}).
			AddRow("wallet-a", joined).
			AddRow("wallet-b", joined.Add(time.Second)))

	players, err := s.GetLobbyPlayers(context.Background(), "l1")
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.Equal(t, "wallet-a", players[0].Identity)
	assert.Equal(t, "wallet-b", players[1].Identity)
	assert.NoError(t, mock.ExpectationsWereMet())
}
