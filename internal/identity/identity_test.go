package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ResolvesSession(t *testing.T) {
	db, mock := redismock.NewClientMock()
	v := NewRedisValidator(db)

	mock.ExpectGet("sess:tok-1").SetVal("alice")

	ident, err := v.Validate(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", ident)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidate_UnknownToken(t *testing.T) {
	db, mock := redismock.NewClientMock()
	v := NewRedisValidator(db)

	mock.ExpectGet("sess:ghost").RedisNil()

	_, err := v.Validate(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestValidate_EmptyCredential(t *testing.T) {
	db, _ := redismock.NewClientMock()
	v := NewRedisValidator(db)

	_, err := v.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestValidate_EmptySessionValueRejected(t *testing.T) {
	db, mock := redismock.NewClientMock()
	v := NewRedisValidator(db)

	mock.ExpectGet("sess:tok-1").SetVal("")

	_, err := v.Validate(context.Background(), "tok-1")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestValidate_BackendErrorIsNotInvalidCredential(t *testing.T) {
	db, mock := redismock.NewClientMock()
	v := NewRedisValidator(db)

	boom := errors.New("redis down")
	mock.ExpectGet("sess:tok-1").SetErr(boom)

	_, err := v.Validate(context.Background(), "tok-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredential)
}
