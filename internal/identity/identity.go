package identity

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const sessionKeyPrefix = "sess:"

var ErrInvalidCredential = errors.New("invalid credential")

// Validator checks the credential presented at a connection handshake and
// resolves it to an identity. The wallet-signature flow that mints the
// credential is owned by the auth service, not this engine.
type Validator interface {
	Validate(ctx context.Context, credential string) (string, error)
}

type redisValidator struct {
	rdc *redis.Client
}

// NewRedisValidator resolves credentials against the "sess:<token>"
// entries the auth service writes on login.
func NewRedisValidator(rdc *redis.Client) Validator {
	return &redisValidator{rdc: rdc}
}

func (v *redisValidator) Validate(ctx context.Context, credential string) (string, error) {
	if credential == "" {
		return "", ErrInvalidCredential
	}
	id, err := v.rdc.Get(ctx, sessionKeyPrefix+credential).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrInvalidCredential
		}
		zap.L().Error("identity.session_lookup", zap.Error(err))
		return "", err
	}
	if id == "" {
		return "", ErrInvalidCredential
	}
	return id, nil
}
