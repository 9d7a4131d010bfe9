package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gamelobbygo/internal/services/chat"
)

// SubscribeRedisChatEvents fans‑out chat messages coming from any
// instance to every local connection. Chat is global: delivery does not
// depend on room membership.
func SubscribeRedisChatEvents(ctx context.Context, rdb *redis.Client, hub *Hub) {
	pubsub := rdb.Subscribe(ctx, chat.ChatChannel)
	defer pubsub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			wrapped, err := json.Marshal(map[string]interface{}{
				"event": EvtChatMessage,
				"body":  json.RawMessage(m.Payload),
			})
			if err != nil {
				zap.L().Warn("ws.wrap_chat_failed", zap.Error(err))
				continue
			}
			hub.BroadcastAll(wrapped)
		}
	}
}
