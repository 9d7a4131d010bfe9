package chat

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	chatStream   = "chat_stream"
	maxStreamLen = 1000
	// ChatChannel carries every published chat message; the websocket
	// fan-out subscribes here so all instances deliver the same feed.
	ChatChannel = "chat:events"
)

type Message struct {
	From   string `json:"from"`
	Text   string `json:"text"`
	SentAt int64  `json:"sent_at"`
}

type IChatService interface {
	Publish(ctx context.Context, from, text string) error
	History(ctx context.Context, limit int64) ([]Message, error)
}

type chatService struct {
	rdc   *redis.Client
	clock clockwork.Clock
}

func NewChatService(rdc *redis.Client) IChatService {
	return &chatService{rdc: rdc, clock: clockwork.NewRealClock()}
}

// Publish appends the message to the history stream and pushes it on the
// fan-out channel. Persistence is best-effort: a failed append is logged
// and the broadcast still goes out.
func (svc *chatService) Publish(ctx context.Context, from, text string) error {
	msg := Message{From: from, Text: text, SentAt: svc.clock.Now().Unix()}

	err := svc.rdc.XAdd(ctx, &redis.XAddArgs{
		Stream: chatStream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{
			"from":    msg.From,
			"text":    msg.Text,
			"sent_at": msg.SentAt,
		},
	}).Err()
	if err != nil {
		zap.L().Warn("chat.persist_failed", zap.Error(err))
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return svc.rdc.Publish(ctx, ChatChannel, payload).Err()
}

func (svc *chatService) History(ctx context.Context, limit int64) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}
	entries, err := svc.rdc.XRevRangeN(ctx, chatStream, "+", "-", limit).Result()
	if err != nil {
		return nil, err
	}

	// XRevRange returns newest first; history is served oldest first.
	out := make([]Message, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		v := entries[i].Values
		m := Message{}
		if s, ok := v["from"].(string); ok {
			m.From = s
		}
		if s, ok := v["text"].(string); ok {
			m.Text = s
		}
		if s, ok := v["sent_at"].(string); ok {
			m.SentAt, _ = strconv.ParseInt(s, 10, 64)
		}
		out = append(out, m)
	}
	return out, nil
}
