package infra

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ExpiredKeyChannel key 過期事件頻道
func ExpiredKeyChannel(db int) string {
	return fmt.Sprintf("__keyevent@%d__:expired", db)
}

// KeyspaceExpirySubscription 訂閱 Redis key 過期事件
//
// PubSub 使用獨立連線，斷線時 go-redis 會自動重連並重新訂閱；
// 斷線期間的過期事件不會補送。
type KeyspaceExpirySubscription struct {
	client *redis.Client
	db     int
	logger zerolog.Logger
}

func NewKeyspaceExpirySubscription(r *Redis, logger zerolog.Logger) *KeyspaceExpirySubscription {
	return &KeyspaceExpirySubscription{
		client: r.Client,
		db:     r.DB,
		logger: logger.With().Str("module", "redis_keyspace").Logger(),
	}
}

// Subscribe 開始訂閱，回傳過期的 key 名稱，ctx 結束時關閉
func (k *KeyspaceExpirySubscription) Subscribe(ctx context.Context) (<-chan string, error) {
	channel := ExpiredKeyChannel(k.db)
	pubsub := k.client.Subscribe(ctx, channel)

	// 確認訂閱成功
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("訂閱 %s 失敗: %w", channel, err)
	}

	k.logger.Info().Str("channel", channel).Msg("已訂閱 key 過期事件")

	out := make(chan string, 256)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				k.logger.Info().Str("channel", channel).Msg("停止訂閱 key 過期事件")
				return
			case msg, ok := <-msgs:
				if !ok {
					k.logger.Warn().Str("channel", channel).Msg("key 過期事件頻道已關閉")
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
