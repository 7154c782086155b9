package background

import (
	"context"
	"time"

	"driver-service/infra"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

const (
	driverEventConsumerTag = "driver-service"
	driverEventPrefetch    = 20
)

// DeliverySource 可消費隊列的訊息來源
type DeliverySource interface {
	Consume(queue infra.QueueName, consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
	Reconnected() <-chan struct{}
}

// MessageHandler 處理單則訊息
type MessageHandler interface {
	HandleMessage(ctx context.Context, body []byte) error
}

// DriverEventConsumer 消費 driver_queue 的行程與收入事件
type DriverEventConsumer struct {
	logger  zerolog.Logger
	source  DeliverySource
	handler MessageHandler
	queue   infra.QueueName
}

func NewDriverEventConsumer(logger zerolog.Logger, source DeliverySource, handler MessageHandler) *DriverEventConsumer {
	return &DriverEventConsumer{
		logger:  logger.With().Str("module", "driver_event_consumer").Logger(),
		source:  source,
		handler: handler,
		queue:   infra.QueueNameDriver,
	}
}

// Start 阻塞直到 ctx 結束；連線重建後重新訂閱
func (c *DriverEventConsumer) Start(ctx context.Context) {
	for {
		reconnected := c.source.Reconnected()
		msgs, err := c.source.Consume(c.queue, driverEventConsumerTag, driverEventPrefetch)
		if err != nil {
			c.logger.Error().Err(err).Str("queue", c.queue.String()).Msg("無法消費隊列")
			select {
			case <-ctx.Done():
				return
			case <-reconnected:
			case <-time.After(resubscribeDelay):
			}
			continue
		}

		c.logger.Info().Str("queue", c.queue.String()).Msg("司機事件消費者已啟動")
		if done := c.drain(ctx, msgs); done {
			c.logger.Info().Msg("司機事件消費者已停止")
			return
		}

		c.logger.Warn().Msg("消費通道已關閉，等待重新連線")
		select {
		case <-ctx.Done():
			return
		case <-reconnected:
		case <-time.After(resubscribeDelay):
		}
	}
}

// drain 回傳 true 表示 ctx 已結束
func (c *DriverEventConsumer) drain(ctx context.Context, msgs <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case msg, ok := <-msgs:
			if !ok {
				return false
			}
			c.Process(ctx, msg.Body, msg.Acknowledger, msg.DeliveryTag)
		}
	}
}

// Process 處理成功則 ack，失敗則 nack 且不重新排隊
func (c *DriverEventConsumer) Process(ctx context.Context, body []byte, ack amqp.Acknowledger, tag uint64) {
	if err := c.handler.HandleMessage(ctx, body); err != nil {
		c.logger.Error().Err(err).
			Str("body", string(body)).
			Msg("司機事件處理失敗，丟棄訊息")
		if nackErr := ack.Nack(tag, false, false); nackErr != nil {
			c.logger.Error().Err(nackErr).Msg("nack 失敗")
		}
		return
	}
	if err := ack.Ack(tag, false); err != nil {
		c.logger.Error().Err(err).Msg("ack 失敗")
	}
}
