package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

const (
	reconnectInitialBackoff = 2 * time.Second
	reconnectMaxBackoff     = 60 * time.Second
)

// ErrRabbitMQClosed 連線已被主動關閉
var ErrRabbitMQClosed = errors.New("rabbitmq connection closed")

type RabbitMQConfig struct {
	URL string
}

// RabbitMQ 連線與發佈用 channel，斷線時自動重連並重新宣告拓撲
type RabbitMQ struct {
	mu         sync.RWMutex
	url        string
	logger     zerolog.Logger
	Connection *amqp.Connection
	Channel    *amqp.Channel
	closed     bool
	// reconnected 每次重連成功後關閉並換新，消費者據此重新訂閱
	reconnected chan struct{}
}

func NewRabbitMQ(config RabbitMQConfig, logger zerolog.Logger) (*RabbitMQ, error) {
	r := &RabbitMQ{
		url:         config.URL,
		logger:      logger.With().Str("module", "rabbitmq").Logger(),
		reconnected: make(chan struct{}),
	}
	if err := r.connect(); err != nil {
		return nil, err
	}

	r.logger.Info().Msg("Connected to RabbitMQ!")
	go r.watchConnection()
	return r, nil
}

func (r *RabbitMQ) connect() error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := DeclareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	r.mu.Lock()
	r.Connection = conn
	r.Channel = ch
	r.mu.Unlock()
	return nil
}

// DeclareTopology 宣告 exchange、隊列與綁定
func DeclareTopology(ch *amqp.Channel) error {
	for _, exchange := range GetAllExchangeNames() {
		err := ch.ExchangeDeclare(
			exchange.String(), // name
			"topic",           // kind
			true,              // durable
			false,             // auto-deleted
			false,             // internal
			false,             // no-wait
			nil,               // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	// 自動宣告所有隊列
	for _, queueName := range GetAllQueueNames() {
		_, err := ch.QueueDeclare(
			queueName.String(), // name
			true,               // durable
			false,              // delete when unused
			false,              // exclusive
			false,              // no-wait
			nil,                // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
		}
	}

	for _, b := range GetAllQueueBindings() {
		if err := ch.QueueBind(b.Queue.String(), b.RoutingKey, b.Exchange.String(), false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s: %w", b.Queue, b.Exchange, err)
		}
	}
	return nil
}

// watchConnection 監聽連線關閉並以指數退避重連
func (r *RabbitMQ) watchConnection() {
	for {
		r.mu.RLock()
		conn := r.Connection
		r.mu.RUnlock()

		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
		amqpErr, ok := <-notifyClose
		if !ok || amqpErr == nil {
			// 正常關閉
			return
		}
		if r.isClosed() {
			return
		}

		r.logger.Error().Str("reason", amqpErr.Reason).Int("code", amqpErr.Code).Msg("RabbitMQ 連線中斷，開始重連")

		backoff := reconnectInitialBackoff
		for {
			time.Sleep(backoff)
			if r.isClosed() {
				return
			}
			if err := r.connect(); err != nil {
				r.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("RabbitMQ 重連失敗")
				backoff *= 2
				if backoff > reconnectMaxBackoff {
					backoff = reconnectMaxBackoff
				}
				continue
			}
			break
		}

		r.mu.Lock()
		close(r.reconnected)
		r.reconnected = make(chan struct{})
		r.mu.Unlock()
		r.logger.Info().Msg("RabbitMQ 已重新連線")
	}
}

func (r *RabbitMQ) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Reconnected 下一次重連成功時關閉的 channel
func (r *RabbitMQ) Reconnected() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reconnected
}

// IsConnected 健康檢查
func (r *RabbitMQ) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.closed && r.Connection != nil && !r.Connection.IsClosed()
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	r.closed = true
	ch, conn := r.Channel, r.Connection
	r.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// MessageIdentified 自帶訊息ID的事件，發佈時沿用為 AMQP MessageId
type MessageIdentified interface {
	GetMessageID() string
}

// newPublishing 序列化成 JSON；事件沒有ID時產生新的 uuid
func newPublishing(payload interface{}, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	messageID := ""
	if m, ok := payload.(MessageIdentified); ok {
		messageID = m.GetMessageID()
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    now,
		Body:         body,
	}, nil
}

// Publish 以 JSON 發佈到 topic exchange
func (r *RabbitMQ) Publish(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := newPublishing(payload, time.Now())
	if err != nil {
		return err
	}

	// streadway channel 不保證並發安全，發佈時獨佔
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.Channel == nil {
		return ErrRabbitMQClosed
	}
	err = r.Channel.Publish(
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		msg)
	if err != nil {
		return fmt.Errorf("failed to publish message to %s/%s: %w", exchange, routingKey, err)
	}
	return nil
}

// Consume 在獨立 channel 上消費隊列，需手動 ack
func (r *RabbitMQ) Consume(queue QueueName, consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	r.mu.RLock()
	conn := r.Connection
	closed := r.closed
	r.mu.RUnlock()
	if closed || conn == nil {
		return nil, ErrRabbitMQClosed
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to set qos: %w", err)
		}
	}
	msgs, err := ch.Consume(
		queue.String(), // queue
		consumerTag,    // consumer
		false,          // auto-ack
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume queue %s: %w", queue, err)
	}
	return msgs, nil
}
