package infra

import (
	"encoding/json"
	"testing"
	"time"

	"driver-service/model"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPublishing_MessageID(t *testing.T) {
	now := time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)

	t.Run("沿用事件自帶的ID", func(t *testing.T) {
		n := &model.DocumentExpiryNotification{MessageID: "msg-1", ReceiverID: "d1"}
		msg, err := newPublishing(n, now)
		require.NoError(t, err)

		assert.Equal(t, "msg-1", msg.MessageId)
		assert.Equal(t, "application/json", msg.ContentType)
		assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
		assert.True(t, msg.Timestamp.Equal(now))

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(msg.Body, &body))
		assert.Equal(t, "msg-1", body["messageId"])
	})

	t.Run("沒有ID時產生 uuid", func(t *testing.T) {
		msg, err := newPublishing(map[string]string{"type": "ping"}, now)
		require.NoError(t, err)
		_, err = uuid.Parse(msg.MessageId)
		assert.NoError(t, err)

		msg, err = newPublishing(&model.DocumentExpiryNotification{}, now)
		require.NoError(t, err)
		assert.NotEmpty(t, msg.MessageId)
	})

	t.Run("無法序列化", func(t *testing.T) {
		_, err := newPublishing(make(chan int), now)
		assert.Error(t, err)
	})
}
