package background

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"driver-service/infra"
	"driver-service/metrics"
	"driver-service/model"

	"github.com/rs/zerolog"
)

const (
	MQTTHeartbeatTopic = "drivers/+/heartbeat"
	MQTTLocationTopic  = "drivers/+/location"

	mqttHandleTimeout = 5 * time.Second
)

// MQTTSubscriber MQTT 訂閱
type MQTTSubscriber interface {
	Subscribe(topic string, qos byte, handler infra.MQTTHandler)
	Unsubscribe()
}

// LivePresenceUpdater 心跳與位置更新
type LivePresenceUpdater interface {
	RefreshHeartbeat(ctx context.Context, driverID string, source metrics.OperationSource) error
	UpdateLiveLocation(ctx context.Context, driverID string, location model.GeoPoint, source metrics.OperationSource) error
}

// ParseDriverTopic 解析 drivers/{id}/{kind}
func ParseDriverTopic(topic string) (driverID, kind string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "drivers" || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// MQTTHeartbeatSubscriber 接收車機透過 MQTT 上報的心跳與位置
type MQTTHeartbeatSubscriber struct {
	logger   zerolog.Logger
	client   MQTTSubscriber
	presence LivePresenceUpdater
}

func NewMQTTHeartbeatSubscriber(logger zerolog.Logger, client MQTTSubscriber, presence LivePresenceUpdater) *MQTTHeartbeatSubscriber {
	return &MQTTHeartbeatSubscriber{
		logger:   logger.With().Str("module", "mqtt_heartbeat").Logger(),
		client:   client,
		presence: presence,
	}
}

func (s *MQTTHeartbeatSubscriber) Start(ctx context.Context) {
	handler := func(topic string, payload []byte) {
		hctx, cancel := context.WithTimeout(ctx, mqttHandleTimeout)
		defer cancel()
		s.HandleMessage(hctx, topic, payload)
	}
	s.client.Subscribe(MQTTHeartbeatTopic, 0, handler)
	s.client.Subscribe(MQTTLocationTopic, 0, handler)
	s.logger.Info().Msg("MQTT 心跳訂閱已啟動")

	<-ctx.Done()
	s.client.Unsubscribe()
	s.logger.Info().Msg("MQTT 心跳訂閱已停止")
}

// HandleMessage 處理單則上報
func (s *MQTTHeartbeatSubscriber) HandleMessage(ctx context.Context, topic string, payload []byte) {
	driverID, kind, ok := ParseDriverTopic(topic)
	if !ok {
		s.logger.Debug().Str("topic", topic).Msg("忽略無法解析的主題")
		return
	}

	var err error
	switch kind {
	case "heartbeat":
		err = s.presence.RefreshHeartbeat(ctx, driverID, metrics.SourceMQTT)
	case "location":
		var loc model.GeoPoint
		if err = json.Unmarshal(payload, &loc); err != nil {
			s.logger.Warn().Err(err).Str("driver_id", driverID).Msg("位置格式錯誤")
			return
		}
		err = s.presence.UpdateLiveLocation(ctx, driverID, loc, metrics.SourceMQTT)
	default:
		return
	}
	if err != nil {
		s.logger.Debug().Err(err).
			Str("driver_id", driverID).
			Str("kind", kind).
			Msg("MQTT 上報未套用")
	}
}
