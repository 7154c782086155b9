package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"driver-service/auth"
	"driver-service/infra"
	"driver-service/metrics"
	"driver-service/middleware"
	"driver-service/model"
	"driver-service/service"

	websocketModels "driver-service/data-models/websocket"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocketController 司機心跳與即時位置的 WebSocket 連線
type WebSocketController struct {
	logger        zerolog.Logger
	presence      *service.PresenceService
	drivers       middleware.DriverLookup
	jwtSecretKey  string
	config        *websocketModels.ConnectionConfig
	upgrader      websocket.Upgrader
	connections   map[string]*websocketModels.Connection
	connectionsMu sync.RWMutex
}

func NewWebSocketController(logger zerolog.Logger, presence *service.PresenceService, drivers middleware.DriverLookup, jwtSecretKey string) *WebSocketController {
	config := websocketModels.DefaultConnectionConfig()
	return &WebSocketController{
		logger:       logger.With().Str("module", "websocket_controller").Logger(),
		presence:     presence,
		drivers:      drivers,
		jwtSecretKey: jwtSecretKey,
		config:       config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允許跨域
			},
		},
		connections: make(map[string]*websocketModels.Connection),
	}
}

func (wsc *WebSocketController) GetWebSocketHandler() http.HandlerFunc {
	return wsc.handleWebSocket
}

// ConnectionCount 目前連線數
func (wsc *WebSocketController) ConnectionCount() int {
	wsc.connectionsMu.RLock()
	defer wsc.connectionsMu.RUnlock()
	return len(wsc.connections)
}

func (wsc *WebSocketController) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		wsc.logger.Warn().Msg("缺少token參數")
		http.Error(w, "缺少token參數", http.StatusUnauthorized)
		return
	}

	driver, err := wsc.validateToken(r.Context(), token)
	if err != nil {
		wsc.logger.Warn().Err(err).Msg("token驗證失敗")
		http.Error(w, fmt.Sprintf("token驗證失敗: %v", err), http.StatusUnauthorized)
		return
	}

	conn, err := wsc.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsc.logger.Error().Err(err).Msg("WebSocket升級失敗")
		return
	}

	connection := &websocketModels.Connection{
		DriverID:     driver.HexID(),
		Conn:         conn,
		LastPing:     time.Now(),
		SendChannel:  make(chan []byte, wsc.config.SendChannelSize),
		CloseChannel: make(chan struct{}),
	}

	wsc.registerConnection(connection)

	go wsc.handleSender(connection)
	go wsc.handleReader(connection)

	<-connection.CloseChannel
	wsc.unregisterConnection(connection)
}

// validateToken 與 REST API 相同的司機 token 驗證
func (wsc *WebSocketController) validateToken(ctx context.Context, tokenString string) (*model.Driver, error) {
	claims, err := auth.ValidateJWTToken(tokenString, wsc.jwtSecretKey)
	if err != nil {
		return nil, err
	}
	driverID, err := auth.ExtractSubject(claims, model.TokenTypeDriver)
	if err != nil {
		return nil, err
	}
	driver, err := wsc.drivers.FindByID(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("driver not found: %w", err)
	}
	return driver, nil
}

// registerConnection 同一司機重複連線時關閉舊連線
func (wsc *WebSocketController) registerConnection(conn *websocketModels.Connection) {
	wsc.connectionsMu.Lock()
	if existing, ok := wsc.connections[conn.DriverID]; ok {
		wsc.logger.Info().
			Str("driver_id", conn.DriverID).
			Msg("司機重複連線，關閉舊的連線")
		delete(wsc.connections, conn.DriverID)
		existing.Close()
		existing.Conn.Close()
	}
	wsc.connections[conn.DriverID] = conn
	count := len(wsc.connections)
	wsc.connectionsMu.Unlock()

	middleware.SetWebSocketConnections(count)
}

func (wsc *WebSocketController) unregisterConnection(conn *websocketModels.Connection) {
	wsc.connectionsMu.Lock()
	// 只移除自己，避免舊連線的清理移除新連線
	if current, ok := wsc.connections[conn.DriverID]; ok && current == conn {
		delete(wsc.connections, conn.DriverID)
	}
	count := len(wsc.connections)
	wsc.connectionsMu.Unlock()

	middleware.SetWebSocketConnections(count)
}

func (wsc *WebSocketController) handleReader(conn *websocketModels.Connection) {
	defer func() {
		if r := recover(); r != nil {
			wsc.logger.Error().Interface("panic", r).Str("driver_id", conn.DriverID).Msg("handleReader panic")
		}
		conn.Close()
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(wsc.config.ReadLimit)
	conn.Conn.SetReadDeadline(time.Now().Add(wsc.config.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(wsc.config.ReadTimeout))
		return nil
	})

	for {
		_, messageBytes, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				wsc.logger.Warn().Err(err).Str("driver_id", conn.DriverID).Msg("WebSocket 讀取失敗")
			}
			return
		}
		conn.Conn.SetReadDeadline(time.Now().Add(wsc.config.ReadTimeout))

		var msg websocketModels.WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			middleware.RecordWebSocketMessage("unknown", "invalid")
			wsc.sendError(conn, websocketModels.ErrorTypeInvalidMessage, "無法解析訊息")
			continue
		}

		wsc.handleMessage(conn, msg)
	}
}

func (wsc *WebSocketController) handleSender(conn *websocketModels.Connection) {
	pingTicker := time.NewTicker(wsc.config.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case message := <-conn.SendChannel:
			conn.Conn.SetWriteDeadline(time.Now().Add(wsc.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				wsc.logger.Warn().Err(err).Str("driver_id", conn.DriverID).Msg("發送訊息失敗")
				return
			}
		case <-pingTicker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(wsc.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				wsc.logger.Warn().Err(err).Str("driver_id", conn.DriverID).Msg("發送 ping 失敗")
				return
			}
		case <-conn.CloseChannel:
			return
		}
	}
}

func (wsc *WebSocketController) handleMessage(conn *websocketModels.Connection, msg websocketModels.WSMessage) {
	switch msg.Type {
	case websocketModels.MessageTypeHeartbeat:
		wsc.handleHeartbeat(conn)
	case websocketModels.MessageTypeLocationUpdate:
		wsc.handleLocationUpdate(conn, msg.Data)
	default:
		middleware.RecordWebSocketMessage("unknown", "invalid")
		wsc.logger.Warn().
			Str("driver_id", conn.DriverID).
			Str("message_type", msg.Type).
			Msg("未知的 WebSocket 消息類型")
		wsc.sendError(conn, websocketModels.ErrorTypeInvalidMessage, "未知的訊息類型")
	}
}

func (wsc *WebSocketController) handleHeartbeat(conn *websocketModels.Connection) {
	ctx, span := infra.StartSpan(context.Background(), "websocket_heartbeat",
		infra.AttrOperation("heartbeat"),
		infra.AttrDriverID(conn.DriverID),
	)
	defer span.End()

	conn.LastPing = time.Now()
	if err := wsc.presence.RefreshHeartbeat(ctx, conn.DriverID, metrics.SourceWebSocket); err != nil {
		middleware.RecordWebSocketMessage(websocketModels.MessageTypeHeartbeat, "error")
		infra.RecordError(span, err, "WebSocket心跳失敗")
		wsc.sendServiceError(conn, err)
		return
	}

	middleware.RecordWebSocketMessage(websocketModels.MessageTypeHeartbeat, "success")
	infra.MarkSuccess(span)
	wsc.send(conn, websocketModels.MessageTypeHeartbeatAck, websocketModels.HeartbeatAck{
		Timestamp: conn.LastPing.UnixMilli(),
		TTL:       int(wsc.presence.HeartbeatTTL().Seconds()),
	})
}

func (wsc *WebSocketController) handleLocationUpdate(conn *websocketModels.Connection, data json.RawMessage) {
	var req websocketModels.LocationUpdateRequest
	if len(data) == 0 || json.Unmarshal(data, &req) != nil {
		middleware.RecordWebSocketMessage(websocketModels.MessageTypeLocationUpdate, "invalid")
		wsc.sendError(conn, websocketModels.ErrorTypeInvalidMessage, "位置資料格式錯誤")
		return
	}

	ctx, span := infra.StartSpan(context.Background(), "websocket_location_update",
		infra.AttrOperation("location_update"),
		infra.AttrDriverID(conn.DriverID),
	)
	defer span.End()

	location := model.GeoPoint{Lat: req.Lat, Lng: req.Lng}
	if err := wsc.presence.UpdateLiveLocation(ctx, conn.DriverID, location, metrics.SourceWebSocket); err != nil {
		middleware.RecordWebSocketMessage(websocketModels.MessageTypeLocationUpdate, "error")
		infra.RecordError(span, err, "WebSocket位置更新失敗")
		wsc.sendServiceError(conn, err)
		return
	}

	middleware.RecordWebSocketMessage(websocketModels.MessageTypeLocationUpdate, "success")
	infra.MarkSuccess(span)
	wsc.send(conn, websocketModels.MessageTypeLocationUpdateResponse, websocketModels.LocationUpdateResponse{
		Success: true,
		Message: "司機位置已更新",
	})
}

func (wsc *WebSocketController) sendServiceError(conn *websocketModels.Connection, err error) {
	svcErr := service.AsServiceError(err)
	switch svcErr.Kind {
	case service.ErrorKindNotFound:
		wsc.sendError(conn, websocketModels.ErrorTypeNotOnline, svcErr.Message)
	case service.ErrorKindBadRequest:
		wsc.sendError(conn, websocketModels.ErrorTypeInvalidMessage, svcErr.Message)
	default:
		wsc.logger.Error().Err(svcErr.Cause).Str("driver_id", conn.DriverID).Msg("WebSocket 處理失敗")
		wsc.sendError(conn, websocketModels.ErrorTypeServiceError, svcErr.Message)
	}
}

func (wsc *WebSocketController) sendError(conn *websocketModels.Connection, code websocketModels.ErrorType, message string) {
	wsc.send(conn, websocketModels.MessageTypeError, websocketModels.ErrorMessage{Code: code, Message: message})
}

// send 放入發送頻道，頻道已滿時丟棄
func (wsc *WebSocketController) send(conn *websocketModels.Connection, messageType string, data interface{}) {
	payload, err := json.Marshal(websocketModels.OutgoingMessage{Type: messageType, Data: data})
	if err != nil {
		wsc.logger.Error().Err(err).Msg("序列化回應消息失敗")
		return
	}

	select {
	case conn.SendChannel <- payload:
	default:
		wsc.logger.Warn().Str("driver_id", conn.DriverID).Msg("發送回應失敗：司機的發送頻道已滿")
	}
}
