package websocket

import "encoding/json"

// WSMessage WebSocket 訊息
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// OutgoingMessage 伺服器送出的訊息
type OutgoingMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// HeartbeatAck 心跳回應
type HeartbeatAck struct {
	Timestamp int64 `json:"timestamp"`
	TTL       int   `json:"ttl_seconds"`
}

// LocationUpdateRequest 位置更新請求
type LocationUpdateRequest struct {
	Lat float64 `json:"lat" example:"25.0330" doc:"緯度"`
	Lng float64 `json:"lng" example:"121.5654" doc:"經度"`
}

// LocationUpdateResponse 位置更新回應
type LocationUpdateResponse struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message" example:"司機位置已更新"`
}

// ErrorMessage 錯誤回應
type ErrorMessage struct {
	Code    ErrorType `json:"code"`
	Message string    `json:"message"`
}
