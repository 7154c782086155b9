package websocket

// WebSocket 消息類型常量
const (
	// 請求類型
	MessageTypeHeartbeat      = "heartbeat"
	MessageTypeLocationUpdate = "location_update"

	// 回應類型
	MessageTypeHeartbeatAck           = "heartbeat_ack"
	MessageTypeLocationUpdateResponse = "location_update_response"
	MessageTypeError                  = "error"
)

// ErrorType WebSocket 錯誤類型
type ErrorType string

const (
	ErrorTypeInvalidMessage ErrorType = "invalid_message"
	ErrorTypeNotOnline      ErrorType = "not_online"
	ErrorTypeServiceError   ErrorType = "service_error"
)
