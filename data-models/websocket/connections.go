package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection 司機心跳連線
type Connection struct {
	DriverID     string          `json:"driver_id"`
	Conn         *websocket.Conn `json:"-"`
	LastPing     time.Time       `json:"last_ping"`
	SendChannel  chan []byte     `json:"-"`
	CloseChannel chan struct{}   `json:"-"`
	CloseOnce    sync.Once       `json:"-"`
}

// Close 確保關閉通道只執行一次
func (c *Connection) Close() {
	c.CloseOnce.Do(func() {
		close(c.CloseChannel)
	})
}

// ConnectionConfig WebSocket 連線設定
type ConnectionConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	ReadLimit       int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	SendChannelSize int
}

// DefaultConnectionConfig 預設連線設定
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		ReadLimit:       1024,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		PingInterval:    10 * time.Second,
		SendChannelSize: 64,
	}
}
