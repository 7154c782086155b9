package model

import "time"

const (
	// DocumentExpiryRoutingKey 文件到期通知的 routing key
	DocumentExpiryRoutingKey = "driver.document.expiry"
	// DriverServiceName 事件來源服務名稱
	DriverServiceName = "driver-service"
)

// ExpiringDocument 即將到期（或已到期）的文件
type ExpiringDocument struct {
	DocumentType DocumentType `json:"documentType"`
	ExpiryDate   time.Time    `json:"expiryDate"`
	DaysLeft     int          `json:"daysLeft"`
}

// DocumentExpiryNotification 文件到期通知事件，不落地
type DocumentExpiryNotification struct {
	MessageID   string             `json:"messageId"`
	Service     string             `json:"service"`
	ReceiverID  string             `json:"receiverId"`
	Documents   []ExpiringDocument `json:"documents"`
	GeneratedAt time.Time          `json:"generatedAt"`
	Type        string             `json:"type"`
}

// GetMessageID 發佈時作為 AMQP MessageId
func (n *DocumentExpiryNotification) GetMessageID() string {
	return n.MessageID
}

// DocumentTypes 通知中包含的文件類型
func (n *DocumentExpiryNotification) DocumentTypes() []DocumentType {
	types := make([]DocumentType, 0, len(n.Documents))
	for _, d := range n.Documents {
		types = append(types, d.DocumentType)
	}
	return types
}
