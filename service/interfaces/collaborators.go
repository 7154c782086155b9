package interfaces

import (
	"context"
	"time"
)

// EventPublisher 事件發佈
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload interface{}) error
}

// OnboardingChecker 向金流服務查詢司機收款帳戶開通狀態
type OnboardingChecker interface {
	CheckOnboardingStatus(ctx context.Context, driverID string) (bool, error)
}

// SessionRecorder 將一段上線時間寫入每日統計
type SessionRecorder interface {
	AddSessionMinutes(ctx context.Context, driverID string, start, end time.Time) (int64, error)
}
