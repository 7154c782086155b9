package interfaces

import (
	"context"
	"errors"
	"time"

	"driver-service/model"
)

// ErrDriverNotFound 找不到司機
var ErrDriverNotFound = errors.New("driver not found")

// DriverCursor 逐筆讀取的查詢游標，*mongo.Cursor 即滿足此接口
type DriverCursor interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Err() error
	Close(ctx context.Context) error
}

// DriverRepository 司機主檔存取
type DriverRepository interface {
	FindByID(ctx context.Context, driverID string) (*model.Driver, error)
	SetPresenceStatus(ctx context.Context, driverID string, online bool) error
	SetOnboardingComplete(ctx context.Context, driverID string, complete bool) error
	IncrementCounters(ctx context.Context, driverID string, inc model.DriverCounterIncrement) error
	// FindExpiringDocuments 任一文件到期日 <= threshold，且從未通知或上次通知 <= notifiedBefore
	FindExpiringDocuments(ctx context.Context, threshold, notifiedBefore time.Time) (DriverCursor, error)
	MarkExpiryNotified(ctx context.Context, driverID string, at time.Time, docs []model.DocumentType) error
	CountOnline(ctx context.Context) (int64, error)
}

// DailyStatsRepository 每日統計存取
type DailyStatsRepository interface {
	// ApplyIncrement 對 (driverID, day) 原子累加，不存在時建立
	ApplyIncrement(ctx context.Context, driverID string, day time.Time, inc model.StatsIncrement) error
	// FindByDay 不存在時回傳 nil, nil
	FindByDay(ctx context.Context, driverID string, day time.Time) (*model.DriverDailyStats, error)
	// FindRange 回傳 [from, to) 之間的記錄，依日期排序
	FindRange(ctx context.Context, driverID string, from, to time.Time) ([]model.DriverDailyStats, error)
}
