package interfaces

import (
	"context"
	"time"

	"driver-service/model"
)

// PresenceStore 在線狀態暫存，以心跳 TTL 判斷存活
type PresenceStore interface {
	// Create 僅在該司機沒有在線記錄時建立，回傳是否建立成功
	Create(ctx context.Context, details *model.OnlineDriverDetails, ttl time.Duration) (bool, error)
	// Get 不存在時回傳 nil, nil
	Get(ctx context.Context, driverID string) (*model.OnlineDriverDetails, error)
	// Refresh 延長心跳，不變動 session 起點
	Refresh(ctx context.Context, driverID string, at time.Time, ttl time.Duration) (bool, error)
	UpdateLocation(ctx context.Context, driverID string, location model.GeoPoint, at time.Time, ttl time.Duration) (bool, error)
	// Take 原子地取出並刪除在線記錄與心跳，不存在時回傳 nil, nil
	Take(ctx context.Context, driverID string) (*model.OnlineDriverDetails, error)
	// TakeExpired 僅在心跳已不存在時原子地取出並刪除在線記錄
	TakeExpired(ctx context.Context, driverID string) (*model.OnlineDriverDetails, error)
	Remove(ctx context.Context, driverID string) error
	IsAlive(ctx context.Context, driverID string) (bool, error)
	ListDriverIDs(ctx context.Context) ([]string, error)
}
