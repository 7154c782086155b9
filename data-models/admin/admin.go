package admin

import (
	"time"

	"driver-service/model"
)

// RunDocumentExpiryResponse 手動執行文件到期掃描結果
type RunDocumentExpiryResponse struct {
	Body struct {
		Scanned  int       `json:"scanned" doc:"掃描司機數"`
		Notified int       `json:"notified" doc:"已通知司機數"`
		Skipped  int       `json:"skipped" doc:"無需通知司機數"`
		Failed   int       `json:"failed" doc:"通知失敗司機數"`
		RanAt    time.Time `json:"ran_at" doc:"掃描基準時間"`
		Shared   bool      `json:"shared" doc:"是否沿用進行中的掃描結果"`
	} `json:"body"`
}

// ForceOfflineInput 管理員強制下線
type ForceOfflineInput struct {
	DriverID string `path:"driverId" maxLength:"24" minLength:"24" example:"507f1f77bcf86cd799439011" doc:"司機ID"`
}

type ForceOfflineResponse struct {
	Body struct {
		Status  model.PresenceDirection `json:"status" example:"offline"`
		Message string                  `json:"message" example:"Driver is now offline"`
	} `json:"body"`
}

// PresenceInput 查詢司機在線記錄
type PresenceInput struct {
	DriverID string `path:"driverId" maxLength:"24" minLength:"24" example:"507f1f77bcf86cd799439011" doc:"司機ID"`
}

type PresenceResponse struct {
	Body *model.OnlineDriverDetails `json:"presence"`
}

// OnlineDriversResponse 目前有在線記錄的司機
type OnlineDriversResponse struct {
	Body struct {
		DriverIDs []string `json:"driver_ids"`
		Count     int      `json:"count"`
	} `json:"body"`
}
