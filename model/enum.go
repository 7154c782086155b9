package model

// DocumentType 需追蹤到期日的文件類型
type DocumentType string

const (
	DocumentTypeLicense   DocumentType = "license"   // 駕照
	DocumentTypeRC        DocumentType = "rc"        // 行照
	DocumentTypeInsurance DocumentType = "insurance" // 保險
	DocumentTypePollution DocumentType = "pollution" // 排氣檢驗
)

// String 實現 Stringer 接口
func (d DocumentType) String() string {
	return string(d)
}

// GetAllDocumentTypes 返回所有需檢查的文件類型
func GetAllDocumentTypes() []DocumentType {
	return []DocumentType{
		DocumentTypeLicense,
		DocumentTypeRC,
		DocumentTypeInsurance,
		DocumentTypePollution,
	}
}

// TokenType JWT token 類型
type TokenType string

const (
	TokenTypeDriver TokenType = "driver" // 司機 token
	TokenTypeAdmin  TokenType = "admin"  // 管理員 token
)

// PresenceDirection 上下線方向
type PresenceDirection string

const (
	PresenceOnline  PresenceDirection = "online"
	PresenceOffline PresenceDirection = "offline"
)

// OfflineReason 下線原因
type OfflineReason string

const (
	OfflineReasonDriverRequest    OfflineReason = "driver_request"    // 司機主動下線
	OfflineReasonHeartbeatExpired OfflineReason = "heartbeat_expired" // 心跳逾時
	OfflineReasonSweep            OfflineReason = "sweep"             // 定期巡檢
	OfflineReasonAdmin            OfflineReason = "admin"             // 管理員強制下線
)

// StatsFilter 活動統計查詢區間
type StatsFilter string

const (
	StatsFilterDay   StatsFilter = "day"
	StatsFilterMonth StatsFilter = "month"
	StatsFilterYear  StatsFilter = "year"
)

// Valid 檢查查詢區間是否合法
func (f StatsFilter) Valid() bool {
	switch f {
	case StatsFilterDay, StatsFilterMonth, StatsFilterYear:
		return true
	}
	return false
}

// RideCountStatus 趟次事件狀態
type RideCountStatus string

const (
	RideCountStatusCompleted RideCountStatus = "COMPLETED"
	RideCountStatusCancelled RideCountStatus = "CANCELLED"
)

// DriverEventType 司機佇列中的訊息類型
type DriverEventType string

const (
	DriverEventUpdateRideCount DriverEventType = "UPDATE_DRIVER_RIDE_COUNT"
	DriverEventUpdateEarnings  DriverEventType = "UPDATE_DRIVER_EARNINGS"
)
