package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StatsField 每日統計中可累加的欄位
type StatsField string

const (
	StatsFieldOnlineMinutes  StatsField = "online_minutes"
	StatsFieldCompletedRides StatsField = "completed_rides"
	StatsFieldCancelledRides StatsField = "cancelled_rides"
	StatsFieldEarnings       StatsField = "earnings_in_minor_units"
)

// Valid 是否為已知欄位
func (f StatsField) Valid() bool {
	switch f {
	case StatsFieldOnlineMinutes, StatsFieldCompletedRides, StatsFieldCancelledRides, StatsFieldEarnings:
		return true
	}
	return false
}

// StatsIncrement 每日統計的累加描述，欄位對應增量，只允許非負值
type StatsIncrement map[StatsField]int64

// IsZero 是否沒有任何需寫入的增量
func (s StatsIncrement) IsZero() bool {
	for _, v := range s {
		if v != 0 {
			return false
		}
	}
	return true
}

// DriverDailyStats 司機每日統計，以 (driver_id, date) 為唯一鍵
type DriverDailyStats struct {
	ID                   primitive.ObjectID `json:"_id,omitempty" bson:"_id,omitempty" doc:"統計ID"`
	DriverID             primitive.ObjectID `json:"driver_id" bson:"driver_id" doc:"司機ID"`
	Date                 time.Time          `json:"date" bson:"date" doc:"參考時區當日零點"`
	OnlineMinutes        int64              `json:"online_minutes" bson:"online_minutes" doc:"上線分鐘數"`
	CompletedRides       int64              `json:"completed_rides" bson:"completed_rides" doc:"完成趟數"`
	CancelledRides       int64              `json:"cancelled_rides" bson:"cancelled_rides" doc:"取消趟數"`
	EarningsInMinorUnits int64              `json:"earnings_in_minor_units" bson:"earnings_in_minor_units" doc:"收入（最小貨幣單位）"`
	CreatedAt            time.Time          `json:"created_at" bson:"created_at" doc:"建立時間"`
	UpdatedAt            time.Time          `json:"updated_at" bson:"updated_at" doc:"更新時間"`
}

// Get 依欄位取值
func (s *DriverDailyStats) Get(field StatsField) int64 {
	switch field {
	case StatsFieldOnlineMinutes:
		return s.OnlineMinutes
	case StatsFieldCompletedRides:
		return s.CompletedRides
	case StatsFieldCancelledRides:
		return s.CancelledRides
	case StatsFieldEarnings:
		return s.EarningsInMinorUnits
	}
	return 0
}

// Apply 將增量套用到記錄上
func (s *DriverDailyStats) Apply(inc StatsIncrement) {
	for field, delta := range inc {
		switch field {
		case StatsFieldOnlineMinutes:
			s.OnlineMinutes += delta
		case StatsFieldCompletedRides:
			s.CompletedRides += delta
		case StatsFieldCancelledRides:
			s.CancelledRides += delta
		case StatsFieldEarnings:
			s.EarningsInMinorUnits += delta
		}
	}
}

// ActivityRow 活動統計的單一列
type ActivityRow struct {
	Date           string `json:"date" example:"2025-06-01" doc:"日期或月份"`
	OnlineMinutes  int64  `json:"online_minutes" doc:"上線分鐘數"`
	CompletedRides int64  `json:"completed_rides" doc:"完成趟數"`
	CancelledRides int64  `json:"cancelled_rides" doc:"取消趟數"`
	Earnings       int64  `json:"earnings" doc:"收入（最小貨幣單位）"`
}

// MainDashboard 司機首頁今日概況
type MainDashboard struct {
	IsOnline       bool   `json:"is_online" doc:"是否在線"`
	OnlineHours    string `json:"online_hours" example:"2h 5m" doc:"今日上線時數"`
	CompletedRides int64  `json:"completed_rides" doc:"今日完成趟數"`
	CanceledRides  int64  `json:"canceled_rides" doc:"今日取消趟數"`
	TodayEarnings  int64  `json:"today_earnings" doc:"今日收入（最小貨幣單位）"`
}
