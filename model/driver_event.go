package model

import "encoding/json"

// DriverEventEnvelope 司機佇列訊息外層
type DriverEventEnvelope struct {
	Type DriverEventType `json:"type"`
	Data json.RawMessage `json:"data"`
}

// RideCountEvent 趟次更新
type RideCountEvent struct {
	DriverID string          `json:"driverId"`
	Status   RideCountStatus `json:"status"`
}

// EarningsEvent 收入入帳
type EarningsEvent struct {
	DriverID        string `json:"driverId"`
	PlatformFee     int64  `json:"platformFee"`
	DriverShare     int64  `json:"driverShare"`
	UserID          string `json:"userId"`
	BookingID       string `json:"bookingId"`
	IsAddCommission bool   `json:"isAddCommission"`
}
