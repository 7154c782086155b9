package model

import "time"

// GeoPoint 經緯度
type GeoPoint struct {
	Lat float64 `json:"lat" doc:"緯度"`
	Lng float64 `json:"lng" doc:"經度"`
}

// Valid 檢查經緯度範圍
func (p GeoPoint) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// OnlineDriverDetails 上線期間的司機快照，存放在 Redis hash
type OnlineDriverDetails struct {
	DriverID       string    `json:"driver_id" redis:"driver_id"`
	DriverNumber   string    `json:"driver_number" redis:"driver_number"`
	Name           string    `json:"name" redis:"name"`
	CancelledRides int64     `json:"cancelled_rides" redis:"cancelled_rides"`
	Rating         float64   `json:"rating" redis:"rating"`
	VehicleModel   string    `json:"vehicle_model" redis:"vehicle_model"`
	VehicleNumber  string    `json:"vehicle_number" redis:"vehicle_number"`
	DriverPhoto    string    `json:"driver_photo" redis:"driver_photo"`
	SessionStart   time.Time `json:"session_start"`
	LastSeen       time.Time `json:"last_seen"`
	Location       *GeoPoint `json:"location,omitempty"`
}

// HasSessionStart 是否有記錄上線起點
func (o *OnlineDriverDetails) HasSessionStart() bool {
	return !o.SessionStart.IsZero()
}

// NewOnlineDriverDetails 從司機主檔建立上線快照
func NewOnlineDriverDetails(driver *Driver, now time.Time, location *GeoPoint) *OnlineDriverDetails {
	return &OnlineDriverDetails{
		DriverID:       driver.HexID(),
		DriverNumber:   driver.Mobile,
		Name:           driver.Name,
		CancelledRides: driver.TotalCancelledRides,
		Rating:         driver.TotalRatings,
		VehicleModel:   driver.VehicleDetails.Model,
		VehicleNumber:  driver.VehicleDetails.VehicleNumber,
		DriverPhoto:    driver.DriverImage,
		SessionStart:   now,
		LastSeen:       now,
		Location:       location,
	}
}
