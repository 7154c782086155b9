package driver

import "driver-service/model"

// ToggleOnlineInput 上下線
type ToggleOnlineInput struct {
	Body struct {
		Online bool     `json:"online" doc:"true 上線，false 下線" example:"true"`
		Lat    *float64 `json:"lat,omitempty" doc:"緯度（選填）" example:"25.0330"`
		Lng    *float64 `json:"lng,omitempty" doc:"經度（選填）" example:"121.5654"`
	} `json:"body"`
}

// Location 上線時若同時帶入經緯度才回傳位置
func (in *ToggleOnlineInput) Location() *model.GeoPoint {
	if in.Body.Lat == nil || in.Body.Lng == nil {
		return nil
	}
	return &model.GeoPoint{Lat: *in.Body.Lat, Lng: *in.Body.Lng}
}

type ToggleOnlineResponse struct {
	Body struct {
		Status  model.PresenceDirection `json:"status" example:"online" doc:"目前狀態"`
		Message string                  `json:"message" example:"Driver is now online" doc:"結果訊息"`
	} `json:"body"`
}

type UpdateLocationInput struct {
	Body struct {
		Lat float64 `json:"lat" minimum:"-90" maximum:"90" doc:"緯度" example:"25.0330"`
		Lng float64 `json:"lng" minimum:"-180" maximum:"180" doc:"經度" example:"121.5654"`
	} `json:"body"`
}

type SimpleResponse struct {
	Body struct {
		Success bool   `json:"success" example:"true"`
		Message string `json:"message" example:"心跳已更新"`
	} `json:"body"`
}

type PresenceResponse struct {
	Body *model.OnlineDriverDetails `json:"presence"`
}

type DashboardResponse struct {
	Body *model.MainDashboard `json:"dashboard"`
}

type ActivityInput struct {
	Filter string `query:"filter" enum:"day,month,year" default:"day" doc:"統計區間：day 最近 7 天逐日、month 本月逐日、year 本年逐月"`
}

type ActivityResponse struct {
	Body struct {
		Filter string              `json:"filter" example:"day"`
		Rows   []model.ActivityRow `json:"rows" doc:"由舊到新的統計列"`
	} `json:"body"`
}

type TodayStatsResponse struct {
	Body struct {
		Date  string                  `json:"date" example:"2025-06-01"`
		Stats *model.DriverDailyStats `json:"stats" doc:"今日統計，尚無紀錄時各欄為 0"`
	} `json:"body"`
}
