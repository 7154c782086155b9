package utils

import (
	"fmt"

	"driver-service/model"
)

// FormatOnlineMinutes 將分鐘數格式化為 "Xh Ym"
func FormatOnlineMinutes(minutes int64) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

// GetDriverLabel 格式化在線司機資訊
// 格式：KL07AB1234(Toyota Prius) | 王小明
func GetDriverLabel(details *model.OnlineDriverDetails) string {
	if details == nil {
		return "未知車牌 | 未知司機"
	}

	plate := details.VehicleNumber
	if plate == "" {
		plate = "未知車牌"
	}
	if details.VehicleModel != "" {
		plate = plate + "(" + details.VehicleModel + ")"
	}

	name := details.Name
	if name == "" {
		name = "未知司機"
	}

	return plate + " | " + name
}
