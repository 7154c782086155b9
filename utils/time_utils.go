package utils

import (
	"sync"
	"time"
)

var (
	referenceMu       sync.RWMutex
	referenceLocation = GetTaipeiLocation()
)

// GetTaipeiLocation 取得台北時區（固定 +8，不依賴 tzdata）
func GetTaipeiLocation() *time.Location {
	return time.FixedZone("Asia/Taipei", 8*3600)
}

// LoadReferenceLocation 解析時區名稱，找不到 tzdata 時台北退回固定時區，其他退回 UTC
func LoadReferenceLocation(name string) *time.Location {
	if name == "" {
		return GetTaipeiLocation()
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc
	}
	if name == "Asia/Taipei" {
		return GetTaipeiLocation()
	}
	return time.UTC
}

// SetReferenceLocation 設定統計使用的參考時區
func SetReferenceLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	referenceMu.Lock()
	referenceLocation = loc
	referenceMu.Unlock()
}

// GetReferenceLocation 取得統計使用的參考時區
func GetReferenceLocation() *time.Location {
	referenceMu.RLock()
	defer referenceMu.RUnlock()
	return referenceLocation
}

// StartOfDay 取得 t 在 loc 時區的當日零點
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// NextMidnight 取得 t 在 loc 時區的下一個零點
func NextMidnight(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// StartOfMonth 取得當月一日零點
func StartOfMonth(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}

// StartOfYear 取得當年一月一日零點
func StartOfYear(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), time.January, 1, 0, 0, 0, 0, loc)
}

// FormatDate 格式化為 YYYY-MM-DD
func FormatDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// FormatMonth 格式化為 YYYY-MM
func FormatMonth(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01")
}

// NowUTC 取得當前 UTC 時間（用於存儲到 MongoDB）
func NowUTC() time.Time {
	return time.Now().UTC()
}

// NextDailyRun 取得下一次 hour:minute 的執行時間（嚴格晚於 now）
func NextDailyRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}
