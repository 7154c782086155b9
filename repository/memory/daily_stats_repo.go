package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"driver-service/model"
)

type statsKey struct {
	driverID string
	day      int64
}

// DailyStatsRepo 記憶體版每日統計，累加在鎖內完成
type DailyStatsRepo struct {
	mu    sync.Mutex
	stats map[statsKey]*model.DriverDailyStats

	// FailApply 非 nil 時 ApplyIncrement 回傳該錯誤
	FailApply error
	calls     int
}

func NewDailyStatsRepo() *DailyStatsRepo {
	return &DailyStatsRepo{stats: make(map[statsKey]*model.DriverDailyStats)}
}

func (r *DailyStatsRepo) ApplyIncrement(ctx context.Context, driverID string, day time.Time, inc model.StatsIncrement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.FailApply != nil {
		return r.FailApply
	}
	for field, delta := range inc {
		if !field.Valid() {
			return fmt.Errorf("unknown stats field %q", field)
		}
		if delta < 0 {
			return fmt.Errorf("negative increment for %q", field)
		}
	}

	key := statsKey{driverID: driverID, day: day.Unix()}
	rec, ok := r.stats[key]
	if !ok {
		now := time.Now().UTC()
		rec = &model.DriverDailyStats{Date: day, CreatedAt: now}
		r.stats[key] = rec
	}
	rec.Apply(inc)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *DailyStatsRepo) FindByDay(ctx context.Context, driverID string, day time.Time) (*model.DriverDailyStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.stats[statsKey{driverID: driverID, day: day.Unix()}]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (r *DailyStatsRepo) FindRange(ctx context.Context, driverID string, from, to time.Time) ([]model.DriverDailyStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.DriverDailyStats
	for key, rec := range r.stats {
		if key.driverID != driverID {
			continue
		}
		if rec.Date.Before(from) || !rec.Date.Before(to) {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// Minutes 取得指定日期的上線分鐘（測試用）
func (r *DailyStatsRepo) Minutes(driverID string, day time.Time) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.stats[statsKey{driverID: driverID, day: day.Unix()}]; ok {
		return rec.OnlineMinutes
	}
	return 0
}

// Records 目前記錄筆數
func (r *DailyStatsRepo) Records() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stats)
}

// Calls ApplyIncrement 被呼叫的次數
func (r *DailyStatsRepo) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
