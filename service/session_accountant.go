package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"driver-service/infra"
	"driver-service/metrics"
	"driver-service/model"
	"driver-service/service/interfaces"
	"driver-service/utils"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// DayMinutes 單一日期分到的上線分鐘數
type DayMinutes struct {
	Day     time.Time
	Minutes int64
}

// durationToMinutes 四捨五入到分鐘，下限為 0
func durationToMinutes(d time.Duration) int64 {
	minutes := math.Round(float64(d.Milliseconds()) / 60000)
	if minutes < 0 {
		return 0
	}
	return int64(minutes)
}

// ApportionSession 將一段上線時間依 loc 的日界拆分
//
// 只處理跨越一次午夜的情況：起始日分到 [start, 第一個午夜)，
// 結束日分到 [第一個午夜, end)。跨越兩次以上午夜時，中間的日期不會
// 分到分鐘數，全部記在結束日。
func ApportionSession(start, end time.Time, loc *time.Location) []DayMinutes {
	if end.Before(start) {
		end = start
	}

	startDay := utils.StartOfDay(start, loc)
	endDay := utils.StartOfDay(end, loc)

	if startDay.Equal(endDay) {
		return []DayMinutes{{Day: startDay, Minutes: durationToMinutes(end.Sub(start))}}
	}

	midnight := utils.NextMidnight(start, loc)
	return []DayMinutes{
		{Day: startDay, Minutes: durationToMinutes(midnight.Sub(start))},
		{Day: endDay, Minutes: durationToMinutes(end.Sub(midnight))},
	}
}

// SessionAccountant 每日統計的累加與查詢
type SessionAccountant struct {
	logger     zerolog.Logger
	statsRepo  interfaces.DailyStatsRepository
	driverRepo interfaces.DriverRepository
	loc        *time.Location
	now        func() time.Time
}

func NewSessionAccountant(logger zerolog.Logger, statsRepo interfaces.DailyStatsRepository, driverRepo interfaces.DriverRepository, loc *time.Location) *SessionAccountant {
	if loc == nil {
		loc = utils.GetReferenceLocation()
	}
	return &SessionAccountant{
		logger:     logger.With().Str("module", "session_accountant").Logger(),
		statsRepo:  statsRepo,
		driverRepo: driverRepo,
		loc:        loc,
		now:        time.Now,
	}
}

// SetClock 替換時間來源
func (s *SessionAccountant) SetClock(now func() time.Time) {
	s.now = now
}

// Location 統計使用的參考時區
func (s *SessionAccountant) Location() *time.Location {
	return s.loc
}

// AddSessionMinutes 將 [start, end) 的上線時間拆日後累加到每日統計，回傳寫入的總分鐘數
func (s *SessionAccountant) AddSessionMinutes(ctx context.Context, driverID string, start, end time.Time) (int64, error) {
	var total int64
	err := infra.WithSpan(ctx, "session_accountant_add_minutes", func(ctx context.Context, span trace.Span) error {
		buckets := ApportionSession(start, end, s.loc)
		for _, bucket := range buckets {
			if bucket.Minutes == 0 {
				continue
			}
			inc := model.StatsIncrement{model.StatsFieldOnlineMinutes: bucket.Minutes}
			if err := s.statsRepo.ApplyIncrement(ctx, driverID, bucket.Day, inc); err != nil {
				return fmt.Errorf("累加上線分鐘失敗 (%s): %w", utils.FormatDate(bucket.Day, s.loc), err)
			}
			total += bucket.Minutes
		}
		infra.SetAttributes(span, infra.AttrInt("session.minutes", int(total)), infra.AttrInt("session.buckets", len(buckets)))
		return nil
	}, infra.AttrDriverID(driverID))

	if err != nil {
		s.logger.Error().Err(err).
			Str("driver_id", driverID).
			Time("session_start", start).
			Time("session_end", end).
			Msg("上線分鐘寫入每日統計失敗")
		return total, err
	}

	metrics.RecordSessionMinutes(total)
	s.logger.Debug().
		Str("driver_id", driverID).
		Int64("minutes", total).
		Msg("上線分鐘已寫入每日統計")
	return total, nil
}

// IncrementTodayRideCount 累加今日完成或取消趟數
func (s *SessionAccountant) IncrementTodayRideCount(ctx context.Context, driverID string, field model.StatsField, delta int64) error {
	if field != model.StatsFieldCompletedRides && field != model.StatsFieldCancelledRides {
		return fmt.Errorf("不支援的趟數欄位: %s", field)
	}
	if delta <= 0 {
		return nil
	}
	today := utils.StartOfDay(s.now(), s.loc)
	if err := s.statsRepo.ApplyIncrement(ctx, driverID, today, model.StatsIncrement{field: delta}); err != nil {
		return fmt.Errorf("累加今日趟數失敗: %w", err)
	}
	return nil
}

// AddEarnings 入帳今日收入，需要時累加平台抽成
func (s *SessionAccountant) AddEarnings(ctx context.Context, event model.EarningsEvent) error {
	if event.DriverID == "" {
		return NewBadRequestError("driverId is required")
	}
	if event.DriverShare < 0 || event.PlatformFee < 0 {
		return NewBadRequestError("earnings must not be negative")
	}

	// 先確認司機存在，避免為不存在的司機建立統計
	if _, err := s.driverRepo.FindByID(ctx, event.DriverID); err != nil {
		if errors.Is(err, interfaces.ErrDriverNotFound) {
			return NewNotFoundError("driver not found")
		}
		return NewInternalError(err)
	}

	today := utils.StartOfDay(s.now(), s.loc)
	if event.DriverShare > 0 {
		inc := model.StatsIncrement{model.StatsFieldEarnings: event.DriverShare}
		if err := s.statsRepo.ApplyIncrement(ctx, event.DriverID, today, inc); err != nil {
			return NewInternalError(fmt.Errorf("累加今日收入失敗: %w", err))
		}
	}

	if event.IsAddCommission && event.PlatformFee > 0 {
		inc := model.DriverCounterIncrement{model.DriverCounterAdminCommission: event.PlatformFee}
		if err := s.driverRepo.IncrementCounters(ctx, event.DriverID, inc); err != nil {
			return NewInternalError(fmt.Errorf("累加平台抽成失敗: %w", err))
		}
	}

	s.logger.Info().
		Str("driver_id", event.DriverID).
		Str("booking_id", event.BookingID).
		Int64("driver_share", event.DriverShare).
		Int64("platform_fee", event.PlatformFee).
		Bool("add_commission", event.IsAddCommission).
		Msg("收入已入帳")
	return nil
}

// GetTodayStats 取得今日統計，沒有記錄時回傳空統計
func (s *SessionAccountant) GetTodayStats(ctx context.Context, driverID string) (*model.DriverDailyStats, error) {
	today := utils.StartOfDay(s.now(), s.loc)
	stats, err := s.statsRepo.FindByDay(ctx, driverID, today)
	if err != nil {
		return nil, fmt.Errorf("查詢今日統計失敗: %w", err)
	}
	if stats == nil {
		return &model.DriverDailyStats{Date: today}, nil
	}
	return stats, nil
}

// GetDriverStats 依區間取得活動統計
// day：最近 7 天逐日；month：本月逐日；year：本年逐月彙總
func (s *SessionAccountant) GetDriverStats(ctx context.Context, driverID string, filter model.StatsFilter) ([]model.ActivityRow, error) {
	if filter == "" {
		filter = model.StatsFilterDay
	}
	if !filter.Valid() {
		return nil, NewBadRequestError(fmt.Sprintf("invalid filter: %s", filter))
	}

	now := s.now()
	to := utils.NextMidnight(now, s.loc)
	var from time.Time
	switch filter {
	case model.StatsFilterDay:
		today := utils.StartOfDay(now, s.loc)
		from = time.Date(today.Year(), today.Month(), today.Day()-6, 0, 0, 0, 0, s.loc)
	case model.StatsFilterMonth:
		from = utils.StartOfMonth(now, s.loc)
	case model.StatsFilterYear:
		from = utils.StartOfYear(now, s.loc)
	}

	records, err := s.statsRepo.FindRange(ctx, driverID, from, to)
	if err != nil {
		return nil, NewInternalError(fmt.Errorf("查詢活動統計失敗: %w", err))
	}

	if filter != model.StatsFilterYear {
		rows := make([]model.ActivityRow, 0, len(records))
		for _, r := range records {
			rows = append(rows, toActivityRow(utils.FormatDate(r.Date, s.loc), r))
		}
		return rows, nil
	}

	// 逐月彙總，保持月份順序
	var rows []model.ActivityRow
	index := map[string]int{}
	for _, r := range records {
		key := utils.FormatMonth(r.Date, s.loc)
		i, ok := index[key]
		if !ok {
			rows = append(rows, model.ActivityRow{Date: key})
			i = len(rows) - 1
			index[key] = i
		}
		rows[i].OnlineMinutes += r.OnlineMinutes
		rows[i].CompletedRides += r.CompletedRides
		rows[i].CancelledRides += r.CancelledRides
		rows[i].Earnings += r.EarningsInMinorUnits
	}
	if rows == nil {
		rows = []model.ActivityRow{}
	}
	return rows, nil
}

func toActivityRow(date string, r model.DriverDailyStats) model.ActivityRow {
	return model.ActivityRow{
		Date:           date,
		OnlineMinutes:  r.OnlineMinutes,
		CompletedRides: r.CompletedRides,
		CancelledRides: r.CancelledRides,
		Earnings:       r.EarningsInMinorUnits,
	}
}

// GetMainDashboard 司機首頁今日概況
func (s *SessionAccountant) GetMainDashboard(ctx context.Context, driverID string) (*model.MainDashboard, error) {
	driver, err := s.driverRepo.FindByID(ctx, driverID)
	if err != nil {
		if errors.Is(err, interfaces.ErrDriverNotFound) {
			return nil, NewNotFoundError("driver not found")
		}
		return nil, NewInternalError(err)
	}

	today, err := s.GetTodayStats(ctx, driverID)
	if err != nil {
		return nil, NewInternalError(err)
	}

	return &model.MainDashboard{
		IsOnline:       driver.OnlineStatus,
		OnlineHours:    utils.FormatOnlineMinutes(today.OnlineMinutes),
		CompletedRides: today.CompletedRides,
		CanceledRides:  today.CancelledRides,
		TodayEarnings:  today.EarningsInMinorUnits,
	}, nil
}
