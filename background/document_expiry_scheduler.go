package background

import (
	"context"
	"time"

	"driver-service/service"
	"driver-service/utils"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const documentExpiryJobKey = "document_expiry"

// ExpiryScanner 文件到期掃描
type ExpiryScanner interface {
	Run(ctx context.Context, params service.ExpiryScanParams) (*service.ExpiryScanSummary, error)
}

// ScheduleConfig 每日排程時間
type ScheduleConfig struct {
	Hour     int
	Minute   int
	Location *time.Location
	Params   service.ExpiryScanParams
}

// DocumentExpiryScheduler 每日固定時間執行文件到期掃描，與手動觸發共用同一個 single-flight
type DocumentExpiryScheduler struct {
	logger  zerolog.Logger
	scanner ExpiryScanner
	config  ScheduleConfig
	group   singleflight.Group
	now     func() time.Time
	after   func(d time.Duration) <-chan time.Time
}

func NewDocumentExpiryScheduler(logger zerolog.Logger, scanner ExpiryScanner, config ScheduleConfig) *DocumentExpiryScheduler {
	if config.Location == nil {
		config.Location = utils.GetReferenceLocation()
	}
	return &DocumentExpiryScheduler{
		logger:  logger.With().Str("module", "document_expiry_scheduler").Logger(),
		scanner: scanner,
		config:  config,
		now:     time.Now,
		after:   time.After,
	}
}

func (s *DocumentExpiryScheduler) Start(ctx context.Context) {
	for {
		next := utils.NextDailyRun(s.now(), s.config.Hour, s.config.Minute, s.config.Location)
		wait := next.Sub(s.now())
		s.logger.Info().
			Time("next_run", next).
			Dur("wait", wait).
			Msg("文件到期掃描已排程")

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("文件到期排程已停止")
			return
		case <-s.after(wait):
			if _, shared, err := s.TriggerNow(ctx); err != nil {
				s.logger.Error().Err(err).Msg("排程文件到期掃描失敗")
			} else if shared {
				s.logger.Info().Msg("文件到期掃描已在執行中，沿用該次結果")
			}
		}
	}
}

// TriggerNow 立即執行掃描；若已有掃描在跑則等待並共用其結果
func (s *DocumentExpiryScheduler) TriggerNow(ctx context.Context) (*service.ExpiryScanSummary, bool, error) {
	ch := s.group.DoChan(documentExpiryJobKey, func() (interface{}, error) {
		// 掃描不隨單一呼叫者取消
		return s.scanner.Run(context.WithoutCancel(ctx), s.config.Params)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*service.ExpiryScanSummary), res.Shared, nil
	}
}
