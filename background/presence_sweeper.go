package background

import (
	"context"
	"time"

	"driver-service/infra"
	"driver-service/metrics"
	"driver-service/model"

	"github.com/rs/zerolog"
)

const defaultSweepInterval = 5 * time.Minute

// PresenceInspector 巡檢所需的在線查詢
type PresenceInspector interface {
	HeartbeatReconciler
	ListPresentDriverIDs(ctx context.Context) ([]string, error)
	IsHeartbeatAlive(ctx context.Context, driverID string) (bool, error)
}

// SweepSummary 單次巡檢結果
type SweepSummary struct {
	Scanned       int
	ForcedOffline int
	Failed        int
}

// PresenceSweeper 定期找出心跳已消失但在線記錄還在的司機，補上遺漏的過期事件
type PresenceSweeper struct {
	logger   zerolog.Logger
	presence PresenceInspector
	interval time.Duration
}

func NewPresenceSweeper(logger zerolog.Logger, presence PresenceInspector, interval time.Duration) *PresenceSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &PresenceSweeper{
		logger:   logger.With().Str("module", "presence_sweeper").Logger(),
		presence: presence,
		interval: interval,
	}
}

func (s *PresenceSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("在線巡檢已啟動")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("在線巡檢已停止")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep 執行一次巡檢
func (s *PresenceSweeper) Sweep(ctx context.Context) SweepSummary {
	ctx, span := infra.StartJobSpan(ctx, "presence_sweep")
	defer span.End()

	var summary SweepSummary
	ids, err := s.presence.ListPresentDriverIDs(ctx)
	if err != nil {
		infra.RecordError(span, err, "list presence failed")
		s.logger.Error().Err(err).Msg("列出在線司機失敗")
		return summary
	}

	for _, driverID := range ids {
		if ctx.Err() != nil {
			break
		}
		summary.Scanned++

		alive, err := s.presence.IsHeartbeatAlive(ctx, driverID)
		if err != nil {
			summary.Failed++
			s.logger.Warn().Err(err).Str("driver_id", driverID).Msg("讀取心跳失敗")
			continue
		}
		if alive {
			continue
		}

		outcome, err := s.presence.ReconcileExpiredHeartbeat(ctx, driverID, model.OfflineReasonSweep)
		if err != nil {
			summary.Failed++
			s.logger.Error().Err(err).Str("driver_id", driverID).Msg("巡檢強制下線失敗")
			continue
		}
		if outcome == metrics.ReconcileForcedOffline {
			summary.ForcedOffline++
		}
	}

	infra.SetAttributes(span,
		infra.AttrInt("sweep.scanned", summary.Scanned),
		infra.AttrInt("sweep.forced_offline", summary.ForcedOffline),
		infra.AttrInt("sweep.failed", summary.Failed),
	)
	infra.MarkSuccess(span)
	if summary.ForcedOffline > 0 || summary.Failed > 0 {
		s.logger.Warn().
			Int("scanned", summary.Scanned).
			Int("forced_offline", summary.ForcedOffline).
			Int("failed", summary.Failed).
			Msg("在線巡檢發現遺漏的逾時司機")
	}
	return summary
}
