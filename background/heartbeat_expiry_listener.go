package background

import (
	"context"
	"time"

	"driver-service/infra"
	"driver-service/metrics"
	"driver-service/model"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultReconcileWorkers = 8
	resubscribeDelay        = 3 * time.Second
)

// ExpiredKeySource 提供過期 key 名稱的串流
type ExpiredKeySource interface {
	Subscribe(ctx context.Context) (<-chan string, error)
}

// HeartbeatReconciler 對逾時心跳做最終確認
type HeartbeatReconciler interface {
	ReconcileExpiredHeartbeat(ctx context.Context, driverID string, reason model.OfflineReason) (metrics.ReconcileOutcome, error)
}

// HeartbeatExpiryListener 監聽心跳 key 過期事件並強制下線
//
// 過期事件是盡力送達；同一司機的對帳進行中時，新到的事件會共用該次結果而不另外執行，
// 若該次結果為心跳已恢復，之後的逾時由 PresenceSweeper 補上。
type HeartbeatExpiryListener struct {
	logger     zerolog.Logger
	source     ExpiredKeySource
	reconciler HeartbeatReconciler
	workers    int
	inflight   singleflight.Group
}

func NewHeartbeatExpiryListener(logger zerolog.Logger, source ExpiredKeySource, reconciler HeartbeatReconciler, workers int) *HeartbeatExpiryListener {
	if workers <= 0 {
		workers = defaultReconcileWorkers
	}
	return &HeartbeatExpiryListener{
		logger:     logger.With().Str("module", "heartbeat_expiry_listener").Logger(),
		source:     source,
		reconciler: reconciler,
		workers:    workers,
	}
}

// Start 阻塞直到 ctx 結束，訂閱中斷時自動重新訂閱
func (l *HeartbeatExpiryListener) Start(ctx context.Context) {
	l.logger.Info().Int("workers", l.workers).Msg("心跳逾時監聽已啟動")
	for {
		keys, err := l.source.Subscribe(ctx)
		if err != nil {
			l.logger.Error().Err(err).Msg("訂閱心跳過期事件失敗")
		} else {
			l.consume(ctx, keys)
		}

		select {
		case <-ctx.Done():
			l.logger.Info().Msg("心跳逾時監聽已停止")
			return
		case <-time.After(resubscribeDelay):
			l.logger.Warn().Msg("重新訂閱心跳過期事件")
		}
	}
}

// consume 處理直到串流關閉，結束前等待進行中的對帳
func (l *HeartbeatExpiryListener) consume(ctx context.Context, keys <-chan string) {
	var g errgroup.Group
	g.SetLimit(l.workers)
	defer func() { _ = g.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return
		case key, ok := <-keys:
			if !ok {
				return
			}
			driverID, ok := infra.ParseHeartbeatKey(key)
			if !ok {
				continue
			}
			g.Go(func() error {
				l.HandleExpired(ctx, driverID)
				return nil
			})
		}
	}
}

// HandleExpired 同一司機同時間只會有一個對帳在跑，期間重複的事件直接共用結果
func (l *HeartbeatExpiryListener) HandleExpired(ctx context.Context, driverID string) {
	_, _, _ = l.inflight.Do(driverID, func() (interface{}, error) {
		outcome, err := l.reconciler.ReconcileExpiredHeartbeat(ctx, driverID, model.OfflineReasonHeartbeatExpired)
		if err != nil {
			l.logger.Error().Err(err).
				Str("driver_id", driverID).
				Str("outcome", string(outcome)).
				Msg("心跳逾時對帳失敗")
			return nil, nil
		}
		l.logger.Info().
			Str("driver_id", driverID).
			Str("outcome", string(outcome)).
			Msg("心跳逾時對帳完成")
		return outcome, nil
	})
}
