package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"driver-service/metrics"
	"driver-service/model"
	"driver-service/service/interfaces"

	"github.com/rs/zerolog"
)

// DriverEventService 處理其他服務送來的趟次與收入事件
type DriverEventService struct {
	logger     zerolog.Logger
	accountant *SessionAccountant
	drivers    interfaces.DriverRepository
}

func NewDriverEventService(logger zerolog.Logger, accountant *SessionAccountant, drivers interfaces.DriverRepository) *DriverEventService {
	return &DriverEventService{
		logger:     logger.With().Str("module", "driver_event_service").Logger(),
		accountant: accountant,
		drivers:    drivers,
	}
}

// HandleMessage 解析並處理一則佇列訊息，未知類型只記錄不視為錯誤
func (s *DriverEventService) HandleMessage(ctx context.Context, body []byte) error {
	var envelope model.DriverEventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("訊息格式錯誤: %w", err)
	}

	switch envelope.Type {
	case model.DriverEventUpdateRideCount:
		var event model.RideCountEvent
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			return fmt.Errorf("趟次事件格式錯誤: %w", err)
		}
		return s.HandleRideCount(ctx, event)
	case model.DriverEventUpdateEarnings:
		var event model.EarningsEvent
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			return fmt.Errorf("收入事件格式錯誤: %w", err)
		}
		return s.HandleEarnings(ctx, event)
	default:
		s.logger.Warn().
			Str("type", string(envelope.Type)).
			Msg("未知的司機事件類型，略過")
		return nil
	}
}

// HandleRideCount 累加今日與累計趟數，其他狀態忽略
func (s *DriverEventService) HandleRideCount(ctx context.Context, event model.RideCountEvent) error {
	start := time.Now()
	if event.DriverID == "" {
		return NewBadRequestError("driverId is required")
	}

	var (
		statsField   model.StatsField
		counterField model.DriverCounterField
	)
	switch event.Status {
	case model.RideCountStatusCompleted:
		statsField, counterField = model.StatsFieldCompletedRides, model.DriverCounterCompletedRides
	case model.RideCountStatusCancelled:
		statsField, counterField = model.StatsFieldCancelledRides, model.DriverCounterCancelledRides
	default:
		s.logger.Debug().
			Str("driver_id", event.DriverID).
			Str("status", string(event.Status)).
			Msg("趟次狀態不需累計")
		return nil
	}

	if err := s.drivers.IncrementCounters(ctx, event.DriverID, model.DriverCounterIncrement{counterField: 1}); err != nil {
		metrics.RecordServiceOperation(metrics.ServiceTypeAccounting, metrics.OperationRideCount, metrics.StatusError, metrics.SourceQueue, time.Since(start))
		if errors.Is(err, interfaces.ErrDriverNotFound) {
			return NewNotFoundError(msgDriverNotFound)
		}
		return NewInternalError(fmt.Errorf("累加司機趟數失敗: %w", err))
	}
	if err := s.accountant.IncrementTodayRideCount(ctx, event.DriverID, statsField, 1); err != nil {
		metrics.RecordServiceOperation(metrics.ServiceTypeAccounting, metrics.OperationRideCount, metrics.StatusError, metrics.SourceQueue, time.Since(start))
		return NewInternalError(err)
	}

	metrics.RecordServiceOperation(metrics.ServiceTypeAccounting, metrics.OperationRideCount, metrics.StatusSuccess, metrics.SourceQueue, time.Since(start))
	s.logger.Info().
		Str("driver_id", event.DriverID).
		Str("status", string(event.Status)).
		Msg("司機趟數已更新")
	return nil
}

// HandleEarnings 收入入帳
func (s *DriverEventService) HandleEarnings(ctx context.Context, event model.EarningsEvent) error {
	start := time.Now()
	if err := s.accountant.AddEarnings(ctx, event); err != nil {
		metrics.RecordServiceOperation(metrics.ServiceTypeAccounting, metrics.OperationEarnings, metrics.StatusError, metrics.SourceQueue, time.Since(start))
		return err
	}
	metrics.RecordServiceOperation(metrics.ServiceTypeAccounting, metrics.OperationEarnings, metrics.StatusSuccess, metrics.SourceQueue, time.Since(start))
	return nil
}
