package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"driver-service/infra"
	"driver-service/metrics"
	"driver-service/model"
	"driver-service/service/interfaces"
	"driver-service/utils"

	"github.com/rs/zerolog"
)

const (
	// DefaultHeartbeatTTL 心跳存活時間
	DefaultHeartbeatTTL = 60 * time.Second
	// DefaultCommissionThreshold 未繳抽成上限（最小貨幣單位），超過不得上線
	DefaultCommissionThreshold int64 = 5000
)

// 對呼叫端公開的訊息
const (
	msgDriverInRide       = "Driver currently in ride"
	msgDriverNotFound     = "driver not found"
	msgOnlineElsewhere    = "Driver already online on another device"
	msgOnboardingRequired = "complete your payment account verification before going online"
	msgCommissionDue      = "pay the commission before going to online"
	msgDriverNotOnline    = "driver is not online"
	msgInvalidCoordinates = "invalid coordinates"
	msgNowOnline          = "Driver is now online"
	msgNowOffline         = "Driver is now offline"
)

// PresenceConfig 上下線相關設定
type PresenceConfig struct {
	HeartbeatTTL        time.Duration
	CommissionThreshold int64
}

// ToggleOnlineInput 上下線請求
type ToggleOnlineInput struct {
	DriverID string
	GoOnline bool
	Location *model.GeoPoint
	Source   metrics.OperationSource
}

// ToggleOnlineResult 上下線結果
type ToggleOnlineResult struct {
	Status  model.PresenceDirection `json:"status"`
	Message string                  `json:"message"`
}

// PresenceService 司機上下線狀態機
//
// 在線記錄（Redis）是目前是否在線的唯一裁決者：上線以條件式建立搶佔，
// 下線以原子取出確保同一段 session 只被結算一次。
type PresenceService struct {
	logger     zerolog.Logger
	drivers    interfaces.DriverRepository
	presence   interfaces.PresenceStore
	sessions   interfaces.SessionRecorder
	onboarding interfaces.OnboardingChecker
	config     PresenceConfig
	now        func() time.Time
}

func NewPresenceService(
	logger zerolog.Logger,
	drivers interfaces.DriverRepository,
	presence interfaces.PresenceStore,
	sessions interfaces.SessionRecorder,
	onboarding interfaces.OnboardingChecker,
	config PresenceConfig,
) *PresenceService {
	if config.HeartbeatTTL <= 0 {
		config.HeartbeatTTL = DefaultHeartbeatTTL
	}
	if config.CommissionThreshold <= 0 {
		config.CommissionThreshold = DefaultCommissionThreshold
	}
	return &PresenceService{
		logger:     logger.With().Str("module", "presence_service").Logger(),
		drivers:    drivers,
		presence:   presence,
		sessions:   sessions,
		onboarding: onboarding,
		config:     config,
		now:        time.Now,
	}
}

// SetClock 替換時間來源
func (s *PresenceService) SetClock(now func() time.Time) {
	s.now = now
}

// HeartbeatTTL 目前使用的心跳存活時間
func (s *PresenceService) HeartbeatTTL() time.Duration {
	return s.config.HeartbeatTTL
}

// ToggleOnline 切換司機上下線
func (s *PresenceService) ToggleOnline(ctx context.Context, in ToggleOnlineInput) (*ToggleOnlineResult, error) {
	start := time.Now()
	direction := model.PresenceOffline
	operation := metrics.OperationGoOffline
	if in.GoOnline {
		direction = model.PresenceOnline
		operation = metrics.OperationGoOnline
	}
	source := in.Source
	if source == "" {
		source = metrics.SourceAPI
	}

	ctx, span := infra.StartPresenceSpan(ctx, "toggle_online",
		infra.AttrDriverID(in.DriverID),
		infra.AttrPresenceDirection(string(direction)),
	)
	defer span.End()

	var (
		result *ToggleOnlineResult
		err    error
	)
	if in.GoOnline {
		result, err = s.goOnline(ctx, in.DriverID, in.Location)
	} else {
		result, err = s.goOffline(ctx, in.DriverID, model.OfflineReasonDriverRequest)
	}

	if err != nil {
		svcErr := AsServiceError(err)
		status := metrics.StatusRejected
		if svcErr.Kind == ErrorKindInternal {
			status = metrics.StatusError
			s.logger.Error().Err(svcErr.Cause).
				Str("driver_id", in.DriverID).
				Str("direction", string(direction)).
				Msg("司機上下線發生內部錯誤")
		} else {
			s.logger.Info().
				Str("driver_id", in.DriverID).
				Str("direction", string(direction)).
				Str("kind", string(svcErr.Kind)).
				Str("reason", svcErr.Message).
				Msg("司機上下線被拒絕")
		}
		infra.RecordOperationError(span, svcErr, in.DriverID, "toggle online failed")
		metrics.RecordPresenceOperation(operation, status, source, time.Since(start))
		return nil, svcErr
	}

	infra.MarkSuccess(span)
	metrics.RecordPresenceOperation(operation, metrics.StatusSuccess, source, time.Since(start))
	return result, nil
}

func (s *PresenceService) goOnline(ctx context.Context, driverID string, location *model.GeoPoint) (*ToggleOnlineResult, error) {
	if location != nil && !location.Valid() {
		return nil, NewBadRequestError(msgInvalidCoordinates)
	}

	existing, err := s.livePresence(ctx, driverID)
	if err != nil {
		return nil, NewInternalError(fmt.Errorf("讀取在線記錄失敗: %w", err))
	}
	if existing != nil {
		return nil, NewConflictError(msgDriverInRide)
	}

	driver, err := s.drivers.FindByID(ctx, driverID)
	if err != nil {
		if errors.Is(err, interfaces.ErrDriverNotFound) {
			return nil, NewNotFoundError(msgDriverNotFound)
		}
		return nil, NewInternalError(fmt.Errorf("讀取司機失敗: %w", err))
	}

	now := s.now()
	if expired := driver.ExpiredDocuments(now); len(expired) > 0 {
		return nil, NewBadRequestError(expiredDocumentsMessage(expired))
	}

	// 讀取司機期間可能已有其他裝置上線
	existing, err = s.livePresence(ctx, driverID)
	if err != nil {
		return nil, NewInternalError(fmt.Errorf("讀取在線記錄失敗: %w", err))
	}
	if existing != nil {
		return nil, NewConflictError(msgOnlineElsewhere)
	}
	if driver.IsAvailable {
		s.logger.Warn().
			Str("driver_id", driverID).
			Msg("主檔仍標記可派單但沒有在線記錄，以在線記錄為準")
	}

	if !driver.OnboardingComplete {
		onboarded, err := s.onboarding.CheckOnboardingStatus(ctx, driverID)
		if err != nil {
			return nil, NewInternalError(fmt.Errorf("查詢金流開通狀態失敗: %w", err))
		}
		if err := s.drivers.SetOnboardingComplete(ctx, driverID, onboarded); err != nil {
			s.logger.Warn().Err(err).
				Str("driver_id", driverID).
				Bool("onboarding_complete", onboarded).
				Msg("寫入金流開通狀態失敗")
		}
		if !onboarded {
			return nil, NewBadRequestError(msgOnboardingRequired)
		}
	}

	if driver.AdminCommission > s.config.CommissionThreshold {
		return nil, NewBadRequestError(msgCommissionDue)
	}

	details := model.NewOnlineDriverDetails(driver, now, location)
	created, err := s.presence.Create(ctx, details, s.config.HeartbeatTTL)
	if err != nil {
		return nil, NewInternalError(fmt.Errorf("建立在線記錄失敗: %w", err))
	}
	if !created {
		return nil, NewConflictError(msgOnlineElsewhere)
	}

	if err := s.drivers.SetPresenceStatus(ctx, driverID, true); err != nil {
		if rbErr := s.presence.Remove(ctx, driverID); rbErr != nil {
			s.logger.Error().Err(rbErr).
				Str("driver_id", driverID).
				Msg("回滾在線記錄失敗")
		}
		return nil, NewInternalError(fmt.Errorf("寫入上線狀態失敗: %w", err))
	}

	s.logger.Info().
		Str("driver_id", driverID).
		Str("driver", utils.GetDriverLabel(details)).
		Bool("has_location", location != nil).
		Msg("司機已上線")

	return &ToggleOnlineResult{Status: model.PresenceOnline, Message: msgNowOnline}, nil
}

// livePresence 回傳仍有心跳的在線記錄；心跳已消失的殘留記錄先就地結算下線
func (s *PresenceService) livePresence(ctx context.Context, driverID string) (*model.OnlineDriverDetails, error) {
	existing, err := s.presence.Get(ctx, driverID)
	if err != nil || existing == nil {
		return existing, err
	}
	alive, err := s.presence.IsAlive(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if alive {
		return existing, nil
	}

	outcome, err := s.reconcile(ctx, driverID, model.OfflineReasonHeartbeatExpired)
	metrics.RecordReconcile(outcome)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("driver_id", driverID).
		Str("outcome", string(outcome)).
		Msg("上線前清除心跳已逾時的在線記錄")
	if outcome == metrics.ReconcileRevived {
		return s.presence.Get(ctx, driverID)
	}
	return nil, nil
}

// goOffline 下線流程，可重複呼叫
func (s *PresenceService) goOffline(ctx context.Context, driverID string, reason model.OfflineReason) (*ToggleOnlineResult, error) {
	details, err := s.presence.Take(ctx, driverID)
	if err != nil {
		return nil, NewInternalError(fmt.Errorf("移除在線記錄失敗: %w", err))
	}
	s.closeSession(ctx, driverID, details, reason)

	if err := s.markOffline(ctx, driverID); err != nil {
		return nil, err
	}
	return &ToggleOnlineResult{Status: model.PresenceOffline, Message: msgNowOffline}, nil
}

// closeSession 結算已取出的在線記錄，失敗只記錄不重試
func (s *PresenceService) closeSession(ctx context.Context, driverID string, details *model.OnlineDriverDetails, reason model.OfflineReason) {
	if details == nil {
		s.logger.Debug().
			Str("driver_id", driverID).
			Str("reason", string(reason)).
			Msg("沒有在線記錄，略過結算")
		return
	}

	var minutes int64
	if details.HasSessionStart() {
		var err error
		minutes, err = s.sessions.AddSessionMinutes(ctx, driverID, details.SessionStart, s.now())
		if err != nil {
			s.logger.Error().Err(err).
				Str("driver_id", driverID).
				Str("reason", string(reason)).
				Time("session_start", details.SessionStart).
				Msg("上線分鐘結算失敗，本段時數不再補記")
		}
	}

	s.logger.Info().
		Str("driver_id", driverID).
		Str("driver", utils.GetDriverLabel(details)).
		Str("reason", string(reason)).
		Int64("minutes", minutes).
		Msg("司機已下線")
}

func (s *PresenceService) markOffline(ctx context.Context, driverID string) error {
	if err := s.drivers.SetPresenceStatus(ctx, driverID, false); err != nil {
		if errors.Is(err, interfaces.ErrDriverNotFound) {
			s.logger.Warn().
				Str("driver_id", driverID).
				Msg("下線時找不到司機主檔")
			return nil
		}
		return NewInternalError(fmt.Errorf("寫入下線狀態失敗: %w", err))
	}
	return nil
}

// ForceOffline 強制下線（管理員或系統觸發），與司機主動下線走同一流程
func (s *PresenceService) ForceOffline(ctx context.Context, driverID string, reason model.OfflineReason) (*ToggleOnlineResult, error) {
	start := time.Now()
	ctx, span := infra.StartPresenceSpan(ctx, "force_offline",
		infra.AttrDriverID(driverID),
		infra.AttrString("offline.reason", string(reason)),
	)
	defer span.End()

	source := metrics.SourceSystem
	if reason == model.OfflineReasonAdmin {
		source = metrics.SourceAdmin
	}

	result, err := s.goOffline(ctx, driverID, reason)
	if err != nil {
		svcErr := AsServiceError(err)
		infra.RecordOperationError(span, svcErr, driverID, "force offline failed")
		metrics.RecordPresenceOperation(metrics.OperationForceOffline, metrics.StatusError, source, time.Since(start))
		return nil, svcErr
	}
	infra.MarkSuccess(span)
	metrics.RecordPresenceOperation(metrics.OperationForceOffline, metrics.StatusSuccess, source, time.Since(start))
	return result, nil
}

// ReconcileExpiredHeartbeat 心跳逾時後重新確認，仍無心跳才強制下線
func (s *PresenceService) ReconcileExpiredHeartbeat(ctx context.Context, driverID string, reason model.OfflineReason) (metrics.ReconcileOutcome, error) {
	ctx, span := infra.StartPresenceSpan(ctx, "reconcile_heartbeat",
		infra.AttrDriverID(driverID),
		infra.AttrString("offline.reason", string(reason)),
	)
	defer span.End()

	outcome, err := s.reconcile(ctx, driverID, reason)
	metrics.RecordReconcile(outcome)
	infra.SetAttributes(span, infra.AttrString("reconcile.outcome", string(outcome)))
	if err != nil {
		infra.RecordOperationError(span, err, driverID, "reconcile failed")
		return outcome, err
	}
	infra.MarkSuccess(span)
	return outcome, nil
}

func (s *PresenceService) reconcile(ctx context.Context, driverID string, reason model.OfflineReason) (metrics.ReconcileOutcome, error) {
	alive, err := s.presence.IsAlive(ctx, driverID)
	if err != nil {
		return metrics.ReconcileFailed, fmt.Errorf("讀取心跳失敗: %w", err)
	}
	if alive {
		s.logger.Info().
			Str("driver_id", driverID).
			Msg("心跳已恢復，略過強制下線")
		return metrics.ReconcileRevived, nil
	}

	details, err := s.presence.TakeExpired(ctx, driverID)
	if err != nil {
		return metrics.ReconcileFailed, fmt.Errorf("取出逾時在線記錄失敗: %w", err)
	}
	if details == nil {
		// 取出前心跳恢復，或已被其他流程下線
		alive, err := s.presence.IsAlive(ctx, driverID)
		if err == nil && alive {
			return metrics.ReconcileRevived, nil
		}
		s.logger.Debug().
			Str("driver_id", driverID).
			Msg("在線記錄已不存在，略過強制下線")
		return metrics.ReconcileAlreadyOffline, nil
	}

	s.closeSession(ctx, driverID, details, reason)
	if err := s.markOffline(ctx, driverID); err != nil {
		return metrics.ReconcileFailed, err
	}
	return metrics.ReconcileForcedOffline, nil
}

// RefreshHeartbeat 延長心跳
func (s *PresenceService) RefreshHeartbeat(ctx context.Context, driverID string, source metrics.OperationSource) error {
	start := time.Now()
	ok, err := s.presence.Refresh(ctx, driverID, s.now(), s.config.HeartbeatTTL)
	if err != nil {
		metrics.RecordPresenceOperation(metrics.OperationHeartbeat, metrics.StatusError, source, time.Since(start))
		return NewInternalError(fmt.Errorf("更新心跳失敗: %w", err))
	}
	if !ok {
		metrics.RecordPresenceOperation(metrics.OperationHeartbeat, metrics.StatusRejected, source, time.Since(start))
		return NewNotFoundError(msgDriverNotOnline)
	}
	metrics.RecordPresenceOperation(metrics.OperationHeartbeat, metrics.StatusSuccess, source, time.Since(start))
	return nil
}

// UpdateLiveLocation 更新即時位置，同時視為一次心跳
func (s *PresenceService) UpdateLiveLocation(ctx context.Context, driverID string, location model.GeoPoint, source metrics.OperationSource) error {
	start := time.Now()
	if !location.Valid() {
		metrics.RecordPresenceOperation(metrics.OperationLocationUpdate, metrics.StatusRejected, source, time.Since(start))
		return NewBadRequestError(msgInvalidCoordinates)
	}
	ok, err := s.presence.UpdateLocation(ctx, driverID, location, s.now(), s.config.HeartbeatTTL)
	if err != nil {
		metrics.RecordPresenceOperation(metrics.OperationLocationUpdate, metrics.StatusError, source, time.Since(start))
		return NewInternalError(fmt.Errorf("更新位置失敗: %w", err))
	}
	if !ok {
		metrics.RecordPresenceOperation(metrics.OperationLocationUpdate, metrics.StatusRejected, source, time.Since(start))
		return NewNotFoundError(msgDriverNotOnline)
	}
	metrics.RecordPresenceOperation(metrics.OperationLocationUpdate, metrics.StatusSuccess, source, time.Since(start))
	return nil
}

// GetPresence 取得在線快照
func (s *PresenceService) GetPresence(ctx context.Context, driverID string) (*model.OnlineDriverDetails, error) {
	details, err := s.presence.Get(ctx, driverID)
	if err != nil {
		return nil, NewInternalError(fmt.Errorf("讀取在線記錄失敗: %w", err))
	}
	if details == nil {
		return nil, NewNotFoundError(msgDriverNotOnline)
	}
	return details, nil
}

// ListPresentDriverIDs 列出目前有在線記錄的司機
func (s *PresenceService) ListPresentDriverIDs(ctx context.Context) ([]string, error) {
	return s.presence.ListDriverIDs(ctx)
}

// IsHeartbeatAlive 心跳 key 是否仍存在
func (s *PresenceService) IsHeartbeatAlive(ctx context.Context, driverID string) (bool, error) {
	return s.presence.IsAlive(ctx, driverID)
}

// expiredDocumentsMessage 例："Your license, rc have expired. Please update before going online."
func expiredDocumentsMessage(expired []model.DocumentType) string {
	names := make([]string, 0, len(expired))
	for _, d := range expired {
		names = append(names, d.String())
	}
	verb := "has"
	if len(names) > 1 {
		verb = "have"
	}
	return fmt.Sprintf("Your %s %s expired. Please update before going online.", strings.Join(names, ", "), verb)
}
