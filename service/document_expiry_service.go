package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"driver-service/infra"
	"driver-service/metrics"
	"driver-service/model"
	"driver-service/service/interfaces"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DocumentExpiryExchange 文件到期通知使用的 exchange
	DocumentExpiryExchange = "driver"

	DefaultExpiryThresholdDays         = 7
	DefaultMinNotificationIntervalDays = 7
	dayDuration                        = 24 * time.Hour
)

// ExpiryScanParams 掃描參數
type ExpiryScanParams struct {
	ThresholdDays               int `json:"thresholdDays"`
	MinNotificationIntervalDays int `json:"minNotificationIntervalDays"`
}

// ExpiryScanSummary 單次掃描結果
type ExpiryScanSummary struct {
	Scanned  int       `json:"scanned" doc:"查詢到的司機數"`
	Notified int       `json:"notified" doc:"已發送通知的司機數"`
	Skipped  int       `json:"skipped" doc:"精確計算後無需通知的司機數"`
	Failed   int       `json:"failed" doc:"處理失敗的司機數"`
	RanAt    time.Time `json:"ranAt" doc:"掃描時間"`
}

// DocumentExpiryService 每日掃描即將到期的司機文件並發送通知
type DocumentExpiryService struct {
	logger    zerolog.Logger
	drivers   interfaces.DriverRepository
	publisher interfaces.EventPublisher
	now       func() time.Time
	newID     func() string
}

func NewDocumentExpiryService(logger zerolog.Logger, drivers interfaces.DriverRepository, publisher interfaces.EventPublisher) *DocumentExpiryService {
	return &DocumentExpiryService{
		logger:    logger.With().Str("module", "document_expiry_service").Logger(),
		drivers:   drivers,
		publisher: publisher,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// SetClock 替換時間來源
func (s *DocumentExpiryService) SetClock(now func() time.Time) {
	s.now = now
}

// DaysLeft 距離到期的天數，無條件進位；已過期為負數
func DaysLeft(expiresAt, now time.Time) int {
	return int(math.Ceil(float64(expiresAt.Sub(now)) / float64(dayDuration)))
}

// Run 執行一次掃描，只有查詢無法開始時才回傳錯誤
func (s *DocumentExpiryService) Run(ctx context.Context, params ExpiryScanParams) (*ExpiryScanSummary, error) {
	if params.ThresholdDays <= 0 {
		params.ThresholdDays = DefaultExpiryThresholdDays
	}
	if params.MinNotificationIntervalDays <= 0 {
		params.MinNotificationIntervalDays = DefaultMinNotificationIntervalDays
	}

	start := time.Now()
	ctx, span := infra.StartJobSpan(ctx, "document_expiry_scan",
		infra.AttrInt("expiry.threshold_days", params.ThresholdDays),
		infra.AttrInt("expiry.min_interval_days", params.MinNotificationIntervalDays),
	)
	defer span.End()

	now := s.now()
	summary := &ExpiryScanSummary{RanAt: now}
	threshold := now.Add(time.Duration(params.ThresholdDays) * dayDuration)
	notifiedBefore := now.Add(-time.Duration(params.MinNotificationIntervalDays) * dayDuration)

	cursor, err := s.drivers.FindExpiringDocuments(ctx, threshold, notifiedBefore)
	if err != nil {
		infra.RecordError(span, err, "查詢即將到期文件失敗")
		metrics.RecordServiceOperation(metrics.ServiceTypeDocumentExpiry, metrics.OperationDocumentScan, metrics.StatusError, metrics.SourceSystem, time.Since(start))
		return nil, fmt.Errorf("查詢即將到期文件失敗: %w", err)
	}
	defer func() {
		if err := cursor.Close(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("關閉文件到期游標失敗")
		}
	}()

	for cursor.Next(ctx) {
		summary.Scanned++

		var driver model.Driver
		if err := cursor.Decode(&driver); err != nil {
			summary.Failed++
			metrics.RecordExpiryNotification(metrics.StatusError)
			s.logger.Error().Err(err).Msg("司機資料解析失敗，略過")
			continue
		}

		notified, err := s.notifyDriver(ctx, &driver, now, params.ThresholdDays)
		switch {
		case err != nil:
			summary.Failed++
			metrics.RecordExpiryNotification(metrics.StatusError)
			s.logger.Error().Err(err).
				Str("driver_id", driver.HexID()).
				Msg("文件到期通知失敗，繼續處理下一位司機")
		case notified:
			summary.Notified++
			metrics.RecordExpiryNotification(metrics.StatusSuccess)
		default:
			summary.Skipped++
			metrics.RecordExpiryNotification(metrics.StatusRejected)
		}
	}
	if err := cursor.Err(); err != nil {
		// 游標中途失敗，已處理的司機照常計入
		s.logger.Error().Err(err).
			Int("scanned", summary.Scanned).
			Msg("文件到期游標中斷")
	}

	infra.SetAttributes(span,
		infra.AttrInt("expiry.scanned", summary.Scanned),
		infra.AttrInt("expiry.notified", summary.Notified),
		infra.AttrInt("expiry.skipped", summary.Skipped),
		infra.AttrInt("expiry.failed", summary.Failed),
	)
	infra.MarkSuccess(span)
	metrics.RecordServiceOperation(metrics.ServiceTypeDocumentExpiry, metrics.OperationDocumentScan, metrics.StatusSuccess, metrics.SourceSystem, time.Since(start))

	s.logger.Info().
		Int("scanned", summary.Scanned).
		Int("notified", summary.Notified).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("took", time.Since(start)).
		Msg("文件到期掃描完成")
	return summary, nil
}

// notifyDriver 精確計算每份文件的剩餘天數，彙整成一則通知發送
func (s *DocumentExpiryService) notifyDriver(ctx context.Context, driver *model.Driver, now time.Time, thresholdDays int) (bool, error) {
	notification := BuildExpiryNotification(driver, now, thresholdDays)
	if notification == nil {
		s.logger.Debug().
			Str("driver_id", driver.HexID()).
			Msg("精確計算後沒有需通知的文件")
		return false, nil
	}
	notification.MessageID = s.newID()

	if err := s.publisher.Publish(ctx, DocumentExpiryExchange, model.DocumentExpiryRoutingKey, notification); err != nil {
		return false, fmt.Errorf("發送文件到期通知失敗: %w", err)
	}

	// 發送成功後才記錄，寫入失敗下次掃描可能重送
	if err := s.drivers.MarkExpiryNotified(ctx, driver.HexID(), now, notification.DocumentTypes()); err != nil {
		return false, fmt.Errorf("記錄文件到期通知時間失敗: %w", err)
	}

	s.logger.Info().
		Str("driver_id", driver.HexID()).
		Int("documents", len(notification.Documents)).
		Str("message_id", notification.MessageID).
		Msg("文件到期通知已發送")
	return true, nil
}

// BuildExpiryNotification 彙整需通知的文件，沒有符合的文件時回傳 nil
func BuildExpiryNotification(driver *model.Driver, now time.Time, thresholdDays int) *model.DocumentExpiryNotification {
	var docs []model.ExpiringDocument
	for _, doc := range driver.DocumentExpiries() {
		daysLeft := DaysLeft(doc.ExpiresAt, now)
		if daysLeft > thresholdDays {
			continue
		}
		docs = append(docs, model.ExpiringDocument{
			DocumentType: doc.Type,
			ExpiryDate:   doc.ExpiresAt,
			DaysLeft:     daysLeft,
		})
	}
	if len(docs) == 0 {
		return nil
	}
	return &model.DocumentExpiryNotification{
		Service:     model.DriverServiceName,
		ReceiverID:  driver.HexID(),
		Documents:   docs,
		GeneratedAt: now,
		Type:        model.DocumentExpiryRoutingKey,
	}
}
