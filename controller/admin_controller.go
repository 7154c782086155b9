package controller

import (
	"context"

	"driver-service/auth"
	"driver-service/background"
	"driver-service/data-models/admin"
	"driver-service/middleware"
	"driver-service/model"
	"driver-service/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
)

type AdminController struct {
	logger         zerolog.Logger
	presence       *service.PresenceService
	expiryJob      *background.DocumentExpiryScheduler
	authMiddleware *middleware.AdminAuthMiddleware
}

func NewAdminController(
	logger zerolog.Logger,
	presence *service.PresenceService,
	expiryJob *background.DocumentExpiryScheduler,
	authMiddleware *middleware.AdminAuthMiddleware,
) *AdminController {
	return &AdminController{
		logger:         logger.With().Str("module", "admin_controller").Logger(),
		presence:       presence,
		expiryJob:      expiryJob,
		authMiddleware: authMiddleware,
	}
}

func (c *AdminController) RegisterRoutes(api huma.API) {
	security := []map[string][]string{
		{"bearerAuth": {}},
	}

	// 手動執行文件到期掃描
	huma.Register(api, huma.Operation{
		OperationID: "run-document-expiry-scan",
		Method:      "POST",
		Path:        "/admin/jobs/document-expiry",
		Summary:     "立即執行文件到期掃描",
		Description: "與每日排程共用同一個執行中的掃描，重複觸發會等待並回傳同一份結果。",
		Tags:        []string{"admin"},
		Middlewares: huma.Middlewares{c.authMiddleware.Auth()},
		Security:    security,
	}, func(ctx context.Context, input *struct{}) (*admin.RunDocumentExpiryResponse, error) {
		adminID, _ := auth.GetAdminFromContext(ctx)

		summary, shared, err := c.expiryJob.TriggerNow(ctx)
		if err != nil {
			c.logger.Error().Err(err).Str("admin_id", adminID).Msg("手動執行文件到期掃描失敗")
			return nil, huma.Error500InternalServerError("文件到期掃描失敗")
		}

		c.logger.Info().
			Str("admin_id", adminID).
			Int("scanned", summary.Scanned).
			Int("notified", summary.Notified).
			Bool("shared", shared).
			Msg("手動執行文件到期掃描完成")

		resp := &admin.RunDocumentExpiryResponse{}
		resp.Body.Scanned = summary.Scanned
		resp.Body.Notified = summary.Notified
		resp.Body.Skipped = summary.Skipped
		resp.Body.Failed = summary.Failed
		resp.Body.RanAt = summary.RanAt
		resp.Body.Shared = shared
		return resp, nil
	})

	// 強制司機下線
	huma.Register(api, huma.Operation{
		OperationID: "force-driver-offline",
		Method:      "POST",
		Path:        "/admin/drivers/{driverId}/force-offline",
		Summary:     "強制司機下線",
		Description: "移除在線記錄並結算本段上線時數，司機未在線時同樣回傳成功。",
		Tags:        []string{"admin"},
		Middlewares: huma.Middlewares{c.authMiddleware.Auth()},
		Security:    security,
	}, func(ctx context.Context, input *admin.ForceOfflineInput) (*admin.ForceOfflineResponse, error) {
		adminID, _ := auth.GetAdminFromContext(ctx)

		result, err := c.presence.ForceOffline(ctx, input.DriverID, model.OfflineReasonAdmin)
		if err != nil {
			return nil, toHumaError(c.logger, err, input.DriverID)
		}

		c.logger.Info().
			Str("admin_id", adminID).
			Str("driver_id", input.DriverID).
			Msg("管理員強制司機下線")

		resp := &admin.ForceOfflineResponse{}
		resp.Body.Status = result.Status
		resp.Body.Message = result.Message
		return resp, nil
	})

	// 查詢司機在線記錄
	huma.Register(api, huma.Operation{
		OperationID: "admin-get-driver-presence",
		Method:      "GET",
		Path:        "/admin/drivers/{driverId}/presence",
		Summary:     "查詢司機在線記錄",
		Tags:        []string{"admin"},
		Middlewares: huma.Middlewares{c.authMiddleware.Auth()},
		Security:    security,
	}, func(ctx context.Context, input *admin.PresenceInput) (*admin.PresenceResponse, error) {
		details, err := c.presence.GetPresence(ctx, input.DriverID)
		if err != nil {
			return nil, toHumaError(c.logger, err, input.DriverID)
		}
		return &admin.PresenceResponse{Body: details}, nil
	})

	// 目前在線的司機
	huma.Register(api, huma.Operation{
		OperationID: "admin-list-online-drivers",
		Method:      "GET",
		Path:        "/admin/drivers/online",
		Summary:     "列出有在線記錄的司機",
		Tags:        []string{"admin"},
		Middlewares: huma.Middlewares{c.authMiddleware.Auth()},
		Security:    security,
	}, func(ctx context.Context, input *struct{}) (*admin.OnlineDriversResponse, error) {
		ids, err := c.presence.ListPresentDriverIDs(ctx)
		if err != nil {
			c.logger.Error().Err(err).Msg("列出在線司機失敗")
			return nil, huma.Error500InternalServerError("列出在線司機失敗")
		}
		if ids == nil {
			ids = []string{}
		}

		resp := &admin.OnlineDriversResponse{}
		resp.Body.DriverIDs = ids
		resp.Body.Count = len(ids)
		return resp, nil
	})
}
