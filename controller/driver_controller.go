package controller

import (
	"context"

	"driver-service/auth"
	"driver-service/data-models/driver"
	"driver-service/metrics"
	"driver-service/middleware"
	"driver-service/model"
	"driver-service/service"
	"driver-service/utils"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
)

type DriverController struct {
	logger         zerolog.Logger
	presence       *service.PresenceService
	accountant     *service.SessionAccountant
	authMiddleware *middleware.DriverAuthMiddleware
}

func NewDriverController(
	logger zerolog.Logger,
	presence *service.PresenceService,
	accountant *service.SessionAccountant,
	authMiddleware *middleware.DriverAuthMiddleware,
) *DriverController {
	return &DriverController{
		logger:         logger.With().Str("module", "driver_controller").Logger(),
		presence:       presence,
		accountant:     accountant,
		authMiddleware: authMiddleware,
	}
}

// currentDriverID 從 token 取得司機ID
func (c *DriverController) currentDriverID(ctx context.Context) (string, error) {
	current, err := auth.GetDriverFromContext(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("無法從token中獲取司機資訊")
		return "", huma.Error401Unauthorized("無法從token中獲取司機資訊")
	}
	return current.HexID(), nil
}

func (c *DriverController) RegisterRoutes(api huma.API) {
	security := []map[string][]string{
		{"bearerAuth": {}},
	}

	// 司機上下線
	huma.Register(api, huma.Operation{
		OperationID: "toggle-online-status",
		Method:      "PUT",
		Path:        "/drivers/online-status",
		Summary:     "切換司機上下線",
		Description: "上線前會檢查行程中、其他裝置在線、金流開通、未繳抽成與文件到期；下線會結算本段上線時數。",
		Tags:        []string{"drivers"},
		Middlewares: huma.Middlewares{c.authMiddleware.Auth()},
		Security:    security,
	}, func(ctx context.Context, input *driver.ToggleOnlineInput) (*driver.ToggleOnlineResponse, error) {
		driverID, err := c.currentDriverID(ctx)
		if err != nil {
			return nil, err
		}

		result, err := c.presence.ToggleOnline(ctx, service.ToggleOnlineInput{
			DriverID: driverID,
			GoOnline: input.Body.Online,
			Location: input.Location(),
			Source:   metrics.SourceAPI,
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("driver_id", driverID).Bool("online", input.Body.Online).Msg("切換上下線失敗")
			return nil, toHumaError(c.logger, err, driverID)
		}

		resp := &driver.ToggleOnlineResponse{}
		resp.Body.Status = result.Status
		resp.Body.Message = result.Message
		return resp, nil
	})

	// 心跳
	huma.Register(api, huma.Operation{
		OperationID: "driver-heartbeat",
		Method:      "POST",
		Path:        "/drivers/heartbeat",
		Summary:     "司機心跳",
		Description: "延長心跳存活時間，未上線時回傳 404。",
		Tags:        []string{"drivers"},
		Middlewares: huma.Middlewares{c.authMiddleware.Auth()},
		Security:    security,
	}, func(ctx context.Context, input *struct{}) (*driver.SimpleResponse, error) {
		driverID, err := c.currentDriverID(ctx)
		if err != nil {
			return nil, err
		}

		if err := c.presence.RefreshHeartbeat(ctx, driverID, metrics.SourceAPI); err != nil {
			return nil, toHumaError(c.logger, err, driverID)
		}

		resp := &driver.SimpleResponse{}
		resp.Body.Success = true
		resp.Body.Message = "心跳已更新"
		return resp, nil
	})

	// 更新即時位置
	huma.Register(api, huma.Operation{
		OperationID: "update-driver-location",
		Method:      "PUT",
		Path:        "/drivers/location",
		Summary:     "更新司機即時位置",
		Description: "更新在線記錄中的位置，同時延長心跳。",
		Tags:        []string{"drivers"},
		Middlewares: huma.Middlewares{c.authMiddleware.Auth()},
		Security:    security,
	}, func(ctx context.Context, input *driver.UpdateLocationInput) (*driver.SimpleResponse, error) {
		driverID, err := c.currentDriverID(ctx)
		if err != nil {
			return nil, err
		}

		location := model.GeoPoint{Lat: input.Body.Lat, Lng: input.Body.Lng}
		if err := c.presence.UpdateLiveLocation(ctx, driverID, location, metrics.SourceAPI); err != nil {
			return nil, toHumaError(c.logger, err, driverID)
		}

		resp := &driver.SimpleResponse{}
		resp.Body.Success = true
		resp.Body.Message = "司機位置已更新"
		return resp, nil
	})

	// 在線快照
	huma.Register(api, huma.Operation{
		OperationID: "get-driver-presence",
		Method:      "GET",
		Path:        "/drivers/presence",
		Summary:     "取得目前在線記錄",
		Tags:        []string{"drivers"},
		Middlewares: huma.Middlewares{c.authMiddleware.Auth()},
		Security:    security,
	}, func(ctx context.Context, input *struct{}) (*driver.PresenceResponse, error) {
		driverID, err := c.currentDriverID(ctx)
		if err != nil {
			return nil, err
		}

		details, err := c.presence.GetPresence(ctx, driverID)
		if err != nil {
			return nil, toHumaError(c.logger, err, driverID)
		}
		return &driver.PresenceResponse{Body: details}, nil
	})

	// 首頁今日概況
	huma.Register(api, huma.Operation{
		OperationID: "get-driver-dashboard",
		Method:      "GET",
		Path:        "/drivers/dashboard",
		Summary:     "司機首頁今日概況",
		Tags:        []string{"drivers"},
		Middlewares: huma.Middlewares{c.authMiddleware.Auth()},
		Security:    security,
	}, func(ctx context.Context, input *struct{}) (*driver.DashboardResponse, error) {
		driverID, err := c.currentDriverID(ctx)
		if err != nil {
			return nil, err
		}

		dashboard, err := c.accountant.GetMainDashboard(ctx, driverID)
		if err != nil {
			return nil, toHumaError(c.logger, err, driverID)
		}
		return &driver.DashboardResponse{Body: dashboard}, nil
	})

	// 活動統計
	huma.Register(api, huma.Operation{
		OperationID: "get-driver-activity",
		Method:      "GET",
		Path:        "/drivers/activity",
		Summary:     "司機活動統計",
		Tags:        []string{"drivers"},
		Middlewares: huma.Middlewares{c.authMiddleware.Auth()},
		Security:    security,
	}, func(ctx context.Context, input *driver.ActivityInput) (*driver.ActivityResponse, error) {
		driverID, err := c.currentDriverID(ctx)
		if err != nil {
			return nil, err
		}

		rows, err := c.accountant.GetDriverStats(ctx, driverID, model.StatsFilter(input.Filter))
		if err != nil {
			return nil, toHumaError(c.logger, err, driverID)
		}

		resp := &driver.ActivityResponse{}
		resp.Body.Filter = input.Filter
		resp.Body.Rows = rows
		return resp, nil
	})

	// 今日統計
	huma.Register(api, huma.Operation{
		OperationID: "get-driver-today-stats",
		Method:      "GET",
		Path:        "/drivers/stats/today",
		Summary:     "司機今日統計",
		Tags:        []string{"drivers"},
		Middlewares: huma.Middlewares{c.authMiddleware.Auth()},
		Security:    security,
	}, func(ctx context.Context, input *struct{}) (*driver.TodayStatsResponse, error) {
		driverID, err := c.currentDriverID(ctx)
		if err != nil {
			return nil, err
		}

		stats, err := c.accountant.GetTodayStats(ctx, driverID)
		if err != nil {
			return nil, toHumaError(c.logger, err, driverID)
		}

		resp := &driver.TodayStatsResponse{}
		resp.Body.Date = utils.FormatDate(stats.Date, c.accountant.Location())
		resp.Body.Stats = stats
		return resp, nil
	})
}
