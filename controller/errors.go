package controller

import (
	"driver-service/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
)

// toHumaError 將服務層錯誤轉成對應的 HTTP 狀態碼
func toHumaError(logger zerolog.Logger, err error, driverID string) error {
	svcErr := service.AsServiceError(err)
	switch svcErr.Kind {
	case service.ErrorKindNotFound:
		return huma.Error404NotFound(svcErr.Message)
	case service.ErrorKindConflict:
		return huma.Error409Conflict(svcErr.Message)
	case service.ErrorKindBadRequest:
		return huma.Error400BadRequest(svcErr.Message)
	default:
		logger.Error().Err(svcErr.Cause).Str("driver_id", driverID).Msg("內部錯誤")
		return huma.Error500InternalServerError(svcErr.Message)
	}
}
