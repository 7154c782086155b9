package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"driver-service/auth"
	"driver-service/model"

	"github.com/danielgtaylor/huma/v2"
)

// DriverLookup 依 ID 取得司機
type DriverLookup interface {
	FindByID(ctx context.Context, driverID string) (*model.Driver, error)
}

type DriverAuthMiddleware struct {
	drivers      DriverLookup
	jwtSecretKey string
}

func NewDriverAuthMiddleware(drivers DriverLookup, jwtSecretKey string) *DriverAuthMiddleware {
	return &DriverAuthMiddleware{
		drivers:      drivers,
		jwtSecretKey: jwtSecretKey,
	}
}

func writeUnauthorized(ctx huma.Context, message, detail string) {
	ctx.SetStatus(http.StatusUnauthorized)
	ctx.SetHeader("Content-Type", "application/json")
	body, _ := json.Marshal(map[string]interface{}{
		"code":    http.StatusUnauthorized,
		"message": message,
		"detail":  detail,
	})
	ctx.BodyWriter().Write(body)
}

// bearerToken 從 Authorization header 取出 token
func bearerToken(ctx huma.Context) (string, bool) {
	authHeader := ctx.Header("Authorization")
	if authHeader == "" {
		writeUnauthorized(ctx, "缺少授權標頭", "missing authorization header")
		return "", false
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		writeUnauthorized(ctx, "無效的授權格式", "invalid authorization format")
		return "", false
	}
	return parts[1], true
}

func (m *DriverAuthMiddleware) Auth() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		tokenString, ok := bearerToken(ctx)
		if !ok {
			return
		}

		claims, err := auth.ValidateJWTToken(tokenString, m.jwtSecretKey)
		if err != nil {
			writeUnauthorized(ctx, "無效的token", err.Error())
			return
		}

		driverID, err := auth.ExtractSubject(claims, model.TokenTypeDriver)
		if err != nil {
			writeUnauthorized(ctx, "無效的token類型", err.Error())
			return
		}

		driver, err := m.drivers.FindByID(ctx.Context(), driverID)
		if err != nil {
			writeUnauthorized(ctx, "司機不存在", err.Error())
			return
		}

		// 讓後續的 handler 可以取得司機
		next(huma.WithContext(ctx, auth.WithDriver(ctx.Context(), driver)))
	}
}
