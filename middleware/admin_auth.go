package middleware

import (
	"driver-service/auth"
	"driver-service/model"

	"github.com/danielgtaylor/huma/v2"
)

// AdminAuthMiddleware 管理員 token 驗證
type AdminAuthMiddleware struct {
	jwtSecretKey string
}

func NewAdminAuthMiddleware(jwtSecretKey string) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{jwtSecretKey: jwtSecretKey}
}

func (m *AdminAuthMiddleware) Auth() func(huma.Context, func(huma.Context)) {
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

		adminID, err := auth.ExtractSubject(claims, model.TokenTypeAdmin)
		if err != nil {
			writeUnauthorized(ctx, "無效的token類型", err.Error())
			return
		}

		next(huma.WithContext(ctx, auth.WithAdmin(ctx.Context(), adminID)))
	}
}
