package auth

import (
	"context"
	"errors"
	"time"

	"driver-service/model"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	driverContextKey  contextKey = "driver"
	adminIDContextKey contextKey = "admin_id"
)

var (
	ErrDriverNotFound = errors.New("driver not found in context")
	ErrInvalidDriver  = errors.New("invalid driver type in context")
	ErrAdminNotFound  = errors.New("admin not found in context")
)

// JWT 驗證相關的通用錯誤
var (
	ErrInvalidToken            = errors.New("invalid token")
	ErrInvalidTokenType        = errors.New("invalid token type")
	ErrMissingDriverID         = errors.New("missing driver_id in token")
	ErrMissingAdminID          = errors.New("missing admin_id in token")
	ErrUnexpectedSigningMethod = errors.New("unexpected signing method")
)

// WithDriver 將驗證過的司機放入 context
func WithDriver(ctx context.Context, driver *model.Driver) context.Context {
	return context.WithValue(ctx, driverContextKey, driver)
}

func GetDriverFromContext(ctx context.Context) (*model.Driver, error) {
	driverValue := ctx.Value(driverContextKey)
	if driverValue == nil {
		return nil, ErrDriverNotFound
	}

	driver, ok := driverValue.(*model.Driver)
	if !ok {
		return nil, ErrInvalidDriver
	}

	return driver, nil
}

func WithAdmin(ctx context.Context, adminID string) context.Context {
	return context.WithValue(ctx, adminIDContextKey, adminID)
}

func GetAdminFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(adminIDContextKey).(string)
	if !ok || id == "" {
		return "", ErrAdminNotFound
	}
	return id, nil
}

// ValidateJWTToken 通用的 JWT token 驗證函數
func ValidateJWTToken(tokenString string, jwtSecretKey string) (map[string]interface{}, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnexpectedSigningMethod
		}
		return []byte(jwtSecretKey), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	result := make(map[string]interface{})
	for key, value := range claims {
		result[key] = value
	}

	return result, nil
}

// ExtractSubject 檢查 token 類型並取出對應的 ID
func ExtractSubject(claims map[string]interface{}, tokenType model.TokenType) (string, error) {
	t, ok := claims["type"].(string)
	if !ok || t != string(tokenType) {
		return "", ErrInvalidTokenType
	}

	switch tokenType {
	case model.TokenTypeDriver:
		id, ok := claims["driver_id"].(string)
		if !ok || id == "" {
			return "", ErrMissingDriverID
		}
		return id, nil
	case model.TokenTypeAdmin:
		id, ok := claims["admin_id"].(string)
		if !ok || id == "" {
			return "", ErrMissingAdminID
		}
		return id, nil
	}
	return "", ErrInvalidTokenType
}

// IssueToken 簽發 HS256 token
func IssueToken(secret string, tokenType model.TokenType, subjectID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"type": string(tokenType),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	switch tokenType {
	case model.TokenTypeDriver:
		claims["driver_id"] = subjectID
	case model.TokenTypeAdmin:
		claims["admin_id"] = subjectID
	default:
		return "", ErrInvalidTokenType
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
