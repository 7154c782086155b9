package service

import (
	"errors"
	"fmt"
)

// ErrorKind 服務層錯誤分類
type ErrorKind string

const (
	ErrorKindNotFound   ErrorKind = "not_found"
	ErrorKindConflict   ErrorKind = "conflict"
	ErrorKindBadRequest ErrorKind = "bad_request"
	ErrorKindInternal   ErrorKind = "internal"
)

// internalMessage 內部錯誤一律回傳的訊息
const internalMessage = "something went wrong"

// ServiceError 可直接回給呼叫端的錯誤，Internal 只保留 Cause 供記錄
type ServiceError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// NewNotFoundError 資源不存在
func NewNotFoundError(msg string) *ServiceError {
	return &ServiceError{Kind: ErrorKindNotFound, Message: msg}
}

// NewConflictError 狀態衝突
func NewConflictError(msg string) *ServiceError {
	return &ServiceError{Kind: ErrorKindConflict, Message: msg}
}

// NewBadRequestError 驗證失敗
func NewBadRequestError(msg string) *ServiceError {
	return &ServiceError{Kind: ErrorKindBadRequest, Message: msg}
}

// NewInternalError 包裝非預期錯誤
func NewInternalError(cause error) *ServiceError {
	return &ServiceError{Kind: ErrorKindInternal, Message: internalMessage, Cause: cause}
}

// AsServiceError 已是 ServiceError 則原樣回傳，否則包成 Internal
func AsServiceError(err error) *ServiceError {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return NewInternalError(err)
}

// IsKind 判斷錯誤分類
func IsKind(err error, kind ErrorKind) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Kind == kind
}
