package infra

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName = "driver-service"
)

// 全局 tracer 實例
var globalTracer trace.Tracer

// InitTracer 初始化全局 tracer
func InitTracer() {
	globalTracer = otel.Tracer(ServiceName)
}

// GetTracer 獲取全局 tracer
func GetTracer() trace.Tracer {
	if globalTracer == nil {
		InitTracer()
	}
	return globalTracer
}

// TracingHelper 提供便捷的 tracing 方法
type TracingHelper struct {
	tracer trace.Tracer
}

// NewTracingHelper 創建新的 TracingHelper
func NewTracingHelper() *TracingHelper {
	return &TracingHelper{
		tracer: GetTracer(),
	}
}

// StartSpan 開始一個新的 span
func (t *TracingHelper) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, operationName)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// AddEvent 向 span 添加事件
func (t *TracingHelper) AddEvent(span trace.Span, eventName string, attrs ...attribute.KeyValue) {
	if span != nil {
		span.AddEvent(eventName, trace.WithAttributes(attrs...))
	}
}

// SetAttributes 設置 span 屬性
func (t *TracingHelper) SetAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// RecordError 記錄錯誤到 span
func (t *TracingHelper) RecordError(span trace.Span, err error, description string, attrs ...attribute.KeyValue) {
	if span != nil {
		span.RecordError(err)
		if description != "" {
			span.SetStatus(codes.Error, description)
		}
		if len(attrs) > 0 {
			span.SetAttributes(attrs...)
		}
	}
}

// MarkSuccess 標記 span 為成功
func (t *TracingHelper) MarkSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
		if len(attrs) > 0 {
			span.SetAttributes(attrs...)
		}
	}
}

// WithSpan 在 span 中執行函數（自動管理 span 生命週期）
func (t *TracingHelper) WithSpan(ctx context.Context, operationName string, fn func(context.Context, trace.Span) error, attrs ...attribute.KeyValue) error {
	ctx, span := t.StartSpan(ctx, operationName, attrs...)
	defer span.End()

	err := fn(ctx, span)
	if err != nil {
		t.RecordError(span, err, "Operation failed")
		return err
	}

	t.MarkSuccess(span)
	return nil
}

// 全局便捷函數
var defaultHelper = NewTracingHelper()

// StartSpan 全局函數，開始一個新的 span
func StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return defaultHelper.StartSpan(ctx, operationName, attrs...)
}

// AddEvent 全局函數，向 span 添加事件
func AddEvent(span trace.Span, eventName string, attrs ...attribute.KeyValue) {
	defaultHelper.AddEvent(span, eventName, attrs...)
}

// SetAttributes 全局函數，設置 span 屬性
func SetAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	defaultHelper.SetAttributes(span, attrs...)
}

// RecordError 全局函數，記錄錯誤到 span
func RecordError(span trace.Span, err error, description string, attrs ...attribute.KeyValue) {
	defaultHelper.RecordError(span, err, description, attrs...)
}

// MarkSuccess 全局函數，標記 span 為成功
func MarkSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	defaultHelper.MarkSuccess(span, attrs...)
}

// WithSpan 全局函數，在 span 中執行函數
func WithSpan(ctx context.Context, operationName string, fn func(context.Context, trace.Span) error, attrs ...attribute.KeyValue) error {
	return defaultHelper.WithSpan(ctx, operationName, fn, attrs...)
}

// 常用的屬性建構函數
func AttrString(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func AttrInt(key string, value int) attribute.KeyValue {
	return attribute.Int(key, value)
}

func AttrBool(key string, value bool) attribute.KeyValue {
	return attribute.Bool(key, value)
}

// 業務相關的屬性建構函數
func AttrDriverID(id string) attribute.KeyValue {
	return attribute.String("driver.id", id)
}

func AttrOperation(operation string) attribute.KeyValue {
	return attribute.String("service.operation", operation)
}

func AttrPresenceDirection(direction string) attribute.KeyValue {
	return attribute.String("presence.direction", direction)
}

// Presence 專用的 tracing helper 函數
func StartPresenceSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	operationName := "presence_" + operation
	baseAttrs := []attribute.KeyValue{
		AttrOperation(operation),
	}
	baseAttrs = append(baseAttrs, attrs...)
	return StartSpan(ctx, operationName, baseAttrs...)
}

// Background job 專用的 tracing helper 函數
func StartJobSpan(ctx context.Context, job string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	operationName := "job_" + job
	baseAttrs := []attribute.KeyValue{
		AttrOperation(job),
	}
	baseAttrs = append(baseAttrs, attrs...)
	return StartSpan(ctx, operationName, baseAttrs...)
}

// 記錄操作失敗
func RecordOperationError(span trace.Span, err error, driverID, description string) {
	RecordError(span, err, description,
		AttrDriverID(driverID),
		AttrString("error", err.Error()),
		AttrBool("operation.success", false),
	)
	AddEvent(span, "operation_failed",
		AttrString("error", err.Error()),
	)
}
