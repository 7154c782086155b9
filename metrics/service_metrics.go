package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ServiceType 定義服務類型
type ServiceType string

const (
	ServiceTypePresence       ServiceType = "presence"
	ServiceTypeAccounting     ServiceType = "accounting"
	ServiceTypeDocumentExpiry ServiceType = "document_expiry"
)

// OperationType 定義操作類型
type OperationType string

const (
	OperationGoOnline        OperationType = "go_online"
	OperationGoOffline       OperationType = "go_offline"
	OperationForceOffline    OperationType = "force_offline"
	OperationHeartbeat       OperationType = "heartbeat"
	OperationLocationUpdate  OperationType = "location_update"
	OperationSessionMinutes  OperationType = "session_minutes"
	OperationRideCount       OperationType = "ride_count"
	OperationEarnings        OperationType = "earnings"
	OperationDocumentScan    OperationType = "document_scan"
	OperationDocumentPublish OperationType = "document_publish"
)

// OperationStatus 定義操作狀態
type OperationStatus string

const (
	StatusSuccess  OperationStatus = "success"
	StatusRejected OperationStatus = "rejected"
	StatusError    OperationStatus = "error"
)

// OperationSource 定義操作來源
type OperationSource string

const (
	SourceAPI       OperationSource = "api"
	SourceWebSocket OperationSource = "websocket"
	SourceMQTT      OperationSource = "mqtt"
	SourceQueue     OperationSource = "queue"
	SourceSystem    OperationSource = "system"
	SourceAdmin     OperationSource = "admin"
)

// ReconcileOutcome 心跳逾時對帳結果
type ReconcileOutcome string

const (
	ReconcileRevived        ReconcileOutcome = "revived"
	ReconcileForcedOffline  ReconcileOutcome = "forced_offline"
	ReconcileAlreadyOffline ReconcileOutcome = "already_offline"
	ReconcileFailed         ReconcileOutcome = "failed"
)

var (
	serviceOperationsTotal   *prometheus.CounterVec
	serviceOperationDuration *prometheus.HistogramVec
	reconcileTotal           *prometheus.CounterVec
	sessionMinutesTotal      prometheus.Counter
	expiryNotificationsTotal *prometheus.CounterVec
)

// InitServiceMetrics 初始化 Service 層 metrics
func InitServiceMetrics(registry prometheus.Registerer) error {
	serviceOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "service_operations_total",
			Help: "Total number of service layer operations",
		},
		[]string{"service", "operation", "status", "source"},
	)

	serviceOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "service_operation_duration_seconds",
			Help:    "Duration of service layer operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "operation", "source"},
	)

	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_reconcile_total",
			Help: "Heartbeat expiry reconciliations by outcome",
		},
		[]string{"outcome"},
	)

	sessionMinutesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "session_minutes_total",
			Help: "Online minutes apportioned into daily stats",
		},
	)

	expiryNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_expiry_notifications_total",
			Help: "Document expiry notifications by result",
		},
		[]string{"result"},
	)

	collectors := []prometheus.Collector{
		serviceOperationsTotal,
		serviceOperationDuration,
		reconcileTotal,
		sessionMinutesTotal,
		expiryNotificationsTotal,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return err
		}
	}

	return nil
}

// RecordServiceOperation 記錄 Service 層操作 metrics
func RecordServiceOperation(service ServiceType, operation OperationType, status OperationStatus, source OperationSource, duration time.Duration) {
	if serviceOperationsTotal != nil && serviceOperationDuration != nil {
		serviceOperationsTotal.WithLabelValues(string(service), string(operation), string(status), string(source)).Inc()
		serviceOperationDuration.WithLabelValues(string(service), string(operation), string(source)).Observe(duration.Seconds())
	}
}

// RecordPresenceOperation 專門記錄上下線操作的便利函數
func RecordPresenceOperation(operation OperationType, status OperationStatus, source OperationSource, duration time.Duration) {
	RecordServiceOperation(ServiceTypePresence, operation, status, source, duration)
}

// RecordReconcile 記錄對帳結果
func RecordReconcile(outcome ReconcileOutcome) {
	if reconcileTotal != nil {
		reconcileTotal.WithLabelValues(string(outcome)).Inc()
	}
}

// RecordSessionMinutes 記錄寫入的上線分鐘數
func RecordSessionMinutes(minutes int64) {
	if sessionMinutesTotal != nil && minutes > 0 {
		sessionMinutesTotal.Add(float64(minutes))
	}
}

// RecordExpiryNotification 記錄文件到期通知結果
func RecordExpiryNotification(status OperationStatus) {
	if expiryNotificationsTotal != nil {
		expiryNotificationsTotal.WithLabelValues(string(status)).Inc()
	}
}
