package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// CheckOnboardingStatusMethod 金流服務查詢司機收款帳戶開通狀態
const CheckOnboardingStatusMethod = "/payment.PaymentService/CheckDriverOnboardingStatus"

type PaymentConfig struct {
	Addr    string
	Timeout time.Duration
}

// PaymentClient 金流服務 gRPC 客戶端，訊息以 structpb.Struct 傳遞
type PaymentClient struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	timeout time.Duration
	logger  zerolog.Logger
}

func NewPaymentClient(config PaymentConfig, logger zerolog.Logger) (*PaymentClient, error) {
	conn, err := grpc.NewClient(config.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create payment client: %w", err)
	}
	client := NewPaymentClientWithConn(conn, config.Timeout, logger)
	client.closer = conn.Close
	return client, nil
}

// NewPaymentClientWithConn 使用既有連線
func NewPaymentClientWithConn(conn grpc.ClientConnInterface, timeout time.Duration, logger zerolog.Logger) *PaymentClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PaymentClient{
		conn:    conn,
		timeout: timeout,
		logger:  logger.With().Str("module", "payment_client").Logger(),
	}
}

// CheckOnboardingStatus 實作 OnboardingChecker
func (c *PaymentClient) CheckOnboardingStatus(ctx context.Context, driverID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := structpb.NewStruct(map[string]interface{}{"driverId": driverID})
	if err != nil {
		return false, err
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, CheckOnboardingStatusMethod, req, resp); err != nil {
		c.logger.Error().Err(err).Str("driver_id", driverID).Msg("查詢金流開通狀態失敗")
		return false, fmt.Errorf("check onboarding status: %w", err)
	}

	status, ok := resp.GetFields()["onboardingStatus"]
	if !ok {
		return false, fmt.Errorf("check onboarding status: missing onboardingStatus in response")
	}
	return status.GetBoolValue(), nil
}

func (c *PaymentClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
