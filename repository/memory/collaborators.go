package memory

import (
	"context"
	"encoding/json"
	"sync"
)

// PublishedMessage 已發佈的事件
type PublishedMessage struct {
	Exchange   string
	RoutingKey string
	Body       []byte
}

// Publisher 記憶體版事件發佈，記錄所有訊息
type Publisher struct {
	mu       sync.Mutex
	messages []PublishedMessage

	// FailFor 依 payload 決定是否回傳錯誤
	FailFor func(payload interface{}) error
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailFor != nil {
		if err := p.FailFor(payload); err != nil {
			return err
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.messages = append(p.messages, PublishedMessage{Exchange: exchange, RoutingKey: routingKey, Body: body})
	return nil
}

// Messages 取得已發佈訊息副本
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// OnboardingChecker 記憶體版開通狀態查詢
type OnboardingChecker struct {
	mu     sync.Mutex
	status map[string]bool
	calls  int

	Err error
}

func NewOnboardingChecker() *OnboardingChecker {
	return &OnboardingChecker{status: make(map[string]bool)}
}

// Set 設定司機開通狀態
func (c *OnboardingChecker) Set(driverID string, complete bool) {
	c.mu.Lock()
	c.status[driverID] = complete
	c.mu.Unlock()
}

func (c *OnboardingChecker) CheckOnboardingStatus(ctx context.Context, driverID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.Err != nil {
		return false, c.Err
	}
	return c.status[driverID], nil
}

// Calls 被呼叫次數
func (c *OnboardingChecker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
