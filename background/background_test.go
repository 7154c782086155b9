package background

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"driver-service/infra"
	"driver-service/metrics"
	"driver-service/model"
	"driver-service/service"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taipei = time.FixedZone("Asia/Taipei", 8*3600)

// fakeReconciler 記錄每次對帳
type fakeReconciler struct {
	mu      sync.Mutex
	calls   map[string]int
	reasons []model.OfflineReason
	alive   map[string]bool
	ids     []string
	fail    map[string]bool
	listErr error
	started chan string
	release chan struct{}
}

func newFakeReconciler() *fakeReconciler {
	return &fakeReconciler{
		calls: make(map[string]int),
		alive: make(map[string]bool),
		fail:  make(map[string]bool),
	}
}

func (f *fakeReconciler) ReconcileExpiredHeartbeat(ctx context.Context, driverID string, reason model.OfflineReason) (metrics.ReconcileOutcome, error) {
	if f.started != nil {
		f.started <- driverID
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[driverID]++
	f.reasons = append(f.reasons, reason)
	if f.fail[driverID] {
		return metrics.ReconcileFailed, errors.New("mongo down")
	}
	return metrics.ReconcileForcedOffline, nil
}

func (f *fakeReconciler) ListPresentDriverIDs(ctx context.Context) ([]string, error) {
	return f.ids, f.listErr
}

func (f *fakeReconciler) IsHeartbeatAlive(ctx context.Context, driverID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[driverID], nil
}

func (f *fakeReconciler) Calls(driverID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[driverID]
}

type fakeKeySource struct {
	keys chan string
}

func (s *fakeKeySource) Subscribe(ctx context.Context) (<-chan string, error) {
	return s.keys, nil
}

func TestHeartbeatExpiryListener_ReconcilesHeartbeatKeys(t *testing.T) {
	source := &fakeKeySource{keys: make(chan string, 4)}
	rec := newFakeReconciler()
	listener := NewHeartbeatExpiryListener(zerolog.Nop(), source, rec, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		listener.Start(ctx)
		close(done)
	}()

	source.keys <- infra.HeartbeatKey("d1")
	source.keys <- infra.PresenceKey("d1")
	source.keys <- "session:abc"
	source.keys <- infra.HeartbeatKey("d2")

	assert.Eventually(t, func() bool {
		return rec.Calls("d1") == 1 && rec.Calls("d2") == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.calls, 2, "只處理心跳 key")
	for _, r := range rec.reasons {
		assert.Equal(t, model.OfflineReasonHeartbeatExpired, r)
	}
}

func TestHeartbeatExpiryListener_CollapsesDuplicateEvents(t *testing.T) {
	rec := newFakeReconciler()
	rec.started = make(chan string, 2)
	rec.release = make(chan struct{})
	listener := NewHeartbeatExpiryListener(zerolog.Nop(), &fakeKeySource{}, rec, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		listener.HandleExpired(context.Background(), "d1")
	}()
	<-rec.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		listener.HandleExpired(context.Background(), "d1")
	}()
	time.Sleep(50 * time.Millisecond)
	close(rec.release)
	wg.Wait()

	assert.Equal(t, 1, rec.Calls("d1"))
}

func TestPresenceSweeper_Sweep(t *testing.T) {
	rec := newFakeReconciler()
	rec.ids = []string{"a", "b", "c"}
	rec.alive["a"] = true
	rec.fail["c"] = true

	sweeper := NewPresenceSweeper(zerolog.Nop(), rec, time.Minute)
	summary := sweeper.Sweep(context.Background())

	assert.Equal(t, SweepSummary{Scanned: 3, ForcedOffline: 1, Failed: 1}, summary)
	assert.Equal(t, 0, rec.Calls("a"), "心跳仍在不可下線")
	assert.Equal(t, 1, rec.Calls("b"))
	assert.Equal(t, []model.OfflineReason{model.OfflineReasonSweep, model.OfflineReasonSweep}, rec.reasons)

	rec.listErr = errors.New("redis down")
	assert.Equal(t, SweepSummary{}, sweeper.Sweep(context.Background()))
}

// fakeScanner 可阻塞的文件到期掃描
type fakeScanner struct {
	mu      sync.Mutex
	calls   int
	params  service.ExpiryScanParams
	started chan struct{}
	release chan struct{}
	err     error
}

func (s *fakeScanner) Run(ctx context.Context, params service.ExpiryScanParams) (*service.ExpiryScanSummary, error) {
	s.mu.Lock()
	s.calls++
	s.params = params
	s.mu.Unlock()
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return nil, s.err
	}
	return &service.ExpiryScanSummary{Scanned: 3, Notified: 2}, nil
}

func (s *fakeScanner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestDocumentExpiryScheduler_TriggerNowIsSingleFlight(t *testing.T) {
	scanner := &fakeScanner{started: make(chan struct{}, 1), release: make(chan struct{})}
	scheduler := NewDocumentExpiryScheduler(zerolog.Nop(), scanner, ScheduleConfig{
		Hour:     2,
		Location: taipei,
		Params:   service.ExpiryScanParams{ThresholdDays: 7, MinNotificationIntervalDays: 7},
	})

	type result struct {
		summary *service.ExpiryScanSummary
		shared  bool
		err     error
	}
	results := make(chan result, 2)
	run := func() {
		summary, shared, err := scheduler.TriggerNow(context.Background())
		results <- result{summary, shared, err}
	}

	go run()
	<-scanner.started
	go run()
	time.Sleep(50 * time.Millisecond)
	close(scanner.release)

	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		assert.Equal(t, 2, r.summary.Notified)
		assert.True(t, r.shared)
	}
	assert.Equal(t, 1, scanner.Calls())
	assert.Equal(t, 7, scanner.params.ThresholdDays)
}

func TestDocumentExpiryScheduler_TriggerNowError(t *testing.T) {
	scanner := &fakeScanner{err: errors.New("query failed")}
	scheduler := NewDocumentExpiryScheduler(zerolog.Nop(), scanner, ScheduleConfig{Location: taipei})

	_, _, err := scheduler.TriggerNow(context.Background())
	assert.EqualError(t, err, "query failed")
}

func TestDocumentExpiryScheduler_StartRunsAtConfiguredTime(t *testing.T) {
	scanner := &fakeScanner{}
	scheduler := NewDocumentExpiryScheduler(zerolog.Nop(), scanner, ScheduleConfig{Hour: 2, Minute: 0, Location: taipei})

	now := time.Date(2025, 6, 1, 1, 30, 0, 0, taipei)
	scheduler.now = func() time.Time { return now }
	waits := make(chan time.Duration, 4)
	fire := make(chan time.Time)
	scheduler.after = func(d time.Duration) <-chan time.Time {
		waits <- d
		return fire
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(done)
	}()

	assert.Equal(t, 30*time.Minute, <-waits)
	fire <- now
	<-waits
	assert.Equal(t, 1, scanner.Calls())

	cancel()
	<-done
}

// fakeAcknowledger 記錄 ack/nack
type fakeAcknowledger struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked), len(a.nacked)
}

type fakeDeliverySource struct {
	mu          sync.Mutex
	consumes    int
	failFirst   bool
	msgs        chan amqp.Delivery
	reconnected chan struct{}
}

func (s *fakeDeliverySource) Consume(queue infra.QueueName, consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumes++
	if s.failFirst && s.consumes == 1 {
		return nil, infra.ErrRabbitMQClosed
	}
	return s.msgs, nil
}

func (s *fakeDeliverySource) Reconnected() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnected
}

type fakeHandler struct{}

func (fakeHandler) HandleMessage(ctx context.Context, body []byte) error {
	if string(body) == "bad" {
		return errors.New("invalid envelope")
	}
	return nil
}

func TestDriverEventConsumer_AcksAndNacks(t *testing.T) {
	ack := &fakeAcknowledger{}
	source := &fakeDeliverySource{
		failFirst:   true,
		msgs:        make(chan amqp.Delivery, 2),
		reconnected: make(chan struct{}),
	}
	consumer := NewDriverEventConsumer(zerolog.Nop(), source, fakeHandler{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Start(ctx)
		close(done)
	}()

	// 第一次消費失敗，重連後重新訂閱
	close(source.reconnected)

	source.msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(`{"type":"ride_count","data":{}}`)}
	source.msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("bad")}

	assert.Eventually(t, func() bool {
		acked, nacked := ack.counts()
		return acked == 1 && nacked == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2}, ack.nacked)
	assert.Equal(t, 2, source.consumes)
}

func TestParseDriverTopic(t *testing.T) {
	tests := []struct {
		topic string
		id    string
		kind  string
		ok    bool
	}{
		{"drivers/d1/heartbeat", "d1", "heartbeat", true},
		{"drivers/d1/location", "d1", "location", true},
		{"drivers//heartbeat", "", "", false},
		{"riders/d1/heartbeat", "", "", false},
		{"drivers/d1", "", "", false},
		{"drivers/d1/location/extra", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, kind, ok := ParseDriverTopic(tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

type fakeUpdater struct {
	mu         sync.Mutex
	heartbeats []string
	locations  map[string]model.GeoPoint
	sources    []metrics.OperationSource
}

func (u *fakeUpdater) RefreshHeartbeat(ctx context.Context, driverID string, source metrics.OperationSource) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.heartbeats = append(u.heartbeats, driverID)
	u.sources = append(u.sources, source)
	return nil
}

func (u *fakeUpdater) UpdateLiveLocation(ctx context.Context, driverID string, location model.GeoPoint, source metrics.OperationSource) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.locations == nil {
		u.locations = make(map[string]model.GeoPoint)
	}
	u.locations[driverID] = location
	u.sources = append(u.sources, source)
	return nil
}

type fakeMQTT struct {
	mu           sync.Mutex
	handlers     map[string]infra.MQTTHandler
	unsubscribed bool
}

func (m *fakeMQTT) Subscribe(topic string, qos byte, handler infra.MQTTHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[string]infra.MQTTHandler)
	}
	m.handlers[topic] = handler
}

func (m *fakeMQTT) Unsubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = true
}

func (m *fakeMQTT) handler(topic string) infra.MQTTHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[topic]
}

func TestMQTTHeartbeatSubscriber(t *testing.T) {
	client := &fakeMQTT{}
	updater := &fakeUpdater{}
	sub := NewMQTTHeartbeatSubscriber(zerolog.Nop(), client, updater)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sub.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return client.handler(MQTTHeartbeatTopic) != nil && client.handler(MQTTLocationTopic) != nil
	}, time.Second, 10*time.Millisecond)

	client.handler(MQTTHeartbeatTopic)("drivers/d1/heartbeat", nil)
	client.handler(MQTTLocationTopic)("drivers/d2/location", []byte(`{"lat":25.03,"lng":121.56}`))
	client.handler(MQTTLocationTopic)("drivers/d3/location", []byte(`not-json`))

	cancel()
	<-done

	updater.mu.Lock()
	defer updater.mu.Unlock()
	assert.Equal(t, []string{"d1"}, updater.heartbeats)
	assert.Equal(t, model.GeoPoint{Lat: 25.03, Lng: 121.56}, updater.locations["d2"])
	assert.NotContains(t, updater.locations, "d3")
	assert.Equal(t, []metrics.OperationSource{metrics.SourceMQTT, metrics.SourceMQTT}, updater.sources)
	assert.True(t, client.unsubscribed)
}
