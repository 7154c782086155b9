package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"driver-service/metrics"
	"driver-service/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goOnline(f *testFixture, driverID string) (*ToggleOnlineResult, error) {
	return f.svc.ToggleOnline(context.Background(), ToggleOnlineInput{DriverID: driverID, GoOnline: true})
}

func goOffline(f *testFixture, driverID string) (*ToggleOnlineResult, error) {
	return f.svc.ToggleOnline(context.Background(), ToggleOnlineInput{DriverID: driverID})
}

func TestToggleOnline_GoOnline(t *testing.T) {
	f := newTestFixture(time.Date(2025, 6, 1, 9, 0, 0, 0, taipei))
	driverID := f.addDriver()

	res, err := goOnline(f, driverID)
	require.NoError(t, err)
	assert.Equal(t, model.PresenceOnline, res.Status)
	assert.Equal(t, msgNowOnline, res.Message)

	rec, err := f.svc.GetPresence(context.Background(), driverID)
	require.NoError(t, err)
	assert.Equal(t, "王小明", rec.Name)
	assert.Equal(t, "ABC-5808", rec.VehicleNumber)
	assert.True(t, rec.SessionStart.Equal(f.clock.Now()))

	d, _ := f.drivers.Snapshot(driverID)
	assert.True(t, d.OnlineStatus)
	assert.True(t, d.IsAvailable)
	assert.Equal(t, 0, f.onboarding.Calls(), "已開通的司機不需查詢金流")
}

func TestToggleOnline_WithLocation(t *testing.T) {
	f := newTestFixture(time.Date(2025, 6, 1, 9, 0, 0, 0, taipei))
	driverID := f.addDriver()

	_, err := f.svc.ToggleOnline(context.Background(), ToggleOnlineInput{
		DriverID: driverID,
		GoOnline: true,
		Location: &model.GeoPoint{Lat: 25.033, Lng: 121.565},
	})
	require.NoError(t, err)

	rec, err := f.svc.GetPresence(context.Background(), driverID)
	require.NoError(t, err)
	require.NotNil(t, rec.Location)
	assert.Equal(t, 25.033, rec.Location.Lat)

	_, err = f.svc.ToggleOnline(context.Background(), ToggleOnlineInput{
		DriverID: f.addDriver(),
		GoOnline: true,
		Location: &model.GeoPoint{Lat: 91, Lng: 0},
	})
	assert.True(t, IsKind(err, ErrorKindBadRequest))
}

func TestToggleOnline_Rejections(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, taipei)
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name        string
		setup       func(f *testFixture) string
		kind        ErrorKind
		message     string
		wantPresent bool
	}{
		{
			name: "已有在線記錄視為載客中",
			setup: func(f *testFixture) string {
				id := f.addDriver()
				_, err := goOnline(f, id)
				if err != nil {
					panic(err)
				}
				return id
			},
			kind:        ErrorKindConflict,
			message:     msgDriverInRide,
			wantPresent: true,
		},
		{
			name: "找不到司機",
			setup: func(f *testFixture) string {
				return "000000000000000000000000"
			},
			kind:    ErrorKindNotFound,
			message: msgDriverNotFound,
		},
		{
			name: "單一文件過期",
			setup: func(f *testFixture) string {
				return f.addDriver(func(d *model.Driver) { d.VehicleDetails.InsuranceExpiryDate = &past })
			},
			kind:    ErrorKindBadRequest,
			message: "Your insurance has expired. Please update before going online.",
		},
		{
			name: "多個文件過期",
			setup: func(f *testFixture) string {
				return f.addDriver(func(d *model.Driver) {
					d.License.Validity = &past
					d.VehicleDetails.RCExpiryDate = &past
				})
			},
			kind:    ErrorKindBadRequest,
			message: "Your license, rc have expired. Please update before going online.",
		},
		{
			name: "到期日等於現在也算過期",
			setup: func(f *testFixture) string {
				return f.addDriver(func(d *model.Driver) { d.VehicleDetails.PollutionExpiryDate = &now })
			},
			kind:    ErrorKindBadRequest,
			message: "Your pollution has expired. Please update before going online.",
		},
		{
			name: "抽成超過上限",
			setup: func(f *testFixture) string {
				return f.addDriver(func(d *model.Driver) { d.AdminCommission = DefaultCommissionThreshold + 1 })
			},
			kind:    ErrorKindBadRequest,
			message: msgCommissionDue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFixture(now)
			id := tt.setup(f)

			_, err := goOnline(f, id)
			require.Error(t, err)
			svcErr := AsServiceError(err)
			assert.Equal(t, tt.kind, svcErr.Kind)
			assert.Equal(t, tt.message, svcErr.Message)

			rec, _ := f.presence.Get(context.Background(), id)
			assert.Equal(t, tt.wantPresent, rec != nil)
		})
	}
}

func TestToggleOnline_CommissionAtThresholdAllowed(t *testing.T) {
	f := newTestFixture(time.Date(2025, 6, 1, 9, 0, 0, 0, taipei))
	id := f.addDriver(func(d *model.Driver) { d.AdminCommission = DefaultCommissionThreshold })

	_, err := goOnline(f, id)
	assert.NoError(t, err)
}

func TestToggleOnline_OnboardingGate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, taipei)
	notOnboarded := func(d *model.Driver) { d.OnboardingComplete = false }

	t.Run("尚未開通拒絕上線並寫回狀態", func(t *testing.T) {
		f := newTestFixture(now)
		id := f.addDriver(notOnboarded)
		f.onboarding.Set(id, false)

		_, err := goOnline(f, id)
		require.Error(t, err)
		assert.Equal(t, msgOnboardingRequired, AsServiceError(err).Message)
		assert.True(t, IsKind(err, ErrorKindBadRequest))
		assert.Equal(t, 0, f.presence.Count())
		assert.Equal(t, 1, f.onboarding.Calls())
	})

	t.Run("開通完成後寫回主檔，下次不再查詢", func(t *testing.T) {
		f := newTestFixture(now)
		id := f.addDriver(notOnboarded)
		f.onboarding.Set(id, true)

		_, err := goOnline(f, id)
		require.NoError(t, err)
		d, _ := f.drivers.Snapshot(id)
		assert.True(t, d.OnboardingComplete)

		_, err = goOffline(f, id)
		require.NoError(t, err)
		_, err = goOnline(f, id)
		require.NoError(t, err)
		assert.Equal(t, 1, f.onboarding.Calls())
	})

	t.Run("查詢失敗回傳內部錯誤", func(t *testing.T) {
		f := newTestFixture(now)
		id := f.addDriver(notOnboarded)
		f.onboarding.Err = errors.New("payment service unavailable")

		_, err := goOnline(f, id)
		assert.True(t, IsKind(err, ErrorKindInternal))
		assert.Equal(t, 0, f.presence.Count())
	})

	t.Run("寫回失敗不影響判斷", func(t *testing.T) {
		f := newTestFixture(now)
		id := f.addDriver(notOnboarded)
		f.onboarding.Set(id, true)
		f.drivers.FailOn["SetOnboardingComplete"] = errors.New("mongo down")

		_, err := goOnline(f, id)
		require.NoError(t, err)
		rec, _ := f.presence.Get(ctx, id)
		assert.NotNil(t, rec)
	})
}

func TestToggleOnline_RollbackWhenDurableWriteFails(t *testing.T) {
	f := newTestFixture(time.Date(2025, 6, 1, 9, 0, 0, 0, taipei))
	id := f.addDriver()
	f.drivers.FailOn["SetPresenceStatus"] = errors.New("write timeout")

	_, err := goOnline(f, id)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrorKindInternal))
	assert.Equal(t, 0, f.presence.Count(), "失敗時應移除在線記錄")

	delete(f.drivers.FailOn, "SetPresenceStatus")
	_, err = goOnline(f, id)
	assert.NoError(t, err)
}

func TestToggleOnline_ConcurrentGoOnlineAtMostOne(t *testing.T) {
	f := newTestFixture(time.Date(2025, 6, 1, 9, 0, 0, 0, taipei))
	id := f.addDriver()

	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := goOnline(f, id)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if IsKind(err, ErrorKindConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
	assert.Equal(t, 1, f.presence.Count())
}

func TestToggleOnline_StalePresenceAfterHeartbeatExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, taipei)

	t.Run("心跳逾時後可重新上線", func(t *testing.T) {
		f := newTestFixture(now)
		id := f.addDriver()
		_, err := goOnline(f, id)
		require.NoError(t, err)

		// 尚未經過監聽或巡檢，在線記錄仍在
		f.clock.Advance(10 * time.Minute)
		alive, err := f.svc.IsHeartbeatAlive(context.Background(), id)
		require.NoError(t, err)
		require.False(t, alive)
		require.Equal(t, 1, f.presence.Count())

		res, err := goOnline(f, id)
		require.NoError(t, err)
		assert.Equal(t, model.PresenceOnline, res.Status)

		assert.Equal(t, int64(10), f.stats.Minutes(id, day(2025, 6, 1)), "舊的一段先結算")
		rec, err := f.svc.GetPresence(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, rec.SessionStart.Equal(f.clock.Now()))

		d, _ := f.drivers.Snapshot(id)
		assert.True(t, d.OnlineStatus)
	})

	t.Run("清除殘留記錄後仍套用上線檢查", func(t *testing.T) {
		f := newTestFixture(now)
		soon := now.Add(5 * time.Minute)
		id := f.addDriver(func(d *model.Driver) { d.License.Validity = &soon })
		_, err := goOnline(f, id)
		require.NoError(t, err)

		f.clock.Advance(10 * time.Minute)
		_, err = goOnline(f, id)
		assert.True(t, IsKind(err, ErrorKindBadRequest))

		assert.Equal(t, 0, f.presence.Count())
		assert.Equal(t, int64(10), f.stats.Minutes(id, day(2025, 6, 1)))
		d, _ := f.drivers.Snapshot(id)
		assert.False(t, d.OnlineStatus)
	})
}

func TestToggleOnline_GoOfflineAccountsSession(t *testing.T) {
	f := newTestFixture(time.Date(2025, 6, 1, 23, 30, 0, 0, taipei))
	id := f.addDriver()

	_, err := goOnline(f, id)
	require.NoError(t, err)

	f.clock.Advance(90 * time.Minute)
	res, err := goOffline(f, id)
	require.NoError(t, err)
	assert.Equal(t, model.PresenceOffline, res.Status)
	assert.Equal(t, msgNowOffline, res.Message)

	assert.Equal(t, int64(30), f.stats.Minutes(id, day(2025, 6, 1)))
	assert.Equal(t, int64(60), f.stats.Minutes(id, day(2025, 6, 2)))
	assert.Equal(t, 0, f.presence.Count())

	d, _ := f.drivers.Snapshot(id)
	assert.False(t, d.OnlineStatus)
	assert.False(t, d.IsAvailable)
}

func TestToggleOnline_GoOfflineIdempotent(t *testing.T) {
	f := newTestFixture(time.Date(2025, 6, 1, 9, 0, 0, 0, taipei))
	id := f.addDriver()

	_, err := goOnline(f, id)
	require.NoError(t, err)
	f.clock.Advance(45 * time.Minute)

	_, err = goOffline(f, id)
	require.NoError(t, err)
	f.clock.Advance(45 * time.Minute)
	_, err = goOffline(f, id)
	require.NoError(t, err)

	assert.Equal(t, int64(45), f.stats.Minutes(id, day(2025, 6, 1)))
	assert.Equal(t, 1, f.stats.Calls())
}

func TestToggleOnline_ConcurrentGoOfflineAccountsOnce(t *testing.T) {
	f := newTestFixture(time.Date(2025, 6, 1, 9, 0, 0, 0, taipei))
	id := f.addDriver()

	_, err := goOnline(f, id)
	require.NoError(t, err)
	f.clock.Advance(20 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := goOffline(f, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), f.stats.Minutes(id, day(2025, 6, 1)))
}

func TestToggleOnline_GoOfflineUnknownDriver(t *testing.T) {
	f := newTestFixture(time.Date(2025, 6, 1, 9, 0, 0, 0, taipei))

	res, err := goOffline(f, "000000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, model.PresenceOffline, res.Status)
}

func TestToggleOnline_GoOfflineStoreFailure(t *testing.T) {
	f := newTestFixture(time.Date(2025, 6, 1, 9, 0, 0, 0, taipei))
	id := f.addDriver()
	_, err := goOnline(f, id)
	require.NoError(t, err)

	f.presence.FailOn["Take"] = errors.New("redis down")
	_, err = goOffline(f, id)
	assert.True(t, IsKind(err, ErrorKindInternal))
	assert.Equal(t, 0, f.stats.Records())
}

func TestToggleOnline_AccountingFailureStillGoesOffline(t *testing.T) {
	f := newTestFixture(time.Date(2025, 6, 1, 9, 0, 0, 0, taipei))
	id := f.addDriver()
	_, err := goOnline(f, id)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	f.stats.FailApply = errors.New("mongo down")
	_, err = goOffline(f, id)
	require.NoError(t, err)
	assert.Equal(t, 0, f.presence.Count())

	d, _ := f.drivers.Snapshot(id)
	assert.False(t, d.OnlineStatus)
}

func TestReconcileExpiredHeartbeat(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, taipei)

	t.Run("心跳仍在則略過", func(t *testing.T) {
		f := newTestFixture(now)
		id := f.addDriver()
		_, err := goOnline(f, id)
		require.NoError(t, err)

		outcome, err := f.svc.ReconcileExpiredHeartbeat(ctx, id, model.OfflineReasonHeartbeatExpired)
		require.NoError(t, err)
		assert.Equal(t, metrics.ReconcileRevived, outcome)
		assert.Equal(t, 1, f.presence.Count())
	})

	t.Run("心跳逾時強制下線並結算", func(t *testing.T) {
		f := newTestFixture(now)
		id := f.addDriver()
		_, err := goOnline(f, id)
		require.NoError(t, err)

		f.clock.Advance(10 * time.Minute)
		f.presence.ExpireHeartbeat(id)

		outcome, err := f.svc.ReconcileExpiredHeartbeat(ctx, id, model.OfflineReasonHeartbeatExpired)
		require.NoError(t, err)
		assert.Equal(t, metrics.ReconcileForcedOffline, outcome)
		assert.Equal(t, 0, f.presence.Count())
		assert.Equal(t, int64(10), f.stats.Minutes(id, day(2025, 6, 1)))

		d, _ := f.drivers.Snapshot(id)
		assert.False(t, d.OnlineStatus)
	})

	t.Run("TTL 以時鐘到期", func(t *testing.T) {
		f := newTestFixture(now)
		id := f.addDriver()
		_, err := goOnline(f, id)
		require.NoError(t, err)

		f.clock.Advance(2 * time.Minute)
		outcome, err := f.svc.ReconcileExpiredHeartbeat(ctx, id, model.OfflineReasonSweep)
		require.NoError(t, err)
		assert.Equal(t, metrics.ReconcileForcedOffline, outcome)
	})

	t.Run("心跳刷新後不會被下線", func(t *testing.T) {
		f := newTestFixture(now)
		id := f.addDriver()
		_, err := goOnline(f, id)
		require.NoError(t, err)

		f.clock.Advance(50 * time.Second)
		require.NoError(t, f.svc.RefreshHeartbeat(ctx, id, metrics.SourceWebSocket))
		f.clock.Advance(50 * time.Second)

		outcome, err := f.svc.ReconcileExpiredHeartbeat(ctx, id, model.OfflineReasonHeartbeatExpired)
		require.NoError(t, err)
		assert.Equal(t, metrics.ReconcileRevived, outcome)
	})

	t.Run("已下線不重複寫入", func(t *testing.T) {
		f := newTestFixture(now)
		id := f.addDriver()

		outcome, err := f.svc.ReconcileExpiredHeartbeat(ctx, id, model.OfflineReasonHeartbeatExpired)
		require.NoError(t, err)
		assert.Equal(t, metrics.ReconcileAlreadyOffline, outcome)
		assert.Equal(t, 0, f.stats.Records())
	})

	t.Run("讀取心跳失敗", func(t *testing.T) {
		f := newTestFixture(now)
		f.presence.FailOn["IsAlive"] = errors.New("redis down")

		outcome, err := f.svc.ReconcileExpiredHeartbeat(ctx, "d1", model.OfflineReasonHeartbeatExpired)
		require.Error(t, err)
		assert.Equal(t, metrics.ReconcileFailed, outcome)
	})

	t.Run("重複事件只結算一次", func(t *testing.T) {
		f := newTestFixture(now)
		id := f.addDriver()
		_, err := goOnline(f, id)
		require.NoError(t, err)
		f.clock.Advance(5 * time.Minute)
		f.presence.ExpireHeartbeat(id)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.ReconcileExpiredHeartbeat(ctx, id, model.OfflineReasonHeartbeatExpired)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(5), f.stats.Minutes(id, day(2025, 6, 1)))
	})
}

func TestForceOffline(t *testing.T) {
	f := newTestFixture(time.Date(2025, 6, 1, 9, 0, 0, 0, taipei))
	id := f.addDriver()
	_, err := goOnline(f, id)
	require.NoError(t, err)
	f.clock.Advance(15 * time.Minute)

	res, err := f.svc.ForceOffline(context.Background(), id, model.OfflineReasonAdmin)
	require.NoError(t, err)
	assert.Equal(t, model.PresenceOffline, res.Status)
	assert.Equal(t, int64(15), f.stats.Minutes(id, day(2025, 6, 1)))
}

func TestRefreshHeartbeatAndLocation(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(time.Date(2025, 6, 1, 9, 0, 0, 0, taipei))
	id := f.addDriver()

	err := f.svc.RefreshHeartbeat(ctx, id, metrics.SourceAPI)
	assert.True(t, IsKind(err, ErrorKindNotFound))
	err = f.svc.UpdateLiveLocation(ctx, id, model.GeoPoint{Lat: 25, Lng: 121}, metrics.SourceMQTT)
	assert.True(t, IsKind(err, ErrorKindNotFound))

	_, err = goOnline(f, id)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.svc.UpdateLiveLocation(ctx, id, model.GeoPoint{Lat: 25.04, Lng: 121.51}, metrics.SourceMQTT))

	rec, err := f.svc.GetPresence(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec.Location)
	assert.Equal(t, 121.51, rec.Location.Lng)
	assert.True(t, rec.LastSeen.Equal(f.clock.Now()))
	assert.True(t, rec.SessionStart.Before(rec.LastSeen))

	err = f.svc.UpdateLiveLocation(ctx, id, model.GeoPoint{Lat: 0, Lng: 200}, metrics.SourceMQTT)
	assert.True(t, IsKind(err, ErrorKindBadRequest))

	f.presence.FailOn["Refresh"] = errors.New("redis down")
	err = f.svc.RefreshHeartbeat(ctx, id, metrics.SourceAPI)
	assert.True(t, IsKind(err, ErrorKindInternal))
}

func TestListPresentDriverIDs(t *testing.T) {
	f := newTestFixture(time.Date(2025, 6, 1, 9, 0, 0, 0, taipei))
	a := f.addDriver()
	b := f.addDriver()
	_, err := goOnline(f, a)
	require.NoError(t, err)
	_, err = goOnline(f, b)
	require.NoError(t, err)

	ids, err := f.svc.ListPresentDriverIDs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, ids)

	_, err = f.svc.GetPresence(context.Background(), "000000000000000000000000")
	assert.True(t, IsKind(err, ErrorKindNotFound))
}
