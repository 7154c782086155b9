package service

import (
	"os"
	"testing"
	"time"

	"driver-service/model"
	"driver-service/repository/memory"
	"driver-service/utils"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var testLogger zerolog.Logger

// TestMain 設置測試用的 logger
func TestMain(m *testing.M) {
	testLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		Level(zerolog.WarnLevel).
		With().Timestamp().Logger()

	os.Exit(m.Run())
}

var taipei = utils.GetTaipeiLocation()

// fixedClock 可手動推進的時鐘
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time { return c.t }

func (c *fixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// testFixture 以記憶體 adapter 組出完整的服務
type testFixture struct {
	clock      *fixedClock
	drivers    *memory.DriverRepo
	stats      *memory.DailyStatsRepo
	presence   *memory.PresenceStore
	onboarding *memory.OnboardingChecker
	publisher  *memory.Publisher
	accountant *SessionAccountant
	svc        *PresenceService
}

func newTestFixture(now time.Time) *testFixture {
	f := &testFixture{
		clock:      &fixedClock{t: now},
		drivers:    memory.NewDriverRepo(),
		stats:      memory.NewDailyStatsRepo(),
		presence:   memory.NewPresenceStore(),
		onboarding: memory.NewOnboardingChecker(),
		publisher:  memory.NewPublisher(),
	}
	f.presence.SetClock(f.clock.Now)

	f.accountant = NewSessionAccountant(testLogger, f.stats, f.drivers, taipei)
	f.accountant.SetClock(f.clock.Now)

	f.svc = NewPresenceService(testLogger, f.drivers, f.presence, f.accountant, f.onboarding, PresenceConfig{
		HeartbeatTTL:        time.Minute,
		CommissionThreshold: DefaultCommissionThreshold,
	})
	f.svc.SetClock(f.clock.Now)
	return f
}

// addDriver 建立一位可正常上線的司機
func (f *testFixture) addDriver(mutate ...func(d *model.Driver)) string {
	future := f.clock.Now().AddDate(1, 0, 0)
	d := model.Driver{
		ID:                 primitive.NewObjectID(),
		Mobile:             "0912345678",
		Name:               "王小明",
		OnboardingComplete: true,
		License:            model.License{Validity: &future},
		VehicleDetails: model.VehicleDetails{
			VehicleNumber: "ABC-5808",
			Model:         "Toyota Prius",
		},
	}
	for _, m := range mutate {
		m(&d)
	}
	f.drivers.Put(d)
	return d.ID.Hex()
}
