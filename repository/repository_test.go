package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"driver-service/infra"
	"driver-service/model"
	"driver-service/service/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestIncrementUpdate(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	update, err := IncrementUpdate(model.StatsIncrement{
		model.StatsFieldOnlineMinutes:  15,
		model.StatsFieldCompletedRides: 0,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"online_minutes": int64(15)}, update["$inc"])
	assert.Equal(t, bson.M{"created_at": now}, update["$setOnInsert"])
	assert.Equal(t, bson.M{"updated_at": now}, update["$set"])

	_, err = IncrementUpdate(model.StatsIncrement{model.StatsFieldEarnings: -1}, now)
	assert.Error(t, err)
	_, err = IncrementUpdate(model.StatsIncrement{"rating": 1}, now)
	assert.Error(t, err)
}

func TestExpiringDocumentsFilter(t *testing.T) {
	threshold := time.Date(2025, 6, 8, 2, 0, 0, 0, time.UTC)
	notifiedBefore := time.Date(2025, 5, 25, 2, 0, 0, 0, time.UTC)

	filter := ExpiringDocumentsFilter(threshold, notifiedBefore)
	and, ok := filter["$and"].(bson.A)
	require.True(t, ok)
	require.Len(t, and, 2)

	expiring := and[0].(bson.M)["$or"].(bson.A)
	require.Len(t, expiring, 4)
	assert.Equal(t, bson.M{"license.validity": bson.M{"$ne": nil, "$lte": threshold}}, expiring[0])

	notified := and[1].(bson.M)["$or"].(bson.A)
	assert.Contains(t, notified, bson.M{"last_expiry_notification_at": bson.M{"$lte": notifiedBefore}})
}

func newIntegrationMongo(t *testing.T) *infra.MongoDB {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set, skipping integration test")
	}
	mongoDB, err := infra.NewMongoDB(infra.MongoConfig{
		URI:      uri,
		Database: "driver_service_test_" + primitive.NewObjectID().Hex(),
	})
	if err != nil {
		t.Skipf("failed to connect: %v, skipping integration test", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		_ = mongoDB.Database.Drop(ctx)
		_ = mongoDB.Close(ctx)
	})
	return mongoDB
}

func TestDailyStatsRepository_Integration(t *testing.T) {
	mongoDB := newIntegrationMongo(t)
	ctx := context.Background()
	repo := NewDailyStatsRepository(mongoDB)
	require.NoError(t, repo.EnsureIndexes(ctx))

	driverID := primitive.NewObjectID().Hex()
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.FixedZone("CST", 8*3600))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.ApplyIncrement(ctx, driverID, day, model.StatsIncrement{model.StatsFieldOnlineMinutes: 3}))
		}()
	}
	wg.Wait()

	stats, err := repo.FindByDay(ctx, driverID, day)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, int64(60), stats.OnlineMinutes)

	rows, err := repo.FindRange(ctx, driverID, day.AddDate(0, 0, -1), day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	missing, err := repo.FindByDay(ctx, driverID, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDriverRepository_Integration(t *testing.T) {
	mongoDB := newIntegrationMongo(t)
	ctx := context.Background()
	repo := NewDriverRepository(mongoDB)
	require.NoError(t, repo.EnsureIndexes(ctx))

	now := time.Now().UTC().Truncate(time.Millisecond)
	soon := now.Add(48 * time.Hour)
	driver := model.Driver{
		ID:      primitive.NewObjectID(),
		Name:    "王小明",
		License: model.License{Validity: &soon},
	}
	_, err := mongoDB.GetCollection(DriversCollection).InsertOne(ctx, driver)
	require.NoError(t, err)
	id := driver.ID.Hex()

	_, err = repo.FindByID(ctx, primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, interfaces.ErrDriverNotFound)
	assert.ErrorIs(t, repo.SetPresenceStatus(ctx, "not-an-id", true), interfaces.ErrDriverNotFound)

	require.NoError(t, repo.SetPresenceStatus(ctx, id, true))
	require.NoError(t, repo.IncrementCounters(ctx, id, model.DriverCounterIncrement{model.DriverCounterCompletedRides: 2}))
	online, err := repo.CountOnline(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), online)

	cursor, err := repo.FindExpiringDocuments(ctx, now.Add(7*24*time.Hour), now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	var found []model.Driver
	for cursor.Next(ctx) {
		var d model.Driver
		require.NoError(t, cursor.Decode(&d))
		found = append(found, d)
	}
	require.NoError(t, cursor.Close(ctx))
	require.Len(t, found, 1)

	require.NoError(t, repo.MarkExpiryNotified(ctx, id, now, []model.DocumentType{model.DocumentTypeLicense}))
	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.OnlineStatus)
	assert.Equal(t, int64(2), got.TotalCompletedRides)
	require.NotNil(t, got.LastExpiryNotificationAt)
	assert.True(t, got.LastExpiryNotifiedFor["license"].Equal(now))
}
