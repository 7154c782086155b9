package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"driver-service/infra"
	"driver-service/model"
	"driver-service/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const DailyStatsCollection = "driver_daily_stats"

// DailyStatsRepository 司機每日統計（MongoDB），以 (driver_id, date) 唯一索引保證一天一筆
type DailyStatsRepository struct {
	collection *mongo.Collection
}

func NewDailyStatsRepository(mongoDB *infra.MongoDB) *DailyStatsRepository {
	return &DailyStatsRepository{collection: mongoDB.GetCollection(DailyStatsCollection)}
}

// IncrementUpdate 建立累加用的 update 文件
func IncrementUpdate(inc model.StatsIncrement, now time.Time) (bson.M, error) {
	fields := bson.M{}
	for field, delta := range inc {
		if !field.Valid() {
			return nil, fmt.Errorf("未知的統計欄位: %s", field)
		}
		if delta < 0 {
			return nil, fmt.Errorf("統計欄位 %s 不可為負數: %d", field, delta)
		}
		if delta == 0 {
			continue
		}
		fields[string(field)] = delta
	}
	return bson.M{
		"$inc":         fields,
		"$setOnInsert": bson.M{"created_at": now},
		"$set":         bson.M{"updated_at": now},
	}, nil
}

// ApplyIncrement 原子累加並視需要建立當日記錄
func (r *DailyStatsRepository) ApplyIncrement(ctx context.Context, driverID string, day time.Time, inc model.StatsIncrement) error {
	if inc.IsZero() {
		return nil
	}
	oid, err := primitive.ObjectIDFromHex(driverID)
	if err != nil {
		return fmt.Errorf("無效的司機ID %q: %w", driverID, err)
	}
	update, err := IncrementUpdate(inc, utils.NowUTC())
	if err != nil {
		return err
	}

	filter := bson.M{"driver_id": oid, "date": day.UTC()}
	opts := options.Update().SetUpsert(true)

	_, err = r.collection.UpdateOne(ctx, filter, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		// 兩個 upsert 同時插入，輸的一方改為更新既有記錄
		_, err = r.collection.UpdateOne(ctx, filter, update, opts)
	}
	if err != nil {
		return fmt.Errorf("累加每日統計失敗: %w", err)
	}
	return nil
}

func (r *DailyStatsRepository) FindByDay(ctx context.Context, driverID string, day time.Time) (*model.DriverDailyStats, error) {
	oid, err := primitive.ObjectIDFromHex(driverID)
	if err != nil {
		return nil, nil
	}
	var stats model.DriverDailyStats
	err = r.collection.FindOne(ctx, bson.M{"driver_id": oid, "date": day.UTC()}).Decode(&stats)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查詢每日統計失敗: %w", err)
	}
	return &stats, nil
}

// FindRange 取得 [from, to) 區間的記錄，依日期排序
func (r *DailyStatsRepository) FindRange(ctx context.Context, driverID string, from, to time.Time) ([]model.DriverDailyStats, error) {
	oid, err := primitive.ObjectIDFromHex(driverID)
	if err != nil {
		return []model.DriverDailyStats{}, nil
	}
	filter := bson.M{
		"driver_id": oid,
		"date":      bson.M{"$gte": from.UTC(), "$lt": to.UTC()},
	}
	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("查詢每日統計區間失敗: %w", err)
	}
	defer cursor.Close(ctx)

	stats := []model.DriverDailyStats{}
	if err := cursor.All(ctx, &stats); err != nil {
		return nil, fmt.Errorf("解析每日統計失敗: %w", err)
	}
	return stats, nil
}

// EnsureIndexes 建立 (driver_id, date) 唯一索引
func (r *DailyStatsRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "driver_id", Value: 1}, {Key: "date", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("driver_id_date_unique"),
	})
	if err != nil {
		return fmt.Errorf("建立每日統計索引失敗: %w", err)
	}
	return nil
}
