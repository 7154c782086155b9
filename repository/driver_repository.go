package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"driver-service/infra"
	"driver-service/model"
	"driver-service/service/interfaces"
	"driver-service/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DriversCollection = "drivers"

	// expiryCursorBatchSize 文件到期掃描每批讀取筆數
	expiryCursorBatchSize = 100
)

// 文件到期日欄位，與 model.Driver 的 bson tag 對應
var documentExpiryFields = map[model.DocumentType]string{
	model.DocumentTypeLicense:   "license.validity",
	model.DocumentTypeRC:        "vehicle_details.rc_expiry_date",
	model.DocumentTypeInsurance: "vehicle_details.insurance_expiry_date",
	model.DocumentTypePollution: "vehicle_details.pollution_expiry_date",
}

// DriverRepository 司機主檔（MongoDB）
type DriverRepository struct {
	collection *mongo.Collection
}

func NewDriverRepository(mongoDB *infra.MongoDB) *DriverRepository {
	return &DriverRepository{collection: mongoDB.GetCollection(DriversCollection)}
}

func driverObjectID(driverID string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(driverID)
	if err != nil {
		return primitive.NilObjectID, interfaces.ErrDriverNotFound
	}
	return oid, nil
}

func (r *DriverRepository) FindByID(ctx context.Context, driverID string) (*model.Driver, error) {
	oid, err := driverObjectID(driverID)
	if err != nil {
		return nil, err
	}

	var driver model.Driver
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&driver); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrDriverNotFound
		}
		return nil, fmt.Errorf("查詢司機失敗: %w", err)
	}
	return &driver, nil
}

// updateOne 更新單一司機，沒有符合的文件時回傳 ErrDriverNotFound
func (r *DriverRepository) updateOne(ctx context.Context, driverID string, update bson.M) error {
	oid, err := driverObjectID(driverID)
	if err != nil {
		return err
	}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return interfaces.ErrDriverNotFound
	}
	return nil
}

func (r *DriverRepository) SetPresenceStatus(ctx context.Context, driverID string, online bool) error {
	return r.updateOne(ctx, driverID, bson.M{
		"$set": bson.M{
			"online_status": online,
			"is_available":  online,
			"updated_at":    utils.NowUTC(),
		},
	})
}

func (r *DriverRepository) SetOnboardingComplete(ctx context.Context, driverID string, complete bool) error {
	return r.updateOne(ctx, driverID, bson.M{
		"$set": bson.M{
			"onboarding_complete": complete,
			"updated_at":          utils.NowUTC(),
		},
	})
}

func (r *DriverRepository) IncrementCounters(ctx context.Context, driverID string, inc model.DriverCounterIncrement) error {
	if len(inc) == 0 {
		return nil
	}
	fields := bson.M{}
	for field, delta := range inc {
		fields[string(field)] = delta
	}
	return r.updateOne(ctx, driverID, bson.M{
		"$inc": fields,
		"$set": bson.M{"updated_at": utils.NowUTC()},
	})
}

// ExpiringDocumentsFilter 任一文件到期日不晚於 threshold，且上次通知時間不存在或不晚於 notifiedBefore
func ExpiringDocumentsFilter(threshold, notifiedBefore time.Time) bson.M {
	var expiring bson.A
	for _, docType := range model.GetAllDocumentTypes() {
		expiring = append(expiring, bson.M{documentExpiryFields[docType]: bson.M{"$ne": nil, "$lte": threshold}})
	}
	return bson.M{
		"$and": bson.A{
			bson.M{"$or": expiring},
			bson.M{"$or": bson.A{
				bson.M{"last_expiry_notification_at": bson.M{"$exists": false}},
				bson.M{"last_expiry_notification_at": nil},
				bson.M{"last_expiry_notification_at": bson.M{"$lte": notifiedBefore}},
			}},
		},
	}
}

func (r *DriverRepository) FindExpiringDocuments(ctx context.Context, threshold, notifiedBefore time.Time) (interfaces.DriverCursor, error) {
	opts := options.Find().
		SetBatchSize(expiryCursorBatchSize).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, ExpiringDocumentsFilter(threshold, notifiedBefore), opts)
	if err != nil {
		return nil, fmt.Errorf("查詢即將到期文件失敗: %w", err)
	}
	return cursor, nil
}

func (r *DriverRepository) MarkExpiryNotified(ctx context.Context, driverID string, at time.Time, docs []model.DocumentType) error {
	set := bson.M{
		"last_expiry_notification_at": at,
		"updated_at":                  utils.NowUTC(),
	}
	for _, doc := range docs {
		set["last_expiry_notified_for."+doc.String()] = at
	}
	return r.updateOne(ctx, driverID, bson.M{"$set": set})
}

func (r *DriverRepository) CountOnline(ctx context.Context) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{"online_status": true})
}

// EnsureIndexes 建立司機集合索引
func (r *DriverRepository) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "online_status", Value: 1}}},
		{Keys: bson.D{{Key: "last_expiry_notification_at", Value: 1}}},
	}
	for _, field := range documentExpiryFields {
		models = append(models, mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}})
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("建立司機索引失敗: %w", err)
	}
	return nil
}
