package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"driver-service/model"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// PresenceKeyPrefix 在線記錄 hash，沒有 TTL，由下線流程刪除
	PresenceKeyPrefix = "driver:online:"
	// HeartbeatKeyPrefix 心跳 key，以 PX 設定存活時間，過期即視為失聯
	HeartbeatKeyPrefix = "driver:heartbeat:"

	presenceScanCount = 200
)

// 建立在線記錄：已存在時不做任何事
// KEYS[1]=presence KEYS[2]=heartbeat ARGV[1]=ttl(ms) ARGV[2]=心跳值 ARGV[3..]=hash 欄位
var createPresenceScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 1 then
		return 0
	end
	redis.call("HSET", KEYS[1], unpack(ARGV, 3))
	redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[1])
	return 1
`)

// 延長心跳，只在在線記錄存在時生效
// ARGV[1]=ttl(ms) ARGV[2]=last_seen(ms)
var refreshPresenceScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return 0
	end
	redis.call("HSET", KEYS[1], "last_seen", ARGV[2])
	redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[1])
	return 1
`)

// ARGV[1]=ttl(ms) ARGV[2]=last_seen(ms) ARGV[3]=lat ARGV[4]=lng
var updateLocationScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return 0
	end
	redis.call("HSET", KEYS[1], "last_seen", ARGV[2], "lat", ARGV[3], "lng", ARGV[4])
	redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[1])
	return 1
`)

// 取出並刪除在線記錄，同一筆記錄只會被一個呼叫者取得
var takePresenceScript = redis.NewScript(`
	local data = redis.call("HGETALL", KEYS[1])
	if #data == 0 then
		return data
	end
	redis.call("DEL", KEYS[1], KEYS[2])
	return data
`)

// 心跳仍存在時不取出
var takeExpiredPresenceScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[2]) == 1 then
		return {}
	end
	local data = redis.call("HGETALL", KEYS[1])
	if #data == 0 then
		return data
	end
	redis.call("DEL", KEYS[1], KEYS[2])
	return data
`)

func PresenceKey(driverID string) string {
	return PresenceKeyPrefix + driverID
}

func HeartbeatKey(driverID string) string {
	return HeartbeatKeyPrefix + driverID
}

// ParseHeartbeatKey 從 driver:heartbeat:{id} 取出司機ID
func ParseHeartbeatKey(key string) (string, bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0]+":"+parts[1]+":" != HeartbeatKeyPrefix || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

// RedisPresenceStore 以 Redis hash + 心跳 key 保存司機在線狀態
type RedisPresenceStore struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewRedisPresenceStore(client *redis.Client, logger zerolog.Logger) *RedisPresenceStore {
	return &RedisPresenceStore{
		client: client,
		logger: logger.With().Str("module", "redis_presence").Logger(),
	}
}

func presenceKeys(driverID string) []string {
	return []string{PresenceKey(driverID), HeartbeatKey(driverID)}
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func floatString(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// EncodePresence 轉成 HSET 欄位/值序列
func EncodePresence(d *model.OnlineDriverDetails) []interface{} {
	fields := []interface{}{
		"driver_id", d.DriverID,
		"driver_number", d.DriverNumber,
		"name", d.Name,
		"cancelled_rides", strconv.FormatInt(d.CancelledRides, 10),
		"rating", floatString(d.Rating),
		"vehicle_model", d.VehicleModel,
		"vehicle_number", d.VehicleNumber,
		"driver_photo", d.DriverPhoto,
		"session_start", millis(d.SessionStart),
		"last_seen", millis(d.LastSeen),
	}
	if d.Location != nil {
		fields = append(fields, "lat", floatString(d.Location.Lat), "lng", floatString(d.Location.Lng))
	}
	return fields
}

// DecodePresence 從 hash 還原在線記錄，空 hash 回傳 nil
func DecodePresence(values map[string]string) (*model.OnlineDriverDetails, error) {
	if len(values) == 0 {
		return nil, nil
	}
	d := &model.OnlineDriverDetails{
		DriverID:      values["driver_id"],
		DriverNumber:  values["driver_number"],
		Name:          values["name"],
		VehicleModel:  values["vehicle_model"],
		VehicleNumber: values["vehicle_number"],
		DriverPhoto:   values["driver_photo"],
	}

	var err error
	if v := values["cancelled_rides"]; v != "" {
		if d.CancelledRides, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("cancelled_rides: %w", err)
		}
	}
	if v := values["rating"]; v != "" {
		if d.Rating, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("rating: %w", err)
		}
	}
	if d.SessionStart, err = parseMillis(values["session_start"]); err != nil {
		return nil, fmt.Errorf("session_start: %w", err)
	}
	if d.LastSeen, err = parseMillis(values["last_seen"]); err != nil {
		return nil, fmt.Errorf("last_seen: %w", err)
	}

	lat, hasLat := values["lat"]
	lng, hasLng := values["lng"]
	if hasLat && hasLng {
		var p model.GeoPoint
		if p.Lat, err = strconv.ParseFloat(lat, 64); err != nil {
			return nil, fmt.Errorf("lat: %w", err)
		}
		if p.Lng, err = strconv.ParseFloat(lng, 64); err != nil {
			return nil, fmt.Errorf("lng: %w", err)
		}
		d.Location = &p
	}
	return d, nil
}

// parseMillis 空值代表沒有記錄
func parseMillis(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func pairsToMap(raw interface{}) (map[string]string, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected script result %T", raw)
	}
	values := make(map[string]string, len(items)/2)
	for i := 0; i+1 < len(items); i += 2 {
		k, _ := items[i].(string)
		v, _ := items[i+1].(string)
		values[k] = v
	}
	return values, nil
}

func (s *RedisPresenceStore) Create(ctx context.Context, details *model.OnlineDriverDetails, ttl time.Duration) (bool, error) {
	args := append([]interface{}{ttl.Milliseconds(), millis(details.LastSeen)}, EncodePresence(details)...)
	created, err := createPresenceScript.Run(ctx, s.client, presenceKeys(details.DriverID), args...).Int64()
	if err != nil {
		return false, fmt.Errorf("建立在線記錄失敗: %w", err)
	}
	return created == 1, nil
}

func (s *RedisPresenceStore) Get(ctx context.Context, driverID string) (*model.OnlineDriverDetails, error) {
	values, err := s.client.HGetAll(ctx, PresenceKey(driverID)).Result()
	if err != nil {
		return nil, fmt.Errorf("讀取在線記錄失敗: %w", err)
	}
	return DecodePresence(values)
}

func (s *RedisPresenceStore) Refresh(ctx context.Context, driverID string, at time.Time, ttl time.Duration) (bool, error) {
	ok, err := refreshPresenceScript.Run(ctx, s.client, presenceKeys(driverID), ttl.Milliseconds(), millis(at)).Int64()
	if err != nil {
		return false, fmt.Errorf("更新心跳失敗: %w", err)
	}
	return ok == 1, nil
}

func (s *RedisPresenceStore) UpdateLocation(ctx context.Context, driverID string, location model.GeoPoint, at time.Time, ttl time.Duration) (bool, error) {
	ok, err := updateLocationScript.Run(ctx, s.client, presenceKeys(driverID),
		ttl.Milliseconds(), millis(at), floatString(location.Lat), floatString(location.Lng),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("更新位置失敗: %w", err)
	}
	return ok == 1, nil
}

func (s *RedisPresenceStore) take(ctx context.Context, script *redis.Script, driverID string) (*model.OnlineDriverDetails, error) {
	raw, err := script.Run(ctx, s.client, presenceKeys(driverID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	values, err := pairsToMap(raw)
	if err != nil {
		return nil, err
	}
	details, err := DecodePresence(values)
	if err != nil {
		// 記錄已刪除，欄位損毀時仍視為已下線，只是無法結算
		s.logger.Error().Err(err).
			Str("driver_id", driverID).
			Msg("在線記錄格式錯誤，無法結算上線時間")
		return &model.OnlineDriverDetails{DriverID: driverID}, nil
	}
	return details, nil
}

func (s *RedisPresenceStore) Take(ctx context.Context, driverID string) (*model.OnlineDriverDetails, error) {
	details, err := s.take(ctx, takePresenceScript, driverID)
	if err != nil {
		return nil, fmt.Errorf("取出在線記錄失敗: %w", err)
	}
	return details, nil
}

func (s *RedisPresenceStore) TakeExpired(ctx context.Context, driverID string) (*model.OnlineDriverDetails, error) {
	details, err := s.take(ctx, takeExpiredPresenceScript, driverID)
	if err != nil {
		return nil, fmt.Errorf("取出逾時在線記錄失敗: %w", err)
	}
	return details, nil
}

func (s *RedisPresenceStore) Remove(ctx context.Context, driverID string) error {
	if err := s.client.Del(ctx, presenceKeys(driverID)...).Err(); err != nil {
		return fmt.Errorf("刪除在線記錄失敗: %w", err)
	}
	return nil
}

func (s *RedisPresenceStore) IsAlive(ctx context.Context, driverID string) (bool, error) {
	n, err := s.client.Exists(ctx, HeartbeatKey(driverID)).Result()
	if err != nil {
		return false, fmt.Errorf("讀取心跳失敗: %w", err)
	}
	return n == 1, nil
}

func (s *RedisPresenceStore) ListDriverIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, PresenceKeyPrefix+"*", presenceScanCount).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), PresenceKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("掃描在線記錄失敗: %w", err)
	}
	return ids, nil
}
