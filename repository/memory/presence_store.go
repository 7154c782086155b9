package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"driver-service/model"
)

// PresenceStore 記憶體版在線狀態，心跳以時鐘判斷是否過期
type PresenceStore struct {
	mu        sync.Mutex
	records   map[string]model.OnlineDriverDetails
	heartbeat map[string]time.Time
	now       func() time.Time

	// FailOn 指定方法名稱時回傳該錯誤
	FailOn map[string]error
}

func NewPresenceStore() *PresenceStore {
	return &PresenceStore{
		records:   make(map[string]model.OnlineDriverDetails),
		heartbeat: make(map[string]time.Time),
		now:       time.Now,
		FailOn:    make(map[string]error),
	}
}

// SetClock 替換時間來源
func (s *PresenceStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// ExpireHeartbeat 模擬心跳 TTL 到期，保留在線記錄
func (s *PresenceStore) ExpireHeartbeat(driverID string) {
	s.mu.Lock()
	delete(s.heartbeat, driverID)
	s.mu.Unlock()
}

// Count 目前在線記錄數
func (s *PresenceStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *PresenceStore) alive(driverID string) bool {
	until, ok := s.heartbeat[driverID]
	return ok && s.now().Before(until)
}

func (s *PresenceStore) Create(ctx context.Context, details *model.OnlineDriverDetails, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailOn["Create"]; err != nil {
		return false, err
	}
	if _, exists := s.records[details.DriverID]; exists {
		return false, nil
	}
	s.records[details.DriverID] = cloneDetails(*details)
	s.heartbeat[details.DriverID] = s.now().Add(ttl)
	return true, nil
}

func (s *PresenceStore) Get(ctx context.Context, driverID string) (*model.OnlineDriverDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailOn["Get"]; err != nil {
		return nil, err
	}
	rec, ok := s.records[driverID]
	if !ok {
		return nil, nil
	}
	out := cloneDetails(rec)
	return &out, nil
}

func (s *PresenceStore) Refresh(ctx context.Context, driverID string, at time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailOn["Refresh"]; err != nil {
		return false, err
	}
	rec, ok := s.records[driverID]
	if !ok {
		return false, nil
	}
	rec.LastSeen = at
	s.records[driverID] = rec
	s.heartbeat[driverID] = s.now().Add(ttl)
	return true, nil
}

func (s *PresenceStore) UpdateLocation(ctx context.Context, driverID string, location model.GeoPoint, at time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailOn["UpdateLocation"]; err != nil {
		return false, err
	}
	rec, ok := s.records[driverID]
	if !ok {
		return false, nil
	}
	loc := location
	rec.Location = &loc
	rec.LastSeen = at
	s.records[driverID] = rec
	s.heartbeat[driverID] = s.now().Add(ttl)
	return true, nil
}

func (s *PresenceStore) Take(ctx context.Context, driverID string) (*model.OnlineDriverDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailOn["Take"]; err != nil {
		return nil, err
	}
	return s.take(driverID), nil
}

func (s *PresenceStore) TakeExpired(ctx context.Context, driverID string) (*model.OnlineDriverDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailOn["TakeExpired"]; err != nil {
		return nil, err
	}
	if s.alive(driverID) {
		return nil, nil
	}
	return s.take(driverID), nil
}

func (s *PresenceStore) take(driverID string) *model.OnlineDriverDetails {
	rec, ok := s.records[driverID]
	if !ok {
		return nil
	}
	delete(s.records, driverID)
	delete(s.heartbeat, driverID)
	out := cloneDetails(rec)
	return &out
}

func (s *PresenceStore) Remove(ctx context.Context, driverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailOn["Remove"]; err != nil {
		return err
	}
	delete(s.records, driverID)
	delete(s.heartbeat, driverID)
	return nil
}

func (s *PresenceStore) IsAlive(ctx context.Context, driverID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailOn["IsAlive"]; err != nil {
		return false, err
	}
	return s.alive(driverID), nil
}

func (s *PresenceStore) ListDriverIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailOn["ListDriverIDs"]; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func cloneDetails(d model.OnlineDriverDetails) model.OnlineDriverDetails {
	out := d
	if d.Location != nil {
		loc := *d.Location
		out.Location = &loc
	}
	return out
}
