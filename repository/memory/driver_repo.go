package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"driver-service/model"
	"driver-service/service/interfaces"
)

// DriverRepo 記憶體版司機主檔，可並發使用
type DriverRepo struct {
	mu      sync.RWMutex
	drivers map[string]model.Driver

	// FailOn 指定方法名稱時回傳該錯誤，用於模擬儲存層故障
	FailOn map[string]error
}

func NewDriverRepo() *DriverRepo {
	return &DriverRepo{
		drivers: make(map[string]model.Driver),
		FailOn:  make(map[string]error),
	}
}

// Put 新增或覆寫司機
func (r *DriverRepo) Put(d model.Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.ID.Hex()] = cloneDriver(d)
}

// Snapshot 取得目前的司機資料（測試用）
func (r *DriverRepo) Snapshot(driverID string) (model.Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[driverID]
	return cloneDriver(d), ok
}

func (r *DriverRepo) fail(method string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.FailOn[method]
}

func (r *DriverRepo) FindByID(ctx context.Context, driverID string) (*model.Driver, error) {
	if err := r.fail("FindByID"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[driverID]
	if !ok {
		return nil, interfaces.ErrDriverNotFound
	}
	out := cloneDriver(d)
	return &out, nil
}

func (r *DriverRepo) update(method, driverID string, fn func(d *model.Driver)) error {
	if err := r.fail(method); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drivers[driverID]
	if !ok {
		return interfaces.ErrDriverNotFound
	}
	fn(&d)
	d.UpdatedAt = time.Now().UTC()
	r.drivers[driverID] = d
	return nil
}

func (r *DriverRepo) SetPresenceStatus(ctx context.Context, driverID string, online bool) error {
	return r.update("SetPresenceStatus", driverID, func(d *model.Driver) {
		d.OnlineStatus = online
		d.IsAvailable = online
	})
}

func (r *DriverRepo) SetOnboardingComplete(ctx context.Context, driverID string, complete bool) error {
	return r.update("SetOnboardingComplete", driverID, func(d *model.Driver) {
		d.OnboardingComplete = complete
	})
}

func (r *DriverRepo) IncrementCounters(ctx context.Context, driverID string, inc model.DriverCounterIncrement) error {
	return r.update("IncrementCounters", driverID, func(d *model.Driver) {
		for field, delta := range inc {
			switch field {
			case model.DriverCounterCompletedRides:
				d.TotalCompletedRides += delta
			case model.DriverCounterCancelledRides:
				d.TotalCancelledRides += delta
			case model.DriverCounterAdminCommission:
				d.AdminCommission += delta
			}
		}
	})
}

func (r *DriverRepo) FindExpiringDocuments(ctx context.Context, threshold, notifiedBefore time.Time) (interfaces.DriverCursor, error) {
	if err := r.fail("FindExpiringDocuments"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []model.Driver
	for _, d := range r.drivers {
		if d.LastExpiryNotificationAt != nil && d.LastExpiryNotificationAt.After(notifiedBefore) {
			continue
		}
		for _, doc := range d.DocumentExpiries() {
			if !doc.ExpiresAt.After(threshold) {
				matched = append(matched, cloneDriver(d))
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID.Hex() < matched[j].ID.Hex() })
	return NewDriverCursor(matched), nil
}

func (r *DriverRepo) MarkExpiryNotified(ctx context.Context, driverID string, at time.Time, docs []model.DocumentType) error {
	return r.update("MarkExpiryNotified", driverID, func(d *model.Driver) {
		t := at
		d.LastExpiryNotificationAt = &t
		if d.LastExpiryNotifiedFor == nil {
			d.LastExpiryNotifiedFor = map[string]time.Time{}
		}
		for _, doc := range docs {
			d.LastExpiryNotifiedFor[doc.String()] = at
		}
	})
}

func (r *DriverRepo) CountOnline(ctx context.Context) (int64, error) {
	if err := r.fail("CountOnline"); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, d := range r.drivers {
		if d.OnlineStatus {
			n++
		}
	}
	return n, nil
}

func cloneDriver(d model.Driver) model.Driver {
	out := d
	if d.LastExpiryNotifiedFor != nil {
		out.LastExpiryNotifiedFor = make(map[string]time.Time, len(d.LastExpiryNotifiedFor))
		for k, v := range d.LastExpiryNotifiedFor {
			out.LastExpiryNotifiedFor[k] = v
		}
	}
	return out
}

// DriverCursor 切片版游標
type DriverCursor struct {
	drivers []model.Driver
	pos     int
	closed  bool
	// FailDecodeAt 指定索引時 Decode 失敗
	FailDecodeAt map[int]error
}

func NewDriverCursor(drivers []model.Driver) *DriverCursor {
	return &DriverCursor{drivers: drivers, pos: -1, FailDecodeAt: map[int]error{}}
}

func (c *DriverCursor) Next(ctx context.Context) bool {
	if c.closed || ctx.Err() != nil {
		return false
	}
	c.pos++
	return c.pos < len(c.drivers)
}

func (c *DriverCursor) Decode(val interface{}) error {
	if err, ok := c.FailDecodeAt[c.pos]; ok {
		return err
	}
	target, ok := val.(*model.Driver)
	if !ok {
		return errors.New("memory cursor: decode target must be *model.Driver")
	}
	if c.pos < 0 || c.pos >= len(c.drivers) {
		return errors.New("memory cursor: no current document")
	}
	*target = cloneDriver(c.drivers[c.pos])
	return nil
}

func (c *DriverCursor) Err() error {
	return nil
}

func (c *DriverCursor) Close(ctx context.Context) error {
	c.closed = true
	return nil
}
