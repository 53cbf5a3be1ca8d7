package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
)

// fakeRepository is an in-memory Repository for service tests. It
// mimics the persistence semantics the services rely on: lookups
// return copies, saves replace by primary key, and missing rows map
// to gorm.ErrRecordNotFound.
type fakeRepository struct {
	mu sync.Mutex

	devices     map[string]*Device
	networks    map[string]*GatewayNetwork
	connections []*GatewayConnection
	alarms      []*Alarm
	events      []*Event

	nextDeviceID     uint
	nextConnectionID uint
	nextAlarmID      uint
	nextEventID      uint

	listAlarmCalls int

	// beforeCreateDevice runs once before the next CreateDevice's
	// uniqueness check; tests use it to interleave a rival writer.
	beforeCreateDevice func()
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		devices:  make(map[string]*Device),
		networks: make(map[string]*GatewayNetwork),
	}
}

func (f *fakeRepository) deviceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}

func (f *fakeRepository) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.events))
	for _, e := range f.events {
		types = append(types, e.Type)
	}
	return types
}

func copyDevice(d *Device) *Device {
	c := *d
	if d.LastAuthenticated != nil {
		t := *d.LastAuthenticated
		c.LastAuthenticated = &t
	}
	c.NetworkInfo = nil
	c.ConnectedGatewayID = nil
	return &c
}

func (f *fakeRepository) CreateDevice(ctx context.Context, d *Device) error {
	if f.beforeCreateDevice != nil {
		hook := f.beforeCreateDevice
		f.beforeCreateDevice = nil
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[d.DeviceID]; ok {
		return gorm.ErrDuplicatedKey
	}
	f.nextDeviceID++
	d.ID = f.nextDeviceID
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	f.devices[d.DeviceID] = copyDevice(d)
	return nil
}

func (f *fakeRepository) SaveDevice(ctx context.Context, d *Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.UpdatedAt = time.Now()
	f.devices[d.DeviceID] = copyDevice(d)
	return nil
}

func (f *fakeRepository) GetDevice(ctx context.Context, id uint) (*Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.ID == id {
			return copyDevice(d), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetDeviceByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return copyDevice(d), nil
}

func (f *fakeRepository) ListDevices(ctx context.Context, q DeviceListQuery) ([]*Device, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []*Device
	for _, d := range f.devices {
		if !q.IncludeGateways && d.DeviceType == GatewayDeviceType {
			continue
		}
		all = append(all, copyDevice(d))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	total := int64(len(all))
	offset := (q.Page - 1) * q.Limit
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + q.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (f *fakeRepository) DeleteDevice(ctx context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[deviceID]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(f.devices, deviceID)
	return nil
}

func (f *fakeRepository) UpsertGatewayNetwork(ctx context.Context, n *GatewayNetwork) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.networks[n.DeviceID]
	if ok {
		existing.NetworkInfo = n.NetworkInfo
		existing.UpdatedAt = time.Now()
		return nil
	}
	c := *n
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	f.networks[n.DeviceID] = &c
	return nil
}

func (f *fakeRepository) GetGatewayNetwork(ctx context.Context, deviceID string) (*GatewayNetwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.networks[deviceID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *n
	return &c, nil
}

func (f *fakeRepository) ListGatewayNetworks(ctx context.Context, deviceIDs []string) ([]*GatewayNetwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*GatewayNetwork
	for _, id := range deviceIDs {
		if n, ok := f.networks[id]; ok {
			c := *n
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeRepository) DeleteGatewayConnections(ctx context.Context, gatewayDeviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.connections[:0]
	for _, c := range f.connections {
		if c.GatewayDeviceID != gatewayDeviceID {
			kept = append(kept, c)
		}
	}
	f.connections = kept
	return nil
}

func (f *fakeRepository) CreateGatewayConnections(ctx context.Context, connections []*GatewayConnection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range connections {
		f.nextConnectionID++
		c.ID = f.nextConnectionID
		c.CreatedAt = time.Now()
		c.UpdatedAt = c.CreatedAt
		stored := *c
		f.connections = append(f.connections, &stored)
	}
	return nil
}

func (f *fakeRepository) ListGatewayConnections(ctx context.Context, gatewayDeviceID string) ([]*GatewayConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*GatewayConnection
	for _, c := range f.connections {
		if c.GatewayDeviceID == gatewayDeviceID {
			stored := *c
			out = append(out, &stored)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepository) ListConnectionsByDevices(ctx context.Context, connectedDeviceIDs []string) ([]*GatewayConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[string]bool, len(connectedDeviceIDs))
	for _, id := range connectedDeviceIDs {
		wanted[id] = true
	}
	var out []*GatewayConnection
	for _, c := range f.connections {
		if wanted[c.ConnectedDeviceID] {
			stored := *c
			out = append(out, &stored)
		}
	}
	return out, nil
}

func (f *fakeRepository) CreateAlarm(ctx context.Context, a *Alarm) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextAlarmID++
	a.ID = f.nextAlarmID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	stored := *a
	f.alarms = append(f.alarms, &stored)
	return nil
}

func (f *fakeRepository) ListAlarms(ctx context.Context, q AlarmListQuery) ([]*Alarm, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listAlarmCalls++

	var all []*Alarm
	for _, a := range f.alarms {
		if q.AlarmType != "" && a.AlarmType != q.AlarmType {
			continue
		}
		if q.AlarmStatus != "" && a.AlarmStatus != q.AlarmStatus {
			continue
		}
		if q.Start != nil && a.CreatedAt.Before(*q.Start) {
			continue
		}
		if q.End != nil && a.CreatedAt.After(*q.End) {
			continue
		}
		stored := *a
		all = append(all, &stored)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	total := int64(len(all))
	offset := (q.Page - 1) * q.Limit
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + q.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (f *fakeRepository) CreateEvent(ctx context.Context, e *Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextEventID++
	e.ID = f.nextEventID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	stored := *e
	f.events = append(f.events, &stored)
	return nil
}

func (f *fakeRepository) WithTransaction(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, f)
}
