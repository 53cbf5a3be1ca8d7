package api

import (
	"context"
	"time"

	"github.com/qnetlab/device-registry/internal/core"
	"gorm.io/gorm"
)

// stubRepository is a minimal in-memory core.Repository for handler
// tests. Handler tests only exercise the paths the HTTP layer reaches;
// service behavior has its own suite.
type stubRepository struct {
	devices     map[string]*core.Device
	networks    map[string]*core.GatewayNetwork
	connections []*core.GatewayConnection
	alarms      []*core.Alarm
	nextID      uint
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		devices:  make(map[string]*core.Device),
		networks: make(map[string]*core.GatewayNetwork),
	}
}

func (s *stubRepository) CreateDevice(ctx context.Context, d *core.Device) error {
	s.nextID++
	d.ID = s.nextID
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	c := *d
	s.devices[d.DeviceID] = &c
	return nil
}

func (s *stubRepository) SaveDevice(ctx context.Context, d *core.Device) error {
	c := *d
	s.devices[d.DeviceID] = &c
	return nil
}

func (s *stubRepository) GetDevice(ctx context.Context, id uint) (*core.Device, error) {
	for _, d := range s.devices {
		if d.ID == id {
			c := *d
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubRepository) GetDeviceByDeviceID(ctx context.Context, deviceID string) (*core.Device, error) {
	d, ok := s.devices[deviceID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *d
	return &c, nil
}

func (s *stubRepository) ListDevices(ctx context.Context, q core.DeviceListQuery) ([]*core.Device, int64, error) {
	var out []*core.Device
	for _, d := range s.devices {
		if !q.IncludeGateways && d.DeviceType == core.GatewayDeviceType {
			continue
		}
		c := *d
		out = append(out, &c)
	}
	return out, int64(len(out)), nil
}

func (s *stubRepository) DeleteDevice(ctx context.Context, deviceID string) error {
	if _, ok := s.devices[deviceID]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(s.devices, deviceID)
	return nil
}

func (s *stubRepository) UpsertGatewayNetwork(ctx context.Context, n *core.GatewayNetwork) error {
	c := *n
	s.networks[n.DeviceID] = &c
	return nil
}

func (s *stubRepository) GetGatewayNetwork(ctx context.Context, deviceID string) (*core.GatewayNetwork, error) {
	n, ok := s.networks[deviceID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *n
	return &c, nil
}

func (s *stubRepository) ListGatewayNetworks(ctx context.Context, deviceIDs []string) ([]*core.GatewayNetwork, error) {
	var out []*core.GatewayNetwork
	for _, id := range deviceIDs {
		if n, ok := s.networks[id]; ok {
			c := *n
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *stubRepository) DeleteGatewayConnections(ctx context.Context, gatewayDeviceID string) error {
	kept := s.connections[:0]
	for _, c := range s.connections {
		if c.GatewayDeviceID != gatewayDeviceID {
			kept = append(kept, c)
		}
	}
	s.connections = kept
	return nil
}

func (s *stubRepository) CreateGatewayConnections(ctx context.Context, connections []*core.GatewayConnection) error {
	for _, c := range connections {
		stored := *c
		s.connections = append(s.connections, &stored)
	}
	return nil
}

func (s *stubRepository) ListGatewayConnections(ctx context.Context, gatewayDeviceID string) ([]*core.GatewayConnection, error) {
	var out []*core.GatewayConnection
	for _, c := range s.connections {
		if c.GatewayDeviceID == gatewayDeviceID {
			stored := *c
			out = append(out, &stored)
		}
	}
	return out, nil
}

func (s *stubRepository) ListConnectionsByDevices(ctx context.Context, connectedDeviceIDs []string) ([]*core.GatewayConnection, error) {
	wanted := make(map[string]bool, len(connectedDeviceIDs))
	for _, id := range connectedDeviceIDs {
		wanted[id] = true
	}
	var out []*core.GatewayConnection
	for _, c := range s.connections {
		if wanted[c.ConnectedDeviceID] {
			stored := *c
			out = append(out, &stored)
		}
	}
	return out, nil
}

func (s *stubRepository) CreateAlarm(ctx context.Context, a *core.Alarm) error {
	s.nextID++
	a.ID = s.nextID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	stored := *a
	s.alarms = append(s.alarms, &stored)
	return nil
}

func (s *stubRepository) ListAlarms(ctx context.Context, q core.AlarmListQuery) ([]*core.Alarm, int64, error) {
	var out []*core.Alarm
	for _, a := range s.alarms {
		stored := *a
		out = append(out, &stored)
	}
	return out, int64(len(out)), nil
}

func (s *stubRepository) CreateEvent(ctx context.Context, e *core.Event) error {
	return nil
}

func (s *stubRepository) WithTransaction(ctx context.Context, fn func(context.Context, core.Repository) error) error {
	return fn(ctx, s)
}
