// internal/core/repository.go
package core

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceListQuery selects a page of devices.
type DeviceListQuery struct {
	Page            int
	Limit           int
	IncludeGateways bool
	SortBy          string
	SortOrder       string
}

// AlarmListQuery selects a page of alarms.
type AlarmListQuery struct {
	Page        int
	Limit       int
	AlarmType   string
	AlarmStatus string
	SortBy      string
	SortOrder   string
	Start       *time.Time
	End         *time.Time
}

// Repository defines the interface for data access operations.
type Repository interface {
	// Device operations
	CreateDevice(ctx context.Context, device *Device) error
	SaveDevice(ctx context.Context, device *Device) error
	GetDevice(ctx context.Context, id uint) (*Device, error)
	GetDeviceByDeviceID(ctx context.Context, deviceID string) (*Device, error)
	ListDevices(ctx context.Context, q DeviceListQuery) ([]*Device, int64, error)
	DeleteDevice(ctx context.Context, deviceID string) error

	// Gateway topology operations
	UpsertGatewayNetwork(ctx context.Context, network *GatewayNetwork) error
	GetGatewayNetwork(ctx context.Context, deviceID string) (*GatewayNetwork, error)
	ListGatewayNetworks(ctx context.Context, deviceIDs []string) ([]*GatewayNetwork, error)
	DeleteGatewayConnections(ctx context.Context, gatewayDeviceID string) error
	CreateGatewayConnections(ctx context.Context, connections []*GatewayConnection) error
	ListGatewayConnections(ctx context.Context, gatewayDeviceID string) ([]*GatewayConnection, error)
	ListConnectionsByDevices(ctx context.Context, connectedDeviceIDs []string) ([]*GatewayConnection, error)

	// Alarm operations
	CreateAlarm(ctx context.Context, alarm *Alarm) error
	ListAlarms(ctx context.Context, q AlarmListQuery) ([]*Alarm, int64, error)

	// Event operations
	CreateEvent(ctx context.Context, event *Event) error

	// Transaction support
	WithTransaction(ctx context.Context, fn func(context.Context, Repository) error) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository wraps a *gorm.DB in the Repository interface.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTransaction(ctx context.Context, fn func(c context.Context, rep Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewRepository(tx))
	})
}

func (r *repository) CreateDevice(ctx context.Context, d *Device) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *repository) SaveDevice(ctx context.Context, d *Device) error {
	return r.db.WithContext(ctx).Save(d).Error
}

func (r *repository) GetDevice(ctx context.Context, id uint) (*Device, error) {
	var d Device
	err := r.db.WithContext(ctx).First(&d, id).Error
	return &d, err
}

func (r *repository) GetDeviceByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	var d Device
	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&d).Error
	return &d, err
}

// deviceSortColumns maps exported sort fields to their columns. Date
// columns sort NULLS LAST in both directions so never-authenticated
// devices always trail.
var deviceSortColumns = map[string]struct {
	column string
	isDate bool
}{
	"id":                {"id", false},
	"deviceId":          {"device_id", false},
	"deviceType":        {"device_type", false},
	"isRegistered":      {"is_registered", false},
	"isAuthenticated":   {"is_authenticated", false},
	"lastAuthenticated": {"last_authenticated", true},
	"createdAt":         {"created_at", true},
	"updatedAt":         {"updated_at", true},
}

func (r *repository) ListDevices(ctx context.Context, q DeviceListQuery) ([]*Device, int64, error) {
	query := r.db.WithContext(ctx).Model(&Device{})
	if !q.IncludeGateways {
		query = query.Where("device_type IS DISTINCT FROM ?", GatewayDeviceType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	sort, ok := deviceSortColumns[q.SortBy]
	if !ok {
		sort = deviceSortColumns["id"]
	}
	direction := "ASC"
	if q.SortOrder == "DESC" {
		direction = "DESC"
	}
	order := fmt.Sprintf("%s %s", sort.column, direction)
	if sort.isDate {
		order += " NULLS LAST"
	}
	// Deterministic tie-break regardless of the primary key.
	if sort.column != "id" {
		order += ", id ASC"
	}

	var devices []*Device
	err := query.Order(order).
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&devices).Error
	return devices, total, err
}

func (r *repository) DeleteDevice(ctx context.Context, deviceID string) error {
	result := r.db.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&Device{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) UpsertGatewayNetwork(ctx context.Context, n *GatewayNetwork) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"network_info", "updated_at"}),
	}).Create(n).Error
}

func (r *repository) GetGatewayNetwork(ctx context.Context, deviceID string) (*GatewayNetwork, error) {
	var n GatewayNetwork
	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&n).Error
	return &n, err
}

func (r *repository) ListGatewayNetworks(ctx context.Context, deviceIDs []string) ([]*GatewayNetwork, error) {
	var networks []*GatewayNetwork
	if len(deviceIDs) == 0 {
		return networks, nil
	}
	err := r.db.WithContext(ctx).Where("device_id IN ?", deviceIDs).Find(&networks).Error
	return networks, err
}

func (r *repository) DeleteGatewayConnections(ctx context.Context, gatewayDeviceID string) error {
	return r.db.WithContext(ctx).
		Where("gateway_device_id = ?", gatewayDeviceID).
		Delete(&GatewayConnection{}).Error
}

func (r *repository) CreateGatewayConnections(ctx context.Context, connections []*GatewayConnection) error {
	if len(connections) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(connections, 100).Error
}

func (r *repository) ListGatewayConnections(ctx context.Context, gatewayDeviceID string) ([]*GatewayConnection, error) {
	var connections []*GatewayConnection
	err := r.db.WithContext(ctx).
		Where("gateway_device_id = ?", gatewayDeviceID).
		Order("id ASC").
		Find(&connections).Error
	return connections, err
}

func (r *repository) ListConnectionsByDevices(ctx context.Context, connectedDeviceIDs []string) ([]*GatewayConnection, error) {
	var connections []*GatewayConnection
	if len(connectedDeviceIDs) == 0 {
		return connections, nil
	}
	err := r.db.WithContext(ctx).
		Where("connected_device_id IN ?", connectedDeviceIDs).
		Find(&connections).Error
	return connections, err
}

func (r *repository) CreateAlarm(ctx context.Context, a *Alarm) error {
	return r.db.WithContext(ctx).Create(a).Error
}

var alarmSortColumns = map[string]string{
	"id":          "id",
	"alarmType":   "alarm_type",
	"alarmStatus": "alarm_status",
	"createdAt":   "created_at",
}

func (r *repository) ListAlarms(ctx context.Context, q AlarmListQuery) ([]*Alarm, int64, error) {
	query := r.db.WithContext(ctx).Model(&Alarm{})
	if q.AlarmType != "" {
		query = query.Where("alarm_type = ?", q.AlarmType)
	}
	if q.AlarmStatus != "" {
		query = query.Where("alarm_status = ?", q.AlarmStatus)
	}
	if q.Start != nil {
		query = query.Where("created_at >= ?", *q.Start)
	}
	if q.End != nil {
		query = query.Where("created_at <= ?", *q.End)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column, ok := alarmSortColumns[q.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if q.SortOrder == "ASC" {
		direction = "ASC"
	}
	order := fmt.Sprintf("%s %s", column, direction)
	if column != "id" {
		order += ", id ASC"
	}

	var alarms []*Alarm
	err := query.Order(order).
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&alarms).Error
	return alarms, total, err
}

func (r *repository) CreateEvent(ctx context.Context, e *Event) error {
	return r.db.WithContext(ctx).Create(e).Error
}
