// internal/core/models.go
package core

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Connection status values derived by the status engine.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusUnknown      = "unknown"
)

// GatewayDeviceType marks devices that report on behalf of a downstream cluster.
const GatewayDeviceType = "pqc-gateway"

// Flow control levels assigned to devices and returned to gateways
// as bandwidth-shaping directives.
const (
	FlowControlLow    = "LOW"
	FlowControlMedium = "MEDIUM"
	FlowControlHigh   = "HIGH"
)

// Alarm severity levels.
const (
	AlarmTypeInfo    = "INFO"
	AlarmTypeWarning = "WARNING"
	AlarmTypeFault   = "FAULT"
)

// Alarm workflow statuses.
const (
	AlarmStatusActive   = "ACTIVE"
	AlarmStatusPending  = "PENDING"
	AlarmStatusArchived = "ARCHIVED"
)

// Event classification for the audit log.
const (
	EventTypeStatusReport = "status_report"
	EventTypeAlarmReport  = "alarm_report"
	EventTypeAuthFailure  = "auth_failure"

	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// BandwidthLevel maps a stored flow control level to its wire casing.
// The deployed gateways expect lowercase values in deviceCtrl responses
// while the enum is stored uppercase.
func BandwidthLevel(flowControlLevel string) string {
	switch flowControlLevel {
	case FlowControlLow:
		return "low"
	case FlowControlHigh:
		return "high"
	default:
		return "medium"
	}
}

// ValidFlowControlLevel reports whether v is one of LOW/MEDIUM/HIGH.
func ValidFlowControlLevel(v string) bool {
	return v == FlowControlLow || v == FlowControlMedium || v == FlowControlHigh
}

// ValidAlarmType reports whether v is a known alarm severity.
func ValidAlarmType(v string) bool {
	return v == AlarmTypeInfo || v == AlarmTypeWarning || v == AlarmTypeFault
}

// Device is the identity and liveness record for an edge device.
//
// A device row exists either because the device registered itself
// (IsRegistered true) or because a gateway mentioned it in a status
// report (an unclaimed placeholder). DeviceID is immutable once set.
// Status is a cache of the pure derivation in status.go, never a
// source of truth.
type Device struct {
	ID                uint       `json:"id" gorm:"primaryKey"`
	DeviceID          string     `json:"deviceId" gorm:"uniqueIndex;not null"`
	PublicKey         string     `json:"publicKey"`
	DeviceType        string     `json:"deviceType"`
	DeviceName        string     `json:"deviceName"`
	FlowControlLevel  string     `json:"flowControlLevel" gorm:"default:MEDIUM"`
	IPAddr            string     `json:"ipAddr"`
	Host              string     `json:"host"`
	LoginUser         string     `json:"loginUser"`
	IsRegistered      bool       `json:"isRegistered" gorm:"default:false"`
	IsAuthenticated   bool       `json:"isAuthenticated" gorm:"default:false"`
	LastAuthenticated *time.Time `json:"lastAuthenticated"`
	Status            string     `json:"status" gorm:"default:unknown"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`

	// Enrichment fields populated by the topology tracker on read paths.
	// Exactly one of the two is set per device, never both.
	NetworkInfo        *NetworkInfo `json:"networkInfo,omitempty" gorm:"-"`
	ConnectedGatewayID *string      `json:"connectedGatewayId,omitempty" gorm:"-"`
}

// IsGateway reports whether the device reports on behalf of a cluster.
func (d *Device) IsGateway() bool {
	return d.DeviceType == GatewayDeviceType
}

// NetworkInterface is one entry in a gateway's interface inventory.
// Field casing follows the gateway wire format.
type NetworkInterface struct {
	Interface string `json:"Interface"`
	Host      string `json:"host"`
	IPAddr    string `json:"ipAddr"`
}

// NetworkInfo is the structured network summary a gateway reports.
type NetworkInfo struct {
	NetworkRoute    string             `json:"networkRoute"`
	UploadTraffic   string             `json:"uploadTraffic"`
	DownloadTraffic string             `json:"downloadTraffic"`
	NetworkInfo     []NetworkInterface `json:"networkInfo"`
}

// Value implements driver.Valuer so NetworkInfo persists as jsonb.
func (n NetworkInfo) Value() (driver.Value, error) {
	return json.Marshal(n)
}

// Scan implements sql.Scanner for jsonb columns.
func (n *NetworkInfo) Scan(value interface{}) error {
	if value == nil {
		*n = NetworkInfo{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, n)
	case string:
		return json.Unmarshal([]byte(v), n)
	default:
		return fmt.Errorf("unsupported type %T for NetworkInfo", value)
	}
}

// GatewayNetwork holds the one network summary row per gateway.
// Each status report replaces the whole blob; rows are never merged.
type GatewayNetwork struct {
	ID          uint        `json:"id" gorm:"primaryKey"`
	DeviceID    string      `json:"deviceId" gorm:"uniqueIndex;not null"`
	NetworkInfo NetworkInfo `json:"networkInfo" gorm:"type:jsonb"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// GatewayConnection links a gateway to a device it currently reports
// as reachable. The set of rows for a gateway is exactly the device
// list of its most recent status report.
type GatewayConnection struct {
	ID                uint      `json:"id" gorm:"primaryKey"`
	GatewayDeviceID   string    `json:"gatewayDeviceId" gorm:"index;not null"`
	ConnectedDeviceID string    `json:"connectedDeviceId" gorm:"index;not null"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Alarm is an append-only fault/event record raised by a gateway.
type Alarm struct {
	ID               uint       `json:"id" gorm:"primaryKey"`
	AlarmType        string     `json:"alarmType" gorm:"index;not null"`
	AlarmDescription string     `json:"alarmDescription" gorm:"type:text"`
	DeviceID         string     `json:"deviceId"`
	DeviceName       string     `json:"deviceName"`
	AlarmStatus      string     `json:"alarmStatus" gorm:"index;default:ACTIVE"`
	Notes            string     `json:"notes,omitempty" gorm:"type:text"`
	ArchivedAt       *time.Time `json:"archivedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt" gorm:"index"`
}

// EventContext carries structured context for an audit event.
type EventContext map[string]interface{}

// Value implements driver.Valuer so EventContext persists as jsonb.
func (c EventContext) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner for jsonb columns.
func (c *EventContext) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("unsupported type %T for EventContext", value)
	}
}

// Event is an append-only audit record.
type Event struct {
	ID        uint         `json:"id" gorm:"primaryKey"`
	Timestamp time.Time    `json:"timestamp" gorm:"index;autoCreateTime"`
	Type      string       `json:"type" gorm:"index;not null"`
	Level     string       `json:"level" gorm:"index;not null"`
	Message   string       `json:"message" gorm:"type:text"`
	Details   string       `json:"details,omitempty" gorm:"type:text"`
	Context   EventContext `json:"context,omitempty" gorm:"type:jsonb"`
}

// TableName overrides for GORM
func (Device) TableName() string            { return "devices" }
func (GatewayNetwork) TableName() string    { return "gateway_network_summary" }
func (GatewayConnection) TableName() string { return "gateway_connections" }
func (Alarm) TableName() string             { return "alarms" }
func (Event) TableName() string             { return "events" }

// DeviceReportInfo is one downstream device entry in a gateway status
// report, used by the registry's idempotent upsert path.
type DeviceReportInfo struct {
	DeviceID         string `json:"deviceId"`
	DeviceType       string `json:"deviceType"`
	DeviceName       string `json:"deviceName"`
	IPAddr           string `json:"ipAddr"`
	Host             string `json:"host"`
	LoginUser        string `json:"loginUser"`
	FlowControlLevel string `json:"flowControlLevel"`
}

// DeviceControl is the per-device bandwidth directive returned to a
// gateway after a status report.
type DeviceControl struct {
	DeviceID        string `json:"deviceId"`
	IPAddr          string `json:"ipAddr"`
	Bandwidth       string `json:"bandwidth"`
	Status          string `json:"status"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}
